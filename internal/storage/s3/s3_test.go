package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	testBucket   = "pgward-test"
	testEndpoint = "http://localhost:9000"
	testAccess   = "minioadmin"
	testSecret   = "minioadmin"
	testRegion   = "us-east-1"
)

func skipUnlessS3(t *testing.T) {
	t.Helper()
	if os.Getenv("S3_TEST") == "" {
		t.Skip("S3_TEST not set, skipping S3 integration tests")
	}
}

func newTestBackend(t *testing.T, ctx context.Context) *Backend {
	t.Helper()
	backend, err := New(ctx, Config{
		Bucket:          testBucket,
		Prefix:          fmt.Sprintf("test-%d", time.Now().UnixNano()),
		Region:          testRegion,
		Endpoint:        testEndpoint,
		AccessKeyID:     testAccess,
		SecretAccessKey: testSecret,
		ForcePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 backend: %v", err)
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	return backend
}

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestS3Backend_Type(t *testing.T) {
	skipUnlessS3(t)
	backend := newTestBackend(t, context.Background())
	if backend.Type() != "s3" {
		t.Errorf("Type() = %q, want %q", backend.Type(), "s3")
	}
}

func TestS3Backend_PutAndGet(t *testing.T) {
	skipUnlessS3(t)
	ctx := context.Background()
	backend := newTestBackend(t, ctx)

	content := "hello backup world"
	name := "sales-20260206T120000Z.sql.gz"

	if err := backend.Put(ctx, name, writeTestFile(t, content)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "downloaded")
	if err := backend.Get(ctx, name, dest); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != content {
		t.Errorf("downloaded %q, want %q", data, content)
	}
}

func TestS3Backend_List(t *testing.T) {
	skipUnlessS3(t)
	ctx := context.Background()
	backend := newTestBackend(t, ctx)

	names := []string{
		"sales-20260204T120000Z.sql.gz",
		"sales-20260205T120000Z.sql.gz",
		"sales-20260206T120000Z.sql.gz",
		"billing-20260206T120000Z.sql.gz",
	}
	for _, name := range names {
		if err := backend.Put(ctx, name, writeTestFile(t, "data-"+name)); err != nil {
			t.Fatalf("Put %s failed: %v", name, err)
		}
	}

	objects, err := backend.List(ctx, "sales-")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("List returned %d objects, want 3", len(objects))
	}
	for _, obj := range objects {
		if obj.Size == 0 {
			t.Errorf("object %s has zero size", obj.Name)
		}
	}
}

func TestS3Backend_ListEmptyPrefix(t *testing.T) {
	skipUnlessS3(t)
	ctx := context.Background()
	backend := newTestBackend(t, ctx)

	objects, err := backend.List(ctx, "nonexistent-")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("expected 0 objects from empty prefix, got %d", len(objects))
	}
}

func TestS3Backend_GetMissingObject(t *testing.T) {
	skipUnlessS3(t)
	ctx := context.Background()
	backend := newTestBackend(t, ctx)

	dest := filepath.Join(t.TempDir(), "downloaded")
	if err := backend.Get(ctx, "sales-19990101T000000Z.sql.gz", dest); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial file left behind after failed Get")
	}
}

func TestS3Backend_ConfigValidation(t *testing.T) {
	_, err := New(context.Background(), Config{
		// Missing required bucket
		Region:          testRegion,
		AccessKeyID:     testAccess,
		SecretAccessKey: testSecret,
	})
	if err == nil {
		t.Error("expected error for missing bucket, got nil")
	}
}
