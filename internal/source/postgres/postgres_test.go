package postgres

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func testClient() *Client {
	return New("sales", Config{
		Host:     "db.internal",
		Port:     "5432",
		User:     "backup",
		Password: "secret",
		Database: "sales",
	})
}

func TestConnArgs(t *testing.T) {
	c := testClient()
	got := strings.Join(c.connArgs(), " ")
	want := "-h db.internal -p 5432 -U backup -d sales --no-password"
	if got != want {
		t.Errorf("connArgs = %q, want %q", got, want)
	}
	if strings.Contains(got, "secret") {
		t.Error("password leaked into command-line arguments")
	}
}

func TestDumpArgs(t *testing.T) {
	c := testClient()
	args := c.dumpArgs()
	for _, want := range []string{"--format=plain", "--no-owner", "--no-acl"} {
		found := false
		for _, a := range args {
			if a == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("dumpArgs missing %q", want)
		}
	}
}

func TestTimestampLayouts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{
			name: "timestamptz with micros",
			in:   "2024-01-02 03:04:05.678901+00",
			want: time.Date(2024, 1, 2, 3, 4, 5, 678901000, time.UTC),
		},
		{
			name: "timestamptz with offset",
			in:   "2024-01-02 03:04:05+02",
			want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", 2*3600)),
		},
		{
			name: "plain timestamp",
			in:   "2024-01-02 03:04:05",
			want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got time.Time
			var ok bool
			for _, layout := range timestampLayouts {
				if ts, err := time.Parse(layout, tt.in); err == nil {
					got, ok = ts, true
					break
				}
			}
			if !ok {
				t.Fatalf("no layout parsed %q", tt.in)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parsed %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIncompatibleSet(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"SET transaction_timeout = 0;", true},
		{"  set Transaction_Timeout = 0;", true},
		{"SET statement_timeout = 0;", false},
		{"CREATE TABLE foo (id int);", false},
		{"-- SET transaction_timeout = 0;", false},
	}
	for _, tt := range tests {
		if got := isIncompatibleSet(tt.line); got != tt.want {
			t.Errorf("isIncompatibleSet(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestFeedFilteredDump(t *testing.T) {
	dump := strings.Join([]string{
		"SET statement_timeout = 0;",
		"SET transaction_timeout = 0;",
		"CREATE TABLE sales (id int);",
		"INSERT INTO sales VALUES (1);",
	}, "\n") + "\n"

	var out bytes.Buffer
	var percents []float64
	err := feedFilteredDump(strings.NewReader(dump), &out, int64(len(dump)), func(p float64) {
		percents = append(percents, p)
	})
	if err != nil {
		t.Fatalf("feedFilteredDump failed: %v", err)
	}

	if strings.Contains(out.String(), "transaction_timeout") {
		t.Error("incompatible SET statement not filtered")
	}
	if !strings.Contains(out.String(), "statement_timeout") {
		t.Error("compatible SET statement was dropped")
	}
	if !strings.Contains(out.String(), "CREATE TABLE sales") {
		t.Error("dump content was dropped")
	}

	if len(percents) == 0 {
		t.Fatal("no progress reported")
	}
	prev := -1.0
	for _, p := range percents {
		if p < prev {
			t.Fatalf("progress regressed: %v after %v", p, prev)
		}
		prev = p
	}
	if got := percents[len(percents)-1]; got != 100 {
		t.Errorf("final progress = %v, want 100", got)
	}
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	var last, total int64
	w := &countingWriter{w: &buf, total: 10, onProgress: func(cur, t int64) {
		last, total = cur, t
	}}
	w.Write([]byte("hello"))
	w.Write([]byte("world"))
	if last != 10 || total != 10 {
		t.Errorf("progress = (%d, %d), want (10, 10)", last, total)
	}
	if buf.String() != "helloworld" {
		t.Errorf("forwarded %q", buf.String())
	}
}
