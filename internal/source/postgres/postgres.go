// Package postgres implements the source capability for PostgreSQL databases
// using the pg_dump and psql command-line tools.
package postgres

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"pgward/internal/source"
)

// Ensure Client implements source.Source at compile time.
var _ source.Source = (*Client)(nil)

// defaultLastModifiedQuery approximates the database's last data change from
// table-level activity statistics. Targets can override it with a query better
// suited to their schema (e.g. a max over an updated_at column).
const defaultLastModifiedQuery = `SELECT COALESCE(MAX(GREATEST(
    COALESCE(last_vacuum, 'epoch'::timestamptz),
    COALESCE(last_autovacuum, 'epoch'::timestamptz),
    COALESCE(last_analyze, 'epoch'::timestamptz),
    COALESCE(last_autoanalyze, 'epoch'::timestamptz)
)), 'epoch'::timestamptz)
FROM pg_stat_all_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`

// timestampLayouts covers the textual forms psql emits for timestamptz values.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Config holds PostgreSQL connection details for one target.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	// LastModifiedQuery overrides the scalar query used by LastModified.
	// It must return a single timestamptz value.
	LastModifiedQuery string
}

// Client shells out to pg_dump and psql for dump and restore, and to psql for
// scalar clock queries. It holds no connection state of its own.
type Client struct {
	name string
	cfg  Config
}

// New creates a client for the named target.
func New(name string, cfg Config) *Client {
	return &Client{name: name, cfg: cfg}
}

func (c *Client) Name() string {
	return c.name
}

// Close is a no-op; the client holds no persistent connection.
func (c *Client) Close() error {
	return nil
}

// connArgs returns the shared connection arguments for psql and pg_dump.
// The password travels via PGPASSWORD, never on the command line.
func (c *Client) connArgs() []string {
	return []string{
		"-h", c.cfg.Host,
		"-p", c.cfg.Port,
		"-U", c.cfg.User,
		"-d", c.cfg.Database,
		"--no-password",
	}
}

func (c *Client) env() []string {
	return append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", c.cfg.Password))
}

// queryScalarTime runs a query returning a single timestamptz and parses it.
func (c *Client) queryScalarTime(ctx context.Context, query string) (time.Time, error) {
	out, err := c.queryScalar(ctx, query)
	if err != nil {
		return time.Time{}, err
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, out); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("postgres: unparsable timestamp %q", out)
}

// queryScalar runs a query via psql in tuples-only unaligned mode and returns
// the trimmed single-value output.
func (c *Client) queryScalar(ctx context.Context, query string) (string, error) {
	args := append(c.connArgs(), "-tA", "-c", query)
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = c.env()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("postgres: scalar query failed: %w - %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ServerTime returns the database server's current clock value.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	return c.queryScalarTime(ctx, "SELECT now()")
}

// LastModified returns the database's last-modification instant according to
// its own clock.
func (c *Client) LastModified(ctx context.Context) (time.Time, error) {
	query := c.cfg.LastModifiedQuery
	if query == "" {
		query = defaultLastModifiedQuery
	}
	return c.queryScalarTime(ctx, query)
}

// dumpArgs builds the pg_dump argument list.
func (c *Client) dumpArgs() []string {
	return append(c.connArgs(),
		"--format=plain",
		"--no-owner",
		"--no-acl",
	)
}

// Dump runs pg_dump and streams its output to destPath, reporting progress as
// bytes written against the database's on-disk size. The dump's plain-text
// size usually differs from the on-disk size, so the total is an estimate; a
// zero total means no estimate was available.
func (c *Client) Dump(ctx context.Context, destPath string, onProgress func(current, total int64)) error {
	var total int64
	if out, err := c.queryScalar(ctx, "SELECT pg_database_size(current_database())"); err == nil {
		fmt.Sscan(out, &total)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("postgres: failed to create %s: %w", destPath, err)
	}
	defer file.Close()

	cmd := exec.CommandContext(ctx, "pg_dump", c.dumpArgs()...)
	cmd.Env = c.env()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &countingWriter{w: file, total: total, onProgress: onProgress}

	if err := cmd.Run(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("postgres: pg_dump failed: %w - %s", err, stderr.String())
	}
	return nil
}

// dropObjectsSQL clears the public schema so restores start from a clean
// slate: tables, sequences, and views all go.
const dropObjectsSQL = `
DO $$ DECLARE
    r RECORD;
BEGIN
    FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
        EXECUTE 'DROP TABLE IF EXISTS "' || r.tablename || '" CASCADE';
    END LOOP;
    FOR r IN (SELECT sequencename FROM pg_sequences WHERE schemaname = 'public') LOOP
        EXECUTE 'DROP SEQUENCE IF EXISTS "' || r.sequencename || '" CASCADE';
    END LOOP;
    FOR r IN (SELECT viewname FROM pg_views WHERE schemaname = 'public') LOOP
        EXECUTE 'DROP VIEW IF EXISTS "' || r.viewname || '" CASCADE';
    END LOOP;
END $$;
`

// incompatibleParams are version-specific SET parameters a newer pg_dump may
// emit that older servers reject.
var incompatibleParams = []string{
	"transaction_timeout", // PostgreSQL 17+
}

// Restore drops all existing objects, then feeds the dump at srcPath to psql.
// Progress is the percentage of dump bytes consumed.
func (c *Client) Restore(ctx context.Context, srcPath string, onProgress func(percent float64)) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("postgres: failed to open %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("postgres: failed to stat %s: %w", srcPath, err)
	}

	// Clean slate before loading the dump.
	dropCmd := exec.CommandContext(ctx, "psql", append(c.connArgs(), "-c", dropObjectsSQL)...)
	dropCmd.Env = c.env()
	var dropStderr bytes.Buffer
	dropCmd.Stderr = &dropStderr
	if err := dropCmd.Run(); err != nil {
		return fmt.Errorf("postgres: failed to drop existing objects: %w - %s", err, dropStderr.String())
	}

	restoreArgs := append(c.connArgs(), "-v", "ON_ERROR_STOP=1")
	cmd := exec.CommandContext(ctx, "psql", restoreArgs...)
	cmd.Env = c.env()

	pr, pw := io.Pipe()
	cmd.Stdin = pr

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		return fmt.Errorf("postgres: failed to start psql: %w", err)
	}

	feedErr := make(chan error, 1)
	go func() {
		err := feedFilteredDump(file, pw, info.Size(), onProgress)
		pw.CloseWithError(err)
		feedErr <- err
	}()

	runErr := cmd.Wait()
	ferr := <-feedErr
	if runErr != nil {
		return fmt.Errorf("postgres: psql restore failed: %w - %s", runErr, stderr.String())
	}
	if ferr != nil {
		return fmt.Errorf("postgres: failed to read dump: %w", ferr)
	}
	return nil
}

// feedFilteredDump copies the dump line by line, skipping SET statements for
// parameters the target server may not understand, and reporting the percent
// of source bytes consumed.
func feedFilteredDump(src io.Reader, dst io.Writer, total int64, onProgress func(percent float64)) error {
	reader := bufio.NewReader(src)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			consumed += int64(len(line))
			if !isIncompatibleSet(line) {
				if _, werr := io.WriteString(dst, line); werr != nil {
					return werr
				}
			}
			if onProgress != nil && total > 0 {
				onProgress(100 * float64(consumed) / float64(total))
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// isIncompatibleSet reports whether the line is a SET statement for a
// version-specific parameter.
func isIncompatibleSet(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SET ") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, param := range incompatibleParams {
		if strings.Contains(lower, param) {
			return true
		}
	}
	return false
}

// countingWriter forwards writes and reports cumulative progress.
type countingWriter struct {
	w          io.Writer
	written    int64
	total      int64
	onProgress func(current, total int64)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.written += int64(n)
		if w.onProgress != nil {
			w.onProgress(w.written, w.total)
		}
	}
	return n, err
}
