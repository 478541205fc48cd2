// Package codec compresses and decompresses dump files between pipeline
// stages, reporting byte-level progress to the caller.
package codec

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Progress receives the number of source bytes processed so far and the total
// number of source bytes. It is called from the codec's goroutine.
type Progress func(processed, total int64)

// Gzip implements both directions of the codec on compress/gzip.
type Gzip struct {
	// Level is the compression level (1-9). Zero selects the default level.
	Level int
}

// Compress streams the file at src through a gzip writer into dest.
func (g Gzip) Compress(src, dest string, onProgress Progress) error {
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level != gzip.DefaultCompression && (level < gzip.BestSpeed || level > gzip.BestCompression) {
		return fmt.Errorf("codec: gzip compression level must be 1-9, got %d", level)
	}

	in, total, err := openCounted(src, onProgress)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("codec: failed to create %s: %w", dest, err)
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return fmt.Errorf("codec: failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		os.Remove(dest)
		return fmt.Errorf("codec: compression failed: %w", err)
	}
	if err := gz.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("codec: failed to finish gzip stream: %w", err)
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	return nil
}

// Decompress streams the gzip file at src into dest. Progress counts
// compressed source bytes, since the uncompressed size is unknown up front.
func (g Gzip) Decompress(src, dest string, onProgress Progress) error {
	in, total, err := openCounted(src, onProgress)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("codec: failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("codec: failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, gz); err != nil {
		os.Remove(dest)
		return fmt.Errorf("codec: decompression failed: %w", err)
	}
	if onProgress != nil {
		onProgress(total, total)
	}
	return nil
}

// openCounted opens path for reading, wrapped so every read reports progress
// against the file's total size.
func openCounted(path string, onProgress Progress) (io.ReadCloser, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: failed to open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("codec: failed to stat %s: %w", path, err)
	}
	return &countingReader{file: file, total: info.Size(), onProgress: onProgress}, info.Size(), nil
}

type countingReader struct {
	file       *os.File
	read       int64
	total      int64
	onProgress Progress
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.read, r.total)
		}
	}
	return n, err
}

func (r *countingReader) Close() error {
	return r.file.Close()
}
