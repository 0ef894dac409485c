// Public domain.

// Package fileio opens and creates files, compressing or decompressing
// them according to their name suffix: ".gz" (gzip), ".zst" (zstandard),
// ".lz4" (lz4 frame).  Any other name is read or written as is.
package fileio

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a file compression format.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
	LZ4
)

// CompressionOf returns the compression implied by name's suffix.
func CompressionOf(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return Gzip
	case strings.HasSuffix(name, ".zst"):
		return Zstd
	case strings.HasSuffix(name, ".lz4"):
		return LZ4
	}
	return None
}

// NewReader wraps r to decompress c.
func NewReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	}
	return io.NopCloser(r), nil
}

// NewWriter wraps w to compress with c.  Closing the returned writer
// flushes the compressor but does not close w.
func NewWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	}
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Open opens the named file for reading, decompressing by suffix.
func Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, CompressionOf(name))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &readCloser{ReadCloser: r, f: f}, nil
}

type readCloser struct {
	io.ReadCloser
	f *os.File
}

func (r *readCloser) Close() error {
	err := r.ReadCloser.Close()
	if ferr := r.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// Create creates or truncates the named file for writing, compressing by
// suffix.  Close must be called to flush and close the file.
func Create(name string) (io.WriteCloser, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, CompressionOf(name))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &writeCloser{WriteCloser: w, f: f}, nil
}

type writeCloser struct {
	io.WriteCloser
	f *os.File
}

func (w *writeCloser) Close() error {
	err := w.WriteCloser.Close()
	if ferr := w.f.Close(); err == nil {
		err = ferr
	}
	return err
}
