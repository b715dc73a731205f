package source

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"
)

// Compression names a detected container compression.
type Compression string

// Supported compressions.
const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionBzip2  Compression = "bzip2"
	CompressionXZ     Compression = "xz"
	CompressionBrotli Compression = "brotli"
)

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens a test vector, transparently decompressing gzip, bzip2 and xz
// by magic bytes and brotli by the .br extension.
func Open(path string) (io.ReadCloser, Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CompressionNone, fmt.Errorf("opening %s: %w", path, err)
	}
	r, c, err := Decompress(f, filepath.Ext(path))
	if err != nil {
		f.Close()
		return nil, CompressionNone, fmt.Errorf("opening %s: %w", path, err)
	}
	rc := &readCloser{Reader: r, closers: []io.Closer{f}}
	if closer, ok := r.(io.Closer); ok {
		rc.closers = append([]io.Closer{closer}, rc.closers...)
	}
	return rc, c, nil
}

// Decompress wraps r according to its magic bytes. ext is consulted for
// formats without a signature.
func Decompress(r io.Reader, ext string) (io.Reader, Compression, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, CompressionNone, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, CompressionNone, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, CompressionGzip, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), CompressionBzip2, nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, CompressionNone, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, CompressionXZ, nil

	case strings.EqualFold(ext, ".br"):
		return brotli.NewReader(br), CompressionBrotli, nil
	}
	return br, CompressionNone, nil
}
