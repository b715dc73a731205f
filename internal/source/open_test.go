package source

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var vectorPayload = bytes.Repeat([]byte("\x47codec conformance vector "), 64)

func compressGzip(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressBzip2(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressXZ(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func compressBrotli(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpen_DetectsCompression(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		compress func(*testing.T, []byte) []byte
		want     Compression
	}{
		{"plain", "vector.ts", func(_ *testing.T, b []byte) []byte { return b }, CompressionNone},
		{"gzip", "vector.ts.gz", compressGzip, CompressionGzip},
		{"bzip2", "vector.ts.bz2", compressBzip2, CompressionBzip2},
		{"xz", "vector.ts.xz", compressXZ, CompressionXZ},
		{"brotli", "vector.ts.br", compressBrotli, CompressionBrotli},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, tt.compress(t, vectorPayload), 0o600))

			rc, got, err := Open(path)
			require.NoError(t, err)
			defer rc.Close()

			assert.Equal(t, tt.want, got)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, vectorPayload, data)
		})
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "missing.ts"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecompress_EmptyInput(t *testing.T) {
	r, c, err := Decompress(bytes.NewReader(nil), "")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}
