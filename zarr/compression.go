package zarr

import (
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// numcodecs ids mapped to the compression formats qri understands
var codecFormats = map[string]string{
	"gzip": "gzip",
	"zstd": "zst",
}

func (m *CompressionMeta) format() (string, error) {
	f, ok := codecFormats[m.ID]
	if !ok {
		return "", fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return f, nil
}

// Decompressor wraps a chunk reader. A nil CompressionMeta reads raw chunks.
func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Decompressor(f, r)
}

// Compressor wraps a chunk writer. Callers must Close the writer to flush it.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Compressor(f, w)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
