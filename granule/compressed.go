package granule

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/qri-io/dataset/compression"
)

// compressed granule extensions and the compression format each maps to
var compressedExts = map[string]string{
	".gz":  "gzip",
	".zst": "zst",
}

// compressedDriver decompresses a whole granule into a temporary file and
// hands it to the driver that accepts the decompressed bytes. The temporary
// file lives until the handle is closed.
type compressedDriver struct{}

func (compressedDriver) Name() string { return "compressed" }

func (compressedDriver) Accepts(path string) bool {
	_, ok := compressedExts[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (compressedDriver) Open(path string) (Handle, error) {
	ext := strings.ToLower(filepath.Ext(path))
	tmp, err := decompressToTemp(path, compressedExts[ext])
	if err != nil {
		return nil, err
	}

	d, err := DriverFor(tmp)
	if err == nil {
		if _, nested := d.(compressedDriver); nested {
			err = fmt.Errorf("%w: nested compression in %s", ErrUnknownFormat, path)
		}
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}

	h, err := d.Open(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return &tempHandle{Handle: h, path: tmp}, nil
}

func decompressToTemp(path, format string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	r, err := compression.Decompressor(format, in)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	defer r.Close()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out, err := os.CreateTemp("", "granule-*-"+base)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// tempHandle removes its decompressed copy on Close
type tempHandle struct {
	Handle
	path string
}

func (h *tempHandle) Close() error {
	err := h.Handle.Close()
	if rmErr := os.Remove(h.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
