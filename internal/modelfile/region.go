// Package modelfile exposes serialized graph and weight files as read-only
// byte regions that stay valid for the lifetime of an engine.
package modelfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrGraphRequired = errors.New("modelfile: model graph file is required")
	ErrTooLarge      = errors.New("modelfile: file too large to map")
)

// Region is a read-only view of a file. Data must not be used after Close.
type Region struct {
	path    string
	data    []byte
	mmapped bool
}

// Open maps path read-only. If mmap is unavailable it falls back to reading
// the file into memory. An empty path yields an empty region.
func Open(path string) (*Region, error) {
	if path == "" {
		return &Region{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat model file %s: %w", path, err)
	}
	size64 := st.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}
	size := int(size64)
	if size == 0 {
		return &Region{path: path, data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &Region{path: path, data: data, mmapped: true}, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, fmt.Errorf("read model file %s: %w", path, err)
	}
	return &Region{path: path, data: data}, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Data returns the region's bytes.
func (r *Region) Data() []byte {
	if r == nil {
		return nil
	}
	return r.data
}

// Len returns the region size in bytes.
func (r *Region) Len() int {
	return len(r.Data())
}

// Path returns the backing file path, or "" for an empty region.
func (r *Region) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Close releases the mapping. It is safe to call more than once.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return nil
	}
	var err error
	if r.mmapped {
		err = unix.Munmap(r.data)
	}
	r.data = nil
	r.mmapped = false
	return err
}

// Model holds the graph and weight regions for one engine lifetime.
type Model struct {
	Graph   *Region
	Weights *Region
}

// Load opens the graph (required) and weights (optional) files.
func Load(graphPath, weightsPath string) (*Model, error) {
	if graphPath == "" {
		return nil, ErrGraphRequired
	}
	graph, err := Open(graphPath)
	if err != nil {
		return nil, err
	}
	weights, err := Open(weightsPath)
	if err != nil {
		_ = graph.Close()
		return nil, err
	}
	return &Model{Graph: graph, Weights: weights}, nil
}

// Close releases both regions.
func (m *Model) Close() error {
	if m == nil {
		return nil
	}
	return errors.Join(m.Graph.Close(), m.Weights.Close())
}
