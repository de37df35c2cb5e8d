// Package tensorio moves tensor payloads between raw, headerless files and
// in-memory buffers.
package tensorio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samcharles93/modelrun/internal/descriptor"
	"github.com/samcharles93/modelrun/internal/tensor"
)

var ErrShortFile = errors.New("tensorio: input file too short")

// FileEncoding is the on-disk encoding for a tensor held in memory as e.
// Files are float32 unless the tensor is integral.
func FileEncoding(e tensor.Encoding) tensor.Encoding {
	if e.Integral() {
		return tensor.Int32
	}
	return tensor.Float32
}

// InputPath returns "<prefix>_<formatted name>".
func InputPath(prefix, name string) string {
	return prefix + "_" + descriptor.FormatName(name)
}

// OutputPath returns "<prefix>_<formatted name>".
func OutputPath(prefix, name string) string {
	return prefix + "_" + descriptor.FormatName(name)
}

// GroupPath returns "<dir>/<formatted name><suffix>" for batch mode.
func GroupPath(dir, name, suffix string) string {
	return filepath.Join(dir, descriptor.FormatName(name)+suffix)
}

// Read loads the tensor described by spec from path. When existing is
// non-nil it is filled in place; otherwise a new buffer is allocated.
func Read(path string, spec tensor.Spec, existing *tensor.Buffer) (*tensor.Buffer, error) {
	n, err := spec.Elements()
	if err != nil {
		return nil, err
	}
	fileEnc := FileEncoding(spec.Encoding)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer func() { _ = f.Close() }()

	raw := make([]byte, n*fileEnc.Width())
	if _, err := io.ReadFull(f, raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: want %d bytes for %s %v", ErrShortFile, path, len(raw), spec.Name, spec.Shape)
		}
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}

	buf := existing
	if buf == nil {
		buf, err = tensor.NewBuffer(spec)
		if err != nil {
			return nil, err
		}
	} else if len(buf.Data) < n*spec.Encoding.Width() {
		return nil, fmt.Errorf("%w: %s holds %d bytes, need %d", tensor.ErrShortBuffer,
			spec.Name, len(buf.Data), n*spec.Encoding.Width())
	}

	if err := tensor.Convert(buf.Data, raw, n, fileEnc, spec.Encoding); err != nil {
		return nil, fmt.Errorf("input %s: %w", spec.Name, err)
	}
	return buf, nil
}

// Write stores buf at path in its file encoding and returns the number of
// elements written. The file carries no header.
func Write(path string, buf *tensor.Buffer) (int64, error) {
	n, err := buf.Spec.Elements()
	if err != nil {
		return 0, err
	}
	fileEnc := FileEncoding(buf.Spec.Encoding)
	staging := make([]byte, n*fileEnc.Width())
	if err := tensor.Convert(staging, buf.Data, n, buf.Spec.Encoding, fileEnc); err != nil {
		return 0, fmt.Errorf("output %s: %w", buf.Spec.Name, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open output file: %w", err)
	}
	if _, err := f.Write(staging); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write output file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close output file %s: %w", path, err)
	}
	return int64(n), nil
}
