// Package descriptor parses the textual tensor descriptors accepted on the
// command line: node names, shapes, numeric encodings and layouts.
package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samcharles93/modelrun/internal/tensor"
)

var (
	ErrMismatch = errors.New("descriptor: count mismatch")
	ErrBadDim   = errors.New("descriptor: invalid dimension")
)

// ParseNames splits a comma-delimited node list, dropping empty tokens.
func ParseNames(s string) []string {
	return split(s, ',')
}

// ParseShapes splits colon-delimited groups of comma-delimited dimensions.
func ParseShapes(s string) ([][]int64, error) {
	groups := split(s, ':')
	shapes := make([][]int64, len(groups))
	for i, g := range groups {
		dims := split(g, ',')
		shape := make([]int64, 0, len(dims))
		for _, d := range dims {
			v, err := strconv.ParseInt(strings.TrimSpace(d), 10, 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w %q in shape %q", ErrBadDim, d, g)
			}
			shape = append(shape, v)
		}
		shapes[i] = shape
	}
	return shapes, nil
}

// ParseEncodings maps n comma-delimited type tokens to encodings. An empty
// string yields float32 for every tensor and a single token applies to all
// of them. Unrecognized tokens also map to float32; the returned unknown
// slice lists them so callers can warn.
func ParseEncodings(s string, n int) (encs []tensor.Encoding, unknown []string, err error) {
	toks := broadcast(split(s, ','), n)
	if len(toks) == 0 {
		return make([]tensor.Encoding, n), nil, nil
	}
	if len(toks) != n {
		return nil, nil, fmt.Errorf("%w: %d tensors but %d data types in %q", ErrMismatch, n, len(toks), s)
	}
	encs = make([]tensor.Encoding, n)
	for i, tok := range toks {
		e, ok := tensor.ParseEncoding(tok)
		if !ok {
			unknown = append(unknown, tok)
		}
		encs[i] = e
	}
	return encs, unknown, nil
}

// ParseLayouts maps n comma-delimited layout tokens. An empty string yields
// NHWC for every tensor and a single token applies to all of them.
func ParseLayouts(s string, n int) ([]tensor.Layout, error) {
	toks := broadcast(split(s, ','), n)
	layouts := make([]tensor.Layout, n)
	if len(toks) == 0 {
		for i := range layouts {
			layouts[i] = tensor.NHWC
		}
		return layouts, nil
	}
	if len(toks) != n {
		return nil, fmt.Errorf("%w: %d tensors but %d data formats in %q", ErrMismatch, n, len(toks), s)
	}
	for i, tok := range toks {
		layouts[i] = tensor.ParseLayout(tok)
	}
	return layouts, nil
}

// broadcast repeats a lone token n times.
func broadcast(toks []string, n int) []string {
	if len(toks) != 1 || n <= 1 {
		return toks
	}
	out := make([]string, n)
	for i := range out {
		out[i] = toks[0]
	}
	return out
}

// Specs zips names with their shapes, encodings and layouts.
func Specs(names []string, shapes [][]int64, encs []tensor.Encoding, layouts []tensor.Layout) ([]tensor.Spec, error) {
	if len(names) != len(shapes) {
		return nil, fmt.Errorf("%w: %d names %v but %d shapes", ErrMismatch, len(names), names, len(shapes))
	}
	if len(names) != len(encs) || len(names) != len(layouts) {
		return nil, fmt.Errorf("%w: %d names, %d data types, %d data formats",
			ErrMismatch, len(names), len(encs), len(layouts))
	}
	specs := make([]tensor.Spec, len(names))
	for i, name := range names {
		if len(shapes[i]) == 0 {
			return nil, fmt.Errorf("tensor %s: %w", name, tensor.ErrEmptyShape)
		}
		specs[i] = tensor.Spec{
			Name:     name,
			Shape:    shapes[i],
			Encoding: encs[i],
			Layout:   layouts[i],
		}
	}
	return specs, nil
}

// Parse is the one-shot form used by the CLI: it validates and zips all
// four descriptor strings for one side (inputs or outputs).
func Parse(names, shapes, types, formats string) ([]tensor.Spec, []string, error) {
	nameList := ParseNames(names)
	shapeList, err := ParseShapes(shapes)
	if err != nil {
		return nil, nil, err
	}
	if len(nameList) != len(shapeList) {
		return nil, nil, fmt.Errorf("%w: names %q do not match shapes %q", ErrMismatch, names, shapes)
	}
	encs, unknown, err := ParseEncodings(types, len(nameList))
	if err != nil {
		return nil, nil, err
	}
	layouts, err := ParseLayouts(formats, len(nameList))
	if err != nil {
		return nil, nil, err
	}
	specs, err := Specs(nameList, shapeList, encs, layouts)
	if err != nil {
		return nil, nil, err
	}
	return specs, unknown, nil
}

// FormatName replaces every byte that is not an ASCII letter or digit with
// an underscore, producing the name used in tensor file paths.
func FormatName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if !isAlnum(c) {
			b[i] = '_'
		}
	}
	return string(b)
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func split(s string, sep rune) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == sep })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
