package refengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/modelrun/internal/tensor"
)

// value is an intermediate float32 tensor.
type value struct {
	shape  []int64
	layout tensor.Layout
	data   []float32
}

type kernel struct {
	check func(op OpDef) error
	run   func(op OpDef, in value, weights []byte) (value, error)
}

var kernels = map[string]kernel{
	"Identity": {
		check: noArgs,
		run: func(_ OpDef, in value, _ []byte) (value, error) {
			return value{shape: slices.Clone(in.shape), layout: in.layout, data: slices.Clone(in.data)}, nil
		},
	},
	"Relu": {
		check: noArgs,
		run: func(_ OpDef, in value, _ []byte) (value, error) {
			out := make([]float32, len(in.data))
			for i, v := range in.data {
				out[i] = max(v, 0)
			}
			return value{shape: slices.Clone(in.shape), layout: in.layout, data: out}, nil
		},
	},
	"BiasAdd": {
		check: func(op OpDef) error {
			if op.Args["count"] <= 0 {
				return errors.New("count must be positive")
			}
			if op.Args["offset"] < 0 || op.Args["offset"]%4 != 0 {
				return errors.New("offset must be a non-negative multiple of 4")
			}
			return nil
		},
		run: biasAdd,
	},
	"DepthToSpace": {
		check: checkBlock,
		run:   depthToSpace,
	},
	"SpaceToDepth": {
		check: checkBlock,
		run:   spaceToDepth,
	},
}

func noArgs(OpDef) error { return nil }

func checkBlock(op OpDef) error {
	if op.Args["block_size"] < 1 {
		return errors.New("block_size must be >= 1")
	}
	return nil
}

func biasAdd(op OpDef, in value, weights []byte) (value, error) {
	off, count := op.Args["offset"], op.Args["count"]
	if off+count*4 > len(weights) {
		return value{}, fmt.Errorf("bias [%d,+%d floats) outside %d-byte weights", off, count, len(weights))
	}
	last := in.shape[len(in.shape)-1]
	if last != int64(count) {
		return value{}, fmt.Errorf("bias has %d values but last dim is %d", count, last)
	}
	bias := make([]float32, count)
	for i := range bias {
		bias[i] = math.Float32frombits(binary.LittleEndian.Uint32(weights[off+i*4:]))
	}
	out := make([]float32, len(in.data))
	for i, v := range in.data {
		out[i] = v + bias[i%count]
	}
	return value{shape: slices.Clone(in.shape), layout: in.layout, data: out}, nil
}

// dims4 splits a rank-4 shape into batch, height, width, channels according
// to the tensor layout. Untagged tensors are treated as NHWC.
func dims4(v value) (n, h, w, c int, err error) {
	if len(v.shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("want rank 4, got shape %v", v.shape)
	}
	s := v.shape
	if v.layout == tensor.NCHW {
		return int(s[0]), int(s[2]), int(s[3]), int(s[1]), nil
	}
	return int(s[0]), int(s[1]), int(s[2]), int(s[3]), nil
}

// offset computes the flat index of (n, h, w, c) in a tensor with the given
// layout and extents.
func offset(layout tensor.Layout, n, h, w, c, H, W, C int) int {
	if layout == tensor.NCHW {
		return ((n*C+c)*H+h)*W + w
	}
	return ((n*H+h)*W+w)*C + c
}

func shape4(layout tensor.Layout, n, h, w, c int) []int64 {
	if layout == tensor.NCHW {
		return []int64{int64(n), int64(c), int64(h), int64(w)}
	}
	return []int64{int64(n), int64(h), int64(w), int64(c)}
}

func depthToSpace(op OpDef, in value, _ []byte) (value, error) {
	b := op.Args["block_size"]
	n, h, w, c, err := dims4(in)
	if err != nil {
		return value{}, err
	}
	if c%(b*b) != 0 {
		return value{}, fmt.Errorf("channels %d not divisible by block_size^2 %d", c, b*b)
	}
	oh, ow, oc := h*b, w*b, c/(b*b)
	out := make([]float32, len(in.data))
	for ni := range n {
		for y := range oh {
			for x := range ow {
				iy, by := y/b, y%b
				ix, bx := x/b, x%b
				for ci := range oc {
					ic := (by*b+bx)*oc + ci
					out[offset(in.layout, ni, y, x, ci, oh, ow, oc)] = in.data[offset(in.layout, ni, iy, ix, ic, h, w, c)]
				}
			}
		}
	}
	return value{shape: shape4(in.layout, n, oh, ow, oc), layout: in.layout, data: out}, nil
}

func spaceToDepth(op OpDef, in value, _ []byte) (value, error) {
	b := op.Args["block_size"]
	n, h, w, c, err := dims4(in)
	if err != nil {
		return value{}, err
	}
	if h%b != 0 || w%b != 0 {
		return value{}, fmt.Errorf("spatial dims %dx%d not divisible by block_size %d", h, w, b)
	}
	oh, ow, oc := h/b, w/b, c*b*b
	out := make([]float32, len(in.data))
	for ni := range n {
		for y := range h {
			for x := range w {
				oy, by := y/b, y%b
				ox, bx := x/b, x%b
				for ci := range c {
					o := (by*b+bx)*c + ci
					out[offset(in.layout, ni, oy, ox, o, oh, ow, oc)] = in.data[offset(in.layout, ni, y, x, ci, h, w, c)]
				}
			}
		}
	}
	return value{shape: shape4(in.layout, n, oh, ow, oc), layout: in.layout, data: out}, nil
}
