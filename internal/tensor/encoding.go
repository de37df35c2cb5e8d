package tensor

import "fmt"

// Encoding is the numeric format a tensor's elements are stored in.
type Encoding uint8

const (
	Float32 Encoding = iota
	Float16
	BFloat16
	Int32
)

// Width returns the encoded size of one element in bytes.
func (e Encoding) Width() int {
	switch e {
	case Float16, BFloat16:
		return 2
	default:
		return 4
	}
}

// Integral reports whether the encoding stores integers.
func (e Encoding) Integral() bool {
	return e == Int32
}

func (e Encoding) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// ParseEncoding maps a type token to an Encoding. Unrecognized tokens
// (including "NONE") map to Float32 and ok is false.
func ParseEncoding(s string) (e Encoding, ok bool) {
	switch s {
	case "float32":
		return Float32, true
	case "float16":
		return Float16, true
	case "bfloat16":
		return BFloat16, true
	case "int32":
		return Int32, true
	default:
		return Float32, false
	}
}

// Layout tags the memory ordering convention of a tensor's dimensions.
type Layout uint8

const (
	LayoutNone Layout = iota
	NHWC
	NCHW
	OIHW
)

func (l Layout) String() string {
	switch l {
	case NHWC:
		return "NHWC"
	case NCHW:
		return "NCHW"
	case OIHW:
		return "OIHW"
	default:
		return "NONE"
	}
}

// ParseLayout maps a layout token to a Layout. Unrecognized tokens mean
// "no layout tag".
func ParseLayout(s string) Layout {
	switch s {
	case "NHWC":
		return NHWC
	case "NCHW":
		return NCHW
	case "OIHW":
		return OIHW
	default:
		return LayoutNone
	}
}
