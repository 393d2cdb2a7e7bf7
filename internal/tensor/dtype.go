package tensor

// DataType is the runtime element type of a tensor.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable type name.
func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// DType is the constraint for tensor element types.
type DType interface {
	~float32 | ~int32
}

func inferDataType(v any) DataType {
	switch v.(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	default:
		panic("tensor: unsupported element type")
	}
}
