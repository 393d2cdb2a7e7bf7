package tensor

// Backend is the compute interface tensors delegate their operations to.
//
// Implementations:
//   - cpu: pure Go reference implementation
//
// Backends receive and return RawTensors; the typed Tensor wrapper keeps
// element types straight at the API surface.
type Backend interface {
	// Element-wise binary operations with trailing-dimension broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// MulScalar multiplies every element by a scalar.
	MulScalar(x *RawTensor, scalar float64) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor) *RawTensor

	// Conv2D performs 2D convolution over NCHW input with an
	// [outC, inC, kH, kW] kernel.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor

	// Lookup gathers rows of a [num, dim] table by int32 indices,
	// producing [len(indices), dim].
	Lookup(table, indices *RawTensor) *RawTensor

	// ReLU applies max(0, x) element-wise.
	ReLU(x *RawTensor) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
