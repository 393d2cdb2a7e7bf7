package tensor

import (
	"fmt"
	"math/rand"
)

// Ones creates a float32 tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = 1
	}
	return t
}

// Randn creates a float32 tensor with elements drawn from N(0, 1).
func Randn[B Backend](shape Shape, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		//nolint:gosec // math/rand is appropriate for weight initialization
		data[i] = float32(rand.NormFloat64())
	}
	return t
}

// Full creates a float32 tensor with every element set to value.
func Full[B Backend](shape Shape, value float32, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Arange creates a 1D int32 tensor [0, 1, ..., n-1].
func Arange[B Backend](n int, b B) (*Tensor[int32, B], error) {
	if n <= 0 {
		return nil, fmt.Errorf("arange length must be positive, got %d", n)
	}
	data := make([]int32, n)
	for i := range data {
		data[i] = int32(i)
	}
	return FromSlice[int32, B](data, Shape{n}, b)
}
