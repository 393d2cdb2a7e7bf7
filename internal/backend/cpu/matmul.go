package cpu

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (b *Backend) MatMul(a, x *tensor.RawTensor) *tensor.RawTensor {
	as, xs := a.Shape(), x.Shape()
	if len(as) != 2 || len(xs) != 2 {
		panic(fmt.Sprintf("cpu: MatMul expects 2D tensors, got %v and %v", as, xs))
	}
	if as[1] != xs[0] {
		panic(fmt.Sprintf("cpu: MatMul inner dimensions differ: %v @ %v", as, xs))
	}

	m, k, n := as[0], as[1], xs[1]
	out := b.newRaw(tensor.Shape{m, n}, a.DType())
	ad := a.AsFloat32()
	xd := x.AsFloat32()
	od := out.AsFloat32()

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			v := ad[i*k+p]
			row := xd[p*n : (p+1)*n]
			outRow := od[i*n : (i+1)*n]
			for j := range row {
				outRow[j] += v * row[j]
			}
		}
	}
	return out
}
