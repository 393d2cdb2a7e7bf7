package cpu

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// Conv2D performs 2D convolution over NCHW input with an [outC, inC, kH, kW]
// kernel. Output spatial size is (in + 2*padding - k)/stride + 1.
func (b *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	is, ks := input.Shape(), kernel.Shape()
	if len(is) != 4 || len(ks) != 4 {
		panic(fmt.Sprintf("cpu: Conv2D expects 4D tensors, got %v and %v", is, ks))
	}
	if is[1] != ks[1] {
		panic(fmt.Sprintf("cpu: Conv2D channel mismatch: input %v, kernel %v", is, ks))
	}
	if stride <= 0 {
		panic("cpu: Conv2D stride must be positive")
	}

	n, inC, h, w := is[0], is[1], is[2], is[3]
	outC, kh, kw := ks[0], ks[2], ks[3]
	outH := (h+2*padding-kh)/stride + 1
	outW := (w+2*padding-kw)/stride + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("cpu: Conv2D output would be empty for input %v, kernel %v", is, ks))
	}

	out := b.newRaw(tensor.Shape{n, outC, outH, outW}, input.DType())
	id := input.AsFloat32()
	kd := kernel.AsFloat32()
	od := out.AsFloat32()

	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < outC; oc++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var acc float32
					for ic := 0; ic < inC; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*stride + ky - padding
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*stride + kx - padding
								if ix < 0 || ix >= w {
									continue
								}
								iv := id[((ni*inC+ic)*h+iy)*w+ix]
								kv := kd[((oc*inC+ic)*kh+ky)*kw+kx]
								acc += iv * kv
							}
						}
					}
					od[((ni*outC+oc)*outH+oy)*outW+ox] = acc
				}
			}
		}
	}
	return out
}
