package nn

import (
	"fmt"

	"github.com/graft-ml/graft/internal/tensor"
)

// Conv2D implements a 2D convolutional layer over NCHW input.
//
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w].
// Weights use Xavier initialization, biases start at zero.
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelH     int
	kernelW     int
	stride      int
	padding     int
	weight      *Parameter[B] // [out_channels, in_channels, kernel_h, kernel_w]
	bias        *Parameter[B] // [out_channels] or nil
	backend     B
}

// NewConv2D creates a Conv2D layer.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	backend B,
) *Conv2D[B] {
	fanIn := inChannels * kernelH * kernelW
	fanOut := outChannels * kernelH * kernelW
	weight := NewParameter("weight", Xavier(fanIn, fanOut, tensor.Shape{outChannels, inChannels, kernelH, kernelW}, backend))

	var bias *Parameter[B]
	if useBias {
		bias = NewParameter("bias", Zeros(tensor.Shape{outChannels}, backend))
	}

	return &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelH:     kernelH,
		kernelW:     kernelW,
		stride:      stride,
		padding:     padding,
		weight:      weight,
		bias:        bias,
		backend:     backend,
	}
}

// Forward computes the convolution.
//
// Input shape: [batch, in_channels, height, width]
// Output shape: [batch, out_channels, out_height, out_width]
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("Conv2D.Forward: expected 4D input [N, C, H, W], got shape %v", shape))
	}
	if shape[1] != c.inChannels {
		panic(fmt.Sprintf("Conv2D.Forward: expected %d input channels, got %d", c.inChannels, shape[1]))
	}

	raw := c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding)
	output := tensor.New[float32, B](raw, c.backend)
	if c.bias != nil {
		output = output.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return output
}

// Parameters returns [weight, bias] if bias is present, otherwise [weight].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Weight returns the weight parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int {
	return c.outChannels
}

// Kernel returns the kernel height and width.
func (c *Conv2D[B]) Kernel() (h, w int) {
	return c.kernelH, c.kernelW
}

// Stride returns the convolution stride.
func (c *Conv2D[B]) Stride() int {
	return c.stride
}

// Padding returns the convolution padding.
func (c *Conv2D[B]) Padding() int {
	return c.padding
}

// Backend returns the layer's compute backend.
func (c *Conv2D[B]) Backend() B {
	return c.backend
}
