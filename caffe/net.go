// Package caffe models the subset of Caffe network definitions and trained models that
// Darknet networks translate to.
package caffe

import (
	"slices"
)

// Layer type tags as they appear in a prototxt.
const (
	TypeInput        = "Input"
	TypeConvolution  = "Convolution"
	TypeBatchNorm    = "BatchNorm"
	TypeScale        = "Scale"
	TypeReLU         = "ReLU"
	TypeInnerProduct = "InnerProduct"
	TypePooling      = "Pooling"
	TypeDropout      = "Dropout"
	TypeSoftmax      = "Softmax"
)

type PoolMethod int

const (
	PoolMax PoolMethod = iota
	PoolAve
	PoolStochastic
)

func (p PoolMethod) String() string {
	switch p {
	case PoolMax:
		return "MAX"
	case PoolAve:
		return "AVE"
	case PoolStochastic:
		return "STOCHASTIC"
	default:
		return "UNKNOWN"
	}
}

type InputParam struct {
	Shape []int
}

type ConvolutionParam struct {
	NumOutput  int
	KernelSize *int
	Stride     *int
	Pad        *int
	BiasTerm   bool
}

type PoolingParam struct {
	Pool          PoolMethod
	KernelSize    *int
	Stride        *int
	Pad           *int
	GlobalPooling *bool
}

type InnerProductParam struct {
	NumOutput int
	BiasTerm  bool
}

type BatchNormParam struct {
	UseGlobalStats *bool
}

type ScaleParam struct {
	BiasTerm bool
}

type ReLUParam struct {
	NegativeSlope *float32
}

type DropoutParam struct {
	Ratio float32
}

// Layer is one node of a network. Exactly one of the parameter fields is set, matching
// Type; layers such as Softmax carry none.
type Layer struct {
	Name   string
	Type   string
	Bottom []string
	Top    []string

	Input        *InputParam
	Convolution  *ConvolutionParam
	Pooling      *PoolingParam
	InnerProduct *InnerProductParam
	BatchNorm    *BatchNormParam
	Scale        *ScaleParam
	ReLU         *ReLUParam
	Dropout      *DropoutParam

	// Blobs holds learnable parameters in Caffe's per-type order, e.g. weights then bias.
	Blobs []*Blob
}

// InPlace reports whether the layer writes its output over its input blob.
func (l *Layer) InPlace() bool {
	return len(l.Bottom) > 0 && len(l.Top) > 0 && l.Bottom[0] == l.Top[0]
}

// Learnable reports whether the layer has parameter blobs.
func (l *Layer) Learnable() bool {
	return len(l.Blobs) > 0
}

// Params returns the number of learnable values held by the layer.
func (l *Layer) Params() int {
	var n int
	for _, b := range l.Blobs {
		n += b.Count()
	}
	return n
}

type Blob struct {
	Shape []int
	Data  []float32
}

func NewBlob(shape ...int) *Blob {
	b := &Blob{Shape: slices.Clone(shape)}
	b.Data = make([]float32, b.Count())
	return b
}

// Count is the product of the blob's dimensions.
func (b *Blob) Count() int {
	if len(b.Shape) == 0 {
		return 0
	}

	n := 1
	for _, d := range b.Shape {
		n *= d
	}
	return n
}

// Net is an ordered layer graph. Layer order is significant: it is the emission order of
// the generator and the parameter order of the weights file.
type Net struct {
	Name   string
	Layers []*Layer
}

// Layer returns the layer with the given name, or nil.
func (n *Net) Layer(name string) *Layer {
	for _, l := range n.Layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Params returns the number of learnable values in the network.
func (n *Net) Params() int {
	var total int
	for _, l := range n.Layers {
		total += l.Params()
	}
	return total
}

// Ptr returns a pointer to v, for optional parameter fields.
func Ptr[T any](v T) *T {
	return &v
}
