package caffe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

var ErrShape = errors.New("shape error")

// Shapes computes the shape of every blob in the network, keyed by blob name. In-place
// layers leave the shape of their blob unchanged.
func (n *Net) Shapes() (map[string][]int, error) {
	return n.walk(nil)
}

// Reshape infers blob shapes and allocates zeroed parameter blobs for Convolution,
// BatchNorm, Scale and InnerProduct layers. Layers that already hold blobs keep their data
// as long as the element counts agree; their shapes are normalized to Caffe's current
// layout.
func (n *Net) Reshape() (map[string][]int, error) {
	return n.walk(func(l *Layer, in []int) error {
		want, err := l.paramShapes(in)
		if err != nil {
			return err
		}

		switch {
		case len(want) == 0:
		case len(l.Blobs) == 0:
			for _, shape := range want {
				l.Blobs = append(l.Blobs, NewBlob(shape...))
			}
		case len(l.Blobs) != len(want):
			return fmt.Errorf("has %d blobs, want %d", len(l.Blobs), len(want))
		default:
			for i, b := range l.Blobs {
				if b.Count() != NewBlob(want[i]...).Count() {
					return fmt.Errorf("blob %d has shape %v, want %v", i, b.Shape, want[i])
				}
				b.Shape = slices.Clone(want[i])
			}
		}
		return nil
	})
}

func (n *Net) walk(fn func(*Layer, []int) error) (map[string][]int, error) {
	shapes := make(map[string][]int)
	for _, l := range n.Layers {
		var in []int
		if len(l.Bottom) > 0 {
			var ok bool
			if in, ok = shapes[l.Bottom[0]]; !ok {
				return nil, fmt.Errorf("%w: layer %s: unknown bottom blob %q", ErrShape, l.Name, l.Bottom[0])
			}
		}

		if fn != nil {
			if err := fn(l, in); err != nil {
				return nil, fmt.Errorf("%w: layer %s: %v", ErrShape, l.Name, err)
			}
		}

		out, err := l.outputShape(in)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %s: %v", ErrShape, l.Name, err)
		}

		if l.InPlace() && !slices.Equal(in, out) {
			return nil, fmt.Errorf("%w: in-place layer %s changes shape %v to %v", ErrShape, l.Name, in, out)
		}

		for _, top := range l.Top {
			shapes[top] = out
		}
	}

	return shapes, nil
}

func (l *Layer) outputShape(in []int) ([]int, error) {
	switch l.Type {
	case TypeInput:
		if l.Input == nil || len(l.Input.Shape) == 0 {
			return nil, errors.New("input shape missing")
		}
		return slices.Clone(l.Input.Shape), nil
	case TypeConvolution:
		if len(in) != 4 {
			return nil, fmt.Errorf("expected 4-d input, got %v", in)
		}
		p := l.Convolution
		if p == nil || p.KernelSize == nil {
			return nil, errors.New("kernel_size missing")
		}

		k, s, pad := *p.KernelSize, deref(p.Stride, 1), deref(p.Pad, 0)
		h := (in[2]+2*pad-k)/s + 1
		w := (in[3]+2*pad-k)/s + 1
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("kernel %d larger than input %dx%d", k, in[2], in[3])
		}
		return []int{in[0], p.NumOutput, h, w}, nil
	case TypePooling:
		if len(in) != 4 {
			return nil, fmt.Errorf("expected 4-d input, got %v", in)
		}
		p := l.Pooling
		if p == nil {
			return nil, errors.New("pooling_param missing")
		}

		if deref(p.GlobalPooling, false) {
			return []int{in[0], in[1], 1, 1}, nil
		}

		if p.KernelSize == nil {
			return nil, errors.New("kernel_size missing")
		}

		k, s, pad := *p.KernelSize, deref(p.Stride, 1), deref(p.Pad, 0)
		return []int{in[0], in[1], pooled(in[2], k, s, pad), pooled(in[3], k, s, pad)}, nil
	case TypeInnerProduct:
		if len(in) < 2 {
			return nil, fmt.Errorf("expected at least 2-d input, got %v", in)
		}
		if l.InnerProduct == nil {
			return nil, errors.New("inner_product_param missing")
		}
		return []int{in[0], l.InnerProduct.NumOutput}, nil
	case TypeBatchNorm, TypeScale, TypeReLU, TypeDropout, TypeSoftmax:
		return slices.Clone(in), nil
	default:
		slog.Debug("unknown layer type, assuming shape is preserved", "layer", l.Name, "type", l.Type)
		return slices.Clone(in), nil
	}
}

// paramShapes returns the blob shapes Caffe allocates for the layer.
func (l *Layer) paramShapes(in []int) ([][]int, error) {
	switch l.Type {
	case TypeConvolution:
		if len(in) != 4 {
			return nil, fmt.Errorf("expected 4-d input, got %v", in)
		}
		p := l.Convolution
		if p == nil || p.KernelSize == nil {
			return nil, errors.New("kernel_size missing")
		}

		k := *p.KernelSize
		shapes := [][]int{{p.NumOutput, in[1], k, k}}
		if p.BiasTerm {
			shapes = append(shapes, []int{p.NumOutput})
		}
		return shapes, nil
	case TypeInnerProduct:
		if len(in) < 2 {
			return nil, fmt.Errorf("expected at least 2-d input, got %v", in)
		}

		p := l.InnerProduct
		if p == nil {
			return nil, errors.New("inner_product_param missing")
		}

		fanIn := 1
		for _, d := range in[1:] {
			fanIn *= d
		}

		shapes := [][]int{{p.NumOutput, fanIn}}
		if p.BiasTerm {
			shapes = append(shapes, []int{p.NumOutput})
		}
		return shapes, nil
	case TypeBatchNorm:
		if len(in) < 2 {
			return nil, fmt.Errorf("expected at least 2-d input, got %v", in)
		}
		return [][]int{{in[1]}, {in[1]}, {1}}, nil
	case TypeScale:
		if len(in) < 2 {
			return nil, fmt.Errorf("expected at least 2-d input, got %v", in)
		}
		shapes := [][]int{{in[1]}}
		if l.Scale != nil && l.Scale.BiasTerm {
			shapes = append(shapes, []int{in[1]})
		}
		return shapes, nil
	default:
		return nil, nil
	}
}

// pooled applies Caffe's pooling arithmetic, which rounds up and then drops a trailing
// window that would start entirely inside the padding.
func pooled(size, k, s, pad int) int {
	out := int(math.Ceil(float64(size+2*pad-k)/float64(s))) + 1
	if pad > 0 && (out-1)*s >= size+pad {
		out--
	}
	return out
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
