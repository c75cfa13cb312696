package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/mvdemo/rapidus/caffe"
	"github.com/mvdemo/rapidus/darknet"
	"github.com/mvdemo/rapidus/logutil"
)

// fusedNorm holds the batch normalization parameters Darknet stores with a convolution,
// waiting for the BatchNorm and Scale layers that consume them.
type fusedNorm struct {
	scale, mean, variance []float32
}

// walkState is threaded through layer visits. cursor never exceeds the stream length.
type walkState struct {
	cursor   int
	fused    *fusedNorm
	convBias []float32
}

type transcoder struct {
	layers    []*caffe.Layer
	data      []float32
	transpose bool
	report    *Report
}

// ProgressFunc is called after each learnable layer is filled with the number of
// values consumed so far.
type ProgressFunc func(layer string, consumed, total int)

// Transcode fills the parameter blobs of net from a Darknet weights stream, visiting
// learnable layers in network order. Running out of weights stops the walk and is
// reported as a warning together with any size mismatch; the partially populated
// network remains usable. Errors are returned only when the network itself is invalid.
func Transcode(net *caffe.Net, w *darknet.Weights) (*Report, error) {
	return TranscodeFunc(net, w, nil)
}

// TranscodeFunc is Transcode with a progress callback.
func TranscodeFunc(net *caffe.Net, w *darknet.Weights, fn ProgressFunc) (*Report, error) {
	report := &Report{}
	if _, err := net.Reshape(); err != nil {
		return report, err
	}

	t := transcoder{
		layers:    net.Layers,
		data:      w.Data,
		transpose: w.Transpose,
		report:    report,
	}

	var st walkState
	for i, l := range net.Layers {
		var err error
		if st, err = t.visit(st, i, l); errors.Is(err, ErrWeightsExhausted) {
			report.warn(err)
			break
		} else if err != nil {
			return report, err
		}

		if fn != nil && l.Learnable() {
			fn(l.Name, st.cursor, len(w.Data))
		}
	}

	if st.cursor != len(w.Data) {
		report.warn(&SizeMismatchError{Consumed: st.cursor, Total: len(w.Data)})
	}

	slog.Debug("transcoded weights", "consumed", st.cursor, "total", len(w.Data), "transpose", w.Transpose)
	return report, nil
}

func (t *transcoder) visit(st walkState, i int, l *caffe.Layer) (walkState, error) {
	logutil.Trace("visit", "layer", l.Name, "type", l.Type, "cursor", st.cursor)

	switch l.Type {
	case caffe.TypeConvolution:
		return t.convolution(st, i, l)
	case caffe.TypeBatchNorm:
		if st.fused == nil {
			t.report.warn(fmt.Errorf("layer %s: %w", l.Name, ErrMissingFusedNorm))
			return st, nil
		}

		copy(l.Blobs[0].Data, st.fused.mean)
		copy(l.Blobs[1].Data, st.fused.variance)
		l.Blobs[2].Data[0] = 1
	case caffe.TypeScale:
		if st.fused == nil {
			t.report.warn(fmt.Errorf("layer %s: %w", l.Name, ErrMissingFusedNorm))
			return st, nil
		}

		copy(l.Blobs[0].Data, st.fused.scale)
		if len(l.Blobs) > 1 {
			copy(l.Blobs[1].Data, st.convBias)
		}
		st.fused, st.convBias = nil, nil
	case caffe.TypeInnerProduct:
		return t.innerProduct(st, l)
	default:
		if l.Learnable() {
			t.report.warn(&UnsupportedError{Section: -1, Kind: l.Type, Name: l.Name})
		}
	}

	return st, nil
}

// convolution reads biases, the normalization triple when a BatchNorm layer follows,
// then the filters. Biases go to the bias blob if there is one; otherwise they are held
// for the Scale layer.
func (t *transcoder) convolution(st walkState, i int, l *caffe.Layer) (walkState, error) {
	out := l.Convolution.NumOutput

	bias, st, err := t.take(st, l, out)
	if err != nil {
		return st, err
	}

	if len(l.Blobs) > 1 {
		copy(l.Blobs[1].Data, bias)
		st.convBias = nil
	} else {
		st.convBias = bias
	}

	if i+1 < len(t.layers) && t.layers[i+1].Type == caffe.TypeBatchNorm {
		norm, next, err := t.take(st, l, 3*out)
		if err != nil {
			return st, err
		}

		st = next
		st.fused = &fusedNorm{
			scale:    norm[:out],
			mean:     norm[out : 2*out],
			variance: norm[2*out:],
		}
	}

	weights, st, err := t.take(st, l, l.Blobs[0].Count())
	if err != nil {
		return st, err
	}

	copy(l.Blobs[0].Data, weights)
	return st, nil
}

// innerProduct reads biases then weights. Weights of legacy files are stored
// input-major and are transposed into Caffe's [out, in] layout.
func (t *transcoder) innerProduct(st walkState, l *caffe.Layer) (walkState, error) {
	out := l.InnerProduct.NumOutput
	if out <= 0 {
		return st, fmt.Errorf("layer %s: invalid num_output %d", l.Name, out)
	}
	in := l.Blobs[0].Count() / out

	bias, st, err := t.take(st, l, out)
	if err != nil {
		return st, err
	}

	if len(l.Blobs) > 1 {
		copy(l.Blobs[1].Data, bias)
	} else {
		slog.Debug("dropping biases of layer without bias term", "layer", l.Name)
	}

	weights, st, err := t.take(st, l, out*in)
	if err != nil {
		return st, err
	}

	if t.transpose {
		if weights, err = transpose(weights, in, out); err != nil {
			return st, fmt.Errorf("layer %s: %w", l.Name, err)
		}
	}

	copy(l.Blobs[0].Data, weights)
	return st, nil
}

// take returns the next n values of the stream. The returned slice aliases the stream.
func (t *transcoder) take(st walkState, l *caffe.Layer, n int) ([]float32, walkState, error) {
	if remaining := len(t.data) - st.cursor; n > remaining {
		return nil, st, fmt.Errorf("layer %s: %w: need %d values at offset %d, %d remain", l.Name, ErrWeightsExhausted, n, st.cursor, remaining)
	}

	v := t.data[st.cursor : st.cursor+n]
	st.cursor += n
	return v, st, nil
}

// transpose turns a row-major rows×cols matrix into its cols×rows transpose.
func transpose(data []float32, rows, cols int) ([]float32, error) {
	if rows == 1 || cols == 1 {
		return slices.Clone(data), nil
	}

	var tt tensor.Tensor = tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(slices.Clone(data)))
	tt, err := tensor.Transpose(tt, 1, 0)
	if err != nil {
		return nil, err
	}

	tt = tensor.Materialize(tt)
	if err := tt.Reshape(tt.Shape().TotalSize()); err != nil {
		return nil, err
	}

	return native.VectorF32(tt.(*tensor.Dense))
}
