package convert

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mvdemo/rapidus/caffe"
	"github.com/mvdemo/rapidus/darknet"
)

const leakySlope float32 = 0.1

type GenerateOptions struct {
	// OutputBlob renames the top blob of the final layer when set
	OutputBlob string
}

// genState is threaded through section visits. n is the layer counter shared by
// convolutional and connected sections; top is the blob the next layer reads.
type genState struct {
	n     int
	top   string
	input bool
}

type generator struct {
	net    *caffe.Net
	report *Report
	used   map[string]int
}

// Generate translates a Darknet config into a Caffe network, one section at a time and
// in file order. Sections that cannot be translated are reported as warnings; a config
// that cannot describe a valid network is an error.
func Generate(cfg *darknet.Config, opts GenerateOptions) (*caffe.Net, *Report, error) {
	g := generator{
		net:    &caffe.Net{Name: cfg.Name},
		report: &Report{},
		used:   make(map[string]int),
	}

	if cfg.Count(darknet.KindNet) == 0 {
		return nil, g.report, &darknet.ConfigError{
			File:    cfg.File,
			Section: -1,
			Kind:    darknet.KindNet,
			Err:     fmt.Errorf("%w: no [net] section", darknet.ErrMalformed),
		}
	}

	var st genState
	for _, s := range cfg.Sections {
		var err error
		if st, err = g.visit(st, s); err != nil {
			var cerr *darknet.ConfigError
			if errors.As(err, &cerr) && cerr.File == "" {
				cerr.File = cfg.File
			}
			return nil, g.report, err
		}
	}

	layers := g.net.Layers
	for i := len(layers) - 1; i >= 0; i-- {
		if p := layers[i].Convolution; p != nil {
			p.Pad = caffe.Ptr(0)
			break
		}
	}

	if opts.OutputBlob != "" {
		last := layers[len(layers)-1]
		slog.Debug("renaming output blob", "layer", last.Name, "from", last.Top[0], "to", opts.OutputBlob)
		last.Top[0] = opts.OutputBlob
	}

	slog.Debug("generated network", "name", g.net.Name, "layers", len(layers))
	return g.net, g.report, nil
}

func (g *generator) visit(st genState, s *darknet.Section) (genState, error) {
	switch s.Kind {
	case darknet.KindNet:
		if st.input {
			return st, misplaced(s, "duplicate [net] section")
		}

		n, err := s.Net()
		if err != nil {
			return st, err
		}

		st.top = g.add(&caffe.Layer{
			Name:  "data",
			Type:  caffe.TypeInput,
			Input: &caffe.InputParam{Shape: []int{1, n.Channels, n.Height, n.Width}},
		}, st)
		st.input = true
		return st, nil
	case darknet.KindCrop, darknet.KindCost:
		slog.Debug("skipping section", "index", s.Index, "kind", s.Kind)
		return st, nil
	case darknet.KindConvolutional, darknet.KindConnected, darknet.KindMaxPool,
		darknet.KindAvgPool, darknet.KindDropout, darknet.KindSoftmax:
	default:
		g.report.warn(&UnsupportedError{Section: s.Index, Kind: s.Kind})
		return st, nil
	}

	if !st.input {
		return st, misplaced(s, "[net] must be the first section")
	}

	switch s.Kind {
	case darknet.KindConvolutional:
		c, err := s.Convolutional()
		if err != nil {
			return st, err
		}

		st.n++
		st.top = g.add(&caffe.Layer{
			Name: fmt.Sprintf("conv%d", st.n),
			Type: caffe.TypeConvolution,
			Convolution: &caffe.ConvolutionParam{
				NumOutput:  c.Filters,
				KernelSize: c.Size,
				Stride:     c.Stride,
				Pad:        c.Pad,
				BiasTerm:   !c.BatchNormalized(),
			},
		}, st)

		if c.BatchNormalized() {
			st.top = g.add(&caffe.Layer{
				Name:      fmt.Sprintf("bn%d", st.n),
				Type:      caffe.TypeBatchNorm,
				BatchNorm: &caffe.BatchNormParam{UseGlobalStats: caffe.Ptr(true)},
			}, st)
			st.top = g.add(&caffe.Layer{
				Name:  fmt.Sprintf("scale%d", st.n),
				Type:  caffe.TypeScale,
				Scale: &caffe.ScaleParam{BiasTerm: true},
			}, st)
		}

		if c.Activated() {
			g.activation(st, c.Activation)
		}
	case darknet.KindConnected:
		c, err := s.Connected()
		if err != nil {
			return st, err
		}

		st.n++
		st.top = g.add(&caffe.Layer{
			Name:         fmt.Sprintf("fc%d", st.n),
			Type:         caffe.TypeInnerProduct,
			InnerProduct: &caffe.InnerProductParam{NumOutput: c.Output, BiasTerm: true},
		}, st)

		if c.Activated() {
			g.activation(st, c.Activation)
		}
	case darknet.KindMaxPool:
		p, err := s.Pool()
		if err != nil {
			return st, err
		}

		st.top = g.add(&caffe.Layer{
			Name: fmt.Sprintf("pool%d", st.n),
			Type: caffe.TypePooling,
			Pooling: &caffe.PoolingParam{
				Pool:       caffe.PoolMax,
				KernelSize: p.Size,
				Stride:     p.Stride,
				Pad:        p.Pad,
			},
		}, st)
	case darknet.KindAvgPool:
		st.top = g.add(&caffe.Layer{
			Name:    fmt.Sprintf("pool%d", st.n),
			Type:    caffe.TypePooling,
			Pooling: &caffe.PoolingParam{Pool: caffe.PoolAve, GlobalPooling: caffe.Ptr(true)},
		}, st)
	case darknet.KindDropout:
		d, err := s.Dropout()
		if err != nil {
			return st, err
		}

		g.inPlace(&caffe.Layer{
			Name:    fmt.Sprintf("drop%d", st.n),
			Type:    caffe.TypeDropout,
			Dropout: &caffe.DropoutParam{Ratio: float32(d.Probability)},
		}, st)
	case darknet.KindSoftmax:
		st.top = g.add(&caffe.Layer{Name: "prob", Type: caffe.TypeSoftmax}, st)
	}

	return st, nil
}

func (g *generator) activation(st genState, activation string) {
	l := &caffe.Layer{
		Name: fmt.Sprintf("relu%d", st.n),
		Type: caffe.TypeReLU,
		ReLU: &caffe.ReLUParam{},
	}
	if activation == darknet.ActivationLeaky {
		l.ReLU.NegativeSlope = caffe.Ptr(leakySlope)
	}
	g.inPlace(l, st)
}

// add appends a layer that reads the current top and writes a blob named after itself.
// It returns the new top.
func (g *generator) add(l *caffe.Layer, st genState) string {
	l.Name = g.unique(l.Name)
	if st.top != "" {
		l.Bottom = []string{st.top}
	}
	l.Top = []string{l.Name}
	g.net.Layers = append(g.net.Layers, l)
	return l.Name
}

// inPlace appends a layer that overwrites the current top.
func (g *generator) inPlace(l *caffe.Layer, st genState) {
	l.Name = g.unique(l.Name)
	l.Bottom = []string{st.top}
	l.Top = []string{st.top}
	g.net.Layers = append(g.net.Layers, l)
}

// unique suffixes name with _<k> when an earlier layer already uses it.
func (g *generator) unique(name string) string {
	k, ok := g.used[name]
	if !ok {
		g.used[name] = 1
		return name
	}

	for ; ; k++ {
		candidate := fmt.Sprintf("%s_%d", name, k)
		if _, ok := g.used[candidate]; !ok {
			g.used[name] = k + 1
			g.used[candidate] = 1
			return candidate
		}
	}
}

func misplaced(s *darknet.Section, msg string) error {
	return &darknet.ConfigError{Section: s.Index, Kind: s.Kind, Err: fmt.Errorf("%w: %s", darknet.ErrMalformed, msg)}
}
