package convert

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdemo/rapidus/caffe"
	"github.com/mvdemo/rapidus/darknet"
)

func parseConfig(t *testing.T, s string) *darknet.Config {
	t.Helper()

	cfg, err := darknet.ParseConfig(strings.NewReader(s))
	require.NoError(t, err)
	cfg.Name = "test"
	return cfg
}

func generate(t *testing.T, s string) (*caffe.Net, *Report) {
	t.Helper()

	net, report, err := Generate(parseConfig(t, s), GenerateOptions{})
	require.NoError(t, err)
	return net, report
}

type layerSummary struct {
	Name, Type string
	Bottom     []string
	Top        []string
}

func summarize(net *caffe.Net) []layerSummary {
	var s []layerSummary
	for _, l := range net.Layers {
		s = append(s, layerSummary{l.Name, l.Type, l.Bottom, l.Top})
	}
	return s
}

const netSection = "[net]\nwidth=208\nheight=208\nchannels=3\n\n"

func TestGenerateSingleLeakyConvolution(t *testing.T) {
	net, report := generate(t, netSection+`[convolutional]
filters=8
size=3
stride=1
pad=1
activation=leaky
`)

	want := &caffe.Net{
		Name: "test",
		Layers: []*caffe.Layer{
			{
				Name:  "data",
				Type:  caffe.TypeInput,
				Top:   []string{"data"},
				Input: &caffe.InputParam{Shape: []int{1, 3, 208, 208}},
			},
			{
				Name:   "conv1",
				Type:   caffe.TypeConvolution,
				Bottom: []string{"data"},
				Top:    []string{"conv1"},
				Convolution: &caffe.ConvolutionParam{
					NumOutput:  8,
					KernelSize: caffe.Ptr(3),
					Stride:     caffe.Ptr(1),
					Pad:        caffe.Ptr(0),
					BiasTerm:   true,
				},
			},
			{
				Name:   "relu1",
				Type:   caffe.TypeReLU,
				Bottom: []string{"conv1"},
				Top:    []string{"conv1"},
				ReLU:   &caffe.ReLUParam{NegativeSlope: caffe.Ptr[float32](0.1)},
			},
		},
	}

	if diff := cmp.Diff(want, net); diff != "" {
		t.Errorf("network mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, OutcomeSuccess, report.Outcome())
}

func TestGeneratePlainConvolution(t *testing.T) {
	net, _ := generate(t, netSection+"[convolutional]\nfilters=4\nsize=1\nactivation=linear\n")

	var convs int
	for _, l := range net.Layers {
		switch l.Type {
		case caffe.TypeConvolution:
			convs++
			assert.True(t, l.Convolution.BiasTerm)
		case caffe.TypeBatchNorm, caffe.TypeScale, caffe.TypeReLU:
			t.Errorf("unexpected %s layer %s", l.Type, l.Name)
		}
	}
	assert.Equal(t, 1, convs)
}

func TestGenerateFusedBatchNorm(t *testing.T) {
	net, _ := generate(t, netSection+`[convolutional]
batch_normalize=1
filters=16
size=3
stride=1
pad=1
activation=relu
`)

	want := []layerSummary{
		{"data", caffe.TypeInput, nil, []string{"data"}},
		{"conv1", caffe.TypeConvolution, []string{"data"}, []string{"conv1"}},
		{"bn1", caffe.TypeBatchNorm, []string{"conv1"}, []string{"bn1"}},
		{"scale1", caffe.TypeScale, []string{"bn1"}, []string{"scale1"}},
		{"relu1", caffe.TypeReLU, []string{"scale1"}, []string{"scale1"}},
	}
	if diff := cmp.Diff(want, summarize(net)); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}

	assert.False(t, net.Layers[1].Convolution.BiasTerm)
	assert.True(t, *net.Layers[2].BatchNorm.UseGlobalStats)
	assert.True(t, net.Layers[3].Scale.BiasTerm)
	assert.Nil(t, net.Layers[4].ReLU.NegativeSlope)
}

func TestGenerateBatchNormalizeZero(t *testing.T) {
	net, _ := generate(t, netSection+"[convolutional]\nbatch_normalize=0\nfilters=4\nsize=3\n")
	require.Len(t, net.Layers, 2)
	assert.True(t, net.Layers[1].Convolution.BiasTerm)
}

func TestGenerateTinyYolo(t *testing.T) {
	net, report := generate(t, netSection+`[convolutional]
batch_normalize=1
filters=16
size=3
stride=1
pad=1
activation=leaky

[maxpool]
size=2
stride=2

[convolutional]
batch_normalize=1
filters=32
size=3
stride=1
pad=1
activation=leaky

[maxpool]
size=2
stride=1

[convolutional]
size=1
stride=1
pad=1
filters=125
activation=linear

[region]
anchors = 1.08,1.19,  3.42,4.41
classes=20
`)

	want := []layerSummary{
		{"data", caffe.TypeInput, nil, []string{"data"}},
		{"conv1", caffe.TypeConvolution, []string{"data"}, []string{"conv1"}},
		{"bn1", caffe.TypeBatchNorm, []string{"conv1"}, []string{"bn1"}},
		{"scale1", caffe.TypeScale, []string{"bn1"}, []string{"scale1"}},
		{"relu1", caffe.TypeReLU, []string{"scale1"}, []string{"scale1"}},
		{"pool1", caffe.TypePooling, []string{"scale1"}, []string{"pool1"}},
		{"conv2", caffe.TypeConvolution, []string{"pool1"}, []string{"conv2"}},
		{"bn2", caffe.TypeBatchNorm, []string{"conv2"}, []string{"bn2"}},
		{"scale2", caffe.TypeScale, []string{"bn2"}, []string{"scale2"}},
		{"relu2", caffe.TypeReLU, []string{"scale2"}, []string{"scale2"}},
		{"pool2", caffe.TypePooling, []string{"scale2"}, []string{"pool2"}},
		{"conv3", caffe.TypeConvolution, []string{"pool2"}, []string{"conv3"}},
	}
	if diff := cmp.Diff(want, summarize(net)); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, *net.Layer("conv1").Convolution.Pad)
	assert.Equal(t, 1, *net.Layer("conv2").Convolution.Pad)
	assert.Equal(t, 0, *net.Layer("conv3").Convolution.Pad)
	assert.Equal(t, caffe.PoolMax, net.Layer("pool1").Pooling.Pool)
	assert.Equal(t, 2, *net.Layer("pool1").Pooling.KernelSize)

	assert.Equal(t, OutcomePartial, report.Outcome())
	require.Len(t, report.Warnings, 1)

	var unsupported *UnsupportedError
	require.ErrorAs(t, report.Warnings[0], &unsupported)
	assert.Equal(t, "region", unsupported.Kind)
	assert.Equal(t, 6, unsupported.Section)

	shapes, err := net.Shapes()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 125, 103, 103}, shapes["conv3"])
}

func TestGenerateClassifier(t *testing.T) {
	net, report := generate(t, netSection+`[convolutional]
filters=8
size=3
stride=2
activation=relu

[crop]
crop_width=200

[avgpool]

[connected]
output=10
activation=leaky

[dropout]
probability=.5

[softmax]
groups=1

[cost]
type=sse
`)

	want := []layerSummary{
		{"data", caffe.TypeInput, nil, []string{"data"}},
		{"conv1", caffe.TypeConvolution, []string{"data"}, []string{"conv1"}},
		{"relu1", caffe.TypeReLU, []string{"conv1"}, []string{"conv1"}},
		{"pool1", caffe.TypePooling, []string{"conv1"}, []string{"pool1"}},
		{"fc2", caffe.TypeInnerProduct, []string{"pool1"}, []string{"fc2"}},
		{"relu2", caffe.TypeReLU, []string{"fc2"}, []string{"fc2"}},
		{"drop2", caffe.TypeDropout, []string{"fc2"}, []string{"fc2"}},
		{"prob", caffe.TypeSoftmax, []string{"fc2"}, []string{"prob"}},
	}
	if diff := cmp.Diff(want, summarize(net)); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, OutcomeSuccess, report.Outcome())
	assert.True(t, *net.Layer("pool1").Pooling.GlobalPooling)
	assert.Equal(t, caffe.PoolAve, net.Layer("pool1").Pooling.Pool)
	assert.InDelta(t, 0.5, net.Layer("drop2").Dropout.Ratio, 1e-6)
	assert.Equal(t, 10, net.Layer("fc2").InnerProduct.NumOutput)
	assert.Equal(t, 0, *net.Layer("conv1").Convolution.Pad)
}

func TestGenerateUniqueNames(t *testing.T) {
	net, _ := generate(t, netSection+`[convolutional]
filters=4
size=3

[maxpool]
size=2

[maxpool]
size=2

[maxpool]
size=2
`)

	var names []string
	for _, l := range net.Layers {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"data", "conv1", "pool1", "pool1_1", "pool1_2"}, names)
	assert.Equal(t, []string{"pool1_1"}, net.Layers[4].Bottom)
}

func TestGenerateOutputBlob(t *testing.T) {
	net, _, err := Generate(parseConfig(t, netSection+"[convolutional]\nfilters=4\nsize=3\nactivation=leaky\n"), GenerateOptions{OutputBlob: "result"})
	require.NoError(t, err)

	last := net.Layers[len(net.Layers)-1]
	assert.Equal(t, []string{"conv1"}, last.Bottom)
	assert.Equal(t, []string{"result"}, last.Top)

	shapes, err := net.Shapes()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 206, 206}, shapes["result"])
}

func TestGenerateUnsupportedBeforeNet(t *testing.T) {
	net, report := generate(t, "[region]\nclasses=1\n\n"+netSection+"[convolutional]\nfilters=4\nsize=1\n")

	require.Len(t, report.Warnings, 1)
	var uerr *UnsupportedError
	require.ErrorAs(t, report.Warnings[0], &uerr)
	assert.Equal(t, 0, uerr.Section)
	assert.Equal(t, "region", uerr.Kind)

	require.Len(t, net.Layers, 2)
	assert.Equal(t, "data", net.Layers[0].Name)
	assert.Equal(t, "conv1", net.Layers[1].Name)
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name    string
		cfg     string
		err     error
		section int
		key     string
	}{
		{
			name:    "unsupported activation",
			cfg:     netSection + "[convolutional]\nfilters=4\nsize=3\nactivation=mish\n",
			err:     darknet.ErrUnsupportedActivation,
			section: 1,
			key:     "activation",
		},
		{
			name:    "missing filters",
			cfg:     netSection + "[convolutional]\nsize=3\n",
			err:     darknet.ErrMissingKey,
			section: 1,
			key:     "filters",
		},
		{
			name:    "missing output",
			cfg:     netSection + "[connected]\nactivation=linear\n",
			err:     darknet.ErrMissingKey,
			section: 1,
			key:     "output",
		},
		{
			name:    "missing width",
			cfg:     "[net]\nheight=1\nchannels=1\n",
			err:     darknet.ErrMissingKey,
			section: 0,
			key:     "width",
		},
		{
			name:    "net not first",
			cfg:     "[convolutional]\nfilters=4\nsize=3\n\n" + netSection,
			err:     darknet.ErrMalformed,
			section: 0,
		},
		{
			name:    "duplicate net",
			cfg:     netSection + netSection,
			err:     darknet.ErrMalformed,
			section: 1,
		},
		{
			name:    "no net",
			cfg:     "[crop]\ncrop_width=1\n",
			err:     darknet.ErrMalformed,
			section: -1,
		},
		{
			name:    "layers without net",
			cfg:     "[convolutional]\nfilters=4\nsize=3\n",
			err:     darknet.ErrMalformed,
			section: -1,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseConfig(t, tt.cfg)
			cfg.File = "test.cfg"

			_, _, err := Generate(cfg, GenerateOptions{})
			require.ErrorIs(t, err, tt.err)

			var cerr *darknet.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.section, cerr.Section)
			assert.Equal(t, tt.key, cerr.Key)
			assert.Equal(t, "test.cfg", cerr.File)
		})
	}
}

func TestGeneratePrototxtRoundTrip(t *testing.T) {
	net, _ := generate(t, netSection+`[convolutional]
batch_normalize=1
filters=16
size=3
stride=1
pad=1
activation=leaky

[maxpool]
size=2
stride=2

[connected]
output=10

[softmax]
`)

	parsed, err := caffe.ParsePrototxt(strings.NewReader(net.String()))
	require.NoError(t, err)

	if diff := cmp.Diff(net, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLastConvolutionPadding(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	properties.Property("only the last convolution loses its padding", prop.ForAll(
		func(pads []int) bool {
			var sb strings.Builder
			sb.WriteString(netSection)
			for _, pad := range pads {
				fmt.Fprintf(&sb, "[convolutional]\nfilters=2\nsize=1\npad=%d\n\n", pad)
			}

			cfg, err := darknet.ParseConfig(strings.NewReader(sb.String()))
			if err != nil {
				return false
			}

			net, _, err := Generate(cfg, GenerateOptions{})
			if err != nil {
				return false
			}

			var got []int
			for _, l := range net.Layers {
				if l.Convolution != nil {
					got = append(got, *l.Convolution.Pad)
				}
			}

			want := append([]int(nil), pads...)
			want[len(want)-1] = 0
			return cmp.Equal(want, got)
		},
		gen.SliceOf(gen.IntRange(0, 3)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

func TestUnsupportedErrorMessage(t *testing.T) {
	err := error(&UnsupportedError{Section: 3, Kind: "route"})
	assert.Equal(t, `section 3: unsupported layer kind "route"`, err.Error())

	var unsupported *UnsupportedError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &unsupported))
}
