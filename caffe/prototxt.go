package caffe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/dynamicpb"
)

// WriteTo renders the network as a prototxt: the net name followed by one layer block per
// layer in order.
func (n *Net) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	t := textWriter{b: &b}
	t.str("name", n.Name)
	for _, l := range n.Layers {
		t.layer(l)
	}
	return b.WriteTo(w)
}

// String returns the prototxt text.
func (n *Net) String() string {
	var sb strings.Builder
	n.WriteTo(&sb)
	return sb.String()
}

// textEscaper escapes string values. Other bytes, including UTF-8, are written as is.
var textEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

type textWriter struct {
	b     *bytes.Buffer
	depth int
}

func (t *textWriter) line(s string) {
	t.b.WriteString(strings.Repeat("  ", t.depth))
	t.b.WriteString(s)
	t.b.WriteByte('\n')
}

func (t *textWriter) open(name string) {
	t.line(name + " {")
	t.depth++
}

func (t *textWriter) close() {
	t.depth--
	t.line("}")
}

func (t *textWriter) field(key string, v any) {
	t.line(fmt.Sprintf("%s: %v", key, v))
}

func (t *textWriter) str(key, v string) {
	t.field(key, `"`+textEscaper.Replace(v)+`"`)
}

func (t *textWriter) float(key string, f float32) {
	t.field(key, strconv.FormatFloat(float64(f), 'g', -1, 32))
}

func (t *textWriter) optional(key string, v *int) {
	if v != nil {
		t.field(key, *v)
	}
}

func (t *textWriter) layer(l *Layer) {
	t.open("layer")
	defer t.close()

	t.str("name", l.Name)
	t.str("type", l.Type)
	for _, b := range l.Bottom {
		t.str("bottom", b)
	}
	for _, top := range l.Top {
		t.str("top", top)
	}

	switch {
	case l.Input != nil:
		t.open("input_param")
		t.open("shape")
		for _, d := range l.Input.Shape {
			t.field("dim", d)
		}
		t.close()
		t.close()
	case l.Convolution != nil:
		p := l.Convolution
		t.open("convolution_param")
		t.field("num_output", p.NumOutput)
		t.optional("kernel_size", p.KernelSize)
		t.optional("stride", p.Stride)
		t.optional("pad", p.Pad)
		if !p.BiasTerm {
			t.field("bias_term", false)
		}
		t.close()
	case l.Pooling != nil:
		p := l.Pooling
		t.open("pooling_param")
		t.field("pool", p.Pool)
		t.optional("kernel_size", p.KernelSize)
		t.optional("stride", p.Stride)
		t.optional("pad", p.Pad)
		if p.GlobalPooling != nil {
			t.field("global_pooling", *p.GlobalPooling)
		}
		t.close()
	case l.InnerProduct != nil:
		t.open("inner_product_param")
		t.field("num_output", l.InnerProduct.NumOutput)
		if !l.InnerProduct.BiasTerm {
			t.field("bias_term", false)
		}
		t.close()
	case l.BatchNorm != nil:
		t.open("batch_norm_param")
		if l.BatchNorm.UseGlobalStats != nil {
			t.field("use_global_stats", *l.BatchNorm.UseGlobalStats)
		}
		t.close()
	case l.Scale != nil:
		t.open("scale_param")
		t.field("bias_term", l.Scale.BiasTerm)
		t.close()
	case l.ReLU != nil:
		if l.ReLU.NegativeSlope != nil {
			t.open("relu_param")
			t.float("negative_slope", *l.ReLU.NegativeSlope)
			t.close()
		}
	case l.Dropout != nil:
		t.open("dropout_param")
		t.float("dropout_ratio", l.Dropout.Ratio)
		t.close()
	}
}

// ParsePrototxt parses a network definition in protobuf text format. Fields outside the
// supported schema are ignored. Legacy net-level inputs (input, input_shape, input_dim)
// become a leading Input layer.
func ParsePrototxt(r io.Reader) (*Net, error) {
	bts, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m := dynamicpb.NewMessage(schema.net)
	if err := (prototext.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(bts, m); err != nil {
		return nil, fmt.Errorf("parse prototxt: %w", err)
	}

	return netFromProto(m)
}

func ReadPrototxt(path string) (*Net, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n, err := ParsePrototxt(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
