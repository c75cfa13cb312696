package caffe

import (
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// message wraps a dynamic message with name based accessors.
type message struct {
	protoreflect.Message
}

func (m message) fd(name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic("caffe: no field " + name + " in " + string(m.Descriptor().FullName()))
	}
	return fd
}

func (m message) set(name string, v protoreflect.Value) {
	m.Set(m.fd(name), v)
}

func (m message) add(name string, v protoreflect.Value) {
	m.Mutable(m.fd(name)).List().Append(v)
}

func (m message) get(name string) protoreflect.Value {
	return m.Get(m.fd(name))
}

func (m message) has(name string) bool {
	return m.Has(m.fd(name))
}

// sub returns a mutable singular message field.
func (m message) sub(name string) message {
	return message{m.Mutable(m.fd(name)).Message()}
}

// addMessage appends a new element to a repeated message field and returns it.
func (m message) addMessage(name string) message {
	l := m.Mutable(m.fd(name)).List()
	v := l.NewElement()
	l.Append(v)
	return message{v.Message()}
}

// child returns a singular message field, which reports defaults when unset.
func (m message) child(name string) message {
	return message{m.get(name).Message()}
}

func (m message) messages(name string) []message {
	l := m.get(name).List()
	ms := make([]message, l.Len())
	for i := range ms {
		ms[i] = message{l.Get(i).Message()}
	}
	return ms
}

func (m message) strings(name string) []string {
	l := m.get(name).List()
	if l.Len() == 0 {
		return nil
	}

	ss := make([]string, l.Len())
	for i := range ss {
		ss[i] = l.Get(i).String()
	}
	return ss
}

func (m message) ints(name string) []int {
	fd := m.fd(name)
	l := m.Get(fd).List()
	if l.Len() == 0 {
		return nil
	}

	is := make([]int, l.Len())
	for i := range is {
		switch fd.Kind() {
		case protoreflect.Uint32Kind, protoreflect.Uint64Kind:
			is[i] = int(l.Get(i).Uint())
		default:
			is[i] = int(l.Get(i).Int())
		}
	}
	return is
}

// uint returns an optional unsigned field, or nil when unset.
func (m message) uint(name string) *int {
	if !m.has(name) {
		return nil
	}
	return Ptr(int(m.get(name).Uint()))
}

// first returns the first element of a repeated integer field, or nil when empty.
func (m message) first(name string) *int {
	if is := m.ints(name); len(is) > 0 {
		return Ptr(is[0])
	}
	return nil
}

func layerToProto(l *Layer) *dynamicpb.Message {
	dm := dynamicpb.NewMessage(schema.layer)
	m := message{dm}

	m.set("name", protoreflect.ValueOfString(l.Name))
	m.set("type", protoreflect.ValueOfString(l.Type))
	for _, b := range l.Bottom {
		m.add("bottom", protoreflect.ValueOfString(b))
	}
	for _, t := range l.Top {
		m.add("top", protoreflect.ValueOfString(t))
	}

	optUint := func(m message, name string, v *int) {
		if v != nil {
			m.set(name, protoreflect.ValueOfUint32(uint32(*v)))
		}
	}
	addUint := func(m message, name string, v *int) {
		if v != nil {
			m.add(name, protoreflect.ValueOfUint32(uint32(*v)))
		}
	}

	if p := l.Input; p != nil {
		shape := m.sub("input_param").addMessage("shape")
		for _, d := range p.Shape {
			shape.add("dim", protoreflect.ValueOfInt64(int64(d)))
		}
	}

	if p := l.Convolution; p != nil {
		c := m.sub("convolution_param")
		c.set("num_output", protoreflect.ValueOfUint32(uint32(p.NumOutput)))
		c.set("bias_term", protoreflect.ValueOfBool(p.BiasTerm))
		addUint(c, "kernel_size", p.KernelSize)
		addUint(c, "stride", p.Stride)
		addUint(c, "pad", p.Pad)
	}

	if p := l.Pooling; p != nil {
		c := m.sub("pooling_param")
		c.set("pool", protoreflect.ValueOfEnum(protoreflect.EnumNumber(p.Pool)))
		optUint(c, "kernel_size", p.KernelSize)
		optUint(c, "stride", p.Stride)
		optUint(c, "pad", p.Pad)
		if p.GlobalPooling != nil {
			c.set("global_pooling", protoreflect.ValueOfBool(*p.GlobalPooling))
		}
	}

	if p := l.InnerProduct; p != nil {
		c := m.sub("inner_product_param")
		c.set("num_output", protoreflect.ValueOfUint32(uint32(p.NumOutput)))
		c.set("bias_term", protoreflect.ValueOfBool(p.BiasTerm))
	}

	if p := l.BatchNorm; p != nil {
		c := m.sub("batch_norm_param")
		if p.UseGlobalStats != nil {
			c.set("use_global_stats", protoreflect.ValueOfBool(*p.UseGlobalStats))
		}
	}

	if p := l.Scale; p != nil {
		m.sub("scale_param").set("bias_term", protoreflect.ValueOfBool(p.BiasTerm))
	}

	if p := l.ReLU; p != nil {
		c := m.sub("relu_param")
		if p.NegativeSlope != nil {
			c.set("negative_slope", protoreflect.ValueOfFloat32(*p.NegativeSlope))
		}
	}

	if p := l.Dropout; p != nil {
		m.sub("dropout_param").set("dropout_ratio", protoreflect.ValueOfFloat32(p.Ratio))
	}

	return dm
}

// layerFromProto builds a layer without blobs. Parameters are filled by type, using
// Caffe's defaults when the parameter message is absent.
func layerFromProto(pm protoreflect.Message) *Layer {
	m := message{pm}
	l := &Layer{
		Name:   m.get("name").String(),
		Type:   m.get("type").String(),
		Bottom: m.strings("bottom"),
		Top:    m.strings("top"),
	}

	switch l.Type {
	case TypeInput:
		l.Input = &InputParam{}
		if shapes := m.child("input_param").messages("shape"); len(shapes) > 0 {
			l.Input.Shape = shapes[0].ints("dim")
		}
	case TypeConvolution:
		c := m.child("convolution_param")
		l.Convolution = &ConvolutionParam{
			NumOutput:  int(c.get("num_output").Uint()),
			KernelSize: c.first("kernel_size"),
			Stride:     c.first("stride"),
			Pad:        c.first("pad"),
			BiasTerm:   c.get("bias_term").Bool(),
		}
	case TypePooling:
		c := m.child("pooling_param")
		l.Pooling = &PoolingParam{
			Pool:       PoolMethod(c.get("pool").Enum()),
			KernelSize: c.uint("kernel_size"),
			Stride:     c.uint("stride"),
			Pad:        c.uint("pad"),
		}
		if c.has("global_pooling") {
			l.Pooling.GlobalPooling = Ptr(c.get("global_pooling").Bool())
		}
	case TypeInnerProduct:
		c := m.child("inner_product_param")
		l.InnerProduct = &InnerProductParam{
			NumOutput: int(c.get("num_output").Uint()),
			BiasTerm:  c.get("bias_term").Bool(),
		}
	case TypeBatchNorm:
		c := m.child("batch_norm_param")
		l.BatchNorm = &BatchNormParam{}
		if c.has("use_global_stats") {
			l.BatchNorm.UseGlobalStats = Ptr(c.get("use_global_stats").Bool())
		}
	case TypeScale:
		l.Scale = &ScaleParam{BiasTerm: m.child("scale_param").get("bias_term").Bool()}
	case TypeReLU:
		c := m.child("relu_param")
		l.ReLU = &ReLUParam{}
		if c.has("negative_slope") {
			l.ReLU.NegativeSlope = Ptr(float32(c.get("negative_slope").Float()))
		}
	case TypeDropout:
		l.Dropout = &DropoutParam{Ratio: float32(m.child("dropout_param").get("dropout_ratio").Float())}
	}

	return l
}

// netFromProto converts a NetParameter. Net-level inputs, the legacy way of declaring
// inputs, become Input layers ahead of the declared layers.
func netFromProto(pm protoreflect.Message) (*Net, error) {
	m := message{pm}
	n := &Net{Name: m.get("name").String()}

	shapes := m.messages("input_shape")
	dims := m.ints("input_dim")
	for i, name := range m.strings("input") {
		in := &InputParam{}
		switch {
		case i < len(shapes):
			in.Shape = shapes[i].ints("dim")
		case len(dims) >= 4*(i+1):
			in.Shape = dims[4*i : 4*(i+1)]
		}

		n.Layers = append(n.Layers, &Layer{
			Name:  name,
			Type:  TypeInput,
			Top:   []string{name},
			Input: in,
		})
	}

	for _, lm := range m.messages("layer") {
		n.Layers = append(n.Layers, layerFromProto(lm.Message))
	}

	return n, nil
}
