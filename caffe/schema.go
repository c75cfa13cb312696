package caffe

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

type descriptors struct {
	net, layer protoreflect.MessageDescriptor
}

// schema holds descriptors for the part of caffe.proto used by Darknet networks. Field
// numbers match upstream Caffe so files interoperate with it.
var schema = func() descriptors {
	fd, err := protodesc.NewFile(caffeProto(), nil)
	if err != nil {
		panic(err)
	}

	msgs := fd.Messages()
	return descriptors{
		net:   msgs.ByName("NetParameter"),
		layer: msgs.ByName("LayerParameter"),
	}
}()

// Field numbers used when encoding blobs directly on the wire.
const (
	fieldNetName  = 1
	fieldNetLayer = 100

	fieldLayerBlobs = 7

	fieldBlobNum      = 1
	fieldBlobChannels = 2
	fieldBlobHeight   = 3
	fieldBlobWidth    = 4
	fieldBlobData     = 5
	fieldBlobShape    = 7

	fieldShapeDim = 1
)

type fieldOpt func(*descriptorpb.FieldDescriptorProto)

func withDefault(v string) fieldOpt {
	return func(f *descriptorpb.FieldDescriptorProto) { f.DefaultValue = proto.String(v) }
}

func packed() fieldOpt {
	return func(f *descriptorpb.FieldDescriptorProto) {
		f.Options = &descriptorpb.FieldOptions{Packed: proto.Bool(true)}
	}
}

func typeName(name string) fieldOpt {
	return func(f *descriptorpb.FieldDescriptorProto) { f.TypeName = proto.String(".caffe." + name) }
}

func field(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type, opts ...fieldOpt) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
		Type:   typ.Enum(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func optional(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, opts ...fieldOpt) *descriptorpb.FieldDescriptorProto {
	return field(name, number, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, typ, opts...)
}

func repeated(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, opts ...fieldOpt) *descriptorpb.FieldDescriptorProto {
	return field(name, number, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, typ, opts...)
}

func msgType(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func caffeProto() *descriptorpb.FileDescriptorProto {
	const (
		str     = descriptorpb.FieldDescriptorProto_TYPE_STRING
		msg     = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
		enum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
		boolean = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		f32     = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		i32     = descriptorpb.FieldDescriptorProto_TYPE_INT32
		i64     = descriptorpb.FieldDescriptorProto_TYPE_INT64
		u32     = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	)

	pooling := msgType("PoolingParameter",
		optional("pool", 1, enum, typeName("PoolingParameter.PoolMethod"), withDefault("MAX")),
		optional("pad", 4, u32, withDefault("0")),
		optional("kernel_size", 2, u32),
		optional("stride", 3, u32, withDefault("1")),
		optional("global_pooling", 12, boolean, withDefault("false")),
	)
	pooling.EnumType = []*descriptorpb.EnumDescriptorProto{{
		Name: proto.String("PoolMethod"),
		Value: []*descriptorpb.EnumValueDescriptorProto{
			{Name: proto.String("MAX"), Number: proto.Int32(int32(PoolMax))},
			{Name: proto.String("AVE"), Number: proto.Int32(int32(PoolAve))},
			{Name: proto.String("STOCHASTIC"), Number: proto.Int32(int32(PoolStochastic))},
		},
	}}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("caffe.proto"),
		Package: proto.String("caffe"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			msgType("BlobShape",
				repeated("dim", fieldShapeDim, i64, packed()),
			),
			msgType("BlobProto",
				optional("shape", fieldBlobShape, msg, typeName("BlobShape")),
				repeated("data", fieldBlobData, f32, packed()),
				optional("num", fieldBlobNum, i32, withDefault("0")),
				optional("channels", fieldBlobChannels, i32, withDefault("0")),
				optional("height", fieldBlobHeight, i32, withDefault("0")),
				optional("width", fieldBlobWidth, i32, withDefault("0")),
			),
			msgType("NetParameter",
				optional("name", fieldNetName, str),
				repeated("input", 3, str),
				repeated("input_shape", 8, msg, typeName("BlobShape")),
				repeated("input_dim", 4, i32),
				repeated("layer", fieldNetLayer, msg, typeName("LayerParameter")),
			),
			msgType("LayerParameter",
				optional("name", 1, str),
				optional("type", 2, str),
				repeated("bottom", 3, str),
				repeated("top", 4, str),
				repeated("blobs", fieldLayerBlobs, msg, typeName("BlobProto")),
				optional("batch_norm_param", 139, msg, typeName("BatchNormParameter")),
				optional("convolution_param", 106, msg, typeName("ConvolutionParameter")),
				optional("dropout_param", 108, msg, typeName("DropoutParameter")),
				optional("inner_product_param", 117, msg, typeName("InnerProductParameter")),
				optional("input_param", 143, msg, typeName("InputParameter")),
				optional("pooling_param", 121, msg, typeName("PoolingParameter")),
				optional("relu_param", 123, msg, typeName("ReLUParameter")),
				optional("scale_param", 142, msg, typeName("ScaleParameter")),
			),
			msgType("ConvolutionParameter",
				optional("num_output", 1, u32),
				optional("bias_term", 2, boolean, withDefault("true")),
				repeated("pad", 3, u32),
				repeated("kernel_size", 4, u32),
				optional("group", 5, u32, withDefault("1")),
				repeated("stride", 6, u32),
			),
			pooling,
			msgType("InnerProductParameter",
				optional("num_output", 1, u32),
				optional("bias_term", 2, boolean, withDefault("true")),
				optional("axis", 5, i32, withDefault("1")),
				optional("transpose", 6, boolean, withDefault("false")),
			),
			msgType("BatchNormParameter",
				optional("use_global_stats", 1, boolean),
				optional("moving_average_fraction", 2, f32, withDefault("0.999")),
				optional("eps", 3, f32, withDefault("1e-05")),
			),
			msgType("ScaleParameter",
				optional("axis", 1, i32, withDefault("1")),
				optional("num_axes", 2, i32, withDefault("1")),
				optional("bias_term", 4, boolean, withDefault("false")),
			),
			msgType("ReLUParameter",
				optional("negative_slope", 1, f32, withDefault("0")),
			),
			msgType("DropoutParameter",
				optional("dropout_ratio", 1, f32, withDefault("0.5")),
			),
			msgType("InputParameter",
				repeated("shape", 1, msg, typeName("BlobShape")),
			),
		},
	}
}
