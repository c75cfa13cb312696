package caffe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

var ErrMalformedModel = errors.New("malformed caffemodel")

// WriteModel encodes n as a binary NetParameter. Layer parameters go through the protobuf
// runtime; blobs are appended directly on the wire as packed floats.
func WriteModel(w io.Writer, n *Net) error {
	b := protowire.AppendTag(nil, fieldNetName, protowire.BytesType)
	b = protowire.AppendString(b, n.Name)

	opts := proto.MarshalOptions{Deterministic: true}
	for _, l := range n.Layers {
		lb, err := opts.Marshal(layerToProto(l))
		if err != nil {
			return fmt.Errorf("layer %s: %w", l.Name, err)
		}

		for _, blob := range l.Blobs {
			if blob.Count() != len(blob.Data) {
				return fmt.Errorf("layer %s: blob shape %v does not match %d values", l.Name, blob.Shape, len(blob.Data))
			}
			lb = protowire.AppendTag(lb, fieldLayerBlobs, protowire.BytesType)
			lb = protowire.AppendBytes(lb, appendBlob(nil, blob))
		}

		b = protowire.AppendTag(b, fieldNetLayer, protowire.BytesType)
		b = protowire.AppendBytes(b, lb)
	}

	_, err := w.Write(b)
	return err
}

func WriteModelFile(path string, n *Net) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := WriteModel(bw, n); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func appendBlob(b []byte, blob *Blob) []byte {
	var dims []byte
	for _, d := range blob.Shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}

	var shape []byte
	shape = protowire.AppendTag(shape, fieldShapeDim, protowire.BytesType)
	shape = protowire.AppendBytes(shape, dims)

	b = protowire.AppendTag(b, fieldBlobShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	b = protowire.AppendTag(b, fieldBlobData, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(blob.Data)))
	for _, v := range blob.Data {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// ReadModel decodes a binary NetParameter including parameter blobs. Both the current
// blob shape and the legacy num/channels/height/width dimensions are understood.
func ReadModel(r io.Reader) (*Net, error) {
	bts, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var header []byte
	var layers []*Layer
	err = fields(bts, func(num protowire.Number, typ protowire.Type, field, value []byte) error {
		if num != fieldNetLayer || typ != protowire.BytesType {
			header = append(header, field...)
			return nil
		}

		l, err := readLayer(value)
		if err != nil {
			return fmt.Errorf("layer %d: %w", len(layers), err)
		}
		layers = append(layers, l)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := dynamicpb.NewMessage(schema.net)
	if err := (proto.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(header, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}

	n, err := netFromProto(m)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, layers...)
	return n, nil
}

func ReadModelFile(path string) (*Net, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n, err := ReadModel(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// fields walks the top level fields of an encoded message. value holds the payload of
// length delimited fields.
func fields(bts []byte, fn func(num protowire.Number, typ protowire.Type, field, value []byte) error) error {
	for len(bts) > 0 {
		num, typ, n := protowire.ConsumeTag(bts)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
		}

		m := protowire.ConsumeFieldValue(num, typ, bts[n:])
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedModel, num, protowire.ParseError(m))
		}

		var value []byte
		if typ == protowire.BytesType {
			value, _ = protowire.ConsumeBytes(bts[n:])
		}

		if err := fn(num, typ, bts[:n+m], value); err != nil {
			return err
		}
		bts = bts[n+m:]
	}
	return nil
}

func readLayer(bts []byte) (*Layer, error) {
	var rest []byte
	var blobs []*Blob
	err := fields(bts, func(num protowire.Number, typ protowire.Type, field, value []byte) error {
		if num != fieldLayerBlobs || typ != protowire.BytesType {
			rest = append(rest, field...)
			return nil
		}

		blob, err := readBlob(value)
		if err != nil {
			return fmt.Errorf("blob %d: %w", len(blobs), err)
		}
		blobs = append(blobs, blob)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := dynamicpb.NewMessage(schema.layer)
	if err := (proto.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(rest, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}

	l := layerFromProto(m)
	l.Blobs = blobs
	return l, nil
}

func readBlob(bts []byte) (*Blob, error) {
	var blob Blob
	var legacy [4]int
	err := fields(bts, func(num protowire.Number, typ protowire.Type, field, value []byte) error {
		switch {
		case num == fieldBlobShape && typ == protowire.BytesType:
			return fields(value, func(num protowire.Number, typ protowire.Type, field, value []byte) error {
				if num != fieldShapeDim {
					return nil
				}

				switch typ {
				case protowire.BytesType:
					for len(value) > 0 {
						v, n := protowire.ConsumeVarint(value)
						if n < 0 {
							return fmt.Errorf("%w: shape: %v", ErrMalformedModel, protowire.ParseError(n))
						}
						blob.Shape = append(blob.Shape, int(int64(v)))
						value = value[n:]
					}
				case protowire.VarintType:
					v, _ := protowire.ConsumeVarint(field[protowire.SizeTag(num):])
					blob.Shape = append(blob.Shape, int(int64(v)))
				}
				return nil
			})
		case num == fieldBlobData && typ == protowire.BytesType:
			if len(value)%4 != 0 {
				return fmt.Errorf("%w: packed data of %d bytes", ErrMalformedModel, len(value))
			}
			for ; len(value) > 0; value = value[4:] {
				v, _ := protowire.ConsumeFixed32(value)
				blob.Data = append(blob.Data, math.Float32frombits(v))
			}
		case num == fieldBlobData && typ == protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(field[protowire.SizeTag(num):])
			blob.Data = append(blob.Data, math.Float32frombits(v))
		case num >= fieldBlobNum && num <= fieldBlobWidth && typ == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(field[protowire.SizeTag(num):])
			legacy[num-fieldBlobNum] = int(int32(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(blob.Shape) == 0 && legacy != [4]int{} {
		blob.Shape = legacy[:]
	}

	if blob.Count() != len(blob.Data) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, found %d", ErrMalformedModel, blob.Shape, blob.Count(), len(blob.Data))
	}

	return &blob, nil
}
