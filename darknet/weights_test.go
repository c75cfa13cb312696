package darknet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func encode(t *testing.T, vs ...any) []byte {
	t.Helper()

	var b bytes.Buffer
	for _, v := range vs {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	return b.Bytes()
}

func TestReadWeights(t *testing.T) {
	cases := []struct {
		name      string
		bts       []byte
		words     int
		seen      int64
		transpose bool
		data      []float32
	}{
		{
			name:  "version 0.1 int32 seen",
			bts:   encode(t, []int32{0, 1, 0, 7}, []float32{1, 2, 3}),
			words: 4,
			seen:  7,
			data:  []float32{1, 2, 3},
		},
		{
			name:  "version 0.2 int64 seen",
			bts:   encode(t, []int32{0, 2, 0}, int64(1<<33), []float32{4, 5}),
			words: 5,
			seen:  1 << 33,
			data:  []float32{4, 5},
		},
		{
			name:  "zero seen words start at offset 5",
			bts:   encode(t, []int32{0, 2, 0, 0, 0}, []float32{0.5, -0.5}),
			words: 5,
			data:  []float32{0.5, -0.5},
		},
		{
			name:      "legacy shapes in header",
			bts:       encode(t, []int32{4096, 1470, 0, 0, 0}, []float32{9}),
			words:     5,
			transpose: true,
			data:      []float32{9},
		},
		{
			name:  "trailing bytes dropped",
			bts:   append(encode(t, []int32{0, 1, 0, 0}, []float32{1}), 0xff, 0xff),
			words: 4,
			data:  []float32{1},
		},
		{
			name:  "empty stream",
			bts:   encode(t, []int32{0, 1, 0, 0}),
			words: 4,
			data:  []float32{},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ReadWeights(bytes.NewReader(tt.bts))
			if err != nil {
				t.Fatal(err)
			}

			if w.Words() != tt.words {
				t.Errorf("expected %d header words, got %d", tt.words, w.Words())
			}

			if w.Seen != tt.seen {
				t.Errorf("expected seen %d, got %d", tt.seen, w.Seen)
			}

			if w.Transpose != tt.transpose {
				t.Errorf("expected transpose %v, got %v", tt.transpose, w.Transpose)
			}

			if diff := cmp.Diff(tt.data, w.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadWeightsShort(t *testing.T) {
	for _, bts := range [][]byte{
		nil,
		encode(t, []int32{0, 1, 0}),
		encode(t, []int32{0, 2, 0, 0}),
	} {
		if _, err := ReadWeights(bytes.NewReader(bts)); !errors.Is(err, ErrShortHeader) {
			t.Errorf("expected ErrShortHeader for %d bytes, got %v", len(bts), err)
		}
	}
}

func TestWeightsWriteTo(t *testing.T) {
	for _, w := range []*Weights{
		{Header: Header{Major: 0, Minor: 1, Seen: 12}, Data: []float32{1, 2}},
		{Header: Header{Major: 0, Minor: 2, Revision: 5, Seen: 1 << 40}, Data: []float32{3}},
	} {
		var b bytes.Buffer
		if _, err := w.WriteTo(&b); err != nil {
			t.Fatal(err)
		}

		if want := (w.Words() + len(w.Data)) * 4; b.Len() != want {
			t.Errorf("expected %d bytes, got %d", want, b.Len())
		}

		got, err := ReadWeights(&b)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	}
}
