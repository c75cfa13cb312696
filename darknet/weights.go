package darknet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Header is the metadata block at the start of a .weights file.
type Header struct {
	Major    int32
	Minor    int32
	Revision int32
	// Seen is the number of training images. Stored as int32 before format 0.2 and as
	// int64 from then on.
	Seen int64
}

// Words returns the header length in 32-bit words: 4 for the int32 seen counter and 5
// for the int64 one.
func (h Header) Words() int {
	if int64(h.Major)*10+int64(h.Minor) < 2 {
		return 4
	}
	return 5
}

// Legacy reports whether the header looks like it was written by a tool that stored
// matrix shapes where the version belongs. Such files keep fully connected weights
// transposed. This is a heuristic and can be overridden through Weights.Transpose.
func (h Header) Legacy() bool {
	return h.Major > 1000 || h.Minor > 1000
}

// Weights is a decoded .weights file.
type Weights struct {
	Header
	// Transpose is set from Header.Legacy when reading and controls how fully connected
	// weight matrices are placed.
	Transpose bool
	Data      []float32
}

func ReadWeightsFile(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{File: path, Section: -1, Err: err}
	}
	defer f.Close()

	w, err := ReadWeights(f)
	if err != nil {
		if cerr, ok := err.(*ConfigError); ok {
			cerr.File = path
		}
		return nil, err
	}
	return w, nil
}

func ReadWeights(r io.Reader) (*Weights, error) {
	bts, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if len(bts) < 16 {
		return nil, &ConfigError{Section: -1, Err: fmt.Errorf("%w: %d bytes", ErrShortHeader, len(bts))}
	}

	var w Weights
	w.Major = int32(binary.LittleEndian.Uint32(bts[0:]))
	w.Minor = int32(binary.LittleEndian.Uint32(bts[4:]))
	w.Revision = int32(binary.LittleEndian.Uint32(bts[8:]))

	n := w.Words() * 4
	if len(bts) < n {
		return nil, &ConfigError{Section: -1, Err: fmt.Errorf("%w: %d bytes, want %d", ErrShortHeader, len(bts), n)}
	}

	if w.Words() == 4 {
		w.Seen = int64(int32(binary.LittleEndian.Uint32(bts[12:])))
	} else {
		w.Seen = int64(binary.LittleEndian.Uint64(bts[12:]))
	}
	w.Transpose = w.Legacy()

	body := bts[n:]
	if rem := len(body) % 4; rem != 0 {
		slog.Warn("weights file has trailing bytes", "bytes", rem)
		body = body[:len(body)-rem]
	}

	w.Data = make([]float32, len(body)/4)
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, w.Data); err != nil {
		return nil, err
	}

	slog.Debug("weights", "version", fmt.Sprintf("%d.%d.%d", w.Major, w.Minor, w.Revision), "seen", w.Seen, "header", w.Words(), "values", len(w.Data), "transpose", w.Transpose)
	return &w, nil
}

// WriteTo writes w in the .weights layout, choosing the header length from the version.
func (w *Weights) WriteTo(wr io.Writer) (int64, error) {
	var b bytes.Buffer
	for _, v := range []int32{w.Major, w.Minor, w.Revision} {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			return 0, err
		}
	}

	var seen any = int32(w.Seen)
	if w.Words() == 5 {
		seen = w.Seen
	}
	if err := binary.Write(&b, binary.LittleEndian, seen); err != nil {
		return 0, err
	}

	if err := binary.Write(&b, binary.LittleEndian, w.Data); err != nil {
		return 0, err
	}

	return b.WriteTo(wr)
}
