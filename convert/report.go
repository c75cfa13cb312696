package convert

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrWeightsExhausted is reported when the weights stream ends before every
	// learnable layer has been populated.
	ErrWeightsExhausted = errors.New("weights exhausted")

	// ErrMissingFusedNorm is reported when a BatchNorm or Scale layer is reached without
	// a preceding convolution that read normalization parameters.
	ErrMissingFusedNorm = errors.New("no fused normalization parameters")
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartial
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// UnsupportedError is a warning for a Darknet section or Caffe layer that is skipped.
type UnsupportedError struct {
	// Section is the config section index, or -1 for a layer of a Caffe network
	Section int
	Kind    string
	Name    string
}

func (e *UnsupportedError) Error() string {
	if e.Section >= 0 {
		return fmt.Sprintf("section %d: unsupported layer kind %q", e.Section, e.Kind)
	}
	return fmt.Sprintf("layer %s: unsupported layer type %q", e.Name, e.Kind)
}

// SizeMismatchError is a warning that the weights stream was not consumed exactly.
type SizeMismatchError struct {
	Consumed int
	Total    int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("weights size mismatch: consumed %d of %d values", e.Consumed, e.Total)
}

// PrecisionWarning counts values of a layer that do not survive conversion to half precision.
type PrecisionWarning struct {
	Layer     string
	Overflow  int
	Underflow int
	Total     int
}

func (e *PrecisionWarning) Error() string {
	return fmt.Sprintf("layer %s: %d of %d values overflow and %d underflow float16", e.Layer, e.Overflow, e.Total, e.Underflow)
}

// Report collects the non-fatal problems of a conversion step.
type Report struct {
	Warnings []error
}

func (r *Report) warn(err error) {
	slog.Warn(err.Error())
	r.Warnings = append(r.Warnings, err)
}

// Merge appends the warnings of o.
func (r *Report) Merge(o *Report) {
	if o != nil {
		r.Warnings = append(r.Warnings, o.Warnings...)
	}
}

func (r *Report) Outcome() Outcome {
	if r == nil || len(r.Warnings) == 0 {
		return OutcomeSuccess
	}
	return OutcomePartial
}

// Classify tags the result of a conversion step: fatal when err is set, otherwise
// success or partial depending on the warnings in r.
func Classify(err error, r *Report) Outcome {
	if err != nil {
		return OutcomeFatal
	}
	return r.Outcome()
}

// Err joins all warnings into a single error, or returns nil when there are none.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Warnings...)
}
