package darknet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingKey            = errors.New("missing required key")
	ErrInvalidValue          = errors.New("invalid value")
	ErrUnsupportedActivation = errors.New("unsupported activation")
	ErrMalformed             = errors.New("malformed config")
	ErrShortHeader           = errors.New("weights header truncated")
)

// ConfigError reports a problem with a Darknet config or weights file. Section is the
// 0-based index of the offending section, or -1 when the error is not tied to one.
type ConfigError struct {
	File    string
	Section int
	Kind    string
	Key     string
	Err     error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		sb.WriteString(": ")
	}

	if e.Section >= 0 {
		fmt.Fprintf(&sb, "section %d", e.Section)
		if e.Kind != "" {
			fmt.Fprintf(&sb, " [%s]", e.Kind)
		}
		sb.WriteString(": ")
	}

	if e.Key != "" {
		fmt.Fprintf(&sb, "key %q: ", e.Key)
	}

	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
