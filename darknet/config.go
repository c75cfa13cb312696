// Package darknet reads Darknet network descriptions (.cfg) and weight files (.weights).
package darknet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"gopkg.in/ini.v1"
)

// Section kinds understood by the converter. Any other kind is passed through to the
// caller, which decides whether to skip or warn.
const (
	KindNet           = "net"
	KindConvolutional = "convolutional"
	KindConnected     = "connected"
	KindMaxPool       = "maxpool"
	KindAvgPool       = "avgpool"
	KindDropout       = "dropout"
	KindSoftmax       = "softmax"
	KindCrop          = "crop"
	KindCost          = "cost"
	KindRegion        = "region"
)

// Config is an ordered list of sections parsed from a Darknet .cfg file.
type Config struct {
	// Name is the network name, the file's base name up to its first dot
	Name     string
	File     string
	Sections []*Section
}

// Section is one [kind] block of a config file.
type Section struct {
	// Name is the header as written, e.g. "convolutional" or "convolutional_3"
	Name  string
	Kind  string
	Index int

	attrs *linkedhashmap.Map
}

func NewSection(name string, index int) *Section {
	kind, _, _ := strings.Cut(name, "_")
	return &Section{
		Name:  name,
		Kind:  strings.ToLower(kind),
		Index: index,
		attrs: linkedhashmap.New(),
	}
}

// Set stores a raw value, parsing it the same way values read from a file are parsed.
func (s *Section) Set(key, raw string) {
	s.attrs.Put(key, ParseValue(raw))
}

func (s *Section) Get(key string) (any, bool) {
	return s.attrs.Get(key)
}

// Keys returns attribute keys in file order.
func (s *Section) Keys() []string {
	keys := make([]string, 0, s.attrs.Size())
	for _, k := range s.attrs.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Map returns a copy of the attributes as a plain map.
func (s *Section) Map() map[string]any {
	m := make(map[string]any, s.attrs.Size())
	it := s.attrs.Iterator()
	for it.Next() {
		m[it.Key().(string)] = it.Value()
	}
	return m
}

// String returns the attribute value as text, or "" when absent.
func (s *Section) String(key string) string {
	v, ok := s.attrs.Get(key)
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// ParseValue converts a raw config value. Comma separated values become a []any, every
// scalar is parsed as an int first, then a float, and is otherwise kept as a string.
func ParseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, ",") {
		return parseScalar(raw)
	}

	var vals []any
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			vals = append(vals, parseScalar(part))
		}
	}
	return vals
}

func parseScalar(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Lookup returns key from the first section of the given kind.
func (c *Config) Lookup(kind, key string) (any, bool) {
	for _, s := range c.Sections {
		if s.Kind == kind {
			return s.Get(key)
		}
	}
	return nil, false
}

// Count returns the number of sections of the given kind.
func (c *Config) Count(kind string) int {
	var n int
	for _, s := range c.Sections {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// ReadConfig parses the Darknet config at path.
func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{File: path, Section: -1, Err: err}
	}
	defer f.Close()

	c, err := ParseConfig(f)
	if err != nil {
		if cerr, ok := err.(*ConfigError); ok {
			cerr.File = path
			return nil, cerr
		}
		return nil, err
	}

	c.File = path
	c.Name, _, _ = strings.Cut(filepath.Base(path), ".")
	return c, nil
}

// ParseConfig parses a Darknet config. Repeated section headers are kept as separate
// sections in file order.
func ParseConfig(r io.Reader) (*Config, error) {
	bts, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: true,
		InsensitiveKeys:        true,
	}, bts)
	if err != nil {
		return nil, &ConfigError{Section: -1, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	var c Config
	for _, is := range f.Sections() {
		if is.Name() == ini.DefaultSection {
			if len(is.Keys()) > 0 {
				return nil, &ConfigError{Section: -1, Key: is.Keys()[0].Name(), Err: fmt.Errorf("%w: key outside of any section", ErrMalformed)}
			}
			continue
		}

		s := NewSection(is.Name(), len(c.Sections))
		for _, k := range is.Keys() {
			s.Set(k.Name(), k.Value())
		}
		c.Sections = append(c.Sections, s)
	}

	return &c, nil
}
