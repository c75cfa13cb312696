package darknet

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Activations a layer may request. Anything else is rejected.
const (
	ActivationLinear = "linear"
	ActivationReLU   = "relu"
	ActivationLeaky  = "leaky"
)

type Net struct {
	Channels int `mapstructure:"channels" validate:"gt=0"`
	Width    int `mapstructure:"width" validate:"gt=0"`
	Height   int `mapstructure:"height" validate:"gt=0"`
}

type Convolutional struct {
	Filters        int    `mapstructure:"filters" validate:"gt=0"`
	Size           *int   `mapstructure:"size" validate:"omitempty,gt=0"`
	Stride         *int   `mapstructure:"stride" validate:"omitempty,gt=0"`
	Pad            *int   `mapstructure:"pad" validate:"omitempty,gte=0"`
	BatchNormalize int    `mapstructure:"batch_normalize"`
	Activation     string `mapstructure:"activation"`
}

type Connected struct {
	Output     int    `mapstructure:"output" validate:"gt=0"`
	Activation string `mapstructure:"activation"`
}

// Pool covers both maxpool and avgpool sections.
type Pool struct {
	Size   *int `mapstructure:"size" validate:"omitempty,gt=0"`
	Stride *int `mapstructure:"stride" validate:"omitempty,gt=0"`
	Pad    *int `mapstructure:"pad" validate:"omitempty,gte=0"`
}

type Dropout struct {
	Probability float64 `mapstructure:"probability" validate:"gte=0,lte=1"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		return name
	})
	return v
}()

func (s *Section) Net() (*Net, error) {
	var n Net
	return &n, s.decode(&n, "channels", "width", "height")
}

func (s *Section) Convolutional() (*Convolutional, error) {
	var c Convolutional
	if err := s.decode(&c, "filters"); err != nil {
		return nil, err
	}
	return &c, s.checkActivation(c.Activation)
}

func (s *Section) Connected() (*Connected, error) {
	var c Connected
	if err := s.decode(&c, "output"); err != nil {
		return nil, err
	}
	return &c, s.checkActivation(c.Activation)
}

func (s *Section) Pool() (*Pool, error) {
	var p Pool
	return &p, s.decode(&p)
}

func (s *Section) Dropout() (*Dropout, error) {
	var d Dropout
	return &d, s.decode(&d, "probability")
}

// BatchNormalized reports whether the convolution has batch normalization fused into it.
func (c *Convolutional) BatchNormalized() bool {
	return c.BatchNormalize != 0
}

// Activated reports whether an activation layer follows.
func (c *Convolutional) Activated() bool {
	return c.Activation != "" && c.Activation != ActivationLinear
}

func (c *Connected) Activated() bool {
	return c.Activation != "" && c.Activation != ActivationLinear
}

func (s *Section) checkActivation(a string) error {
	switch a {
	case "", ActivationLinear, ActivationReLU, ActivationLeaky:
		return nil
	default:
		return s.errorf("activation", fmt.Errorf("%w: %q", ErrUnsupportedActivation, a))
	}
}

func (s *Section) errorf(key string, err error) error {
	return &ConfigError{Section: s.Index, Kind: s.Kind, Key: key, Err: err}
}

func (s *Section) decode(v any, required ...string) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           v,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(s.Map()); err != nil {
		return s.errorf("", fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}

	for _, key := range required {
		if slices.Contains(md.Unset, key) {
			return s.errorf(key, ErrMissingKey)
		}
	}

	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return s.errorf(fe.Field(), fmt.Errorf("%w: %v does not satisfy %s=%s", ErrInvalidValue, fe.Value(), fe.Tag(), fe.Param()))
		}
		return s.errorf("", err)
	}

	return nil
}
