// Package convert translates Darknet networks into Caffe networks and models.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvdemo/rapidus/caffe"
	"github.com/mvdemo/rapidus/darknet"
)

var (
	ErrNothingToDo = errors.New("no config or weights file given")
	ErrTargetDir   = errors.New("target directory not found")
)

// Transpose selects how inner product weights are laid out in a weights file.
type Transpose int

const (
	// TransposeAuto trusts the weights header
	TransposeAuto Transpose = iota
	TransposeOn
	TransposeOff
)

func ParseTranspose(s string) (Transpose, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return TransposeAuto, nil
	case "on", "true", "1", "yes":
		return TransposeOn, nil
	case "off", "false", "0", "no":
		return TransposeOff, nil
	default:
		return TransposeAuto, fmt.Errorf("invalid transpose mode %q, expected auto, on or off", s)
	}
}

func (t Transpose) String() string {
	switch t {
	case TransposeOn:
		return "on"
	case TransposeOff:
		return "off"
	default:
		return "auto"
	}
}

func (t Transpose) apply(w *darknet.Weights) {
	switch t {
	case TransposeOn:
		w.Transpose = true
	case TransposeOff:
		w.Transpose = false
	}
}

type Options struct {
	// Config is a Darknet .cfg file. When set, a .prototxt is generated from it.
	Config string

	// Weights is a Darknet .weights file. When set, a .caffemodel is written.
	Weights string

	// Prototxt is the network definition used for Weights when Config is not set. It
	// defaults to <target>/<weights base name>.prototxt.
	Prototxt string

	// TargetDir receives the output files. It defaults to the directory of each input
	// file and must exist when set.
	TargetDir string

	OutputBlob string
	Transpose  Transpose

	// Audit checks the transcoded parameters for float16 overflow and underflow
	Audit bool

	Progress ProgressFunc
}

type Result struct {
	Prototxt string
	Model    string
	Net      *caffe.Net
	Report   *Report
}

// Run converts the files named in opts. Warnings from every step are collected in the
// result's report; the first fatal error stops the run.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == "" && opts.Weights == "" {
		return nil, ErrNothingToDo
	}

	if opts.TargetDir != "" {
		if fi, err := os.Stat(opts.TargetDir); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrTargetDir, opts.TargetDir)
		}
	}

	r := &Result{Report: &Report{}}
	if opts.Config != "" {
		path, net, report, err := ConvertConfig(opts.Config, opts.TargetDir, GenerateOptions{OutputBlob: opts.OutputBlob})
		r.Report.Merge(report)
		if err != nil {
			return r, err
		}

		slog.Info("created network definition", "path", path, "layers", len(net.Layers))
		r.Prototxt, r.Net = path, net
	}

	if opts.Weights == "" {
		return r, nil
	}

	if err := ctx.Err(); err != nil {
		return r, err
	}

	net := r.Net
	if net == nil {
		path := opts.Prototxt
		if path == "" {
			path = filepath.Join(targetDir(opts.TargetDir, opts.Weights), trimExt(opts.Weights)+".prototxt")
		}

		var err error
		if net, err = caffe.ReadPrototxt(path); err != nil {
			return r, err
		}
		r.Prototxt, r.Net = path, net
	}

	path, report, err := ConvertWeights(opts.Weights, opts.TargetDir, net, opts.Transpose, opts.Progress)
	r.Report.Merge(report)
	if err != nil {
		return r, err
	}

	slog.Info("created model", "path", path, "parameters", net.Params())
	r.Model = path

	if opts.Audit {
		r.Report.Merge(AuditPrecision(net))
	}

	return r, nil
}

// ConvertConfig generates a network from a Darknet config and writes it as
// <target>/<config base name>.prototxt.
func ConvertConfig(cfgPath, target string, opts GenerateOptions) (string, *caffe.Net, *Report, error) {
	cfg, err := darknet.ReadConfig(cfgPath)
	if err != nil {
		return "", nil, nil, err
	}

	net, report, err := Generate(cfg, opts)
	if err != nil {
		return "", nil, report, err
	}

	path := filepath.Join(targetDir(target, cfgPath), trimExt(cfgPath)+".prototxt")
	if err := writePrototxt(path, net); err != nil {
		return "", nil, report, err
	}

	return path, net, report, nil
}

// ConvertWeights fills net from a Darknet weights file and writes it as
// <target>/<weights base name>.caffemodel. The model is written even when the weights
// did not match the network; the report says so.
func ConvertWeights(weightsPath, target string, net *caffe.Net, transpose Transpose, fn ProgressFunc) (string, *Report, error) {
	w, err := darknet.ReadWeightsFile(weightsPath)
	if err != nil {
		return "", nil, err
	}
	transpose.apply(w)

	report, err := TranscodeFunc(net, w, fn)
	if err != nil {
		return "", report, err
	}

	path := filepath.Join(targetDir(target, weightsPath), trimExt(weightsPath)+".caffemodel")
	if err := caffe.WriteModelFile(path, net); err != nil {
		return "", report, err
	}

	return path, report, nil
}

func writePrototxt(path string, net *caffe.Net) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := net.WriteTo(f); err != nil {
		return err
	}
	return f.Close()
}

func targetDir(dir, input string) string {
	if dir != "" {
		return dir
	}
	return filepath.Dir(input)
}

// trimExt returns the base name of path without its last extension.
func trimExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
