package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mvdemo/rapidus/convert"
	"github.com/mvdemo/rapidus/envconfig"
	"github.com/mvdemo/rapidus/format"
	"github.com/mvdemo/rapidus/progress"
)

var errPartial = errors.New("conversion incomplete")

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert CFG [WEIGHTS]",
		Short: "Convert a Darknet config and weights to a Caffe prototxt and caffemodel",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := convert.Options{Config: args[0]}
			if len(args) > 1 {
				opts.Weights = args[1]
			}
			return convertHandler(cmd, opts)
		},
	}

	addOutputFlags(cmd)
	addWeightsFlags(cmd)
	return cmd
}

func NewPrototxtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prototxt CFG",
		Short: "Generate a Caffe prototxt from a Darknet config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return convertHandler(cmd, convert.Options{Config: args[0]})
		},
	}

	addOutputFlags(cmd)
	return cmd
}

func NewCaffemodelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caffemodel WEIGHTS",
		Short: "Write a caffemodel from Darknet weights and an existing prototxt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prototxt, _ := cmd.Flags().GetString("prototxt")
			return convertHandler(cmd, convert.Options{Weights: args[0], Prototxt: prototxt})
		},
	}

	cmd.Flags().String("prototxt", "", "Network definition (default: <out>/<weights name>.prototxt)")
	addOutputFlags(cmd)
	addWeightsFlags(cmd)
	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", envconfig.TargetDir, "Directory for generated files (default: next to the inputs)")
	cmd.Flags().Bool("strict", envconfig.Strict, "Fail when the conversion is incomplete")
	if cmd.Name() != "caffemodel" {
		cmd.Flags().String("output-blob", "", "Rename the output blob of the network")
	}
}

func addWeightsFlags(cmd *cobra.Command) {
	cmd.Flags().String("transpose", envconfig.Transpose, "Fully connected weight layout: auto, on or off")
	cmd.Flags().Bool("audit", envconfig.Audit, "Report weights that do not fit in float16")
}

func convertHandler(cmd *cobra.Command, opts convert.Options) error {
	flags := cmd.Flags()
	opts.TargetDir, _ = flags.GetString("out")
	if flags.Lookup("output-blob") != nil {
		opts.OutputBlob, _ = flags.GetString("output-blob")
	}

	if flags.Lookup("transpose") != nil {
		s, _ := flags.GetString("transpose")
		t, err := convert.ParseTranspose(s)
		if err != nil {
			return err
		}
		opts.Transpose = t
		opts.Audit, _ = flags.GetBool("audit")
	}

	var p *progress.Progress
	if f, ok := cmd.ErrOrStderr().(*os.File); ok && opts.Weights != "" && term.IsTerminal(int(f.Fd())) {
		p = progress.NewProgress(f)

		spinner := progress.NewSpinner("reading weights")
		p.Add(spinner)

		var bar *progress.Bar
		opts.Progress = func(layer string, consumed, total int) {
			if bar == nil {
				spinner.Stop()
				bar = progress.NewBar(layer, total)
				p.Add(bar)
			}
			bar.Set(layer, consumed)
		}
	}

	r, err := convert.Run(cmd.Context(), opts)
	if p != nil {
		p.StopAndClear()
	}

	var report *convert.Report
	if r != nil {
		report = r.Report
	}

	outcome := convert.Classify(err, report)
	if r != nil {
		printResult(cmd.OutOrStdout(), r, outcome)
	}

	switch outcome {
	case convert.OutcomeFatal:
		return err
	case convert.OutcomePartial:
		if strict, _ := flags.GetBool("strict"); strict {
			return fmt.Errorf("%w: %w", errPartial, report.Err())
		}
	}

	return nil
}

func printResult(w io.Writer, r *convert.Result, outcome convert.Outcome) {
	if r.Prototxt != "" && r.Model == "" {
		fmt.Fprintf(w, "created %s\n", r.Prototxt)
	}

	if r.Model != "" {
		fmt.Fprintf(w, "created %s (%s parameters)\n", r.Model, format.HumanNumber(uint64(r.Net.Params())))
	}

	if n := len(r.Report.Warnings); n > 0 || outcome == convert.OutcomeFatal {
		fmt.Fprintf(w, "%s with %d warning(s)\n", outcome, n)
		for _, warning := range r.Report.Warnings {
			fmt.Fprintf(w, "  %v\n", warning)
		}
	}
}
