package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mvdemo/rapidus/caffe"
	"github.com/mvdemo/rapidus/format"
)

func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect FILE",
		Aliases: []string{"show"},
		Short:   "Show the layers of a prototxt or caffemodel",
		Args:    cobra.ExactArgs(1),
		RunE:    inspectHandler,
	}

	return cmd
}

func inspectHandler(cmd *cobra.Command, args []string) error {
	path := args[0]
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	var net *caffe.Net
	switch strings.ToLower(filepath.Ext(path)) {
	case ".caffemodel":
		net, err = caffe.ReadModelFile(path)
	default:
		net, err = caffe.ReadPrototxt(path)
	}
	if err != nil {
		return err
	}

	shapes, err := net.Reshape()
	if err != nil {
		slog.Warn("could not infer blob shapes", "path", path, "error", err)
	}

	w := cmd.OutOrStdout()
	showNet(w, net, shapes)
	fmt.Fprintf(w, "\n%s: %d layers, %s parameters, %s\n", net.Name, len(net.Layers), format.HumanNumber(uint64(net.Params())), format.HumanBytes(fi.Size()))
	return nil
}

func showNet(w io.Writer, net *caffe.Net, shapes map[string][]int) {
	var data [][]string
	for _, l := range net.Layers {
		var shape []int
		if len(l.Top) > 0 {
			shape = shapes[l.Top[0]]
		}

		var params string
		if l.Learnable() {
			params = format.HumanNumber(uint64(l.Params()))
		}

		data = append(data, []string{l.Name, l.Type, strings.Join(l.Bottom, ","), strings.Join(l.Top, ","), format.Shape(shape), params})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "TYPE", "BOTTOM", "TOP", "OUTPUT", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
