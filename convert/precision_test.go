package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdemo/rapidus/caffe"
)

func TestAuditPrecision(t *testing.T) {
	net := &caffe.Net{Layers: []*caffe.Layer{
		{Name: "data", Type: caffe.TypeInput},
		{Name: "conv1", Type: caffe.TypeConvolution, Blobs: []*caffe.Blob{
			{Shape: []int{4}, Data: []float32{0.5, 1e6, -1e6, 1e-10}},
			{Shape: []int{1}, Data: []float32{0}},
		}},
		{Name: "conv2", Type: caffe.TypeConvolution, Blobs: []*caffe.Blob{
			{Shape: []int{3}, Data: []float32{1, -2, 65504}},
		}},
	}}

	report := AuditPrecision(net)
	assert.Equal(t, OutcomePartial, report.Outcome())
	require.Len(t, report.Warnings, 1)

	var w *PrecisionWarning
	require.ErrorAs(t, report.Warnings[0], &w)
	assert.Equal(t, PrecisionWarning{Layer: "conv1", Overflow: 2, Underflow: 1, Total: 5}, *w)
	assert.Equal(t, "layer conv1: 2 of 5 values overflow and 1 underflow float16", w.Error())
}
