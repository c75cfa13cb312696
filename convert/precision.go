package convert

import (
	"log/slog"

	"github.com/x448/float16"

	"github.com/mvdemo/rapidus/caffe"
)

// AuditPrecision checks every parameter blob for values that overflow or underflow half
// precision, which the inference target computes in. Each affected layer produces one
// *PrecisionWarning.
func AuditPrecision(net *caffe.Net) *Report {
	report := &Report{}
	for _, l := range net.Layers {
		w := PrecisionWarning{Layer: l.Name}
		for _, b := range l.Blobs {
			for _, v := range b.Data {
				switch float16.PrecisionFromfloat32(v) {
				case float16.PrecisionOverflow:
					w.Overflow++
				case float16.PrecisionUnderflow:
					w.Underflow++
				}
			}
			w.Total += len(b.Data)
		}

		if w.Overflow > 0 || w.Underflow > 0 {
			report.warn(&w)
		}
	}

	slog.Debug("audited float16 precision", "layers", len(net.Layers), "warnings", len(report.Warnings))
	return report
}
