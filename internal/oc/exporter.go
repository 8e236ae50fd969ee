package oc

import (
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
)

// LogrusExporter writes finished spans to logrus so traces land in the
// same stream as everything else the shim logs.
type LogrusExporter struct{}

var _ trace.Exporter = (*LogrusExporter)(nil)

func (e *LogrusExporter) ExportSpan(s *trace.SpanData) {
	entry := logrus.WithFields(logrus.Fields{
		"span":     s.Name,
		"traceID":  s.TraceID.String(),
		"spanID":   s.SpanID.String(),
		"duration": s.EndTime.Sub(s.StartTime).String(),
	})
	for k, v := range s.Attributes {
		entry = entry.WithField(k, v)
	}
	if s.Status.Code != trace.StatusCodeOK {
		entry.WithField("status", s.Status.Message).Warn("span failed")
		return
	}
	entry.Debug("span complete")
}
