package sstv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for encode and decode sessions. A nil
// *Metrics records nothing.
type Metrics struct {
	framesDecoded  *prometheus.CounterVec
	linesDecoded   *prometheus.CounterVec
	headerFailures *prometheus.CounterVec
	frameDrift     prometheus.Histogram
	encodeDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_frames_decoded_total",
				Help: "Decode sessions finished, by final decoder state",
			},
			[]string{"state"},
		),
		linesDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_lines_decoded_total",
				Help: "Image lines by outcome (synced or lost)",
			},
			[]string{"outcome"},
		),
		headerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sstv_header_failures_total",
				Help: "VIS header acquisition failures by reason",
			},
			[]string{"reason"},
		),
		frameDrift: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sstv_frame_drift_ppm",
				Help:    "Measured line period error of decoded frames in parts per million",
				Buckets: []float64{-5000, -1000, -500, -100, -10, 10, 100, 500, 1000, 5000},
			},
		),
		encodeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sstv_encode_duration_seconds",
				Help:    "Time spent rendering an image to audio",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
	}
}

func (m *Metrics) frameDone(f *DecodedFrame) {
	if m == nil || f == nil {
		return
	}
	m.framesDecoded.WithLabelValues(f.State.String()).Inc()
	if f.Mode == nil {
		return
	}
	m.linesDecoded.WithLabelValues("synced").Add(float64(f.SyncedLines))
	m.linesDecoded.WithLabelValues("lost").Add(float64(len(f.missing)))
	if f.SyncedLines >= 2 {
		m.frameDrift.Observe((f.Drift - 1) * 1e6)
	}
}

func (m *Metrics) headerFailed(reason string) {
	if m == nil {
		return
	}
	m.headerFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) encoded(seconds float64) {
	if m == nil {
		return
	}
	m.encodeDuration.Observe(seconds)
}
