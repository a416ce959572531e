package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_samples_ingested_total",
			Help: "Total lidar samples stored from text logs",
		},
		[]string{"property"},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_samples_rejected_total",
			Help: "Log rows dropped by parsing or validation",
		},
		[]string{"property"},
	)

	FTPFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_ftp_fetch_total",
			Help: "FTP log downloads by outcome",
		},
		[]string{"status"},
	)

	FTPFetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "windcube_ftp_fetch_latency_seconds",
			Help:    "FTP log download latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScansSegmented = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_scans_segmented_total",
			Help: "VAD scans detected during retrieval",
		},
		[]string{"elevation"},
	)

	FitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_fits_total",
			Help: "Range-bin sinusoid fits by outcome (ok, gated, failed)",
		},
		[]string{"elevation", "outcome"},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "windcube_retrieval_duration_seconds",
			Help:    "Wall time of a day's VAD retrieval",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	PlotRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windcube_plot_requests_total",
			Help: "Heat map requests served by the API by source (cache, render)",
		},
		[]string{"field", "source"},
	)
)
