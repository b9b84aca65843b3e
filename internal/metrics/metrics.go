// Package metrics defines the Prometheus instruments of the reconciliation
// layer and small helpers to record into them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "rendermesh"
)

var (
	// Devices tracks devices per liveness status
	Devices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the latest snapshot by liveness status",
		},
		[]string{"status"}, // online/offline/self
	)

	// PollsTotal counts backend polls
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of backend polls",
		},
		[]string{"source", "status"}, // status: success/error
	)

	// PollDuration measures poll latency
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Backend poll latency in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	// IngestWarnings counts fields replaced by defaults during ingestion
	IngestWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_warnings_total",
			Help:      "Payload fields replaced by a default during ingestion",
		},
		[]string{"field"},
	)

	// FailureEvents counts falling edges seen by the failure detector
	FailureEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_events_total",
			Help:      "Devices observed going from online to offline",
		},
		[]string{"kind"}, // leader_down/node_down
	)

	// Reelections counts re-election requests
	Reelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reelections_total",
			Help:      "Re-election requests sent to the election service",
		},
		[]string{"status"},
	)

	// TopologyInconsistencies counts reconciliation passes with a broken ring
	TopologyInconsistencies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_inconsistencies_total",
			Help:      "Reconciliation passes whose ring failed validation",
		},
	)

	// JobFrames tracks frames of the active job per status
	JobFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_frames",
			Help:      "Frames of the active render job by status",
		},
		[]string{"status"},
	)

	// JobProgress tracks overall job progress
	JobProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_progress_ratio",
			Help:      "Completed frames divided by total frames of the active job",
		},
	)

	// JobStage is 1 for the stage the active job is in
	JobStage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_stage",
			Help:      "Current stage of the render job",
		},
		[]string{"stage"},
	)
)

// Stages lists every job stage label so stale ones can be zeroed.
var Stages = []string{"idle", "uploaded", "configured", "distributing", "monitoring", "completed", "failed"}

// FrameStatuses lists every frame status label.
var FrameStatuses = []string{"pending", "processing", "completed", "failed"}

// RecordPoll records one poll of source.
func RecordPoll(source string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PollsTotal.WithLabelValues(source, status).Inc()
	PollDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetDevices publishes device counts.
func SetDevices(online, offline, self int) {
	Devices.WithLabelValues("online").Set(float64(online))
	Devices.WithLabelValues("offline").Set(float64(offline))
	Devices.WithLabelValues("self").Set(float64(self))
}

// SetJob publishes the job's stage, frame counts and progress.
func SetJob(stage string, frames map[string]int, progress float64) {
	for _, s := range Stages {
		v := 0.0
		if s == stage {
			v = 1
		}
		JobStage.WithLabelValues(s).Set(v)
	}
	for _, s := range FrameStatuses {
		JobFrames.WithLabelValues(s).Set(float64(frames[s]))
	}
	JobProgress.Set(progress)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
