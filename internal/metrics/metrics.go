// Public domain.

// Package metrics counts what a scoring run did, for export as a
// Prometheus textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psat-ml/rbscore/internal/pipeline"
)

// Run holds the counters of one invocation on a private registry.
type Run struct {
	reg *prometheus.Registry

	objects   prometheus.Counter
	scored    prometheus.Counter
	noImages  prometheus.Counter
	missing   prometheus.Counter
	unmatched prometheus.Counter
	failed    prometheus.Counter
	zeroed    prometheus.Counter
	images    *prometheus.CounterVec
	updated   prometheus.Counter
	cycles    prometheus.Counter
	workers   prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rbscore",
		Name:      name,
		Help:      help,
	})
}

// New creates the counters of a run.
func New() *Run {
	r := &Run{
		reg:       prometheus.NewRegistry(),
		objects:   counter("objects_requested_total", "Candidate objects requested."),
		scored:    counter("objects_scored_total", "Candidate objects given a score."),
		noImages:  counter("objects_without_images_total", "Candidate objects with no image on disk."),
		missing:   counter("images_missing_total", "Image records whose file does not exist."),
		unmatched: counter("images_unmatched_total", "Images matching no instrument."),
		failed:    counter("images_failed_total", "Images that could not be read."),
		zeroed:    counter("pixels_zeroed_total", "Non-finite or masked pixels replaced by zero."),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rbscore",
			Name:      "images_scored_total",
			Help:      "Images scored, by instrument.",
		}, []string{"instrument"}),
		updated: counter("rows_updated_total", "Object rows updated in the database."),
		cycles:  counter("dispatch_cycles_total", "Dispatch cycles run."),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rbscore",
			Name:      "workers",
			Help:      "Workers in the last dispatch cycle.",
		}),
	}
	r.reg.MustRegister(r.objects, r.scored, r.noImages, r.missing, r.unmatched,
		r.failed, r.zeroed, r.images, r.updated, r.cycles, r.workers)
	return r
}

// Registry returns the registry holding the run's metrics.
func (r *Run) Registry() *prometheus.Registry { return r.reg }

// Record adds the statistics of a dispatch cycle.
func (r *Run) Record(s pipeline.Stats) {
	r.objects.Add(float64(s.Objects))
	r.scored.Add(float64(s.Scored))
	r.noImages.Add(float64(s.NoImages))
	r.missing.Add(float64(s.Missing))
	r.unmatched.Add(float64(s.Unmatched))
	r.failed.Add(float64(s.Failed))
	r.zeroed.Add(float64(s.Zeroed))
	for tag, n := range s.Images {
		r.images.WithLabelValues(tag).Add(float64(n))
	}
}

// Cycle records one dispatch cycle over the given number of workers.
func (r *Run) Cycle(workers int) {
	r.cycles.Inc()
	r.workers.Set(float64(workers))
}

// Updated records rows updated in the database.
func (r *Run) Updated(n int64) { r.updated.Add(float64(n)) }

// WriteTextfile writes the metrics in the text exposition format, for the
// node exporter textfile collector.
func (r *Run) WriteTextfile(fn string) error {
	return prometheus.WriteToTextfile(fn, r.reg)
}
