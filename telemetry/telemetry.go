// Package telemetry exports training progress as Prometheus metrics.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the session metrics. A nil *Recorder records nothing.
type Recorder struct {
	reg *prometheus.Registry

	taskAccuracy *prometheus.GaugeVec
	knownClasses prometheus.Gauge
	phaseLoss    *prometheus.GaugeVec
	fitBatches   prometheus.Counter
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		taskAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "minnet_task_accuracy",
			Help: "Accuracy over all seen classes after each task, in percent.",
		}, []string{"task"}),
		knownClasses: f.NewGauge(prometheus.GaugeOpts{
			Name: "minnet_known_classes",
			Help: "Number of classes learned so far.",
		}),
		phaseLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "minnet_phase_loss",
			Help: "Mean loss of the last gradient epoch.",
		}, []string{"phase"}),
		fitBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "minnet_fit_batches_total",
			Help: "Batches folded into the analytic head.",
		}),
	}
}

func (r *Recorder) TaskAccuracy(task int, acc float64) {
	if r == nil {
		return
	}
	r.taskAccuracy.WithLabelValues(strconv.Itoa(task)).Set(acc)
}

func (r *Recorder) KnownClasses(n int) {
	if r == nil {
		return
	}
	r.knownClasses.Set(float64(n))
}

func (r *Recorder) PhaseLoss(phase string, loss float64) {
	if r == nil {
		return
	}
	r.phaseLoss.WithLabelValues(phase).Set(loss)
}

func (r *Recorder) FitBatch() {
	if r == nil {
		return
	}
	r.fitBatches.Inc()
}

// Registry exposes the underlying registry, nil for a nil recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
