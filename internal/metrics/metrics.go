// Package metrics exports Prometheus metrics for suggestion and
// registration traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/gridtune/internal/environment"
)

// Collector owns the gridtune metric families. A nil *Collector is valid
// and records nothing.
type Collector struct {
	suggestions   prometheus.Counter
	registrations *prometheus.CounterVec
	restarts      prometheus.Counter
	exhausted     prometheus.Counter
	pending       *prometheus.GaugeVec
	suggested     *prometheus.GaugeVec
}

// NewCollector registers the metric families with reg. Passing nil uses
// the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		suggestions: f.NewCounter(prometheus.CounterOpts{
			Name: "gridtune_suggestions_total",
			Help: "Configurations handed out by Suggest.",
		}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtune_registrations_total",
			Help: "Trial results registered, by status.",
		}, []string{"status"}),
		restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "gridtune_grid_restarts_total",
			Help: "Grid passes regenerated after the pending set ran dry.",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "gridtune_exhausted_total",
			Help: "Suggest calls that found no pending configuration.",
		}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridtune_pending_configs",
			Help: "Configurations not yet suggested in the current grid pass.",
		}, []string{"experiment"}),
		suggested: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridtune_suggested_configs",
			Help: "Configurations suggested and awaiting results.",
		}, []string{"experiment"}),
	}
}

// Suggested counts one suggestion.
func (c *Collector) Suggested() {
	if c == nil {
		return
	}
	c.suggestions.Inc()
}

// Registered counts one registration with the given status.
func (c *Collector) Registered(status environment.Status) {
	if c == nil {
		return
	}
	c.registrations.WithLabelValues(status.String()).Inc()
}

// Restarted counts n grid regenerations.
func (c *Collector) Restarted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.restarts.Add(float64(n))
}

// Exhausted counts a Suggest call that had nothing to offer.
func (c *Collector) Exhausted() {
	if c == nil {
		return
	}
	c.exhausted.Inc()
}

// SetQueues records the pending and suggested set sizes of an experiment.
func (c *Collector) SetQueues(experiment string, pending, suggested int) {
	if c == nil {
		return
	}
	c.pending.WithLabelValues(experiment).Set(float64(pending))
	c.suggested.WithLabelValues(experiment).Set(float64(suggested))
}

// Forget drops the per-experiment series.
func (c *Collector) Forget(experiment string) {
	if c == nil {
		return
	}
	c.pending.DeleteLabelValues(experiment)
	c.suggested.DeleteLabelValues(experiment)
}
