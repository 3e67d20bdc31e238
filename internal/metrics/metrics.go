// Package metrics exposes change tracking activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

const metricsNamespace = "tracker"

// Change kinds used as the kind label.
const (
	KindForeignKey   = "foreign_key"
	KindPrincipalKey = "principal_key"
	KindReference    = "reference"
	KindCollection   = "collection"
)

var trackedStates = []types.EntityState{
	types.StateUnchanged,
	types.StateAdded,
	types.StateModified,
	types.StateDeleted,
}

// Collector is a prometheus.Collector counting the relationship changes it
// hears about as a listener, and the entries and sweeps of the state
// managers it observes.
type Collector struct {
	relationshipChanges *prometheus.CounterVec
	trackedEntries      *prometheus.GaugeVec
	sweeps              prometheus.Counter
	sweepDuration       prometheus.Histogram
}

var (
	_ tracking.RelationshipListener = (*Collector)(nil)
	_ prometheus.Collector          = (*Collector)(nil)
)

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		relationshipChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "relationship_changes_total",
				Help:      "The number of relationship changes reported by change detection.",
			}, []string{"kind"},
		),
		trackedEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tracked_entries",
				Help:      "The number of tracked entries by state after the last sweep.",
			}, []string{"state"},
		),
		sweeps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweeps_total",
				Help:      "The number of change detection sweeps.",
			},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sweep_duration_seconds",
				Help:      "The time taken by a change detection sweep.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.relationshipChanges.Describe(ch)
	c.trackedEntries.Describe(ch)
	c.sweeps.Describe(ch)
	c.sweepDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.relationshipChanges.Collect(ch)
	c.trackedEntries.Collect(ch)
	c.sweeps.Collect(ch)
	c.sweepDuration.Collect(ch)
}

// Sweep runs change detection over sm and records it.
func (c *Collector) Sweep(sm *tracking.StateManager) error {
	start := time.Now()
	err := sm.DetectChanges()
	c.sweepDuration.Observe(time.Since(start).Seconds())
	c.sweeps.Inc()
	c.Observe(sm)
	return errors.Trace(err)
}

// Observe sets the tracked entry gauges from the current state of sm.
func (c *Collector) Observe(sm *tracking.StateManager) {
	counts := make(map[types.EntityState]int)
	for _, e := range sm.Entries() {
		counts[e.State()]++
	}
	for _, state := range trackedStates {
		c.trackedEntries.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// ForeignKeyPropertyChanged is part of the tracking.RelationshipListener
// interface.
func (c *Collector) ForeignKeyPropertyChanged(*tracking.Entry, *metadata.Property, any, any) error {
	c.relationshipChanges.WithLabelValues(KindForeignKey).Inc()
	return nil
}

// PrincipalKeyPropertyChanged is part of the
// tracking.RelationshipListener interface.
func (c *Collector) PrincipalKeyPropertyChanged(*tracking.Entry, *metadata.Property, any, any) error {
	c.relationshipChanges.WithLabelValues(KindPrincipalKey).Inc()
	return nil
}

// NavigationReferenceChanged is part of the tracking.RelationshipListener
// interface.
func (c *Collector) NavigationReferenceChanged(*tracking.Entry, *metadata.Navigation, any, any) error {
	c.relationshipChanges.WithLabelValues(KindReference).Inc()
	return nil
}

// NavigationCollectionChanged is part of the
// tracking.RelationshipListener interface.
func (c *Collector) NavigationCollectionChanged(*tracking.Entry, *metadata.Navigation, []any, []any) error {
	c.relationshipChanges.WithLabelValues(KindCollection).Inc()
	return nil
}
