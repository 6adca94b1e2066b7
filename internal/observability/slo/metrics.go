// Package slo tracks per-destination service level objectives derived from
// resilience metrics snapshots.
package slo

import (
	"github.com/prometheus/client_golang/prometheus"

	"callguard/internal/resilience/metrics"
)

// SLO targets for calls made through the gateway.
const (
	// AvailabilitySLO is the target success percentage of calls per destination.
	AvailabilitySLO = 99.0

	// LatencyP95SLO is the target p95 call latency in seconds.
	LatencyP95SLO = 5.0

	// LatencyP99SLO is the target p99 call latency in seconds.
	LatencyP99SLO = 15.0
)

// Tracker exports SLO gauges per destination.
type Tracker struct {
	availability *prometheus.GaugeVec
	latencyP95   *prometheus.GaugeVec
	latencyP99   *prometheus.GaugeVec
	breaches     *prometheus.GaugeVec
}

// NewTracker creates SLO gauges and registers them with reg.
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		availability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slo_availability_ratio",
				Help: "Current success ratio (0-1) per destination, target: 0.99",
			},
			[]string{"destination"},
		),
		latencyP95: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slo_latency_p95_seconds",
				Help: "Current p95 call latency in seconds, target: 5",
			},
			[]string{"destination"},
		),
		latencyP99: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slo_latency_p99_seconds",
				Help: "Current p99 call latency in seconds, target: 15",
			},
			[]string{"destination"},
		),
		breaches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slo_breached",
				Help: "1 if the objective is currently breached",
			},
			[]string{"destination", "objective"},
		),
	}

	reg.MustRegister(t.availability, t.latencyP95, t.latencyP99, t.breaches)
	return t
}

// Breach names an objective a destination currently misses.
type Breach struct {
	Destination string
	Objective   string
	Value       float64
	Target      float64
}

// Update sets the gauges from a snapshot and returns the objectives it breaches.
// Destinations without traffic report no breaches.
func (t *Tracker) Update(s metrics.Snapshot) []Breach {
	if s.TotalRequests == 0 {
		return nil
	}

	availability := s.SuccessRate / 100
	p95 := s.Latency.P95.Seconds()
	p99 := s.Latency.P99.Seconds()

	t.availability.WithLabelValues(s.Destination).Set(availability)
	t.latencyP95.WithLabelValues(s.Destination).Set(p95)
	t.latencyP99.WithLabelValues(s.Destination).Set(p99)

	var out []Breach
	check := func(objective string, breached bool, value, target float64) {
		v := 0.0
		if breached {
			v = 1
			out = append(out, Breach{Destination: s.Destination, Objective: objective, Value: value, Target: target})
		}
		t.breaches.WithLabelValues(s.Destination, objective).Set(v)
	}
	check("availability", s.SuccessRate < AvailabilitySLO, s.SuccessRate, AvailabilitySLO)
	check("latency_p95", p95 > LatencyP95SLO, p95, LatencyP95SLO)
	check("latency_p99", p99 > LatencyP99SLO, p99, LatencyP99SLO)
	return out
}
