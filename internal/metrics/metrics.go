// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	settlementPasses   *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	transitions        *prometheus.CounterVec
	ticketsIssued      *prometheus.CounterVec
	ticketRejections   *prometheus.CounterVec
	prizePaid          prometheus.Counter
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			settlementPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sweepstake",
				Subsystem: "settlement",
				Name:      "passes_total",
				Help:      "Settlement passes segmented by outcome.",
			}, []string{"outcome"}),
			settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "sweepstake",
				Subsystem: "settlement",
				Name:      "pass_duration_seconds",
				Help:      "Duration of completed settlement passes.",
				Buckets:   prometheus.DefBuckets,
			}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sweepstake",
				Subsystem: "lottery",
				Name:      "transitions_total",
				Help:      "Lottery status transitions segmented by target status.",
			}, []string{"to"}),
			ticketsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sweepstake",
				Subsystem: "tickets",
				Name:      "issued_total",
				Help:      "Tickets issued segmented by kind (buy, grant).",
			}, []string{"kind"}),
			ticketRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sweepstake",
				Subsystem: "ticket",
				Name:      "rejections_total",
				Help:      "Rejected ticket requests segmented by reason.",
			}, []string{"reason"}),
			prizePaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sweepstake",
				Subsystem: "prize",
				Name:      "paid_points_total",
				Help:      "Points credited to lottery winners.",
			}),
		}
		prometheus.MustRegister(
			registry.settlementPasses,
			registry.settlementDuration,
			registry.transitions,
			registry.ticketsIssued,
			registry.ticketRejections,
			registry.prizePaid,
		)
	})
	return registry
}

// RecordPass counts a settlement pass. Duration is observed for completed passes only.
func (m *Metrics) RecordPass(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.settlementPasses.WithLabelValues(label(outcome)).Inc()
	if outcome == "ok" || outcome == "partial" {
		m.settlementDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) RecordTransition(to string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(label(to)).Add(float64(n))
}

func (m *Metrics) RecordTicketsIssued(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ticketsIssued.WithLabelValues(label(kind)).Add(float64(n))
}

func (m *Metrics) RecordTicketRejected(reason string) {
	if m == nil {
		return
	}
	m.ticketRejections.WithLabelValues(label(reason)).Inc()
}

func (m *Metrics) RecordPrizePaid(amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.prizePaid.Add(amount.InexactFloat64())
}

func label(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
