// Package metrics exposes engine activity as prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shellsino/backend/internal/models"
	"github.com/shellsino/backend/internal/wager"
)

const namespace = "shellsino"

type Metrics struct {
	settlements    *prometheus.CounterVec
	volume         *prometheus.CounterVec
	fees           *prometheus.CounterVec
	entries        *prometheus.CounterVec
	exits          *prometheus.CounterVec
	abandoned      *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	published      *prometheus.CounterVec
	settleDuration *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_total",
			Help: "Resolved games and rounds.",
		}, []string{"game"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settled_volume_units_total",
			Help: "Escrowed stake consumed by settlements, in base units.",
		}, []string{"game"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fees_units_total",
			Help: "Fee sink credits, remainders included, in base units.",
		}, []string{"game"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entries_total",
			Help: "Accepted pool, chamber and challenge entries by result.",
		}, []string{"game", "result"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exits_total",
			Help: "Escrows released by exit, cancel or expiry.",
		}, []string{"game", "reason"}),
		abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "abandoned_total",
			Help: "Games and rounds abandoned after a fairness violation.",
		}, []string{"game"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Rejected engine calls by operation and reason code.",
		}, []string{"op", "code"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Committed events handed to publishers, by type.",
		}, []string{"type"}),
		settleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "settle_duration_seconds",
			Help:    "Time spent in the unit of work that resolves a game or round.",
			Buckets: prometheus.DefBuckets,
		}, []string{"game"}),
	}
	reg.MustRegister(m.settlements, m.volume, m.fees, m.entries, m.exits, m.abandoned, m.rejections, m.published, m.settleDuration)
	return m
}

func (m *Metrics) Settled(game string, volume, fee int64, took time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(game).Inc()
	m.volume.WithLabelValues(game).Add(float64(volume))
	m.fees.WithLabelValues(game).Add(float64(fee))
	m.settleDuration.WithLabelValues(game).Observe(took.Seconds())
}

func (m *Metrics) Entered(game, result string) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(game, result).Inc()
}

func (m *Metrics) Exited(game, reason string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(game, reason).Inc()
}

func (m *Metrics) Abandoned(game string) {
	if m == nil {
		return
	}
	m.abandoned.WithLabelValues(game).Inc()
}

// Rejected counts err under op. Unclassified errors count as "internal".
func (m *Metrics) Rejected(op string, err error) {
	if m == nil || err == nil {
		return
	}
	code := string(wager.CodeOf(err))
	if code == "" {
		code = "internal"
	}
	m.rejections.WithLabelValues(op, code).Inc()
}

// Publish counts ev by type. It lets Metrics sit in an events.Fanout next to
// the real transport.
func (m *Metrics) Publish(ctx context.Context, ev models.Event) error {
	if m != nil {
		m.published.WithLabelValues(ev.Type).Inc()
	}
	return nil
}
