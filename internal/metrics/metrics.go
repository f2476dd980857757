// Package metrics — Prometheus-метрики сопоставления.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"material-matcher/internal/matching/model"
)

var (
	// MaterialsTotal — обработанные материалы по исходу
	MaterialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "batch",
			Name:      "materials_total",
			Help:      "Materials processed by outcome",
		},
		[]string{"status"},
	)

	MaterialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matcher",
			Subsystem: "batch",
			Name:      "material_duration_seconds",
			Help:      "Time to resolve and score one material",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	PairsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "scorer",
			Name:      "pairs_total",
			Help:      "Material/item pairs scored, cached or not",
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "scorer",
			Name:      "cache_hits_total",
			Help:      "Pair scores served from cache",
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matcher",
			Subsystem: "batch",
			Name:      "batches_total",
			Help:      "Finished batches by final state",
		},
		[]string{"state"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matcher",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch wall time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	// RunsInFlight — пакеты, запущенные через HTTP и ещё не завершённые
	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "matcher",
			Subsystem: "runs",
			Name:      "in_flight",
			Help:      "Match runs currently executing",
		},
	)
)

// Recorder пишет события оркестратора в глобальные метрики.
type Recorder struct{}

func (Recorder) MaterialDone(status string, scored, cacheHits int, dur time.Duration) {
	MaterialsTotal.WithLabelValues(status).Inc()
	MaterialDuration.Observe(dur.Seconds())
	PairsScored.Add(float64(scored))
	CacheHits.Add(float64(cacheHits))
}

func (Recorder) BatchDone(state model.BatchState, stats model.BatchStats) {
	BatchesTotal.WithLabelValues(state.String()).Inc()
	BatchDuration.Observe(stats.Elapsed.Seconds())
}

// CacheSizeFunc регистрирует gauge с текущим размером кэша оценок.
func CacheSizeFunc(reg prometheus.Registerer, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "matcher",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held in the score cache",
		},
		func() float64 { return float64(size()) },
	))
}
