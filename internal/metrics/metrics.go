package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swapd"

var (
	swapOnce     sync.Once
	swapRegistry *SwapMetrics

	httpOnce     sync.Once
	httpRegistry *HTTPMetrics

	indexerOnce     sync.Once
	indexerRegistry *IndexerMetrics
)

// SwapMetrics tracks engine outcomes.
type SwapMetrics struct {
	swaps          *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	previews       *prometheus.CounterVec
	publishFailure prometheus.Counter
}

// Swap returns the lazily registered engine metrics.
func Swap() *SwapMetrics {
	swapOnce.Do(func() {
		swapRegistry = &SwapMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "swaps_total",
				Help:      "Swap attempts segmented by outcome and error code.",
			}, []string{"outcome", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "swap_duration_seconds",
				Help:      "Latency of swap validation and settlement.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			previews: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "previews_total",
				Help:      "Quote previews segmented by outcome.",
			}, []string{"outcome"}),
			publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "publish_failures_total",
				Help:      "Swap records that could not be handed to listeners.",
			}),
		}
		prometheus.MustRegister(
			swapRegistry.swaps,
			swapRegistry.latency,
			swapRegistry.previews,
			swapRegistry.publishFailure,
		)
	})
	return swapRegistry
}

// ObserveSwap records one swap attempt. code is 0 on success.
func (m *SwapMetrics) ObserveSwap(code uint32, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
	}
	m.swaps.WithLabelValues(outcome, strconv.FormatUint(uint64(code), 10)).Inc()
	m.latency.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *SwapMetrics) ObservePreview(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.previews.WithLabelValues(outcome).Inc()
}

func (m *SwapMetrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailure.Inc()
}

// HTTPMetrics tracks API requests.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles prometheus.Counter
}

// HTTP returns the lazily registered API metrics.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route and status.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "API handler latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

func (m *HTTPMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *HTTPMetrics) Throttled() {
	if m == nil {
		return
	}
	m.throttles.Inc()
}

// IndexerMetrics tracks on-chain event indexing progress.
type IndexerMetrics struct {
	lastBlock prometheus.Gauge
	logs      *prometheus.CounterVec
}

// Indexer returns the lazily registered indexer metrics.
func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "last_block",
				Help:      "Last fully indexed block.",
			}),
			logs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indexer",
				Name:      "logs_total",
				Help:      "Pool logs processed segmented by event and outcome.",
			}, []string{"event", "outcome"}),
		}
		prometheus.MustRegister(indexerRegistry.lastBlock, indexerRegistry.logs)
	})
	return indexerRegistry
}

func (m *IndexerMetrics) SetLastBlock(block uint64) {
	if m == nil {
		return
	}
	m.lastBlock.Set(float64(block))
}

func (m *IndexerMetrics) ObserveLog(event string, ok bool) {
	if m == nil {
		return
	}
	outcome := "decoded"
	if !ok {
		outcome = "failed"
	}
	m.logs.WithLabelValues(event, outcome).Inc()
}
