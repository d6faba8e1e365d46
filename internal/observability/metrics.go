package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/envutil"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

// Metrics owns a private Prometheus registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	requests       *prometheus.CounterVec
	decoderTier    *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	validation     *prometheus.CounterVec
	clientErrors   *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	quality        *prometheus.HistogramVec
	cacheEntries   prometheus.Gauge

	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge

	sloCompliance *prometheus.GaugeVec
	sloBudget     *prometheus.GaugeVec
	sloBurn       *prometheus.GaugeVec

	tallies tallies
}

// tallies mirror a few counters as plain integers so the SLO evaluator can read them back.
type tallies struct {
	attempts     atomic.Uint64
	clientErrors atomic.Uint64
	fresh        atomic.Uint64
	emergency    atomic.Uint64
	lowQuality   atomic.Uint64
}

func (t *tallies) load(c *atomic.Uint64) float64 {
	return float64(c.Load())
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Enabled reports whether METRICS_ENABLED allows metrics. Unset means enabled.
func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", true)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// Init builds the process-wide metrics unless METRICS_ENABLED turns them off, in which case it
// returns nil.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("prometheus metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds an independent metrics set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synthesis_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthesis_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_requests_total",
			Help: "Completed synthesis calls by schema, decoder tier and cache outcome.",
		}, []string{"schema", "tier", "cache"}),
		decoderTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_decoder_tier_total",
			Help: "Decoder tier that produced the items of a fresh synthesis.",
		}, []string{"tier"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_reconciliation_total",
			Help: "Items trimmed or filled by count reconciliation, and empty-validation fallbacks.",
		}, []string{"kind"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_validation_dropped_total",
			Help: "Decoded items dropped or repaired by validation, by reason.",
		}, []string{"reason"}),
		clientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synthesis_client_errors_total",
			Help: "Generation client failures by backend.",
		}, []string{"backend"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synthesis_duration_seconds",
			Help:    "End-to-end synthesis latency by schema.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"schema"}),
		quality: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synthesis_quality",
			Help:    "Distribution of coverage, coherence and progression fit.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"metric"}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthesis_cache_entries",
			Help: "Entries currently held by the result cache.",
		}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthesis_redis_up",
			Help: "1 when the cache redis answered the last ping.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synthesis_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
		sloCompliance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synthesis_slo_compliance",
			Help: "Windowed SLI per SLO.",
		}, []string{"slo", "window"}),
		sloBudget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synthesis_slo_error_budget_remaining",
			Help: "Remaining error budget per SLO.",
		}, []string{"slo", "window"}),
		sloBurn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synthesis_slo_burn_rate",
			Help: "Error budget burn rate per SLO.",
		}, []string{"slo", "window"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.requests, m.decoderTier, m.reconciliation, m.validation,
		m.clientErrors, m.duration, m.quality, m.cacheEntries,
		m.redisUp, m.redisPing,
		m.sloCompliance, m.sloBudget, m.sloBurn,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// SynthesisObservation is everything recorded about one finished Synthesize call.
type SynthesisObservation struct {
	Schema          string
	Tier            string
	CacheHit        bool
	Duration        time.Duration
	Trimmed         int
	Filled          int
	ValidationEmpty bool
	Coverage        float64
	Coherence       float64
	ProgressionFit  float64
	LowQuality      bool
}

func (m *Metrics) ObserveSynthesis(o SynthesisObservation) {
	if m == nil {
		return
	}
	cache := "miss"
	if o.CacheHit {
		cache = "hit"
	}
	m.requests.WithLabelValues(o.Schema, o.Tier, cache).Inc()
	m.duration.WithLabelValues(o.Schema).Observe(o.Duration.Seconds())
	if o.CacheHit {
		return
	}
	m.tallies.attempts.Add(1)
	m.tallies.fresh.Add(1)
	if o.Tier == "emergency_template" {
		m.tallies.emergency.Add(1)
	}
	if o.LowQuality {
		m.tallies.lowQuality.Add(1)
	}
	m.decoderTier.WithLabelValues(o.Tier).Inc()
	if o.Trimmed > 0 {
		m.reconciliation.WithLabelValues("trimmed").Add(float64(o.Trimmed))
	}
	if o.Filled > 0 {
		m.reconciliation.WithLabelValues("filled").Add(float64(o.Filled))
	}
	if o.ValidationEmpty {
		m.reconciliation.WithLabelValues("validation_empty").Inc()
	}
	m.quality.WithLabelValues("coverage").Observe(o.Coverage)
	m.quality.WithLabelValues("coherence").Observe(o.Coherence)
	m.quality.WithLabelValues("progression_fit").Observe(o.ProgressionFit)
}

// ObserveValidation records per-reason validation drop counts.
func (m *Metrics) ObserveValidation(reasons map[string]int) {
	if m == nil {
		return
	}
	for reason, n := range reasons {
		if n > 0 {
			m.validation.WithLabelValues(reason).Add(float64(n))
		}
	}
}

func (m *Metrics) IncClientError(backend string) {
	if m == nil {
		return
	}
	if backend == "" {
		backend = "unknown"
	}
	m.clientErrors.WithLabelValues(backend).Inc()
	m.tallies.attempts.Add(1)
	m.tallies.clientErrors.Add(1)
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// StartRedisCollector pings addr on the scrape interval until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
