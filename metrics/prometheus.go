package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/saiset-co/sai-media/types"
)

// Metrics holds every collector of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetchAttempts *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	resolverCalls *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	evictedBytes  *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	plans         *prometheus.CounterVec
	cronRuns      *prometheus.CounterVec
	cronDuration  *prometheus.HistogramVec
	cacheBytes    prometheus.Gauge
	cacheFiles    prometheus.Gauge
	activePlans   prometheus.Gauge
}

func New(config *types.MetricsConfig) *Metrics {
	namespace := "sai_media"
	goMetrics := false
	if config != nil {
		if config.Namespace != "" {
			namespace = config.Namespace
		}
		goMetrics = config.GoMetrics
	}

	registry := prometheus.NewRegistry()
	if goMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: registry,
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Media fetch attempts by kind and result.",
		}, []string{"kind", "result"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes written into the cache by kind.",
		}, []string{"kind"}),
		resolverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_calls_total",
			Help:      "Upstream resolver calls by kind and result.",
		}, []string{"kind", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Files removed from the cache by reason.",
		}, []string{"reason"}),
		evictedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_bytes_total",
			Help:      "Bytes removed from the cache by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliverables handed to the sink by path and result.",
		}, []string{"path", "result"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_plans_total",
			Help:      "Finished delivery plans by final state.",
		}, []string{"state"}),
		cronRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_job_executions_total",
			Help:      "Cron job executions by job and result.",
		}, []string{"job_name", "result"}),
		cronDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_job_duration_seconds",
			Help:      "Cron job execution time.",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300},
		}, []string{"job_name"}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Current size of the media cache directory.",
		}),
		cacheFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_files",
			Help:      "Current number of files in the media cache directory.",
		}),
		activePlans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_delivery_plans",
			Help:      "Delivery plans waiting for their next item.",
		}),
	}

	registry.MustRegister(
		m.fetchAttempts,
		m.fetchBytes,
		m.resolverCalls,
		m.evictions,
		m.evictedBytes,
		m.deliveries,
		m.plans,
		m.cronRuns,
		m.cronDuration,
		m.cacheBytes,
		m.cacheFiles,
		m.activePlans,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	if m == nil {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) FetchAttempt(kind types.MediaKind, result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) FetchedBytes(kind types.MediaKind, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.fetchBytes.WithLabelValues(string(kind)).Add(float64(n))
}

func (m *Metrics) ResolverCall(kind types.MediaKind, result string) {
	if m == nil {
		return
	}
	m.resolverCalls.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) Evicted(reason string, count int, bytes int64) {
	if m == nil || count == 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(count))
	m.evictedBytes.WithLabelValues(reason).Add(float64(bytes))
}

func (m *Metrics) Delivery(path, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(path, result).Inc()
}

func (m *Metrics) PlanFinished(state types.PlanState) {
	if m == nil {
		return
	}
	m.plans.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) SetCacheUsage(files int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheFiles.Set(float64(files))
	m.cacheBytes.Set(float64(bytes))
}

func (m *Metrics) SetActivePlans(n int) {
	if m == nil {
		return
	}
	m.activePlans.Set(float64(n))
}

func (m *Metrics) CronJob(jobName, result string, seconds float64) {
	if m == nil {
		return
	}
	m.cronRuns.WithLabelValues(jobName, result).Inc()
	m.cronDuration.WithLabelValues(jobName).Observe(seconds)
}
