package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector Prometheus 指标；同时实现 compiler/cache.Observer
type Collector struct {
	http struct {
		requests *prometheus.CounterVec
		latency  *prometheus.HistogramVec
		size     *prometheus.HistogramVec
	}
	compile struct {
		total   *prometheus.CounterVec
		latency *prometheus.HistogramVec
	}
	cache struct {
		lookups   *prometheus.CounterVec
		evictions prometheus.Counter
		entries   prometheus.Gauge
	}
	gen struct {
		total   *prometheus.CounterVec
		latency *prometheus.HistogramVec
		tokens  prometheus.Counter
		loaded  prometheus.Gauge
	}
	db struct {
		conns   *prometheus.GaugeVec
		latency *prometheus.HistogramVec
	}

	logger *zap.Logger
}

// NewCollector reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	c.http.requests = counterVec("http_requests_total", "HTTP requests by method, route and status class.", "method", "path", "status")
	c.http.latency = histVec("http_request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path")
	c.http.size = histVec("http_response_size_bytes", "HTTP response body size.", prometheus.ExponentialBuckets(100, 10, 8), "method", "path")

	c.compile.total = counterVec("constraint_compilations_total", "Constraint compilations by kind and result.", "kind", "result")
	c.compile.latency = histVec("constraint_compile_duration_seconds", "Constraint compilation latency.",
		[]float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, "kind")

	c.cache.lookups = counterVec("compile_cache_lookups_total", "Compiled constraint cache lookups by result (hit, miss).", "result")
	c.cache.evictions = counter("compile_cache_evictions_total", "Oldest-first evictions from the compiled constraint cache.")
	c.cache.entries = gauge("compile_cache_entries", "Compiled constraint sets currently cached.")

	c.gen.total = counterVec("generations_total", "Generations by status, finish reason and constraint satisfaction.",
		"status", "finish_reason", "constraint_satisfied")
	c.gen.latency = histVec("generation_duration_seconds", "Generation latency.",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}, "status")
	c.gen.tokens = counter("tokens_generated_total", "Tokens emitted by the enforcement engine.")
	c.gen.loaded = gauge("model_loaded", "1 once the model is loaded.")

	c.db.conns = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_connections", Help: "Provenance database connections by state (open, idle).",
	}, []string{"database", "state"})
	c.db.latency = histVec("db_query_duration_seconds", "Provenance database query latency.",
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, "database", "operation")

	return c
}

// RecordHTTPRequest 状态码按 2xx/3xx/4xx/5xx 归类
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.http.requests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.http.latency.WithLabelValues(method, path).Observe(duration.Seconds())
	c.http.size.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordCompile 只在缓存未命中、真正编译时调用
func (c *Collector) RecordCompile(kind string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.compile.total.WithLabelValues(kind, result).Inc()
	c.compile.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordCacheHit()      { c.cache.lookups.WithLabelValues("hit").Inc() }
func (c *Collector) RecordCacheMiss()     { c.cache.lookups.WithLabelValues("miss").Inc() }
func (c *Collector) RecordCacheEviction() { c.cache.evictions.Inc() }
func (c *Collector) SetCacheSize(n int)   { c.cache.entries.Set(float64(n)) }

// RecordGeneration status 为 completed 或 failed
func (c *Collector) RecordGeneration(status, finishReason string, satisfied bool, tokens int, duration time.Duration) {
	c.gen.total.WithLabelValues(status, finishReason, strconv.FormatBool(satisfied)).Inc()
	c.gen.latency.WithLabelValues(status).Observe(duration.Seconds())
	if tokens > 0 {
		c.gen.tokens.Add(float64(tokens))
	}
}

func (c *Collector) SetModelLoaded(loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	c.gen.loaded.Set(v)
}

// RecordDBConnections 由连接池探活回调
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.db.conns.WithLabelValues(database, "open").Set(float64(open))
	c.db.conns.WithLabelValues(database, "idle").Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.db.latency.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
