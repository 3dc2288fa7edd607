package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zaptest.NewLogger(t)), reg
}

func TestNewCollector_DefaultRegistry(t *testing.T) {
	c := NewCollector("default_reg_test", nil, nil)
	require.NotNil(t, c)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.gen.loaded))
}

func TestRecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordHTTPRequest("POST", "/generate", 200, 100*time.Millisecond, 1024)
	c.RecordHTTPRequest("POST", "/generate", 201, 50*time.Millisecond, 512)
	c.RecordHTTPRequest("POST", "/generate", 503, 10*time.Millisecond, 64)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.http.requests.WithLabelValues("POST", "/generate", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.http.requests.WithLabelValues("POST", "/generate", "5xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.http.latency))
}

func TestCacheObserver(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordCacheEviction()
	c.SetCacheSize(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cache.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cache.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cache.evictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.cache.entries))

	c.SetCacheSize(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.cache.entries))
}

func TestRecordCompile(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordCompile("regex", nil, time.Millisecond)
	c.RecordCompile("regex", errors.New("bad"), time.Millisecond)
	c.RecordCompile("json_schema", nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.compile.total.WithLabelValues("regex", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compile.total.WithLabelValues("regex", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.compile.total.WithLabelValues("json_schema", "ok")))
}

func TestRecordGeneration(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordGeneration("completed", "eos", true, 12, time.Second)
	c.RecordGeneration("completed", "max_tokens", false, 8, time.Second)
	c.RecordGeneration("failed", "", false, 0, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.gen.total.WithLabelValues("completed", "eos", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gen.total.WithLabelValues("completed", "max_tokens", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gen.total.WithLabelValues("failed", "", "false")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.gen.tokens))

	c.SetModelLoaded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gen.loaded))
	c.SetModelLoaded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.gen.loaded))
}

func TestRecordDB(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordDBConnections("postgres", 10, 5)
	c.RecordDBQuery("postgres", "save", 10*time.Millisecond)

	assert.Equal(t, 10.0, testutil.ToFloat64(c.db.conns.WithLabelValues("postgres", "open")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.db.conns.WithLabelValues("postgres", "idle")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.db.latency))
}

func TestRegistryFamilies(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RecordCacheHit()
	c.RecordGeneration("completed", "eos", true, 1, time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"test_compile_cache_lookups_total", "test_generations_total", "test_model_loaded", "test_compile_cache_entries"} {
		assert.True(t, names[want], want)
	}
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{
		200: "2xx", 204: "2xx", 301: "3xx", 400: "4xx", 422: "4xx", 500: "5xx", 503: "5xx", 100: "unknown", 0: "unknown",
	} {
		assert.Equal(t, want, statusClass(code), code)
	}
}
