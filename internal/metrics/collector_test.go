package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CacheHit("list_keys")
		c.CacheMiss("list_keys")
		c.SetQueueDepth(3)
		c.ObserveUploadSeconds(0.5)
		c.IncUploadError()
		c.SetOpenBuffers(2)
		c.SetMemoryConsumption(1024)
	})
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	c := New()
	c.CacheHit("list_keys")
	c.SetQueueDepth(5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "b2fuse_cache_hits_total")
	assert.Contains(t, body, "b2fuse_pipeline_queue_depth 5")
}
