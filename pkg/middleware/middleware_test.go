package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payrecon.com/pkg/common"
	"payrecon.com/pkg/logger"
	"payrecon.com/pkg/metrics"
	"payrecon.com/pkg/ratelimit"
	"payrecon.com/pkg/xerr"
)

func init() { gin.SetMode(gin.TestMode) }

func requestIDRouter(seen, traced *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		*seen = common.RequestIDFromGin(c)
		*traced, _ = c.Request.Context().Value(logger.TraceIdKey).(string)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	var seen, traced string
	r := requestIDRouter(&seen, &traced)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(common.HeaderRequestID, "rid-1")
	req.Header.Set(common.HeaderCorrelationID, "corr-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-1", seen)
	assert.Equal(t, "rid-1", traced)
	assert.Equal(t, "rid-1", w.Header().Get(common.HeaderRequestID))
}

func TestRequestID_FallsBackToCorrelationID(t *testing.T) {
	var seen, traced string
	r := requestIDRouter(&seen, &traced)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(common.HeaderRequestID, strings.Repeat("a", 65))
	req.Header.Set(common.HeaderCorrelationID, "bank-notify-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "bank-notify-7", seen)
	assert.Equal(t, "bank-notify-7", w.Header().Get(common.HeaderRequestID))
}

func TestRequestID_GeneratesWhenUnusable(t *testing.T) {
	var seen, traced string
	r := requestIDRouter(&seen, &traced)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(common.HeaderRequestID, "has space")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, traced)
	assert.Equal(t, seen, w.Header().Get(common.HeaderRequestID))
}

func TestRecover(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recover())
	r.GET("/api/deposits/:id", func(c *gin.Context) { panic("boom") })

	before := testutil.ToFloat64(metrics.HTTPPanics.WithLabelValues("/api/deposits/:id"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/deposits/9", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, xerr.ServerCommonError, resp.Code)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTTPPanics.WithLabelValues("/api/deposits/:id")))
}

func TestRateLimit(t *testing.T) {
	buckets := ratelimit.NewBuckets(1, 2, time.Minute)
	r := gin.New()
	r.Use(RequestID(), RateLimit(buckets))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(metrics.HTTPThrottled.WithLabelValues("/x", "bucket"))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTTPThrottled.WithLabelValues("/x", "bucket")))
}
