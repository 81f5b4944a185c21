package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": RequestIDFrom(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-supplied-id", rec.Body.String())
}

func TestRateLimitRejectsOverRate(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		return r
	}

	first := httptest.NewRecorder()
	router.ServeHTTP(first, req())
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, req())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitTracksClientsIndependently(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	reqFor := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.RemoteAddr = ip + ":1234"
		return r
	}

	first := httptest.NewRecorder()
	router.ServeHTTP(first, reqFor("10.0.0.1"))
	require.Equal(t, http.StatusOK, first.Code)

	other := httptest.NewRecorder()
	router.ServeHTTP(other, reqFor("10.0.0.2"))
	assert.Equal(t, http.StatusOK, other.Code)
}
