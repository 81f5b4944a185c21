// Package middleware provides the Gin middleware used by the HTTP
// surfaces: structured request logging and request-id propagation (used by
// the authorization, resource, and management surfaces) and per-client
// rate limiting (used by the authorization surface).
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/delegationauth/core/pkg/apierr"
)

// Logger logs each HTTP request as a structured logrus entry.
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.WithFields(logrus.Fields{
			"client_ip":   param.ClientIP,
			"timestamp":   param.TimeStamp.Format(time.RFC3339),
			"method":      param.Method,
			"path":        param.Path,
			"status_code": param.StatusCode,
			"latency":     param.Latency,
			"user_agent":  param.Request.UserAgent(),
			"error":       param.ErrorMessage,
		}).Info("http request")
		return ""
	})
}

// RequestID attaches a correlation id to the request and response, reusing
// an inbound X-Request-ID header when the caller supplies one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("RequestID", requestID)
		c.Next()
	}
}

// RequestIDFrom extracts the request id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	id, _ := c.Get("RequestID")
	s, _ := id.(string)
	return s
}

// perClientLimiter buckets token-bucket limiters by client IP, matching
// rate_limit_per_minute with a burst equal to the per-minute rate.
type perClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

// RateLimit builds a Gin middleware enforcing ratePerMinute requests per
// minute per client IP.
func RateLimit(ratePerMinute int) gin.HandlerFunc {
	if ratePerMinute <= 0 {
		ratePerMinute = 120
	}
	pc := &perClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   ratePerMinute,
	}
	return func(c *gin.Context) {
		if !pc.allow(c.ClientIP()) {
			body := apierr.New(apierr.Validation, "rate limit exceeded").ToBody()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
			return
		}
		c.Next()
	}
}

func (pc *perClientLimiter) allow(clientID string) bool {
	pc.mu.Lock()
	limiter, ok := pc.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(pc.perMin)/60.0), pc.perMin)
		pc.limiters[clientID] = limiter
	}
	pc.mu.Unlock()
	return limiter.Allow()
}
