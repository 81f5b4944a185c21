// Package resourceserver implements the protected resource surface:
// extracting the bearer token and optional DPoP proof from an inbound
// request, validating the proof, and confirming the token is active via
// introspection against the authorization service before serving data.
package resourceserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/delegationauth/core/internal/middleware"
	"github.com/delegationauth/core/pkg/apierr"
	"github.com/delegationauth/core/pkg/dpop"
)

// introspectTimeout is the independent, shorter deadline introspection
// calls use, separate from the inbound request's own deadline.
const introspectTimeout = 2 * time.Second

// Server serves the protected resource endpoint.
type Server struct {
	introspectURL string
	httpClient    *http.Client
	dpopVerifier  *dpop.Verifier // nil when DPoP is not enforced
	outboundLimit *rate.Limiter
	logger        *logrus.Logger
}

// New constructs a Server. dpopVerifier may be nil to skip DPoP enforcement.
func New(introspectURL string, dpopVerifier *dpop.Verifier, logger *logrus.Logger) *Server {
	return &Server{
		introspectURL: introspectURL,
		httpClient:    &http.Client{Timeout: introspectTimeout},
		dpopVerifier:  dpopVerifier,
		outboundLimit: rate.NewLimiter(rate.Limit(50), 50),
		logger:        logger,
	}
}

// NewRouter builds the Gin engine serving /data.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/data", s.Data)
	return router
}

type introspectResponse struct {
	Active       bool     `json:"active"`
	Subject      string   `json:"sub"`
	Actor        string   `json:"actor"`
	Scope        []string `json:"scope"`
	DelegationID string   `json:"delegation_id"`
}

// Data handles GET /data.
func (s *Server) Data(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	token, ok := bearerToken(authHeader)
	if !ok {
		respond(c, s.logger, apierr.New(apierr.Unauthorized, "missing or malformed Authorization header"))
		return
	}

	if s.dpopVerifier != nil {
		proof := c.GetHeader("DPoP")
		if proof == "" {
			respond(c, s.logger, apierr.New(apierr.DPoPInvalid, "missing DPoP header"))
			return
		}
		absoluteURL := requestURL(c)
		if err := s.dpopVerifier.Verify(proof, c.Request.Method, absoluteURL); err != nil {
			respond(c, s.logger, classifyDPoPError(err))
			return
		}
	}

	if err := s.outboundLimit.Wait(c.Request.Context()); err != nil {
		respond(c, s.logger, apierr.New(apierr.ServiceUnavailable, "introspection rate limited").WithCause(err))
		return
	}

	result, err := s.introspect(c.Request.Context(), token)
	if err != nil {
		respond(c, s.logger, apierr.New(apierr.ServiceUnavailable, "introspection unavailable").WithCause(err))
		return
	}
	if !result.Active {
		respond(c, s.logger, apierr.New(apierr.TokenInvalid, "token invalid or revoked"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":  result.Subject,
		"agent": result.Actor,
		"scope": result.Scope,
		"data":  gin.H{"resource": "sample-data", "delegation_id": result.DelegationID},
	})
}

// introspect calls the authorization service's /introspect endpoint with an
// independent deadline and a single bounded retry on transient failure.
func (s *Server) introspect(ctx context.Context, token string) (introspectResponse, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(50+rand.Intn(100)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return introspectResponse{}, ctx.Err()
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, introspectTimeout)
		result, err := s.doIntrospect(reqCtx, token)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return introspectResponse{}, lastErr
}

func (s *Server) doIntrospect(ctx context.Context, token string) (introspectResponse, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return introspectResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.introspectURL, bytes.NewReader(body))
	if err != nil {
		return introspectResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return introspectResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return introspectResponse{}, fmt.Errorf("resourceserver: introspection returned status %d", resp.StatusCode)
	}

	var out introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return introspectResponse{}, err
	}
	return out, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.Path)
}

func classifyDPoPError(err error) *apierr.Error {
	switch {
	case err == dpop.ErrReplay:
		return apierr.New(apierr.DPoPReplay, "DPoP proof replayed").WithCause(err)
	case err == dpop.ErrStale:
		return apierr.New(apierr.DPoPStale, "DPoP proof not fresh").WithCause(err)
	default:
		return apierr.New(apierr.DPoPInvalid, "invalid DPoP proof").WithCause(err)
	}
}

func respond(c *gin.Context, logger *logrus.Logger, err *apierr.Error) {
	requestID := middleware.RequestIDFrom(c)
	err = err.WithRequestID(requestID)
	entry := logger.WithFields(logrus.Fields{"request_id": requestID, "error_code": err.Code})
	if err.Cause != nil {
		entry = entry.WithError(err.Cause)
	}
	entry.Warn(err.Message)
	c.JSON(err.HTTPStatus(), err.ToBody())
}
