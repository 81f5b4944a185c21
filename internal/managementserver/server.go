// Package managementserver implements the operator-facing REST surface:
// agent and delegation inventory, token revocation, system status, the
// activity log, and Prometheus metrics. Unlike the authorization and
// resource surfaces it is not part of the delegation protocol itself —
// it exists so an operator (or an approval workflow) can act on a
// delegation the authorization surface only ever auto-approves.
package managementserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/delegationauth/core/internal/middleware"
	"github.com/delegationauth/core/pkg/apierr"
	"github.com/delegationauth/core/pkg/engine"
	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/store"
)

// Server holds the dependencies backing the management HTTP surface.
type Server struct {
	store     store.Store
	engine    *engine.Engine
	logger    *logrus.Logger
	startedAt time.Time
}

// New constructs a Server.
func New(st store.Store, eng *engine.Engine, logger *logrus.Logger) *Server {
	return &Server{store: st, engine: eng, logger: logger, startedAt: time.Now().UTC()}
}

// NewRouter builds the Gin engine serving the management surface.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		agents := api.Group("/agents")
		agents.GET("", s.ListAgents)
		agents.GET("/:id", s.GetAgent)
		agents.PATCH("/:id", s.UpdateAgent)
		agents.DELETE("/:id", s.DeleteAgent)

		delegations := api.Group("/delegations")
		delegations.GET("", s.ListDelegations)
		delegations.GET("/:id", s.GetDelegation)
		delegations.POST("/:id/deny", s.DenyDelegation)
		delegations.POST("/:id/revoke", s.RevokeDelegation)

		tokens := api.Group("/tokens")
		tokens.POST("/:token/revoke", s.RevokeToken)

		api.GET("/status", s.Status)
		api.GET("/logs", s.Logs)
	}

	return router
}

// ListAgents handles GET /api/agents, optionally filtered by ?status=.
func (s *Server) ListAgents(c *gin.Context) {
	filter := store.AgentFilter{
		Status: model.AgentStatus(c.Query("status")),
		Search: c.Query("search"),
	}
	agents, err := s.store.ListAgents(filter)
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Internal, "failed to list agents").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// GetAgent handles GET /api/agents/:id.
func (s *Server) GetAgent(c *gin.Context) {
	agent, err := s.store.GetAgent(c.Param("id"))
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.NotFound, "agent not found").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, agent)
}

// updateAgentRequest carries the mutable subset of Agent fields an
// operator may change; omitted fields are left unchanged.
type updateAgentRequest struct {
	Name          *string            `json:"name"`
	Description   *string            `json:"description"`
	AllowedScopes *[]string          `json:"allowed_scopes"`
	Status        *model.AgentStatus `json:"status"`
}

// UpdateAgent handles PATCH /api/agents/:id.
func (s *Server) UpdateAgent(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "malformed request body").WithCause(err))
		return
	}
	if req.Status != nil && !req.Status.IsValid() {
		respondError(c, s.logger, apierr.New(apierr.Validation, "invalid agent status"))
		return
	}

	agent, err := s.store.UpdateAgent(c.Param("id"), store.AgentUpdate{
		Name:          req.Name,
		Description:   req.Description,
		AllowedScopes: req.AllowedScopes,
		Status:        req.Status,
	})
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.NotFound, "agent not found").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/agents/:id. Cascades to revoke the
// agent's pending and approved delegations (enforced by the store).
func (s *Server) DeleteAgent(c *gin.Context) {
	if err := s.store.DeleteAgent(c.Param("id")); err != nil {
		respondError(c, s.logger, apierr.New(apierr.NotFound, "agent not found").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListDelegations handles GET /api/delegations, optionally filtered by
// ?status=, ?agent_id=, ?user_id=.
func (s *Server) ListDelegations(c *gin.Context) {
	filter := store.DelegationFilter{
		Status:  model.DelegationStatus(c.Query("status")),
		AgentID: c.Query("agent_id"),
		UserID:  c.Query("user_id"),
	}
	delegations, err := s.store.ListDelegations(filter)
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Internal, "failed to list delegations").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"delegations": delegations})
}

// GetDelegation handles GET /api/delegations/:id.
func (s *Server) GetDelegation(c *gin.Context) {
	d, err := s.store.GetDelegation(c.Param("id"))
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.NotFound, "delegation not found").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, d)
}

// DenyDelegation handles POST /api/delegations/:id/deny.
func (s *Server) DenyDelegation(c *gin.Context) {
	d, err := s.engine.Deny(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// RevokeDelegation handles POST /api/delegations/:id/revoke.
func (s *Server) RevokeDelegation(c *gin.Context) {
	d, err := s.engine.RevokeDelegation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// RevokeToken handles POST /api/tokens/:token/revoke. Always succeeds.
func (s *Server) RevokeToken(c *gin.Context) {
	s.engine.RevokeToken(c.Request.Context(), c.Param("token"))
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Status handles GET /api/status: a lightweight operator snapshot.
func (s *Server) Status(c *gin.Context) {
	agents, _ := s.store.ListAgents(store.AgentFilter{})
	delegations, _ := s.store.ListDelegations(store.DelegationFilter{})
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"agent_count":    len(agents),
		"delegation_count": len(delegations),
	})
}

// Logs handles GET /api/logs, optionally bounded by ?limit= (default 50).
func (s *Server) Logs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"activities": s.store.RecentActivities(limit)})
}
