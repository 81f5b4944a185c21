// Package authserver implements the authorization service's HTTP surface:
// agent/user registration, the authorize/callback/token exchange, and
// revocation/introspection, as Gin handlers over the Delegation Engine.
package authserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/delegationauth/core/internal/config"
	"github.com/delegationauth/core/internal/middleware"
	"github.com/delegationauth/core/internal/oidcadapter"
	"github.com/delegationauth/core/pkg/apierr"
	"github.com/delegationauth/core/pkg/engine"
	"github.com/delegationauth/core/pkg/model"
	"github.com/delegationauth/core/pkg/store"
)

// Server holds the dependencies backing the authorization HTTP surface.
type Server struct {
	store  store.Store
	engine *engine.Engine
	oidc   *oidcadapter.Adapter
	logger *logrus.Logger
	cfg    config.Config
}

// New constructs a Server. oidc may be nil when cfg.OIDCEnabled() is false.
func New(st store.Store, eng *engine.Engine, oidc *oidcadapter.Adapter, logger *logrus.Logger, cfg config.Config) *Server {
	return &Server{store: st, engine: eng, oidc: oidc, logger: logger, cfg: cfg}
}

// NewRouter builds the Gin engine serving the authorization surface.
func (s *Server) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))
	router.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))

	corsConfig := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = s.cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.Health)
	router.POST("/register", s.RegisterAgent)
	router.POST("/register_user", s.RegisterUser)
	router.GET("/authorize", s.Authorize)
	router.GET("/callback", s.Callback)
	router.POST("/token", s.Token)
	router.POST("/revoke", s.Revoke)
	router.POST("/introspect", s.Introspect)

	return router
}

// Health reports liveness.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// RegisterAgent handles POST /register.
func (s *Server) RegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "malformed request body").WithCause(err))
		return
	}
	if req.Name == "" {
		respondError(c, s.logger, apierr.New(apierr.Validation, "name is required"))
		return
	}
	id := req.ID
	if id == "" {
		id = "agent-" + uuid.New().String()
	}

	agent, err := s.store.CreateAgent(model.Agent{
		ID:            id,
		Name:          req.Name,
		Description:   req.Description,
		AllowedScopes: req.Scopes,
		Status:        model.AgentActive,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Conflict, "agent already registered").WithCause(err))
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// RegisterUser handles POST /register_user.
func (s *Server) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "username and secret are required").WithCause(err))
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Internal, "failed to hash secret").WithCause(err))
		return
	}

	user, err := s.store.CreateUser(model.User{
		Username:  req.Username,
		Secret:    string(hashed),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Conflict, "user already registered").WithCause(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": user.Username, "created_at": user.CreatedAt})
}

// Authorize handles GET /authorize. When an IdP is configured, it redirects
// there; otherwise it creates and immediately approves a delegation,
// returning the signed delegation token.
func (s *Server) Authorize(c *gin.Context) {
	agentID := c.Query("client_id")
	userID := c.Query("user")
	scope := splitScope(c.Query("scope"))
	codeChallenge := c.Query("code_challenge")
	codeChallengeMethod := model.PKCEMethod(c.DefaultQuery("code_challenge_method", string(model.PKCES256)))

	if s.cfg.OIDCEnabled() {
		if _, err := s.store.GetAgent(agentID); err != nil {
			respondError(c, s.logger, apierr.New(apierr.AuthUnknownAgent, "agent not registered").WithCause(err))
			return
		}
		url, err := s.oidc.AuthCodeURL(oidcadapter.StatePayload{
			AgentID:             agentID,
			Scope:               scope,
			CodeChallenge:       codeChallenge,
			CodeChallengeMethod: codeChallengeMethod,
		})
		if err != nil {
			respondError(c, s.logger, apierr.New(apierr.Internal, "failed to build IdP redirect").WithCause(err))
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}

	if _, err := s.store.GetUser(userID); err != nil {
		respondError(c, s.logger, apierr.New(apierr.AuthUnknownUser, "user not registered").WithCause(err))
		return
	}
	if userSecret := c.Query("user_secret"); userSecret != "" {
		valid, err := s.store.ValidateUser(userID, userSecret)
		if err != nil || !valid {
			respondError(c, s.logger, apierr.New(apierr.AuthUnknownUser, "invalid user credentials").WithCause(err))
			return
		}
	}

	d, err := s.engine.CreateDelegation(c.Request.Context(), engine.CreateRequest{
		AgentID:             agentID,
		UserID:              userID,
		Scopes:              scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	approved, err := s.engine.Approve(c.Request.Context(), d.ID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, delegationTokenResponse{DelegationToken: approved.DelegationToken})
}

// Callback handles GET /callback: the IdP redirect target that exchanges
// the authorization code for an id token and mints the delegation token.
func (s *Server) Callback(c *gin.Context) {
	if !s.cfg.OIDCEnabled() {
		respondError(c, s.logger, apierr.New(apierr.Validation, "OIDC is not configured"))
		return
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		respondError(c, s.logger, apierr.New(apierr.Validation, "missing code or state"))
		return
	}

	subject, payload, err := s.oidc.Exchange(c.Request.Context(), code, state)
	if err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "invalid callback").WithCause(err))
		return
	}

	d, err := s.engine.CreateDelegation(c.Request.Context(), engine.CreateRequest{
		AgentID:             payload.AgentID,
		UserID:              subject,
		Scopes:              payload.Scope,
		CodeChallenge:       payload.CodeChallenge,
		CodeChallengeMethod: payload.CodeChallengeMethod,
	})
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	approved, err := s.engine.Approve(c.Request.Context(), d.ID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, delegationTokenResponse{DelegationToken: approved.DelegationToken})
}

// Token handles POST /token: delegation-token exchange for an access token.
func (s *Server) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "delegation_token is required").WithCause(err))
		return
	}

	_, accessToken, err := s.engine.MintAccess(c.Request.Context(), req.DelegationToken, req.CodeVerifier)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
	})
}

// Revoke handles POST /revoke. Always succeeds.
func (s *Server) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "token is required").WithCause(err))
		return
	}
	s.engine.RevokeToken(c.Request.Context(), req.Token)
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Introspect handles POST /introspect.
func (s *Server) Introspect(c *gin.Context) {
	var req introspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, apierr.New(apierr.Validation, "token is required").WithCause(err))
		return
	}

	result := s.engine.Introspect(c.Request.Context(), req.Token)
	c.JSON(http.StatusOK, introspectResponse{
		Active:       result.Active,
		Subject:      result.Subject,
		Actor:        result.Actor,
		Scope:        result.Scope,
		DelegationID: result.DelegationID,
	})
}

func splitScope(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
