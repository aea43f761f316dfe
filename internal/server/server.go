package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/config"
	"github.com/smallbiznis/reservio/internal/identity"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	"github.com/smallbiznis/reservio/internal/identity/session"
	"github.com/smallbiznis/reservio/internal/idempotency"
	"github.com/smallbiznis/reservio/internal/invite"
	inviteservice "github.com/smallbiznis/reservio/internal/invite/service"
	"github.com/smallbiznis/reservio/internal/observability"
	obslogger "github.com/smallbiznis/reservio/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reservio/internal/observability/metrics"
	obstracing "github.com/smallbiznis/reservio/internal/observability/tracing"
	"github.com/smallbiznis/reservio/internal/otp"
	"github.com/smallbiznis/reservio/internal/pending"
	"github.com/smallbiznis/reservio/internal/providers/email"
	"github.com/smallbiznis/reservio/internal/saga"
	"github.com/smallbiznis/reservio/internal/signup"
	signupdomain "github.com/smallbiznis/reservio/internal/signup/domain"
	"github.com/smallbiznis/reservio/internal/team"
	"github.com/smallbiznis/reservio/internal/tenant"
	tenantservice "github.com/smallbiznis/reservio/internal/tenant/service"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	observability.Module,
	identity.Module,
	session.Module,
	email.Module,
	otp.Module,
	pending.Module,
	tenant.Module,
	saga.Module,
	idempotency.Module,
	team.Module,
	invite.Module,
	signup.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", httpMetrics.Handler())

	return r
}

func RunHTTP(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	gateway   identitydomain.Gateway
	sessions  *session.Manager
	pendings  *pending.CookieManager
	signupsvc signupdomain.Service
	invitesvc *inviteservice.Service
	tenantsvc *tenantservice.Service
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Gateway   identitydomain.Gateway
	Sessions  *session.Manager
	Pendings  *pending.CookieManager
	SignupSvc signupdomain.Service
	InviteSvc *inviteservice.Service
	TenantSvc *tenantservice.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		gateway:   p.Gateway,
		sessions:  p.Sessions,
		pendings:  p.Pendings,
		signupsvc: p.SignupSvc,
		invitesvc: p.InviteSvc,
		tenantsvc: p.TenantSvc,
	}

	svc.registerAuthRoutes()
	svc.registerInviteRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/api/auth")

	signup := auth.Group("/signup")
	{
		signup.POST("/begin", s.SignupBegin)
		signup.POST("/verify", s.SignupVerify)
		signup.GET("/pending", s.SignupPending)
		signup.POST("/complete", s.SignupComplete)
	}

	auth.POST("/otp/resend", s.ResendCode)

	auth.POST("/login", s.Login)
	auth.POST("/login/verify", s.LoginVerify)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)

	auth.GET("/oauth/:provider", s.OAuthLogin)
}

func (s *Server) registerInviteRoutes() {
	invites := s.engine.Group("/api/invites")

	invites.POST("", s.AuthRequired(), s.CreateInvite)
	invites.GET("", s.AuthRequired(), s.ListInvites)
	invites.DELETE("/:token", s.AuthRequired(), s.RevokeInvite)
	invites.POST("/accept", s.AcceptInvite)

	s.engine.GET("/api/members", s.AuthRequired(), s.ListMembers)
}
