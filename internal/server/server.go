package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tribes-rights-management/tribesportal/internal/access"
	"github.com/tribes-rights-management/tribesportal/internal/activetenant"
	activetenantdomain "github.com/tribes-rights-management/tribesportal/internal/activetenant/domain"
	"github.com/tribes-rights-management/tribesportal/internal/audit"
	auditdomain "github.com/tribes-rights-management/tribesportal/internal/audit/domain"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	"github.com/tribes-rights-management/tribesportal/internal/escalation"
	escalationdomain "github.com/tribes-rights-management/tribesportal/internal/escalation/domain"
	"github.com/tribes-rights-management/tribesportal/internal/identity"
	identitydomain "github.com/tribes-rights-management/tribesportal/internal/identity/domain"
	"github.com/tribes-rights-management/tribesportal/internal/identity/session"
	"github.com/tribes-rights-management/tribesportal/internal/notification"
	notificationdomain "github.com/tribes-rights-management/tribesportal/internal/notification/domain"
	obsmetrics "github.com/tribes-rights-management/tribesportal/internal/observability/metrics"
	"github.com/tribes-rights-management/tribesportal/internal/providers/email"
	"github.com/tribes-rights-management/tribesportal/internal/sessionwatch"
	"github.com/tribes-rights-management/tribesportal/internal/tenant"
	tenantdomain "github.com/tribes-rights-management/tribesportal/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	identity.Module,
	session.Module,
	email.Module,
	tenant.Module,
	activetenant.Module,
	notification.Module,
	escalation.Module,
	sessionwatch.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(obsmetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
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
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger

	sessions *session.Manager
	genID    *snowflake.Node
	watch    *sessionwatch.Watcher

	identitySvc     identitydomain.Service
	activeTenantSvc activetenantdomain.Service
	tenantSvc       tenantdomain.Service
	notificationSvc notificationdomain.Service
	escalationSvc   escalationdomain.Service
	auditSvc        auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin *gin.Engine
	Cfg config.Config
	DB  *gorm.DB
	Log *zap.Logger

	Sessions *session.Manager
	GenID    *snowflake.Node
	Watch    *sessionwatch.Watcher

	IdentitySvc     identitydomain.Service
	ActiveTenantSvc activetenantdomain.Service
	TenantSvc       tenantdomain.Service
	NotificationSvc notificationdomain.Service
	EscalationSvc   escalationdomain.Service
	AuditSvc        auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("server"),
		sessions:        p.Sessions,
		genID:           p.GenID,
		watch:           p.Watch,
		identitySvc:     p.IdentitySvc,
		activeTenantSvc: p.ActiveTenantSvc,
		tenantSvc:       p.TenantSvc,
		notificationSvc: p.NotificationSvc,
		escalationSvc:   p.EscalationSvc,
		auditSvc:        p.AuditSvc,
	}

	s.registerAuthRoutes()
	s.registerPortalRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signin/start", s.StartSignIn)
	auth.POST("/signin/complete", s.CompleteSignIn)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
}

func (s *Server) registerPortalRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.AuthRequired())

	// Session-scoped routes need no tenant resolution.
	v1.POST("/session/activity", s.SessionActivity)
	v1.GET("/session/state", s.SessionState)

	v1.POST("/tenants", s.CreateTenant)
	v1.POST("/invites/:inviteId/accept", s.AcceptInvite)
	v1.PUT("/me/density", s.SetDensity)

	portal := v1.Group("")
	portal.Use(s.TenantContext())

	portal.GET("/me", s.Me)
	portal.PUT("/me/tenant/:tenantId", s.SwitchTenant)
	portal.PUT("/me/context/:context", s.SetContext)

	portal.GET("/tenant", s.RequirePermission(access.PermTenantViewMembers), s.GetActiveTenant)
	portal.GET("/tenant/members", s.RequirePermission(access.PermTenantViewMembers), s.ListMembers)
	portal.POST("/tenant/invites", s.RequirePermission(access.PermTenantManageMembers), s.InviteMembers)
	portal.DELETE("/tenant/invites/:inviteId", s.RequirePermission(access.PermTenantManageMembers), s.RevokeInvite)
	portal.PUT("/tenant/members/:userId/role", s.RequirePermission(access.PermTenantManageMembers), s.ChangeMemberRole)
	portal.PUT("/tenant/members/:userId/status", s.RequirePermission(access.PermTenantManageMembers), s.SetMemberStatus)
	portal.PUT("/tenant/members/:userId/contexts", s.RequirePermission(access.PermTenantManageMembers), s.SetMemberContexts)

	portal.GET("/notifications", s.RequirePermission(access.PermNotificationsView), s.ListNotifications)
	portal.POST("/notifications", s.RequirePermission(access.PermTenantManageSettings), s.CreateNotification)
	portal.POST("/notifications/:id/ack", s.RequirePermission(access.PermNotificationsView), s.AcknowledgeNotification)
	portal.POST("/notifications/:id/resolve", s.RequirePermission(access.PermNotificationsResolve), s.ResolveNotification)
	portal.POST("/notifications/:id/archive", s.RequirePermission(access.PermNotificationsResolve), s.ArchiveNotification)

	portal.GET("/escalations", s.RequirePermission(access.PermEscalationsView), s.ListEscalations)
	portal.POST("/escalations/:id/resolve", s.RequirePermission(access.PermEscalationsResolve), s.ResolveEscalation)

	portal.GET("/audit-logs", s.RequirePermission(access.PermPlatformViewAuditLog), s.ListAuditLogs)
}
