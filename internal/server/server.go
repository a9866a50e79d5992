package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/helixconsole/billing/internal/audit"
	auditdomain "github.com/helixconsole/billing/internal/audit/domain"
	"github.com/helixconsole/billing/internal/clock"
	"github.com/helixconsole/billing/internal/config"
	"github.com/helixconsole/billing/internal/credits"
	"github.com/helixconsole/billing/internal/idempotency"
	"github.com/helixconsole/billing/internal/invoiceview"
	"github.com/helixconsole/billing/internal/meter"
	"github.com/helixconsole/billing/internal/observability"
	obsmiddleware "github.com/helixconsole/billing/internal/observability/logger"
	obsmetrics "github.com/helixconsole/billing/internal/observability/metrics"
	obstracing "github.com/helixconsole/billing/internal/observability/tracing"
	"github.com/helixconsole/billing/internal/organization"
	"github.com/helixconsole/billing/internal/processor"
	"github.com/helixconsole/billing/internal/reconcile"
	"github.com/helixconsole/billing/internal/subscription"
	"github.com/helixconsole/billing/internal/usage"
	"github.com/helixconsole/billing/pkg/db"
)

var Module = fx.Module("http.server",
	config.Module,
	observability.Module,
	db.Module,
	clock.Module,
	idempotency.Module,
	processor.Module,
	organization.Module,
	meter.Module,
	usage.Module,
	credits.Module,
	audit.Module,
	subscription.Module,
	invoiceview.Module,
	reconcile.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	orchestrator *reconcile.Orchestrator
	auditSvc     auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Orchestrator *reconcile.Orchestrator
	AuditSvc     auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		orchestrator: p.Orchestrator,
		auditSvc:     p.AuditSvc,
	}

	s.registerAPIRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	org := s.engine.Group("/api/v1/orgs/:org_id", OrgMiddleware(), SessionMiddleware())

	billing := org.Group("/billing")
	newBillingHandler(s.orchestrator).register(billing)

	newAuditHandler(s.auditSvc).register(org)
}
