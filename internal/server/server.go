package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/didstack/backoffice/internal/config"
	"github.com/didstack/backoffice/internal/observability"
	obslogger "github.com/didstack/backoffice/internal/observability/logger"
	obstracing "github.com/didstack/backoffice/internal/observability/tracing"
	orderdomain "github.com/didstack/backoffice/internal/order/domain"
	provisioningdomain "github.com/didstack/backoffice/internal/provisioning/domain"
	usagedomain "github.com/didstack/backoffice/internal/usage/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine   *gin.Engine
	cfg      config.Config
	usagesvc usagedomain.Service
	ledger   orderdomain.Ledger
	facade   provisioningdomain.Facade
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Usagesvc usagedomain.Service
	Ledger   orderdomain.Ledger
	Facade   provisioningdomain.Facade
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		usagesvc: p.Usagesvc,
		ledger:   p.Ledger,
		facade:   p.Facade,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/usage", s.QueryUsage)
	v1.GET("/usage/daily", s.DailyUsageSummary)
	v1.GET("/usage/monthly", s.MonthlyUsageSummary)

	v1.GET("/resources", s.ListResources)
	v1.POST("/resources/:id/schedule-deletion", s.ScheduleResourceDeletion)

	v1.POST("/orders", s.CreateOrder)
	v1.GET("/orders/:id", s.GetOrder)
	v1.POST("/orders/:id/payment", s.ApplyPaymentResult)

	v1.POST("/provision", s.ProvisionUser)
}
