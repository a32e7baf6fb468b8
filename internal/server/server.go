package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	artifactdomain "github.com/smallbiznis/contextswitch/internal/artifact/domain"
	authdomain "github.com/smallbiznis/contextswitch/internal/auth/domain"
	compressiondomain "github.com/smallbiznis/contextswitch/internal/compression/domain"
	"github.com/smallbiznis/contextswitch/internal/config"
	entitlementdomain "github.com/smallbiznis/contextswitch/internal/entitlement/domain"
	"github.com/smallbiznis/contextswitch/internal/notification"
	"github.com/smallbiznis/contextswitch/internal/observability"
	obsmiddleware "github.com/smallbiznis/contextswitch/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/contextswitch/internal/observability/metrics"
	obstracing "github.com/smallbiznis/contextswitch/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/contextswitch/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

// corsMiddleware admits any origin. Browser extensions call from their own
// chrome-extension:// origins, so there is no fixed allow list.
func corsMiddleware() gin.HandlerFunc {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	verifier     authdomain.Verifier
	entitlements entitlementdomain.Service
	artifacts    artifactdomain.Service
	compression  compressiondomain.Service
	payments     paymentdomain.Service
	checkout     paymentdomain.CheckoutService
	catalog      *config.CatalogHolder
	notifier     *notification.Notifier
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Verifier     authdomain.Verifier
	Entitlements entitlementdomain.Service
	Artifacts    artifactdomain.Service
	Compression  compressiondomain.Service
	Payments     paymentdomain.Service
	Checkout     paymentdomain.CheckoutService
	Catalog      *config.CatalogHolder
	Notifier     *notification.Notifier `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http"),
		verifier:     p.Verifier,
		entitlements: p.Entitlements,
		artifacts:    p.Artifacts,
		compression:  p.Compression,
		payments:     p.Payments,
		checkout:     p.Checkout,
		catalog:      p.Catalog,
		notifier:     p.Notifier,
	}

	svc.registerPublicRoutes()
	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.POST("/billing/webhooks/:provider", s.HandlePaymentWebhook)
	api.GET("/billing/plans", s.ListPlans)
	api.POST("/contact", s.Contact)
	api.POST("/contact/subscription", s.ContactSubscription)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.BearerAuthRequired())

	api.POST("/compress", s.Compress)
	api.POST("/compress/save", s.SaveContext)

	api.GET("/user/entitlement", s.GetEntitlement)
	api.GET("/user/profile", s.GetProfile)
	api.PUT("/user/profile", s.UpdateProfile)
	api.GET("/user/history", s.ListHistory)

	api.POST("/billing/checkout-session", s.CreateCheckoutSession)
	api.POST("/billing/portal-session", s.CreatePortalSession)
	api.GET("/billing/subscription", s.GetSubscriptionStatus)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.AdminRequired())

	internal.POST("/accounts", s.CreateAccount)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
