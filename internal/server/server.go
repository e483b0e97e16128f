package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/handlers"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// Server is the HTTP front of the checkout service.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	handlers   *handlers.Handlers
	httpServer *http.Server
	logger     *logging.Logger
}

// New builds the router and the underlying http.Server.
func New(h *handlers.Handlers, cfg *config.Config, logger *logging.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handlers.RequestID())
	router.Use(handlers.RequestLogger(logger))
	router.Use(handlers.Metrics())
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		logger:   logger,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"authorization", "x-client-info", "apikey", "content-type"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)
	s.router.GET("/version", h.Version)
	s.router.GET("/metrics", h.Metrics)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/webhooks/mercadopago", h.MercadoPagoWebhook)
		v1.POST("/webhooks/whatsapp", h.WhatsAppWebhook)
		v1.POST("/tasks", handlers.RequireInternalToken(s.config.Tasks.InternalToken), h.CreateTask)

		authed := v1.Group("", h.RequireAuth())
		authed.POST("/orders", h.CreateOrder)
		authed.GET("/orders/:id", h.GetOrder)
		authed.GET("/orders/:id/status", h.GetOrderStatus)
		authed.POST("/payments", h.DispatchPayment)

		staff := authed.Group("/staff", handlers.RequireRole(models.StaffRoles...))
		staff.GET("/orders", h.ListStaffOrders)

		admin := authed.Group("/admin", handlers.RequireRole(models.RoleAdmin))
		admin.GET("/orders", h.ListOrders)
		admin.POST("/recover", h.RecoverSagas)
		admin.GET("/profiles", h.RateLimit(), h.ListProfiles)
		admin.GET("/customers", h.ListCustomers)
	}
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("Server listening", logging.Fields{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
