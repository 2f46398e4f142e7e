package handler

import (
	"github.com/feupam/feupam-checkout/internal/dto"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/middleware"
	"github.com/feupam/feupam-checkout/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers of the BFF
type Handlers struct {
	Health      *HealthHandler
	Event       *EventHandler
	Reservation *ReservationHandler
	Checkout    *CheckoutHandler
	Admin       *AdminHandler
}

// RouterConfig holds the middleware the router is built with
type RouterConfig struct {
	ServiceName  string
	AllowOrigins []string
	Log          *logger.Logger
	// Auth authenticates /api/v1 routes other than the public event reads
	Auth gin.HandlerFunc
	// Idempotency wraps payment submissions; nil disables it
	Idempotency gin.HandlerFunc
}

// NewRouter registers every route on a new gin engine
func NewRouter(h *Handlers, cfg *RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Get()
	}

	if err := dto.RegisterValidations(); err != nil {
		log.Error("failed to register validation rules", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.AllowOrigins))
	router.Use(telemetry.TracingMiddleware(cfg.ServiceName))

	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)

	v1 := router.Group("/api/v1")

	// public
	v1.GET("/events", h.Event.ListEvents)
	v1.GET("/events/:event_id", h.Event.GetEvent)

	auth := v1.Group("", cfg.Auth)
	auth.GET("/events/:event_id/installments", h.Event.GetInstallments)
	auth.GET("/users/reservations", h.Event.UserReservations)
	auth.GET("/tickets/:event_id/status", h.Event.TicketStatus)

	reservations := auth.Group("/reservations/:event_id")
	{
		reservations.GET("", h.Reservation.Get)
		reservations.POST("/process", h.Reservation.Process)
		reservations.POST("/try-again", h.Reservation.TryAgain)
		reservations.POST("/continue", h.Reservation.Continue)
	}

	checkout := auth.Group("/checkout/:event_id")
	{
		checkout.GET("", h.Checkout.Get)
		checkout.GET("/stream", h.Checkout.Stream)
		checkout.DELETE("", h.Checkout.Stop)

		payments := checkout.Group("/payments", h.Checkout.PaymentGuard())
		if cfg.Idempotency != nil {
			payments.Use(cfg.Idempotency)
		}
		payments.POST("/card", h.Checkout.PayCard)
		payments.POST("/pix", h.Checkout.PayPix)
		payments.POST("/pix-installment", h.Checkout.PayPixInstallment)
	}

	admin := auth.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/reservations-report", h.Admin.ReservationsReport)
		admin.POST("/payments/reprocess", h.Admin.ReprocessPayment)
	}

	return router
}
