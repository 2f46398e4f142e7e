package di

import (
	"context"
	"fmt"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/handler"
	"github.com/feupam/feupam-checkout/internal/repository"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/config"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/middleware"
	pkgredis "github.com/feupam/feupam-checkout/pkg/redis"
	"github.com/feupam/feupam-checkout/pkg/retry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Container holds all dependencies of the checkout BFF
type Container struct {
	// Infrastructure
	Redis          *pkgredis.Client
	API            *client.Client
	EventPublisher service.EventPublisher

	// Repositories
	Sessions *repository.CheckoutSessionRepository

	// Services
	Checkouts    *service.CheckoutManager
	Reservations service.ReservationService
	Payments     service.PaymentService
	Events       service.EventService
	Admin        service.AdminService

	// Handlers
	Handlers *handler.Handlers
	Router   *gin.Engine
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	// Redis is required by the redis store driver
	Redis          *pkgredis.Client
	EventPublisher service.EventPublisher
	Log            *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	log := cfg.Log
	if log == nil {
		log = logger.Get()
	}

	c := &Container{
		Redis:          cfg.Redis,
		EventPublisher: cfg.EventPublisher,
	}
	if c.EventPublisher == nil {
		c.EventPublisher = service.NewNoOpEventPublisher()
	}

	api, err := client.New(&client.Config{
		BaseURL:        appCfg.Backend.BaseURL,
		DefaultTimeout: appCfg.Backend.DefaultTimeout,
		ReadTimeout:    appCfg.Backend.ReadTimeout,
		WriteTimeout:   appCfg.Backend.WriteTimeout,
		Tokens:         client.ContextTokenSource{},
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	c.API = api

	// Initialize repositories
	var store repository.SessionStore
	var idempotency middleware.IdempotencyStore
	switch appCfg.Checkout.StoreDriver {
	case "redis":
		if c.Redis == nil {
			return nil, fmt.Errorf("redis store driver requires a redis client")
		}
		store = repository.NewRedisSessionStore(c.Redis, appCfg.Checkout.SessionTTL)
		idempotency = middleware.NewRedisIdempotencyStore(c.Redis.Client())
	default:
		store = repository.NewMemorySessionStore(appCfg.Checkout.SessionTTL)
		idempotency = middleware.NewMemoryIdempotencyStore()
	}
	c.Sessions = repository.NewCheckoutSessionRepository(store)

	// Initialize services
	checkoutCfg := service.DefaultCheckoutConfig()
	checkoutCfg.Window = appCfg.Checkout.Window
	checkoutCfg.TickInterval = appCfg.Checkout.TickInterval
	checkoutCfg.SyncInterval = appCfg.Checkout.SyncInterval
	checkoutCfg.PaymentBlock = appCfg.Checkout.PaymentBlock
	checkoutCfg.CardCooldown = appCfg.Checkout.CardCooldown
	checkoutCfg.PixInstallmentCount = appCfg.Checkout.PixInstallmentCount

	c.Checkouts = service.NewCheckoutManager(c.API, c.Sessions, c.EventPublisher, checkoutCfg)
	c.Reservations = service.NewReservationService(c.API, c.Sessions, c.Checkouts, c.EventPublisher)
	c.Payments = service.NewPaymentService(c.API, c.Checkouts, c.EventPublisher)
	c.Events = service.NewEventService(c.API)
	c.Admin = service.NewAdminService(c.API, retry.DefaultConfig())

	// a finished checkout lets the user start over
	c.Checkouts.OnFinish(func(userID, eventID string, state service.CheckoutState) {
		c.Reservations.Reset(userID, eventID)
		log.Info("checkout finished",
			zap.String("user_id", userID),
			zap.String("event_id", eventID),
			zap.String("state", string(state)),
		)
	})

	// Initialize handlers
	var pinger handler.Pinger
	if c.Redis != nil {
		pinger = c.Redis
	}
	c.Handlers = &handler.Handlers{
		Health:      handler.NewHealthHandler(appCfg.App.Name, pinger, c.Checkouts.Active),
		Event:       handler.NewEventHandler(c.Events),
		Reservation: handler.NewReservationHandler(c.Reservations),
		Checkout:    handler.NewCheckoutHandler(c.Checkouts, c.Payments, nil),
		Admin:       handler.NewAdminHandler(c.Admin),
	}
	c.Router = handler.NewRouter(c.Handlers, &handler.RouterConfig{
		ServiceName:  appCfg.OTel.ServiceName,
		AllowOrigins: appCfg.Server.AllowOrigins,
		Log:          log,
		Auth: middleware.Auth(&middleware.AuthConfig{
			Secret:    appCfg.JWT.Secret,
			Issuer:    appCfg.JWT.Issuer,
			WithToken: client.WithToken,
		}),
		Idempotency: middleware.Idempotency(&middleware.IdempotencyConfig{Store: idempotency}),
	})

	return c, nil
}

// Close stops every checkout loop and flushes pending events
func (c *Container) Close(ctx context.Context) error {
	c.Checkouts.Shutdown()
	return c.EventPublisher.Close()
}
