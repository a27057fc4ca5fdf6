package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/accounts"
	"github.com/innohassle/room-booking-backend/internal/api"
	"github.com/innohassle/room-booking-backend/internal/booking"
	"github.com/innohassle/room-booking-backend/internal/clock"
	"github.com/innohassle/room-booking-backend/internal/config"
	"github.com/innohassle/room-booking-backend/internal/exchange"
	"github.com/innohassle/room-booking-backend/internal/room"
)

// Container holds the initialized components that are needed externally.
type Container struct {
	Router *gin.Engine
	// Watchdog is nil when no push callback URL is configured.
	Watchdog *exchange.Watchdog
}

// NewContainer initializes all modules and returns the container.
func NewContainer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Container, error) {
	// Room registry from config
	registry, err := room.NewRegistry(cfg.Rooms, cfg.AccessLists)
	if err != nil {
		return nil, fmt.Errorf("build room registry: %w", err)
	}

	// Exchange gateway, throttled
	ews := exchange.NewEWSClient(exchange.EWSConfig{
		Endpoint: cfg.EWSEndpoint,
		Username: cfg.EWSUsername,
		Password: cfg.EWSPassword,
	}, log)
	gateway := exchange.NewThrottled(ews, exchange.ThrottledConfig{
		MaxConcurrency: cfg.GatewayMaxConcurrency,
		CallTimeout:    cfg.GatewayCallTimeout,
	}, log)

	// Booking module
	bookingService := booking.NewService(registry, gateway, clock.System(), booking.Config{
		TTLCalendar: cfg.TTLCalendar,
		TTLFreeBusy: cfg.TTLFreeBusy,
		TTLRecent:   cfg.TTLRecent,
	}, log)

	// Accounts integration
	tokens, err := accounts.NewValidator(ctx, cfg.AccountsJWKSURL)
	if err != nil {
		return nil, fmt.Errorf("init accounts token validator: %w", err)
	}
	users := accounts.NewClient(accounts.ClientConfig{
		BaseURL:      cfg.AccountsAPIURL,
		ServiceToken: cfg.AccountsServiceToken,
	}, log)

	// Push subscription watchdog, only with a reachable callback URL
	var watchdog *exchange.Watchdog
	if cfg.PushCallbackURL != "" {
		watchdog = exchange.NewWatchdog(gateway, exchange.WatchdogConfig{
			CallbackURL: cfg.PushCallbackURL,
		}, clock.System(), log)
	}

	// Router
	router, err := api.NewRouter(api.Config{
		IsProduction:         cfg.IsProduction,
		RootPath:             cfg.AppRootPath,
		CORSAllowOriginRegex: cfg.CORSAllowOriginRegex,
		APIKey:               cfg.APIKey,
		BookingService:       bookingService,
		Registry:             registry,
		Users:                users,
		Tokens:               tokens,
		Watchdog:             watchdog,
		Logger:               log,
	})
	if err != nil {
		return nil, err
	}

	return &Container{
		Router:   router,
		Watchdog: watchdog,
	}, nil
}
