package api

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/innohassle/room-booking-backend/internal/accounts"
	"github.com/innohassle/room-booking-backend/internal/auth"
	"github.com/innohassle/room-booking-backend/internal/booking"
	bookingHttp "github.com/innohassle/room-booking-backend/internal/booking/http"
	"github.com/innohassle/room-booking-backend/internal/exchange"
	"github.com/innohassle/room-booking-backend/internal/room"
	roomHttp "github.com/innohassle/room-booking-backend/internal/room/http"
)

// Config holds the dependencies and settings of the HTTP router.
type Config struct {
	IsProduction bool
	// RootPath prefixes every route, e.g. "/room-booking".
	RootPath             string
	CORSAllowOriginRegex string
	APIKey               string

	BookingService booking.Service
	Registry       *room.Registry
	Users          accounts.Directory
	Tokens         accounts.TokenValidator
	// Watchdog receives push callback liveness signals; may be nil.
	Watchdog *exchange.Watchdog
	Logger   *zap.Logger
}

// NewRouter initializes the HTTP router engine.
// It is responsible for assembling middleware (CORS, logging, auth) and
// registering routes for the modules.
func NewRouter(cfg Config) (*gin.Engine, error) {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RequestID(), RequestLogger(cfg.Logger), gin.Recovery())

	// CORS: origins are matched against a configurable pattern so every
	// innohassle.ru deployment is covered by one entry.
	originRe, err := regexp.Compile(cfg.CORSAllowOriginRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid cors_allow_origin_regex: %w", err)
	}
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOriginFunc = func(origin string) bool {
		return originRe.MatchString(origin)
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key"}
	r.Use(cors.New(corsCfg))

	// authMiddleware: validates the Accounts token and resolves the user.
	authMiddleware := auth.AuthRequired(cfg.Tokens, cfg.Users)

	bookingHandler := bookingHttp.NewHandler(cfg.BookingService, cfg.Users)
	roomHandler := roomHttp.NewHandler(cfg.Registry)

	root := r.Group(cfg.RootPath)
	{
		root.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		root.GET("/metrics", gin.WrapH(promhttp.Handler()))

		// The Exchange push notification callback. The payload is not parsed;
		// a callback only proves the subscription is alive and nudges no
		// caches (reads are TTL-bounded anyway).
		root.POST("/webhooks/exchange", auth.APIKeyRequired(cfg.APIKey), func(c *gin.Context) {
			if cfg.Watchdog != nil {
				cfg.Watchdog.ObserveCallback()
			}
			c.Status(http.StatusOK)
		})

		bookingHttp.RegisterRoutes(root, bookingHandler, authMiddleware)
		roomHttp.RegisterRoutes(root, roomHandler, authMiddleware)
	}

	return r, nil
}
