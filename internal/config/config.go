package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/innohassle/room-booking-backend/internal/room"
)

const PROD_STRING = "prod"

// Config holds all application configuration. Secrets and addresses come
// from environment variables; the room table and tuning knobs come from the
// YAML settings file.
type Config struct {
	IsProduction bool
	HTTPAddr     string
	// AppRootPath prefixes every route, e.g. "/room-booking".
	AppRootPath          string
	CORSAllowOriginRegex string
	// APIKey guards the service endpoints (push callback); empty disables them.
	APIKey string

	EWSEndpoint string
	EWSUsername string
	EWSPassword string

	AccountsAPIURL       string
	AccountsJWKSURL      string
	AccountsServiceToken string

	TTLCalendar time.Duration
	TTLFreeBusy time.Duration
	TTLRecent   time.Duration

	GatewayMaxConcurrency int
	GatewayCallTimeout    time.Duration
	PushCallbackURL       string

	Rooms       []room.Room
	AccessLists map[string][]room.AccessGrant
}

// settingsFile mirrors the YAML settings schema.
type settingsFile struct {
	AppRootPath          string `mapstructure:"app_root_path"`
	CORSAllowOriginRegex string `mapstructure:"cors_allow_origin_regex"`
	TTL                  struct {
		Calendar time.Duration `mapstructure:"calendar"`
		FreeBusy time.Duration `mapstructure:"freebusy"`
		Recent   time.Duration `mapstructure:"recent"`
	} `mapstructure:"ttl"`
	Gateway struct {
		MaxConcurrency  int           `mapstructure:"max_concurrency"`
		CallTimeout     time.Duration `mapstructure:"call_timeout"`
		PushCallbackURL string        `mapstructure:"push_callback_url"`
	} `mapstructure:"gateway"`
	Rooms []struct {
		ID              string `mapstructure:"id"`
		Title           string `mapstructure:"title"`
		ShortName       string `mapstructure:"short_name"`
		ResourceEmail   string `mapstructure:"resource_email"`
		Capacity        int    `mapstructure:"capacity"`
		AccessLevel     string `mapstructure:"access_level"`
		RestrictDaytime bool   `mapstructure:"restrict_daytime"`
	} `mapstructure:"rooms"`
	AccessLists map[string][]struct {
		Email  string `mapstructure:"email"`
		Reason string `mapstructure:"reason"`
	} `mapstructure:"access_lists"`
}

// Load loads configuration from .env (optional), environment variables and
// the YAML settings file.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %v", err)
	}

	cfg := &Config{}

	// Application environment (default: dev)
	cfg.IsProduction = getEnv("APP_ENV", "dev") == PROD_STRING

	// HTTP listen address (default: :8080)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Exchange credentials are required
	cfg.EWSEndpoint = os.Getenv("EWS_ENDPOINT")
	if cfg.EWSEndpoint == "" {
		return nil, fmt.Errorf("EWS_ENDPOINT is required")
	}
	cfg.EWSUsername = os.Getenv("EWS_USERNAME")
	if cfg.EWSUsername == "" {
		return nil, fmt.Errorf("EWS_USERNAME is required")
	}
	cfg.EWSPassword = os.Getenv("EWS_PASSWORD")
	if cfg.EWSPassword == "" {
		return nil, fmt.Errorf("EWS_PASSWORD is required")
	}

	// Accounts integration is required
	cfg.AccountsAPIURL = os.Getenv("ACCOUNTS_API_URL")
	if cfg.AccountsAPIURL == "" {
		return nil, fmt.Errorf("ACCOUNTS_API_URL is required")
	}
	cfg.AccountsJWKSURL = getEnv("ACCOUNTS_JWKS_URL", cfg.AccountsAPIURL+"/.well-known/jwks.json")
	cfg.AccountsServiceToken = os.Getenv("ACCOUNTS_API_TOKEN")

	cfg.APIKey = os.Getenv("API_KEY")

	if err := loadSettings(cfg, getEnv("SETTINGS_PATH", "settings.yaml")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSettings(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("cors_allow_origin_regex", ".*")
	v.SetDefault("ttl.calendar", "60s")
	v.SetDefault("ttl.freebusy", "60s")
	v.SetDefault("ttl.recent", "300s")
	v.SetDefault("gateway.max_concurrency", 5)
	v.SetDefault("gateway.call_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings file %s: %w", path, err)
	}

	var sf settingsFile
	if err := v.Unmarshal(&sf); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	cfg.AppRootPath = sf.AppRootPath
	cfg.CORSAllowOriginRegex = sf.CORSAllowOriginRegex
	cfg.TTLCalendar = sf.TTL.Calendar
	cfg.TTLFreeBusy = sf.TTL.FreeBusy
	cfg.TTLRecent = sf.TTL.Recent
	cfg.GatewayMaxConcurrency = sf.Gateway.MaxConcurrency
	cfg.GatewayCallTimeout = sf.Gateway.CallTimeout
	cfg.PushCallbackURL = sf.Gateway.PushCallbackURL

	if len(sf.Rooms) == 0 {
		return fmt.Errorf("settings file %s defines no rooms", path)
	}
	cfg.Rooms = make([]room.Room, 0, len(sf.Rooms))
	for _, r := range sf.Rooms {
		if r.ID == "" || r.ResourceEmail == "" {
			return fmt.Errorf("room entry missing id or resource_email")
		}
		level, err := parseAccessLevel(r.AccessLevel)
		if err != nil {
			return fmt.Errorf("room %s: %w", r.ID, err)
		}
		cfg.Rooms = append(cfg.Rooms, room.Room{
			ID:              r.ID,
			Title:           r.Title,
			ShortName:       r.ShortName,
			ResourceEmail:   r.ResourceEmail,
			Capacity:        r.Capacity,
			AccessLevel:     level,
			RestrictDaytime: r.RestrictDaytime,
		})
	}

	cfg.AccessLists = make(map[string][]room.AccessGrant, len(sf.AccessLists))
	for roomID, grants := range sf.AccessLists {
		list := make([]room.AccessGrant, 0, len(grants))
		for _, g := range grants {
			list = append(list, room.AccessGrant{RoomID: roomID, Email: g.Email, Reason: g.Reason})
		}
		cfg.AccessLists[roomID] = list
	}
	return nil
}

func parseAccessLevel(s string) (room.AccessLevel, error) {
	switch room.AccessLevel(s) {
	case room.AccessYellow, room.AccessRed, room.AccessSpecial, room.AccessNone:
		return room.AccessLevel(s), nil
	case "":
		return room.AccessYellow, nil
	default:
		return "", fmt.Errorf("unknown access level %q", s)
	}
}

// getEnv returns the value of the environment variable if set,
// otherwise returns the provided default value.
func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}
