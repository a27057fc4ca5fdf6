package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innohassle/room-booking-backend/internal/room"
)

const settingsYAML = `
app_root_path: /room-booking
cors_allow_origin_regex: ".*innohassle\\.ru"
ttl:
  calendar: 90s
gateway:
  max_concurrency: 3
rooms:
  - id: "313"
    title: "Meeting room 313"
    short_name: "313"
    resource_email: "room313@innopolis.ru"
    capacity: 8
    access_level: yellow
  - id: "309A"
    title: "Lecture room 309A"
    resource_email: "room309a@innopolis.ru"
    capacity: 30
    access_level: special
    restrict_daytime: true
access_lists:
  "309A":
    - email: "u.user@innopolis.university"
      reason: "course instructor"
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EWS_ENDPOINT", "https://mail.innopolis.ru/EWS/Exchange.asmx")
	t.Setenv("EWS_USERNAME", "svc-booking")
	t.Setenv("EWS_PASSWORD", "secret")
	t.Setenv("ACCOUNTS_API_URL", "https://api.innohassle.ru/accounts/v0")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SETTINGS_PATH", writeSettings(t, settingsYAML))
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "/room-booking", cfg.AppRootPath)
	assert.Equal(t, "https://api.innohassle.ru/accounts/v0/.well-known/jwks.json", cfg.AccountsJWKSURL)

	// Explicit values win, defaults fill the rest.
	assert.Equal(t, 90*time.Second, cfg.TTLCalendar)
	assert.Equal(t, 60*time.Second, cfg.TTLFreeBusy)
	assert.Equal(t, 300*time.Second, cfg.TTLRecent)
	assert.Equal(t, 3, cfg.GatewayMaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.GatewayCallTimeout)

	require.Len(t, cfg.Rooms, 2)
	assert.Equal(t, room.AccessSpecial, cfg.Rooms[1].AccessLevel)
	assert.True(t, cfg.Rooms[1].RestrictDaytime)
	require.Len(t, cfg.AccessLists["309A"], 1)
	assert.Equal(t, "309A", cfg.AccessLists["309A"][0].RoomID)
}

func TestLoadRequiresExchangeCredentials(t *testing.T) {
	t.Setenv("EWS_ENDPOINT", "")
	_, err := Load()
	require.ErrorContains(t, err, "EWS_ENDPOINT")
}

func TestLoadRejectsUnknownAccessLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SETTINGS_PATH", writeSettings(t, `
rooms:
  - id: "313"
    resource_email: "room313@innopolis.ru"
    access_level: purple
`))
	_, err := Load()
	require.ErrorContains(t, err, "unknown access level")
}

func TestLoadRequiresRooms(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SETTINGS_PATH", writeSettings(t, `app_root_path: /x`))
	_, err := Load()
	require.ErrorContains(t, err, "no rooms")
}
