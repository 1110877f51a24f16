package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_BASE_URL", "https://api.example.com/")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "8080")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg := LoadConfig()

	assert.Equal(t, "https://api.example.com", cfg.BackendBaseURL)
	assert.Equal(t, cfg.BackendBaseURL, cfg.RendererBaseURL)
	assert.Equal(t, 700*time.Millisecond, cfg.BankLookupDebounce)
	assert.Equal(t, 400*time.Millisecond, cfg.P2PLookupDebounce)
	assert.Equal(t, 2*time.Minute, cfg.NotificationPollInterval)
	assert.Equal(t, 100, cfg.NarrationMaxLength)
	assert.Equal(t, 10, cfg.LedgerPageSize)
	assert.Equal(t, "wallet_events", cfg.WalletEventsChannel)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BANK_LOOKUP_DEBOUNCE", "1s")
	t.Setenv("LEDGER_PAGE_SIZE", "25")
	t.Setenv("RENDERER_BASE_URL", "https://render.example.com")

	cfg := LoadConfig()

	assert.Equal(t, time.Second, cfg.BankLookupDebounce)
	assert.Equal(t, 25, cfg.LedgerPageSize)
	assert.Equal(t, "https://render.example.com", cfg.RendererBaseURL)
}

func TestLoadConfig_PanicsOnMissingRequired(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "8080")

	assert.PanicsWithValue(t, "BACKEND_BASE_URL is required", func() { LoadConfig() })
}

func TestLoadConfig_PanicsOnBadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("P2P_LOOKUP_DEBOUNCE", "soon")

	assert.Panics(t, func() { LoadConfig() })
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	cfg := Config{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, cfg.Location())
}
