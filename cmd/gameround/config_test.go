package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinframe/gameround/internal/history"
)

func TestLoadSimulationConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadSimulationConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(25), cfg.Machine.DenomCents)
	assert.Equal(t, 100, cfg.Policy.MaxHistoryEntries)

	cfg, err = LoadSimulationConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)
	assert.Equal(t, uint64(40), cfg.Machine.Wager)
}

func TestLoadSimulationConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profile.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
machine {
  denom_cents = 100
  wager       = 5
}

policy {
  max_history_entries = 10
  game_end_delay_ms   = 1500
  keep_failed_outcomes = true
}
`), 0o644))

	cfg, err := LoadSimulationConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(100), cfg.Machine.DenomCents)
	assert.Equal(t, uint64(5), cfg.Machine.Wager)
	assert.Equal(t, 10, cfg.Policy.MaxHistoryEntries)
	assert.True(t, cfg.Policy.KeepFailedOutcomes)
	assert.Equal(t, 1500*time.Millisecond, cfg.GameEndDelay())

	// Unset fields fall back to defaults.
	assert.Equal(t, "main", cfg.Machine.WagerCategory)
	assert.Equal(t, "$", cfg.Policy.CurrencySymbol)
}

func TestSimulationConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*SimulationConfig)
	}{
		{"zero wager", func(c *SimulationConfig) { c.Machine.Wager = 0 }},
		{"credits below wager", func(c *SimulationConfig) { c.Machine.OpeningCredit = 1 }},
		{"empty history ring", func(c *SimulationConfig) { c.Policy.MaxHistoryEntries = 0 }},
		{"negative delay", func(c *SimulationConfig) { c.Policy.GameEndDelayMs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultSimulationConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWinFromOutcomes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0), winFromOutcomes(nil))
	assert.Equal(t, uint64(120), winFromOutcomes([]history.Outcome{
		{ID: 1, Kind: "win", Value: 100},
		{ID: 2, Kind: "win", Value: -30},
		{ID: 3, Kind: "win", Value: 20},
	}))
}

func TestRTPFormatting(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "n/a", rtp(0, 0))
	assert.Equal(t, "95.0%", rtp(1000, 950))
	assert.Equal(t, "33.3%", rtp(3, 1))
}
