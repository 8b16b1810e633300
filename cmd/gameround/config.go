package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/spinframe/gameround/internal/properties"
)

// SimulationConfig is the HCL profile for the simulate and monitor
// commands.
type SimulationConfig struct {
	Machine MachineSettings `hcl:"machine,block"`
	Policy  PolicySettings  `hcl:"policy,block"`
}

// MachineSettings describes the simulated gaming machine.
type MachineSettings struct {
	GameID        uint32 `hcl:"game_id,optional"`
	DenomCents    uint64 `hcl:"denom_cents,optional"`
	WagerCategory string `hcl:"wager_category,optional"`
	TemplateID    uint32 `hcl:"template_id,optional"`
	Wager         uint64 `hcl:"wager,optional"`
	OpeningCredit uint64 `hcl:"opening_credits,optional"`
}

// PolicySettings carries the controller policies for a run.
type PolicySettings struct {
	MaxHistoryEntries  int    `hcl:"max_history_entries,optional"`
	MaxOutcomeEntries  int    `hcl:"max_outcome_entries,optional"`
	KeepFailedOutcomes bool   `hcl:"keep_failed_outcomes,optional"`
	GameEndDelayMs     int    `hcl:"game_end_delay_ms,optional"`
	GameEndHold        bool   `hcl:"game_end_hold,optional"`
	DemonstrationMode  bool   `hcl:"demonstration_mode,optional"`
	CurrencySymbol     string `hcl:"currency_symbol,optional"`
}

// DefaultSimulationConfig returns the default simulation profile.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Machine: MachineSettings{
			GameID:        1,
			DenomCents:    25,
			WagerCategory: "main",
			TemplateID:    1,
			Wager:         40,
			OpeningCredit: 10000,
		},
		Policy: PolicySettings{
			MaxHistoryEntries: 100,
			MaxOutcomeEntries: 50,
			CurrencySymbol:    "$",
		},
	}
}

// LoadSimulationConfig loads a simulation profile from an HCL file,
// falling back to defaults when the file does not exist.
func LoadSimulationConfig(filename string) (*SimulationConfig, error) {
	if filename == "" {
		return DefaultSimulationConfig(), nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultSimulationConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config SimulationConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	defaults := DefaultSimulationConfig()
	if config.Machine.GameID == 0 {
		config.Machine.GameID = defaults.Machine.GameID
	}
	if config.Machine.DenomCents == 0 {
		config.Machine.DenomCents = defaults.Machine.DenomCents
	}
	if config.Machine.WagerCategory == "" {
		config.Machine.WagerCategory = defaults.Machine.WagerCategory
	}
	if config.Machine.TemplateID == 0 {
		config.Machine.TemplateID = defaults.Machine.TemplateID
	}
	if config.Machine.Wager == 0 {
		config.Machine.Wager = defaults.Machine.Wager
	}
	if config.Machine.OpeningCredit == 0 {
		config.Machine.OpeningCredit = defaults.Machine.OpeningCredit
	}
	if config.Policy.MaxHistoryEntries == 0 {
		config.Policy.MaxHistoryEntries = defaults.Policy.MaxHistoryEntries
	}
	if config.Policy.MaxOutcomeEntries == 0 {
		config.Policy.MaxOutcomeEntries = defaults.Policy.MaxOutcomeEntries
	}
	if config.Policy.CurrencySymbol == "" {
		config.Policy.CurrencySymbol = defaults.Policy.CurrencySymbol
	}

	return &config, nil
}

// Validate validates the simulation profile.
func (c *SimulationConfig) Validate() error {
	if c.Machine.Wager == 0 {
		return fmt.Errorf("machine wager must be positive")
	}
	if c.Machine.OpeningCredit < c.Machine.Wager {
		return fmt.Errorf("opening credits %d cannot cover a %d credit wager", c.Machine.OpeningCredit, c.Machine.Wager)
	}
	if c.Policy.MaxHistoryEntries < 1 {
		return fmt.Errorf("max history entries must be at least 1")
	}
	if c.Policy.MaxOutcomeEntries < 1 {
		return fmt.Errorf("max outcome entries must be at least 1")
	}
	if c.Policy.GameEndDelayMs < 0 {
		return fmt.Errorf("game end delay cannot be negative")
	}
	return nil
}

// GameEndDelay returns the configured game-end hold as a duration.
func (c *SimulationConfig) GameEndDelay() time.Duration {
	return time.Duration(c.Policy.GameEndDelayMs) * time.Millisecond
}

// PropertySeed converts the profile into property-store seed values.
func (c *SimulationConfig) PropertySeed() map[string]any {
	return map[string]any{
		properties.MaxHistoryEntries:  c.Policy.MaxHistoryEntries,
		properties.MaxOutcomeEntries:  c.Policy.MaxOutcomeEntries,
		properties.KeepFailedOutcomes: c.Policy.KeepFailedOutcomes,
		properties.GameEndDelay:       c.GameEndDelay(),
		properties.GameEndHold:        c.Policy.GameEndHold,
		properties.DemonstrationMode:  c.Policy.DemonstrationMode,
	}
}
