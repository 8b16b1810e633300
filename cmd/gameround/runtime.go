package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/spinframe/gameround/internal/bank"
	"github.com/spinframe/gameround/internal/events"
	"github.com/spinframe/gameround/internal/history"
	"github.com/spinframe/gameround/internal/ids"
	"github.com/spinframe/gameround/internal/outcome"
	"github.com/spinframe/gameround/internal/properties"
	"github.com/spinframe/gameround/internal/round"
	"github.com/spinframe/gameround/internal/storage"
)

// machineStack is the full round-control wiring over one store. The
// simulate and monitor commands build it the same way; only the drivers
// on top differ.
type machineStack struct {
	logger   *log.Logger
	config   *SimulationConfig
	store    storage.Store
	bus      *events.SimpleBus
	props    properties.Store
	bank     *bank.MemBank
	ledger   *history.Ledger
	registry *outcome.Registry
	machine  *round.Machine
}

// buildStack opens the store (in-memory when storePath is empty) and
// wires ledger, registry and machine on top of it.
func buildStack(logger *log.Logger, cfg *SimulationConfig, storePath string) (*machineStack, error) {
	var store storage.Store
	if storePath == "" {
		store = storage.NewMemStore()
	} else {
		ss, err := storage.OpenSqlite(storePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = ss
	}

	provider, err := ids.NewStoreProvider(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open id provider: %w", err)
	}

	props := properties.NewMemStore(cfg.PropertySeed())
	bus := events.NewBus()
	wallet := bank.NewMemBank(logger, cfg.Machine.OpeningCredit)
	clock := quartz.NewReal()

	ledger, err := history.NewLedger(logger, store, provider, wallet, props, clock)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open round ledger: %w", err)
	}
	registry, err := outcome.NewRegistry(logger, store, provider, props, clock, bus, ledger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open outcome registry: %w", err)
	}

	machine := round.NewMachine(logger, round.Config{
		GameID:        cfg.Machine.GameID,
		Denom:         cfg.Machine.DenomCents,
		WagerCategory: cfg.Machine.WagerCategory,
		TemplateID:    cfg.Machine.TemplateID,
	}, ledger, registry, bus, props, clock)

	return &machineStack{
		logger:   logger,
		config:   cfg,
		store:    store,
		bus:      bus,
		props:    props,
		bank:     wallet,
		ledger:   ledger,
		registry: registry,
		machine:  machine,
	}, nil
}

// Close abandons outstanding work and releases the store.
func (s *machineStack) Close() {
	s.machine.ProcessExited()
	if err := s.store.Close(); err != nil {
		s.logger.Error("close store", "error", err)
	}
}
