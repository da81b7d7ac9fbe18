// Package status inspects the provisioning journal.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/model"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Journal journal.Repository
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Journal == nil {
		return fmt.Errorf("journal repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})
	return nil
}

// Service handles journal inspection business logic.
type Service struct {
	journal journal.Repository
	logger  log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		journal: cfg.Journal,
		logger:  cfg.Logger,
	}, nil
}

// Status is the current provisioning status.
type Status struct {
	Entries []journal.Entry
	// StorageState is the last storage state reached, empty when the storage
	// sequence never started.
	StorageState model.StorageState
}

// Status returns the journaled step outcomes and the last storage state.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	entries, err := s.journal.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list journal entries: %w", err)
	}

	state, err := s.journal.LastState(ctx)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not get last storage state: %w", err)
	}

	return &Status{
		Entries:      entries,
		StorageState: state,
	}, nil
}
