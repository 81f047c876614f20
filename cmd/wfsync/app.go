package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/config"
	"github.com/clintrovert/wfsync/internal/crm"
	"github.com/clintrovert/wfsync/internal/database"
	"github.com/clintrovert/wfsync/internal/jira"
	"github.com/clintrovert/wfsync/internal/store"
	"github.com/clintrovert/wfsync/internal/synchronizer"
	"github.com/clintrovert/wfsync/internal/workfront"
)

// app holds every long-lived dependency of the sync loop
type app struct {
	orchestrator *synchronizer.Orchestrator
	store        *store.SQLiteStore
	closers      []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ResolveSecrets(openKeyring(cfg)); err != nil {
		return nil, err
	}

	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = store.NewSQLiteStore(cfg.Sync.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	a.closers = append(a.closers, a.store)

	jiraDB, err := database.Open(ctx, cfg.Jira.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open jira db: %w", err)
	}
	a.closers = append(a.closers, jiraDB)

	crmDB, err := database.Open(ctx, cfg.CRM.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open crm db: %w", err)
	}
	a.closers = append(a.closers, crmDB)

	wf, err := workfront.NewClient(cfg.Workfront, &http.Client{Timeout: 2 * time.Minute}, logger.Named("workfront"))
	if err != nil {
		return nil, fmt.Errorf("failed to create workfront client: %w", err)
	}

	jiraClient, err := jira.NewClient(cfg.JiraClient(), logger.Named("jira"))
	if err != nil {
		return nil, err
	}

	query := jira.NewQuery(jiraDB, cfg.JiraQuery(), logger.Named("jira"))
	crmClient := crm.NewClient(crmDB, cfg.CRM.Config, logger.Named("crm"))

	a.orchestrator = synchronizer.NewOrchestrator(
		wf,
		jiraClient,
		query,
		crmClient,
		a.store,
		cfg.Synchronizer(),
		logger.Named("sync"),
	)

	return a, nil
}

// Close releases the databases in reverse order of opening
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openKeyring(cfg *config.Config) func() (keyring.Keyring, error) {
	return func() (keyring.Keyring, error) {
		return config.OpenKeyring(cfg.Keyring)
	}
}
