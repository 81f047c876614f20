// Package synchronizer runs the sync cycles that keep Workfront, Jira and
// the CRM in step.
package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/internal/jira"
	"github.com/clintrovert/wfsync/internal/merge"
	"github.com/clintrovert/wfsync/internal/opportunity"
	"github.com/clintrovert/wfsync/internal/store"
	"github.com/clintrovert/wfsync/pkg/types"
)

// Config holds the orchestrator settings
type Config struct {
	Interval       time.Duration
	DefaultVersion string
	SpecialEpics   []string
	DevTeams       map[string]string
	KeyPrefixes    map[string]string
}

// StateStore persists the watermark and the cycle history
type StateStore interface {
	gateway.WatermarkStore
	RecordCycle(ctx context.Context, c store.Cycle) error
}

// Status is a point-in-time view of the orchestrator
type Status struct {
	Running      bool      `json:"running"`
	Watermark    time.Time `json:"watermark"`
	LastCycleID  string    `json:"last_cycle_id,omitempty"`
	LastStarted  time.Time `json:"last_started"`
	LastFinished time.Time `json:"last_finished"`
	LastError    string    `json:"last_error,omitempty"`
	Cycles       int       `json:"cycles"`
	Projects     int       `json:"projects"`
	Requests     int       `json:"requests"`
}

// Orchestrator coordinates the custom field, project and request syncs
type Orchestrator struct {
	workfront  gateway.Workfront
	issues     gateway.JiraIssues
	query      gateway.JiraQuery
	crm        gateway.CRM
	store      StateStore
	allocator  *jira.Allocator
	merge      *merge.Engine
	reconciler *opportunity.Reconciler
	cfg        Config
	logger     *zap.Logger

	state   *SyncState
	trigger chan struct{}
	now     func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	workfront gateway.Workfront,
	issues gateway.JiraIssues,
	query gateway.JiraQuery,
	crm gateway.CRM,
	stateStore StateStore,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		workfront:  workfront,
		issues:     issues,
		query:      query,
		crm:        crm,
		store:      stateStore,
		allocator:  jira.NewAllocator(query, cfg.KeyPrefixes, logger),
		merge:      merge.NewEngine(workfront, issues, query, logger),
		reconciler: opportunity.NewReconciler(crm, workfront, logger),
		cfg:        cfg,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Run logs in, then runs a cycle every interval until ctx is cancelled. A
// cycle that fails at the listing level ends the loop with its error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.start(ctx); err != nil {
		return err
	}
	defer o.stop()

	for {
		// a started cycle always runs to completion
		if err := o.cycle(context.WithoutCancel(ctx)); err != nil {
			return err
		}

		timer := time.NewTimer(o.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info("stopping synchronizer")
			return nil
		case <-timer.C:
		case <-o.trigger:
			timer.Stop()
			o.logger.Info("sync requested")
		}
	}
}

// RunOnce logs in, runs a single cycle and logs out
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.start(ctx); err != nil {
		return err
	}
	defer o.stop()

	return o.cycle(context.WithoutCancel(ctx))
}

// Trigger asks a running loop to start the next cycle now. It never blocks.
func (o *Orchestrator) Trigger() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the orchestrator's progress
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) start(ctx context.Context) error {
	watermark, err := o.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}

	if err := o.workfront.Login(ctx); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	o.state = NewSyncState(watermark)

	o.mu.Lock()
	o.status.Running = true
	o.status.Watermark = watermark
	o.mu.Unlock()

	o.logger.Info("synchronizer started", zap.Time("watermark", watermark))
	return nil
}

func (o *Orchestrator) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.store.Save(ctx, o.state.Watermark); err != nil {
		o.logger.Error("failed to save watermark", zap.Error(err))
	}
	if err := o.workfront.Logout(ctx); err != nil {
		o.logger.Warn("failed to logout of workfront", zap.Error(err))
	}

	o.mu.Lock()
	o.status.Running = false
	o.mu.Unlock()
}

// cycle runs one pass of every sync step. The watermark moves to the cycle's
// start time only when every step succeeds.
func (o *Orchestrator) cycle(ctx context.Context) error {
	now := o.now().UTC().Truncate(time.Second)
	id := uuid.NewString()
	logger := o.logger.With(zap.String("cycle", id))

	o.mu.Lock()
	o.status.LastCycleID = id
	o.status.LastStarted = now
	o.mu.Unlock()

	logger.Info("starting sync cycle", zap.Time("since", o.state.Watermark))

	err := o.runSteps(ctx, logger, now)
	if err == nil {
		if serr := o.store.Save(ctx, now); serr != nil {
			err = fmt.Errorf("failed to save watermark: %w", serr)
		} else {
			o.state.Watermark = now
		}
	}

	finished := o.now().UTC()
	record := store.Cycle{
		ID:         id,
		StartedAt:  now,
		FinishedAt: finished,
		Projects:   len(o.state.Projects),
		Requests:   len(o.state.Requests),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if rerr := o.store.RecordCycle(ctx, record); rerr != nil {
		logger.Warn("failed to record cycle", zap.Error(rerr))
	}

	o.mu.Lock()
	o.status.Cycles++
	o.status.LastFinished = finished
	o.status.Watermark = o.state.Watermark
	o.status.Projects = record.Projects
	o.status.Requests = record.Requests
	o.status.LastError = record.Error
	o.mu.Unlock()

	if err != nil {
		logger.Error("sync cycle failed", zap.Error(err))
		return err
	}

	logger.Info("finished sync cycle",
		zap.Duration("elapsed", finished.Sub(now)),
		zap.Int("projects", record.Projects),
		zap.Int("requests", record.Requests),
	)
	return nil
}

func (o *Orchestrator) runSteps(ctx context.Context, logger *zap.Logger, now time.Time) error {
	if err := o.syncCustomFields(ctx, logger); err != nil {
		return err
	}
	if err := o.syncProjects(ctx, logger, now); err != nil {
		return err
	}
	return o.syncRequests(ctx, logger, now)
}

// syncCustomFields mirrors CRM opportunities and accounts and Jira pilot
// agencies into the Workfront picklists
func (o *Orchestrator) syncCustomFields(ctx context.Context, logger *zap.Logger) error {
	since := o.state.Watermark

	closed, err := o.crm.ClosedOpportunities(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list closed opportunities: %w", err)
	}
	if len(closed) > 0 {
		if err := o.workfront.RemoveOpportunities(ctx, closed); skipPicklist(logger, "opportunities", err) != nil {
			return fmt.Errorf("failed to remove closed opportunities: %w", err)
		}
	}

	open, err := o.crm.OpenOpportunities(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list new opportunities: %w", err)
	}
	if len(open) > 0 {
		if err := o.workfront.AddOpportunities(ctx, open); skipPicklist(logger, "opportunities", err) != nil {
			return fmt.Errorf("failed to add opportunities: %w", err)
		}
	}

	accounts, err := o.crm.NewAccounts(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list new accounts: %w", err)
	}
	if len(accounts) > 0 {
		if err := o.workfront.AddAccounts(ctx, accounts); skipPicklist(logger, "accounts", err) != nil {
			return fmt.Errorf("failed to add accounts: %w", err)
		}
	}

	added, err := o.syncPilotAgencies(ctx, logger)
	if err != nil {
		return err
	}

	logger.Debug("synced custom fields",
		zap.Int("closed_opportunities", len(closed)),
		zap.Int("new_opportunities", len(open)),
		zap.Int("new_accounts", len(accounts)),
		zap.Int("new_pilot_agencies", added),
	)
	return nil
}

func (o *Orchestrator) syncPilotAgencies(ctx context.Context, logger *zap.Logger) (int, error) {
	if o.state.PilotAgencies == nil {
		existing, err := o.workfront.PilotAgencies(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list workfront pilot agencies: %w", err)
		}
		o.state.PilotAgencies = make(map[string]string, len(existing))
		for k, v := range existing {
			o.state.PilotAgencies[k] = v
		}
	}

	agencies, err := o.query.PilotAgencies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list jira pilot agencies: %w", err)
	}

	missing := o.state.MissingPilotAgencies(agencies)
	if len(missing) == 0 {
		return 0, nil
	}

	if err := o.workfront.AddPilotAgencies(ctx, missing); err != nil {
		if skipPicklist(logger, "pilot agencies", err) == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to add pilot agencies: %w", err)
	}
	o.state.CachePilotAgencies(missing)

	return len(missing), nil
}

// skipPicklist drops configuration errors of a picklist write so a missing
// parameter only disables that picklist. Other errors are returned as is.
func skipPicklist(logger *zap.Logger, picklist string, err error) error {
	if err == nil || !gateway.IsConfig(err) {
		return err
	}
	logger.Warn("skipping picklist update", zap.String("picklist", picklist), zap.Error(err))
	return nil
}

// syncProjects refreshes the active projects, creates their Jira projects
// and merges tasks, work log and opportunities for each one
func (o *Orchestrator) syncProjects(ctx context.Context, logger *zap.Logger, now time.Time) error {
	var window *gateway.Window
	if o.state.projectsLoaded {
		window = &gateway.Window{From: o.state.Watermark, To: now}
	}

	found, err := o.workfront.SearchProjects(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	o.state.projectsLoaded = true

	added, removed := o.state.MergeProjects(found, o.cfg.SpecialEpics)
	logger.Debug("refreshed active projects",
		zap.Int("found", len(found)),
		zap.Int("added", added),
		zap.Int("removed", removed),
		zap.Int("active", len(o.state.Projects)),
	)

	for _, id := range o.state.ProjectIDs() {
		o.syncProject(ctx, logger, o.state.Projects[id], now)
	}

	return nil
}

func (o *Orchestrator) syncProject(ctx context.Context, logger *zap.Logger, project *types.Project, now time.Time) {
	logger = logger.With(zap.String("project", project.WorkfrontID), zap.String("name", project.Name))

	if !project.HasJiraProject() {
		if err := o.createJiraProject(ctx, project); err != nil {
			logger.Error("failed to create jira project",
				zap.String("kind", gateway.KindOf(err).String()),
				zap.Error(err),
			)
			return
		}
		logger.Info("created jira project",
			zap.String("key", project.JiraProjectKey),
			zap.String("id", project.JiraProjectID),
		)
	}

	if project.ImplementationTaskID == "" {
		id, err := o.workfront.ImplementationTaskID(ctx, project.WorkfrontID)
		switch {
		case gateway.IsNotFound(err):
			logger.Warn("project has no implementation task")
		case err != nil:
			logger.Error("failed to find implementation task", zap.Error(err))
		default:
			project.ImplementationTaskID = id
		}
	}

	stats, err := o.merge.SyncTasks(ctx, project)
	if err != nil {
		logger.Error("failed to sync tasks", zap.Error(err))
	} else if stats.Writes() > 0 || stats.Skipped > 0 {
		logger.Info("synced tasks",
			zap.Int("issues_created", stats.IssuesCreated),
			zap.Int("tasks_updated", stats.TasksUpdated),
			zap.Int("epics_mirrored", stats.EpicsMirrored),
			zap.Int("skipped", stats.Skipped),
		)
	}

	if _, err := o.merge.SyncWorkLog(ctx, project, now); err != nil {
		logger.Error("failed to sync work log", zap.Error(err))
	}

	if _, err := o.reconciler.Reconcile(ctx, project); err != nil {
		logger.Error("failed to reconcile opportunities", zap.Error(err))
	}
}

// createJiraProject allocates a key and name for the project, creates it in
// Jira and records the new ID in Workfront
func (o *Orchestrator) createJiraProject(ctx context.Context, project *types.Project) error {
	devTeam, ok := o.cfg.DevTeams[project.Program]
	if !ok || devTeam == "" {
		return gateway.Errorf(gateway.KindConfig, "synchronizer.create_project",
			"no development team for program %q", project.Program)
	}
	project.DevTeam = devTeam

	if len(project.Versions) == 0 {
		project.AddVersion(o.cfg.DefaultVersion)
	}

	key, err := o.allocator.ProjectKey(ctx, project)
	if err != nil {
		return err
	}
	name, err := o.allocator.ProjectName(ctx, project)
	if err != nil {
		return err
	}

	id, err := o.issues.CreateProject(ctx, gateway.ProjectParams{
		Key:         key,
		Name:        name,
		Description: project.Description,
		URL:         project.URL,
		DevTeam:     devTeam,
		Versions:    project.Versions,
	})
	if err != nil {
		return err
	}

	project.JiraProjectID = id
	project.JiraProjectKey = key

	if err := o.workfront.UpdateJiraProjectID(ctx, project); err != nil {
		return fmt.Errorf("jira project %s created but not recorded: %w", key, err)
	}
	return nil
}

// syncRequests refreshes the open requests and reconciles their
// opportunities. A request that disappeared from Workfront is dropped.
func (o *Orchestrator) syncRequests(ctx context.Context, logger *zap.Logger, now time.Time) error {
	var window *gateway.Window
	if o.state.requestsLoaded {
		window = &gateway.Window{From: o.state.Watermark, To: now}
	}

	found, err := o.workfront.SearchRequests(ctx, window)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	o.state.requestsLoaded = true

	added, removed := o.state.MergeRequests(found)
	logger.Debug("refreshed active requests",
		zap.Int("found", len(found)),
		zap.Int("added", added),
		zap.Int("removed", removed),
		zap.Int("active", len(o.state.Requests)),
	)

	for _, id := range o.state.RequestIDs() {
		request := o.state.Requests[id]

		_, err := o.reconciler.Reconcile(ctx, request)
		if gateway.IsNotFound(err) {
			logger.Info("request no longer exists", zap.String("request", id))
			delete(o.state.Requests, id)
			continue
		}
		if err != nil {
			logger.Error("failed to reconcile request opportunities",
				zap.String("request", id),
				zap.Error(err),
			)
		}
	}

	return nil
}
