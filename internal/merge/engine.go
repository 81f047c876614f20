// Package merge keeps the development tasks of a Workfront project in step
// with the issues of its Jira project.
package merge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

// TaskStats counts the writes made while merging one project
type TaskStats struct {
	IssuesCreated int
	TasksUpdated  int
	EpicsMirrored int
	Skipped       int
}

// Writes returns the number of upstream writes
func (s TaskStats) Writes() int {
	return s.IssuesCreated + s.TasksUpdated + s.EpicsMirrored
}

// Engine merges tasks and work logs for one project at a time. It is not
// safe for concurrent use.
type Engine struct {
	workfront gateway.WorkfrontTasks
	issues    gateway.JiraIssues
	query     gateway.JiraQuery
	logger    *zap.Logger

	// Jira issues created for Workfront tasks whose write-back failed, by
	// Workfront task ID
	pending map[string]types.Task
	// projects whose last sync time moved without being written to Workfront
	unsaved map[string]bool
}

// NewEngine creates a new merge engine
func NewEngine(workfront gateway.WorkfrontTasks, issues gateway.JiraIssues, query gateway.JiraQuery, logger *zap.Logger) *Engine {
	return &Engine{
		workfront: workfront,
		issues:    issues,
		query:     query,
		logger:    logger,
		pending:   make(map[string]types.Task),
		unsaved:   make(map[string]bool),
	}
}

// SyncTasks refreshes the project's Workfront tasks, creates Jira issues for
// new ones, pushes Jira progress back to Workfront and mirrors new epics.
func (e *Engine) SyncTasks(ctx context.Context, project *types.Project) (TaskStats, error) {
	var stats TaskStats

	if !project.HasJiraProject() {
		return stats, gateway.Errorf(gateway.KindConfig, "merge.sync_tasks",
			"project %s has no jira project", project.WorkfrontID)
	}

	logger := e.logger.With(
		zap.String("project", project.WorkfrontID),
		zap.String("jira_project", project.JiraProjectKey),
	)

	tasks, err := e.workfront.DevTasks(ctx, project.WorkfrontID)
	if err != nil {
		return stats, fmt.Errorf("failed to refresh tasks of %s: %w", project.WorkfrontID, err)
	}
	for _, t := range tasks {
		project.PutTask(t)
	}

	for _, task := range project.Tasks() {
		if task.Linked() {
			delete(e.pending, task.WorkfrontID)
		}
		if !task.SyncWithJira || task.Linked() || task.WorkfrontID == "" {
			continue
		}
		if e.createIssue(ctx, logger, project, task) {
			stats.IssuesCreated++
		} else {
			stats.Skipped++
		}
	}

	for _, task := range project.Tasks() {
		if !task.Linked() || task.WorkfrontID == "" {
			continue
		}
		updated, err := e.pushJiraValues(ctx, logger, project, task)
		if err != nil {
			stats.Skipped++
			continue
		}
		if updated {
			stats.TasksUpdated++
		}
	}

	epics, err := e.query.Epics(ctx, project.JiraProjectID)
	if err != nil {
		return stats, fmt.Errorf("failed to list epics of %s: %w", project.JiraProjectKey, err)
	}

	for _, epic := range epics {
		if project.HasJiraTask(epic.JiraIssueID) || project.IsSpecialEpic(epic.Name) {
			continue
		}

		epic.WorkfrontParentID = project.ImplementationTaskID
		epic.SyncWithJira = true

		id, err := e.workfront.AddTask(ctx, project, epic)
		if err != nil {
			logger.Error("failed to mirror epic", zap.String("epic", epic.JiraIssueKey), zap.Error(err))
			stats.Skipped++
			continue
		}

		epic.WorkfrontID = id
		project.PutTask(epic)
		stats.EpicsMirrored++

		logger.Info("mirrored epic into workfront",
			zap.String("epic", epic.JiraIssueKey),
			zap.String("task", id),
		)
	}

	return stats, nil
}

// createIssue creates the Jira issue for a Workfront task, links it to its
// epic and records the Jira identity on the task. An issue whose write-back
// failed earlier is not created again; only the write-back is retried.
func (e *Engine) createIssue(ctx context.Context, logger *zap.Logger, project *types.Project, task types.Task) bool {
	created, retry := e.pending[task.WorkfrontID]
	if retry {
		created = withJiraIdentity(task, created)
	} else {
		var err error
		created, err = e.issues.CreateIssue(ctx, project.JiraProjectID, project.DevTeam, task)
		if err != nil {
			logger.Error("failed to create jira issue",
				zap.String("task", task.WorkfrontID),
				zap.String("kind", gateway.KindOf(err).String()),
				zap.Error(err),
			)
			return false
		}

		if task.JiraEpicName != "" && !task.IsEpic() {
			if err := e.linkToEpic(ctx, project, created); err != nil {
				logger.Error("failed to link issue to epic",
					zap.String("issue", created.JiraIssueKey),
					zap.String("epic", task.JiraEpicName),
					zap.Error(err),
				)
			}
		}
	}

	if err := e.workfront.UpdateTask(ctx, project, created); err != nil {
		e.pending[task.WorkfrontID] = created
		logger.Error("failed to record jira issue on workfront task",
			zap.String("task", task.WorkfrontID),
			zap.String("issue", created.JiraIssueKey),
			zap.Error(err),
		)
		return false
	}

	delete(e.pending, task.WorkfrontID)
	project.PutTask(created)
	logger.Info("created jira issue for task",
		zap.String("task", task.WorkfrontID),
		zap.String("issue", created.JiraIssueKey),
		zap.Bool("retried_write_back", retry),
	)
	return true
}

func withJiraIdentity(task, issue types.Task) types.Task {
	task.JiraIssueID = issue.JiraIssueID
	task.JiraIssueKey = issue.JiraIssueKey
	task.JiraIssueURL = issue.JiraIssueURL
	return task
}

func (e *Engine) linkToEpic(ctx context.Context, project *types.Project, issue types.Task) error {
	epicKey, err := e.query.EpicKeyByName(ctx, issue.JiraEpicName, project.JiraProjectID)
	if gateway.IsNotFound(err) {
		epic, cerr := e.issues.CreateEpic(ctx, project.JiraProjectID, project.DevTeam, issue.JiraEpicName)
		if cerr != nil {
			return cerr
		}
		epicKey = epic.JiraIssueKey
	} else if err != nil {
		return err
	}

	return e.issues.LinkIssueToEpic(ctx, issue.JiraIssueKey, epicKey)
}

// pushJiraValues copies Jira progress onto a linked Workfront task when the
// synchronized values differ
func (e *Engine) pushJiraValues(ctx context.Context, logger *zap.Logger, project *types.Project, task types.Task) (bool, error) {
	var (
		jiraTask types.Task
		err      error
	)
	if task.IsEpic() {
		jiraTask, err = e.query.Epic(ctx, task.JiraIssueID)
	} else {
		jiraTask, err = e.query.Issue(ctx, task.JiraIssueID)
	}
	if gateway.IsNotFound(err) {
		logger.Debug("jira issue not found", zap.String("issue", task.JiraIssueID))
		return false, err
	}
	if err != nil {
		logger.Error("failed to read jira issue", zap.String("issue", task.JiraIssueID), zap.Error(err))
		return false, err
	}

	if task.IsEpic() {
		if jiraTask.Description == "" {
			jiraTask.Description = task.Description
		}
	} else {
		// estimates and descriptions of ordinary issues are owned by Workfront
		jiraTask.Duration = task.Duration
		jiraTask.Description = task.Description
	}

	if jiraTask.Equal(task) {
		return false, nil
	}

	updated := task
	updated.Name = jiraTask.Name
	updated.Description = jiraTask.Description
	updated.Duration = jiraTask.Duration
	updated.PercentComplete = jiraTask.PercentComplete

	if task.PercentComplete == 100 && updated.PercentComplete < 100 {
		if err := e.workfront.SetTaskStatus(ctx, task.WorkfrontID, types.StatusInProgress); err != nil {
			logger.Error("failed to reopen workfront task", zap.String("task", task.WorkfrontID), zap.Error(err))
			return false, err
		}
		updated.WorkfrontStatus = types.StatusInProgress
	}

	if err := e.workfront.UpdateTask(ctx, project, updated); err != nil {
		logger.Error("failed to update workfront task", zap.String("task", task.WorkfrontID), zap.Error(err))
		return false, err
	}

	project.PutTask(updated)
	logger.Debug("updated workfront task from jira",
		zap.String("task", task.WorkfrontID),
		zap.Float64("percent_complete", updated.PercentComplete),
		zap.Float64("duration", updated.Duration),
	)
	return true, nil
}

// SyncWorkLog appends the Jira work logged since the project's last sync to
// the Workfront tasks mirroring each entry's epic. Entries are appended in
// creation order; a failed entry stops the batch and the last sync time moves
// only up to that entry, so it is read again next cycle.
func (e *Engine) SyncWorkLog(ctx context.Context, project *types.Project, now time.Time) (int, error) {
	if !project.HasJiraProject() {
		return 0, nil
	}

	entries, err := e.query.WorkLog(ctx, project.JiraProjectID, project.LastJiraSync, now)
	if err != nil {
		return 0, fmt.Errorf("failed to read work log of %s: %w", project.JiraProjectKey, err)
	}

	synced := now
	written := 0
	for _, entry := range entries {
		task, ok := project.TaskByJiraID(entry.EpicIssueID)
		if entry.EpicIssueID == "" || !ok || task.WorkfrontID == "" {
			e.logger.Warn("work log entry has no mirrored epic",
				zap.String("project", project.WorkfrontID),
				zap.String("issue", entry.IssueKey),
				zap.String("epic", entry.EpicIssueID),
			)
			continue
		}

		if err := e.workfront.AddWorkLogEntry(ctx, task.WorkfrontID, entry); err != nil {
			e.logger.Error("failed to add work log entry",
				zap.String("task", task.WorkfrontID),
				zap.String("issue", entry.IssueKey),
				zap.Time("created", entry.Created),
				zap.Error(err),
			)
			synced = entry.Created
			break
		}
		written++
	}

	if written > 0 && (project.LastJiraSync == nil || synced.After(*project.LastJiraSync)) {
		project.LastJiraSync = &synced
		e.unsaved[project.WorkfrontID] = true
	}

	if !e.unsaved[project.WorkfrontID] {
		return written, nil
	}

	if err := e.workfront.UpdateLastJiraSync(ctx, project); err != nil {
		// kept in memory and retried next cycle; a restart before then
		// appends the entries since the stored time again
		e.logger.Warn("last jira sync not recorded in workfront",
			zap.String("project", project.WorkfrontID),
			zap.Time("last_jira_sync", *project.LastJiraSync),
		)
		return written, fmt.Errorf("failed to record last jira sync of %s: %w", project.WorkfrontID, err)
	}
	delete(e.unsaved, project.WorkfrontID)

	if written > 0 {
		e.logger.Info("copied work log to workfront",
			zap.String("project", project.WorkfrontID),
			zap.Int("entries", written),
		)
	}
	return written, nil
}
