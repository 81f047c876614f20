package jira

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

// IssueStatusClosed is the status of a finished non-epic issue
const IssueStatusClosed = "Closed"

const epicsQuery = `
SELECT Epic_ID AS epic_id,
       COALESCE(Epic_Name, '') AS epic_name,
       COALESCE(Epic_Status, '') AS epic_status,
       COALESCE(Epic_Estimate, 0) AS epic_estimate,
       COALESCE(Total_Story_Points, 0) AS total_story_points,
       COALESCE(Total_Time_Spent_Closed, 0) AS closed_time_spent,
       COALESCE(Total_Story_Points_Closed, 0) AS closed_story_points,
       COALESCE(Total_Subtasks_Time_Spent_Closed, 0) AS closed_subtask_time_spent,
       COALESCE(IssueKey, '') AS issue_key,
       COALESCE(IssueType, '') AS issue_type
FROM EpicsSummary`

const issueQuery = `
SELECT ID AS id,
       COALESCE(Summary, '') AS summary,
       COALESCE(IssueType, '') AS issue_type,
       COALESCE(IssueKey, '') AS issue_key,
       COALESCE(IssueStatus, '') AS issue_status
FROM IssueSummary
WHERE ID = ?`

const workLogQuery = `
SELECT issueid AS issue_id,
       COALESCE(IssueKey, '') AS issue_key,
       COALESCE(Epic_ID, 0) AS epic_id,
       DateWorked AS date_worked,
       COALESCE(HoursWorked, 0) AS hours_worked,
       COALESCE(Worker, '') AS worker,
       COALESCE(Description, '') AS description,
       CREATED AS created
FROM ProjectWorkLogWithEpic
WHERE ProjectID = ? AND CREATED < ?`

const projectKeyQuery = `SELECT COUNT(*) FROM project WHERE pkey = ? OR originalkey = ?`

const projectNameQuery = `SELECT COUNT(*) FROM project WHERE pname = ?`

const epicKeyQuery = `
SELECT p.pkey AS pkey, i.issuenum AS issuenum
FROM jiraissue i
INNER JOIN project p ON i.project = p.id
WHERE i.issuetype = ? AND i.summary LIKE ? AND i.project = ?`

const pilotAgenciesQuery = `
SELECT customvalue AS agency_code
FROM customfieldoption
WHERE customfield = ?
ORDER BY sequence`

// QueryConfig configures the Jira database gateway
type QueryConfig struct {
	BrowseURL          string
	EpicIssueTypeID    string
	PilotAgencyFieldID int64
}

// Query reads Jira state straight from the Jira database
type Query struct {
	db     *sqlx.DB
	cfg    QueryConfig
	logger *zap.Logger
}

type epicRow struct {
	EpicID                 int64   `db:"epic_id"`
	EpicName               string  `db:"epic_name"`
	EpicStatus             string  `db:"epic_status"`
	EpicEstimate           float64 `db:"epic_estimate"`
	TotalStoryPoints       float64 `db:"total_story_points"`
	ClosedTimeSpent        float64 `db:"closed_time_spent"`
	ClosedStoryPoints      float64 `db:"closed_story_points"`
	ClosedSubtaskTimeSpent float64 `db:"closed_subtask_time_spent"`
	IssueKey               string  `db:"issue_key"`
	IssueType              string  `db:"issue_type"`
}

type issueRow struct {
	ID          int64  `db:"id"`
	Summary     string `db:"summary"`
	IssueType   string `db:"issue_type"`
	IssueKey    string `db:"issue_key"`
	IssueStatus string `db:"issue_status"`
}

type workLogRow struct {
	IssueID     int64     `db:"issue_id"`
	IssueKey    string    `db:"issue_key"`
	EpicID      int64     `db:"epic_id"`
	DateWorked  time.Time `db:"date_worked"`
	HoursWorked float64   `db:"hours_worked"`
	Worker      string    `db:"worker"`
	Description string    `db:"description"`
	Created     time.Time `db:"created"`
}

type epicKeyRow struct {
	ProjectKey string `db:"pkey"`
	IssueNum   int64  `db:"issuenum"`
}

// NewQuery creates a new Jira database gateway
func NewQuery(db *sqlx.DB, cfg QueryConfig, logger *zap.Logger) *Query {
	return &Query{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

// Epics returns every epic of a project with its derived estimate
func (q *Query) Epics(ctx context.Context, projectID string) ([]types.Task, error) {
	pid, err := parseID("jira.epics", projectID)
	if err != nil {
		return nil, err
	}

	var rows []epicRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(epicsQuery+" WHERE PROJECT = ?"), pid); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "jira.epics", err)
	}

	tasks := make([]types.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, q.epicToTask(r))
	}

	q.logger.Debug("found epics", zap.String("project", projectID), zap.Int("count", len(tasks)))
	return tasks, nil
}

// Epic returns a single epic by issue ID
func (q *Query) Epic(ctx context.Context, issueID string) (types.Task, error) {
	id, err := parseID("jira.epic", issueID)
	if err != nil {
		return types.Task{}, err
	}

	var rows []epicRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(epicsQuery+" WHERE Epic_ID = ?"), id); err != nil {
		return types.Task{}, gateway.NewError(gateway.KindTransport, "jira.epic", err)
	}
	if len(rows) == 0 {
		return types.Task{}, gateway.Errorf(gateway.KindNotFound, "jira.epic", "no epic found for issue %s", issueID)
	}

	return q.epicToTask(rows[0]), nil
}

// Issue returns a single non-epic issue by ID
func (q *Query) Issue(ctx context.Context, issueID string) (types.Task, error) {
	id, err := parseID("jira.issue", issueID)
	if err != nil {
		return types.Task{}, err
	}

	var row issueRow
	err = q.db.GetContext(ctx, &row, q.db.Rebind(issueQuery), id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Task{}, gateway.Errorf(gateway.KindNotFound, "jira.issue", "no issue found for issue %s", issueID)
	}
	if err != nil {
		return types.Task{}, gateway.NewError(gateway.KindTransport, "jira.issue", err)
	}

	task := types.Task{
		JiraIssueID:   strconv.FormatInt(row.ID, 10),
		JiraIssueKey:  row.IssueKey,
		JiraIssueType: row.IssueType,
		JiraIssueURL:  BrowseURL(q.cfg.BrowseURL, row.IssueKey),
		Name:          row.Summary,
	}
	if row.IssueStatus == IssueStatusClosed {
		task.PercentComplete = 100
	}

	return task, nil
}

// WorkLog returns the work logged on a project in [from, to). A nil from
// reads from the beginning.
func (q *Query) WorkLog(ctx context.Context, projectID string, from *time.Time, to time.Time) ([]types.WorkLog, error) {
	pid, err := parseID("jira.worklog", projectID)
	if err != nil {
		return nil, err
	}

	query := workLogQuery
	args := []any{pid, to.UTC()}
	if from != nil {
		query += " AND CREATED >= ?"
		args = append(args, from.UTC())
	}
	query += " ORDER BY CREATED"

	var rows []workLogRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "jira.worklog", err)
	}

	entries := make([]types.WorkLog, 0, len(rows))
	for _, r := range rows {
		entry := types.WorkLog{
			IssueID:     strconv.FormatInt(r.IssueID, 10),
			IssueKey:    r.IssueKey,
			HoursWorked: r.HoursWorked,
			Worker:      r.Worker,
			DateWorked:  r.DateWorked,
			Description: r.Description,
			IssueURL:    BrowseURL(q.cfg.BrowseURL, r.IssueKey),
			Created:     r.Created,
		}
		if r.EpicID != 0 {
			entry.EpicIssueID = strconv.FormatInt(r.EpicID, 10)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ProjectKeyExists reports whether a project uses key now or used it before
func (q *Query) ProjectKeyExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := q.db.GetContext(ctx, &n, q.db.Rebind(projectKeyQuery), key, key); err != nil {
		return false, gateway.NewError(gateway.KindTransport, "jira.project_key_exists", err)
	}
	return n > 0, nil
}

// ProjectNameExists reports whether a project has the given name
func (q *Query) ProjectNameExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := q.db.GetContext(ctx, &n, q.db.Rebind(projectNameQuery), name); err != nil {
		return false, gateway.NewError(gateway.KindTransport, "jira.project_name_exists", err)
	}
	return n > 0, nil
}

// PilotAgencies returns the agency codes allowed on pilot issues
func (q *Query) PilotAgencies(ctx context.Context) ([]types.Account, error) {
	var codes []string
	if err := q.db.SelectContext(ctx, &codes, q.db.Rebind(pilotAgenciesQuery), q.cfg.PilotAgencyFieldID); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "jira.pilot_agencies", err)
	}

	accounts := make([]types.Account, 0, len(codes))
	for _, code := range codes {
		accounts = append(accounts, types.Account{AgencyCode: code})
	}
	return accounts, nil
}

// EpicKeyByName resolves an epic's issue key from its name
func (q *Query) EpicKeyByName(ctx context.Context, name, projectID string) (string, error) {
	pid, err := parseID("jira.epic_key", projectID)
	if err != nil {
		return "", err
	}

	var rows []epicKeyRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(epicKeyQuery), q.cfg.EpicIssueTypeID, name, pid); err != nil {
		return "", gateway.NewError(gateway.KindTransport, "jira.epic_key", err)
	}
	if len(rows) == 0 {
		return "", gateway.Errorf(gateway.KindNotFound, "jira.epic_key",
			"no epic found for name %q in project %s", name, projectID)
	}

	return fmt.Sprintf("%s-%d", rows[0].ProjectKey, rows[0].IssueNum), nil
}

func (q *Query) epicToTask(r epicRow) types.Task {
	est := EstimateEpic(EpicAggregate{
		OriginalEstimate:       r.EpicEstimate,
		TotalStoryPoints:       r.TotalStoryPoints,
		ClosedTimeSpent:        r.ClosedTimeSpent,
		ClosedStoryPoints:      r.ClosedStoryPoints,
		ClosedSubtaskTimeSpent: r.ClosedSubtaskTimeSpent,
		Status:                 r.EpicStatus,
	})

	issueType := r.IssueType
	if issueType == "" {
		issueType = types.IssueTypeEpic
	}

	return types.Task{
		JiraIssueID:     strconv.FormatInt(r.EpicID, 10),
		JiraIssueKey:    r.IssueKey,
		JiraIssueType:   issueType,
		JiraIssueURL:    BrowseURL(q.cfg.BrowseURL, r.IssueKey),
		JiraEpicName:    r.EpicName,
		Name:            r.EpicName,
		Duration:        est.Duration,
		PercentComplete: est.PercentComplete,
	}
}

func parseID(op, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, gateway.Errorf(gateway.KindConfig, op, "invalid jira id %q", id)
	}
	return n, nil
}
