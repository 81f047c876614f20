// Package gateway defines the contracts the synchronizer consumes from
// Workfront, Jira and the CRM.
package gateway

import (
	"context"
	"time"

	"github.com/clintrovert/wfsync/pkg/types"
)

// Window bounds a search on last update date. A nil window asks for the
// full active set.
type Window struct {
	From time.Time
	To   time.Time
}

// WorkfrontSession manages the Workfront API session
type WorkfrontSession interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// WorkfrontTasks is the task and hour surface of Workfront
type WorkfrontTasks interface {
	DevTasks(ctx context.Context, projectID string) ([]types.Task, error)
	UpdateTask(ctx context.Context, project *types.Project, task types.Task) error
	SetTaskStatus(ctx context.Context, taskID, status string) error
	AddTask(ctx context.Context, project *types.Project, task types.Task) (string, error)
	AddWorkLogEntry(ctx context.Context, taskID string, entry types.WorkLog) error
	UpdateLastJiraSync(ctx context.Context, project *types.Project) error
}

// WorkfrontOpportunities writes opportunity outcomes back to Workfront
type WorkfrontOpportunities interface {
	UpdateOpportunityStatus(ctx context.Context, holder types.OpportunityHolder, leading types.Opportunity, combined int) error
}

// WorkfrontProjects lists projects and records their Jira identity
type WorkfrontProjects interface {
	SearchProjects(ctx context.Context, window *Window) ([]types.Project, error)
	ImplementationTaskID(ctx context.Context, projectID string) (string, error)
	UpdateJiraProjectID(ctx context.Context, project *types.Project) error
}

// WorkfrontRequests lists requests
type WorkfrontRequests interface {
	SearchRequests(ctx context.Context, window *Window) ([]types.Request, error)
}

// WorkfrontCustomFields maintains the picklists mirrored from the CRM and Jira
type WorkfrontCustomFields interface {
	AddOpportunities(ctx context.Context, opportunities []types.Opportunity) error
	RemoveOpportunities(ctx context.Context, opportunities []types.Opportunity) error
	AddAccounts(ctx context.Context, accounts []types.Account) error
	PilotAgencies(ctx context.Context) (map[string]string, error)
	AddPilotAgencies(ctx context.Context, agencies []types.Account) error
}

// Workfront is the full Workfront surface used by the orchestrator
type Workfront interface {
	WorkfrontSession
	WorkfrontTasks
	WorkfrontOpportunities
	WorkfrontProjects
	WorkfrontRequests
	WorkfrontCustomFields
}

// ProjectParams describes a Jira project to create
type ProjectParams struct {
	Key         string   `json:"projectKey"`
	Name        string   `json:"projectName"`
	Description string   `json:"projectDescription"`
	URL         string   `json:"url"`
	DevTeam     string   `json:"developmentTeam"`
	Versions    []string `json:"versions"`
}

// JiraIssues is the write surface of the Jira REST API
type JiraIssues interface {
	CreateProject(ctx context.Context, params ProjectParams) (string, error)
	CreateIssue(ctx context.Context, projectID, devTeam string, task types.Task) (types.Task, error)
	CreateEpic(ctx context.Context, projectID, devTeam, name string) (types.Task, error)
	LinkIssueToEpic(ctx context.Context, issueKey, epicKey string) error
}

// ProjectRegistry answers existence checks against live Jira projects
type ProjectRegistry interface {
	ProjectKeyExists(ctx context.Context, key string) (bool, error)
	ProjectNameExists(ctx context.Context, name string) (bool, error)
}

// JiraQuery is the read surface of the Jira database
type JiraQuery interface {
	ProjectRegistry
	Epics(ctx context.Context, projectID string) ([]types.Task, error)
	Epic(ctx context.Context, issueID string) (types.Task, error)
	Issue(ctx context.Context, issueID string) (types.Task, error)
	WorkLog(ctx context.Context, projectID string, from *time.Time, to time.Time) ([]types.WorkLog, error)
	PilotAgencies(ctx context.Context) ([]types.Account, error)
	EpicKeyByName(ctx context.Context, name, projectID string) (string, error)
}

// OpportunitySource resolves opportunity IDs to CRM records
type OpportunitySource interface {
	Opportunity(ctx context.Context, id string) (types.Opportunity, error)
	Opportunities(ctx context.Context, ids []string) ([]types.Opportunity, error)
}

// CRM is the read surface of the CRM database
type CRM interface {
	OpportunitySource
	NewAccounts(ctx context.Context, since time.Time) ([]types.Account, error)
	OpenOpportunities(ctx context.Context, since time.Time) ([]types.Opportunity, error)
	ClosedOpportunities(ctx context.Context, since time.Time) ([]types.Opportunity, error)
}

// WatermarkStore persists the last successful sync time
type WatermarkStore interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, t time.Time) error
}
