package types

import (
	"time"
)

// Workfront object codes for opportunity holders
const (
	ObjCodeProject = "proj"
	ObjCodeRequest = "optask"
)

// Workfront status codes
const (
	StatusCurrent    = "CUR"
	StatusClosed     = "CLS"
	StatusComplete   = "CPL"
	StatusInProgress = "INP"
)

// Project is a Workfront development project synchronized with Jira.
// Tasks are kept in a single arena indexed by both Workfront and Jira IDs.
type Project struct {
	OpportunitySummary

	WorkfrontID          string
	JiraProjectID        string
	JiraProjectKey       string
	Name                 string
	Description          string
	Status               string
	Owner                string
	DevTeam              string
	Program              string
	URL                  string
	Versions             []string
	SyncWithJira         bool
	LastJiraSync         *time.Time
	ImplementationTaskID string

	specialEpics  map[string]struct{}
	tasks         []Task
	byWorkfrontID map[string]int
	byJiraID      map[string]int
}

// HasJiraProject reports whether the project was already created in Jira
func (p *Project) HasJiraProject() bool {
	return p.JiraProjectID != ""
}

// Active reports whether the project takes part in the sync
func (p *Project) Active() bool {
	return p.Status == StatusCurrent && p.SyncWithJira
}

// Update refreshes the Workfront-owned attributes from a newer copy of the
// same project. Tasks, special epics and derived Jira state survive.
func (p *Project) Update(src Project) {
	p.WorkfrontID = src.WorkfrontID
	p.Name = src.Name
	p.Description = src.Description
	p.Status = src.Status
	p.Owner = src.Owner
	p.Program = src.Program
	p.URL = src.URL
	p.SyncWithJira = src.SyncWithJira
	p.IDs = src.IDs

	if src.JiraProjectID != "" {
		p.JiraProjectID = src.JiraProjectID
	}
	if src.JiraProjectKey != "" {
		p.JiraProjectKey = src.JiraProjectKey
	}
	// never move back behind work log already copied in this process
	if src.LastJiraSync != nil && (p.LastJiraSync == nil || src.LastJiraSync.After(*p.LastJiraSync)) {
		p.LastJiraSync = src.LastJiraSync
	}
	if src.LeadingID != "" {
		p.LeadingID = src.LeadingID
	}
	if src.Combined != nil {
		p.Combined = src.Combined
	}

	p.Versions = nil
	for _, v := range src.Versions {
		p.AddVersion(v)
	}
}

// AddVersion appends a version label unless it is already present
func (p *Project) AddVersion(version string) {
	if version == "" {
		return
	}
	for _, v := range p.Versions {
		if v == version {
			return
		}
	}
	p.Versions = append(p.Versions, version)
}

// AddSpecialEpic excludes an epic name from being mirrored into Workfront
func (p *Project) AddSpecialEpic(name string) {
	if p.specialEpics == nil {
		p.specialEpics = make(map[string]struct{})
	}
	p.specialEpics[name] = struct{}{}
}

// IsSpecialEpic reports whether the epic name is excluded from sync
func (p *Project) IsSpecialEpic(name string) bool {
	_, ok := p.specialEpics[name]
	return ok
}

// PutTask inserts the task or replaces the task sharing its Workfront or
// Jira ID.
func (p *Project) PutTask(t Task) {
	if p.byWorkfrontID == nil {
		p.byWorkfrontID = make(map[string]int)
		p.byJiraID = make(map[string]int)
	}

	idx, ok := -1, false
	if t.WorkfrontID != "" {
		idx, ok = p.byWorkfrontID[t.WorkfrontID]
	}
	if !ok && t.JiraIssueID != "" {
		idx, ok = p.byJiraID[t.JiraIssueID]
	}

	if !ok {
		idx = len(p.tasks)
		p.tasks = append(p.tasks, t)
	} else {
		old := p.tasks[idx]
		if old.WorkfrontID != "" && old.WorkfrontID != t.WorkfrontID {
			delete(p.byWorkfrontID, old.WorkfrontID)
		}
		if old.JiraIssueID != "" && old.JiraIssueID != t.JiraIssueID {
			delete(p.byJiraID, old.JiraIssueID)
		}
		p.tasks[idx] = t
	}

	if t.WorkfrontID != "" {
		p.byWorkfrontID[t.WorkfrontID] = idx
	}
	if t.JiraIssueID != "" {
		p.byJiraID[t.JiraIssueID] = idx
	}
}

// TaskByWorkfrontID looks up a task by its Workfront ID
func (p *Project) TaskByWorkfrontID(id string) (Task, bool) {
	idx, ok := p.byWorkfrontID[id]
	if !ok {
		return Task{}, false
	}
	return p.tasks[idx], true
}

// TaskByJiraID looks up a task by its Jira issue ID
func (p *Project) TaskByJiraID(id string) (Task, bool) {
	idx, ok := p.byJiraID[id]
	if !ok {
		return Task{}, false
	}
	return p.tasks[idx], true
}

// HasJiraTask reports whether a Jira issue is already mirrored
func (p *Project) HasJiraTask(id string) bool {
	_, ok := p.byJiraID[id]
	return ok
}

// Tasks returns a snapshot of the project's tasks in insertion order
func (p *Project) Tasks() []Task {
	out := make([]Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// TaskCount returns the number of tracked tasks
func (p *Project) TaskCount() int {
	return len(p.tasks)
}

// WorkfrontObjCode returns the Workfront object code of projects
func (p *Project) WorkfrontObjCode() string { return ObjCodeProject }

// WorkfrontObjectID returns the Workfront ID of the project
func (p *Project) WorkfrontObjectID() string { return p.WorkfrontID }

// DisplayName returns the project name used in logs
func (p *Project) DisplayName() string { return p.Name }

// Request is a Workfront request linked to CRM opportunities
type Request struct {
	OpportunitySummary

	WorkfrontID string
	Name        string
	Status      string
}

// Active reports whether the request is still open
func (r *Request) Active() bool {
	return r.Status != StatusClosed
}

// Update refreshes the request from a newer Workfront copy
func (r *Request) Update(src Request) {
	r.Name = src.Name
	r.Status = src.Status
	r.IDs = src.IDs
	if src.LeadingID != "" {
		r.LeadingID = src.LeadingID
	}
	if src.Combined != nil {
		r.Combined = src.Combined
	}
}

// WorkfrontObjCode returns the Workfront object code of requests
func (r *Request) WorkfrontObjCode() string { return ObjCodeRequest }

// WorkfrontObjectID returns the Workfront ID of the request
func (r *Request) WorkfrontObjectID() string { return r.WorkfrontID }

// DisplayName returns the request name used in logs
func (r *Request) DisplayName() string { return r.Name }
