package types

import (
	"time"
)

// Jira issue types with special handling on creation
const (
	IssueTypeEpic  = "Epic"
	IssueTypePilot = "Pilot"
)

// Task represents a development task mirrored between Workfront and Jira
type Task struct {
	WorkfrontID       string
	WorkfrontParentID string
	WorkfrontStatus   string
	JiraIssueID       string
	JiraIssueKey      string
	JiraIssueType     string
	JiraIssueURL      string
	JiraEpicName      string
	PilotAgency       string
	Name              string
	Description       string
	AssigneeID        string
	AssigneeName      string
	Duration          float64
	PercentComplete   float64
	SyncWithJira      bool
	LastUpdated       time.Time
}

// Equal reports whether two tasks carry the same synchronized values.
// Assignee and status are owned by Workfront and are not compared.
func (t Task) Equal(other Task) bool {
	return t.Duration == other.Duration &&
		t.PercentComplete == other.PercentComplete &&
		t.Name == other.Name &&
		t.Description == other.Description
}

// Linked reports whether the task has a Jira counterpart
func (t Task) Linked() bool {
	return t.JiraIssueID != ""
}

// IsEpic reports whether the task mirrors a Jira epic
func (t Task) IsEpic() bool {
	return t.JiraIssueType == IssueTypeEpic
}

// WorkLog is a single Jira work log entry to be appended to Workfront
type WorkLog struct {
	IssueID     string
	IssueKey    string
	EpicIssueID string
	HoursWorked float64
	Worker      string
	DateWorked  time.Time
	Description string
	IssueURL    string
	Created     time.Time
}

// Account is a CRM account or Jira pilot agency mirrored into Workfront
type Account struct {
	Name       string
	GUID       string
	AgencyCode string
}
