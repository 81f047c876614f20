package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskEqualIgnoresAssigneeAndStatus(t *testing.T) {
	a := Task{Name: "Build", Description: "d", Duration: 8, PercentComplete: 50, AssigneeID: "u1", WorkfrontStatus: "INP"}
	b := a
	b.AssigneeID = "u2"
	b.AssigneeName = "Someone"
	b.WorkfrontStatus = "CPL"

	assert.True(t, a.Equal(b))

	b.Duration = 9
	assert.False(t, a.Equal(b))
}

func TestCompareOpportunities(t *testing.T) {
	won := Opportunity{ID: "w", State: OpportunityWon}
	lost := Opportunity{ID: "l", State: OpportunityLost, Probability: 99}
	open70 := Opportunity{ID: "a", State: OpportunityOpen, Probability: 70}
	open30 := Opportunity{ID: "b", State: OpportunityOpen, Probability: 30}

	assert.Equal(t, 1, CompareOpportunities(won, lost))
	assert.Equal(t, -1, CompareOpportunities(lost, won))
	assert.Equal(t, 1, CompareOpportunities(won, open70))
	assert.Equal(t, 1, CompareOpportunities(open30, lost))
	assert.Equal(t, 1, CompareOpportunities(open70, open30))
	assert.Equal(t, -1, CompareOpportunities(open30, open70))
	assert.Equal(t, 0, CompareOpportunities(won, Opportunity{State: OpportunityWon, Probability: 10}))

	committed := Opportunity{State: OpportunityOpen, Probability: 50, Flag: "1 - Committed"}
	backup := Opportunity{State: OpportunityOpen, Probability: 50, Flag: "2 - Back Up"}
	assert.Equal(t, 1, CompareOpportunities(committed, backup))
	assert.Equal(t, -1, CompareOpportunities(backup, committed))
}

func TestOpportunitySameStatus(t *testing.T) {
	a := Opportunity{ID: "1", Name: "x", Probability: 40, Flag: "1", Phase: "p", Position: "pos"}
	b := a
	b.Name = "renamed"
	assert.True(t, a.SameStatus(b))
	b.Phase = "q"
	assert.False(t, a.SameStatus(b))
}

func TestOpportunitySummaryIDsAreDistinct(t *testing.T) {
	s := OpportunitySummary{IDs: []string{"a", "", " b ", "a"}}
	assert.Equal(t, []string{"a", "b"}, s.OpportunityIDs())

	_, ok := s.CombinedProbability()
	assert.False(t, ok)

	s.SetOpportunityOutcome(Opportunity{ID: "b"}, 75)
	c, ok := s.CombinedProbability()
	require.True(t, ok)
	assert.Equal(t, 75, c)
	assert.Equal(t, "b", s.LeadingOpportunityID())
}

func TestProjectTaskArena(t *testing.T) {
	p := &Project{}
	p.PutTask(Task{WorkfrontID: "wf1", Name: "one"})
	p.PutTask(Task{WorkfrontID: "wf2", JiraIssueID: "100", Name: "two"})

	_, ok := p.TaskByJiraID("100")
	assert.True(t, ok)
	assert.False(t, p.HasJiraTask("200"))

	// linking an existing Workfront task keeps a single record
	p.PutTask(Task{WorkfrontID: "wf1", JiraIssueID: "200", Name: "one"})
	assert.Equal(t, 2, p.TaskCount())
	byJira, ok := p.TaskByJiraID("200")
	require.True(t, ok)
	assert.Equal(t, "wf1", byJira.WorkfrontID)

	// a Jira-only epic found later is addressable by its Workfront ID once mirrored
	p.PutTask(Task{JiraIssueID: "300", Name: "epic"})
	p.PutTask(Task{WorkfrontID: "wf3", JiraIssueID: "300", Name: "epic"})
	assert.Equal(t, 3, p.TaskCount())
	byWF, ok := p.TaskByWorkfrontID("wf3")
	require.True(t, ok)
	assert.Equal(t, "300", byWF.JiraIssueID)
}

func TestProjectUpdateKeepsTasks(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Project{WorkfrontID: "p1", Name: "old", JiraProjectID: "10", LastJiraSync: &last}
	p.PutTask(Task{WorkfrontID: "t1"})
	p.AddSpecialEpic("Maintenance")

	p.Update(Project{WorkfrontID: "p1", Name: "new", Versions: []string{"9.0", "9.0", "9.1"}})

	assert.Equal(t, "new", p.Name)
	assert.Equal(t, "10", p.JiraProjectID)
	assert.Equal(t, &last, p.LastJiraSync)
	assert.Equal(t, []string{"9.0", "9.1"}, p.Versions)
	assert.Equal(t, 1, p.TaskCount())
	assert.True(t, p.IsSpecialEpic("Maintenance"))
}

func TestHoldersSatisfyInterface(t *testing.T) {
	var holders []OpportunityHolder
	holders = append(holders, &Project{WorkfrontID: "p"}, &Request{WorkfrontID: "r"})
	assert.Equal(t, ObjCodeProject, holders[0].WorkfrontObjCode())
	assert.Equal(t, ObjCodeRequest, holders[1].WorkfrontObjCode())
	assert.Equal(t, "r", holders[1].WorkfrontObjectID())
}

func TestActive(t *testing.T) {
	p := &Project{Status: StatusCurrent, SyncWithJira: true}
	assert.True(t, p.Active())

	p.SyncWithJira = false
	assert.False(t, p.Active())

	p = &Project{Status: StatusComplete, SyncWithJira: true}
	assert.False(t, p.Active())

	r := &Request{Status: "NEW"}
	assert.True(t, r.Active())
	r.Status = StatusClosed
	assert.False(t, r.Active())
}

func TestProjectUpdateKeepsLaterJiraSync(t *testing.T) {
	later := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	stale := later.Add(-time.Hour)
	newer := later.Add(time.Hour)

	p := &Project{WorkfrontID: "p1", LastJiraSync: &later}
	p.Update(Project{WorkfrontID: "p1", LastJiraSync: &stale})
	assert.Equal(t, later, *p.LastJiraSync)

	p.Update(Project{WorkfrontID: "p1", LastJiraSync: &newer})
	assert.Equal(t, newer, *p.LastJiraSync)
}
