package synchronizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/internal/store"
	"github.com/clintrovert/wfsync/pkg/types"
)

type fakeWorkfront struct {
	projects        []types.Project
	requests        []types.Request
	projectWindows  []*gateway.Window
	requestWindows  []*gateway.Window
	searchErr       error
	logins, logouts int
	jiraProjectIDs  map[string]string
	pilotAgencies   map[string]string
	addedPilots     []types.Account
	addedOpps       []types.Opportunity
	removedOpps     []types.Opportunity
	addedAccounts   []types.Account
	oppUpdates      []string
	oppUpdateErr    map[string]error
	// returned by every picklist add
	addOptionErr error
}

func newFakeWorkfront() *fakeWorkfront {
	return &fakeWorkfront{
		jiraProjectIDs: map[string]string{},
		pilotAgencies:  map[string]string{},
		oppUpdateErr:   map[string]error{},
	}
}

func (f *fakeWorkfront) Login(context.Context) error  { f.logins++; return nil }
func (f *fakeWorkfront) Logout(context.Context) error { f.logouts++; return nil }

func (f *fakeWorkfront) DevTasks(context.Context, string) ([]types.Task, error) { return nil, nil }
func (f *fakeWorkfront) UpdateTask(context.Context, *types.Project, types.Task) error {
	return nil
}
func (f *fakeWorkfront) SetTaskStatus(context.Context, string, string) error { return nil }
func (f *fakeWorkfront) AddTask(context.Context, *types.Project, types.Task) (string, error) {
	return "", errors.New("not used")
}
func (f *fakeWorkfront) AddWorkLogEntry(context.Context, string, types.WorkLog) error { return nil }
func (f *fakeWorkfront) UpdateLastJiraSync(context.Context, *types.Project) error     { return nil }

func (f *fakeWorkfront) UpdateOpportunityStatus(_ context.Context, holder types.OpportunityHolder, _ types.Opportunity, _ int) error {
	if err := f.oppUpdateErr[holder.WorkfrontObjectID()]; err != nil {
		return err
	}
	f.oppUpdates = append(f.oppUpdates, holder.WorkfrontObjectID())
	return nil
}

func (f *fakeWorkfront) SearchProjects(_ context.Context, window *gateway.Window) ([]types.Project, error) {
	f.projectWindows = append(f.projectWindows, window)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.projects, nil
}

func (f *fakeWorkfront) ImplementationTaskID(_ context.Context, projectID string) (string, error) {
	return "impl-" + projectID, nil
}

func (f *fakeWorkfront) UpdateJiraProjectID(_ context.Context, project *types.Project) error {
	f.jiraProjectIDs[project.WorkfrontID] = project.JiraProjectID
	return nil
}

func (f *fakeWorkfront) SearchRequests(_ context.Context, window *gateway.Window) ([]types.Request, error) {
	f.requestWindows = append(f.requestWindows, window)
	return f.requests, nil
}

func (f *fakeWorkfront) AddOpportunities(_ context.Context, opps []types.Opportunity) error {
	if f.addOptionErr != nil {
		return f.addOptionErr
	}
	f.addedOpps = append(f.addedOpps, opps...)
	return nil
}

func (f *fakeWorkfront) RemoveOpportunities(_ context.Context, opps []types.Opportunity) error {
	f.removedOpps = append(f.removedOpps, opps...)
	return nil
}

func (f *fakeWorkfront) AddAccounts(_ context.Context, accounts []types.Account) error {
	if f.addOptionErr != nil {
		return f.addOptionErr
	}
	f.addedAccounts = append(f.addedAccounts, accounts...)
	return nil
}

func (f *fakeWorkfront) PilotAgencies(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.pilotAgencies))
	for k, v := range f.pilotAgencies {
		out[k] = v
	}
	return out, nil
}

func (f *fakeWorkfront) AddPilotAgencies(_ context.Context, agencies []types.Account) error {
	if f.addOptionErr != nil {
		return f.addOptionErr
	}
	f.addedPilots = append(f.addedPilots, agencies...)
	return nil
}

type fakeJira struct {
	projects      []gateway.ProjectParams
	pilotAgencies []types.Account
}

func (f *fakeJira) CreateProject(_ context.Context, params gateway.ProjectParams) (string, error) {
	f.projects = append(f.projects, params)
	return "10400", nil
}

func (f *fakeJira) CreateIssue(_ context.Context, _, _ string, task types.Task) (types.Task, error) {
	return task, errors.New("not used")
}

func (f *fakeJira) CreateEpic(context.Context, string, string, string) (types.Task, error) {
	return types.Task{}, errors.New("not used")
}

func (f *fakeJira) LinkIssueToEpic(context.Context, string, string) error { return nil }

func (f *fakeJira) ProjectKeyExists(context.Context, string) (bool, error)  { return false, nil }
func (f *fakeJira) ProjectNameExists(context.Context, string) (bool, error) { return false, nil }
func (f *fakeJira) Epics(context.Context, string) ([]types.Task, error)     { return nil, nil }

func (f *fakeJira) Epic(_ context.Context, id string) (types.Task, error) {
	return types.Task{}, gateway.Errorf(gateway.KindNotFound, "epic", "no epic %s", id)
}

func (f *fakeJira) Issue(_ context.Context, id string) (types.Task, error) {
	return types.Task{}, gateway.Errorf(gateway.KindNotFound, "issue", "no issue %s", id)
}

func (f *fakeJira) WorkLog(context.Context, string, *time.Time, time.Time) ([]types.WorkLog, error) {
	return nil, nil
}

func (f *fakeJira) PilotAgencies(context.Context) ([]types.Account, error) {
	return f.pilotAgencies, nil
}

func (f *fakeJira) EpicKeyByName(_ context.Context, name, _ string) (string, error) {
	return "", gateway.Errorf(gateway.KindNotFound, "epic_key", "no epic %s", name)
}

type fakeCRM struct {
	opportunities map[string]types.Opportunity
	open          []types.Opportunity
	closed        []types.Opportunity
	accounts      []types.Account
	closedErr     error
	since         []time.Time
}

func (f *fakeCRM) Opportunity(_ context.Context, id string) (types.Opportunity, error) {
	o, ok := f.opportunities[id]
	if !ok {
		return types.Opportunity{}, gateway.Errorf(gateway.KindNotFound, "opportunity", "no opportunity %s", id)
	}
	return o, nil
}

func (f *fakeCRM) Opportunities(_ context.Context, ids []string) ([]types.Opportunity, error) {
	var out []types.Opportunity
	for _, id := range ids {
		if o, ok := f.opportunities[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeCRM) NewAccounts(context.Context, time.Time) ([]types.Account, error) {
	return f.accounts, nil
}

func (f *fakeCRM) OpenOpportunities(context.Context, time.Time) ([]types.Opportunity, error) {
	return f.open, nil
}

func (f *fakeCRM) ClosedOpportunities(_ context.Context, since time.Time) ([]types.Opportunity, error) {
	f.since = append(f.since, since)
	return f.closed, f.closedErr
}

type harness struct {
	orch  *Orchestrator
	wf    *fakeWorkfront
	jira  *fakeJira
	crm   *fakeCRM
	store *store.SQLiteStore
	clock time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		wf:    newFakeWorkfront(),
		jira:  &fakeJira{},
		crm:   &fakeCRM{opportunities: map[string]types.Opportunity{}},
		store: st,
		clock: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	h.orch = NewOrchestrator(h.wf, h.jira, h.jira, h.crm, st, cfg, zap.NewNop())
	h.orch.now = func() time.Time { return h.clock }

	return h
}

func activeProject(id string) types.Project {
	return types.Project{
		WorkfrontID:   id,
		Name:          "Project " + id,
		Status:        types.StatusCurrent,
		SyncWithJira:  true,
		JiraProjectID: "100",
	}
}

func TestCyclesAdvanceWatermark(t *testing.T) {
	h := newHarness(t, Config{})
	h.wf.projects = []types.Project{activeProject("p1")}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))

	var starts []time.Time
	for i := 0; i < 3; i++ {
		starts = append(starts, h.clock)
		require.NoError(t, h.orch.cycle(ctx))

		saved, err := h.store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, saved.Equal(h.clock), "cycle %d saved %s", i, saved)

		h.clock = h.clock.Add(10 * time.Minute)
	}

	assert.True(t, h.crm.since[0].Equal(store.DefaultWatermark))
	assert.True(t, h.crm.since[2].Equal(starts[1]))

	require.Len(t, h.wf.projectWindows, 3)
	assert.Nil(t, h.wf.projectWindows[0])
	require.NotNil(t, h.wf.projectWindows[2])
	assert.True(t, h.wf.projectWindows[2].From.Equal(starts[1]))
	assert.True(t, h.wf.projectWindows[2].To.Equal(starts[2]))

	cycles, err := h.store.RecentCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	assert.Equal(t, h.orch.Status().LastCycleID, cycles[0].ID)
	assert.Equal(t, 1, cycles[0].Projects)

	status := h.orch.Status()
	assert.Equal(t, 3, status.Cycles)
	assert.True(t, status.Watermark.Equal(starts[2]))
	assert.Empty(t, status.LastError)
}

func TestListingFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t, Config{})
	h.wf.searchErr = gateway.Errorf(gateway.KindTransport, "search", "connection reset")
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	err := h.orch.cycle(ctx)
	require.Error(t, err)

	saved, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, saved.Equal(store.DefaultWatermark))

	status := h.orch.Status()
	assert.NotEmpty(t, status.LastError)

	cycles, err := h.store.RecentCycles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Contains(t, cycles[0].Error, "connection reset")
}

func TestCRMFailureIsFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.crm.closedErr = errors.New("login failed for user")
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.Error(t, h.orch.cycle(ctx))
	assert.Empty(t, h.wf.projectWindows)
}

func TestCreatesJiraProject(t *testing.T) {
	h := newHarness(t, Config{
		DefaultVersion: "2024.1",
		DevTeams:       map[string]string{"Records Management": "Team A"},
		KeyPrefixes:    map[string]string{"Records Management": "R"},
	})
	project := activeProject("p1")
	project.JiraProjectID = ""
	project.Program = "Records Management"
	project.Name = "Mobile field 2 reporting"
	h.wf.projects = []types.Project{project}

	require.NoError(t, h.orch.RunOnce(context.Background()))

	require.Len(t, h.jira.projects, 1)
	params := h.jira.projects[0]
	assert.Equal(t, "RMFR", params.Key)
	assert.Equal(t, "Mobile field 2 reporting", params.Name)
	assert.Equal(t, "Team A", params.DevTeam)
	assert.Equal(t, []string{"2024.1"}, params.Versions)

	assert.Equal(t, "10400", h.wf.jiraProjectIDs["p1"])

	synced := h.orch.state.Projects["p1"]
	require.NotNil(t, synced)
	assert.Equal(t, "RMFR", synced.JiraProjectKey)
	assert.Equal(t, "impl-p1", synced.ImplementationTaskID)
	assert.Equal(t, 1, h.wf.logins)
	assert.Equal(t, 1, h.wf.logouts)
}

func TestMissingDevTeamSkipsProject(t *testing.T) {
	h := newHarness(t, Config{})
	project := activeProject("p1")
	project.JiraProjectID = ""
	project.Program = "Unmapped"
	h.wf.projects = []types.Project{project}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.NoError(t, h.orch.cycle(ctx))

	assert.Empty(t, h.jira.projects)
	assert.Empty(t, h.wf.jiraProjectIDs)

	saved, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, saved.Equal(h.clock))
}

func TestInactiveProjectsAreDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.wf.projects = []types.Project{activeProject("p1"), activeProject("p2")}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.NoError(t, h.orch.cycle(ctx))
	assert.Len(t, h.orch.state.Projects, 2)

	closed := activeProject("p1")
	closed.Status = types.StatusComplete
	unflagged := activeProject("p2")
	unflagged.SyncWithJira = false
	h.wf.projects = []types.Project{closed, unflagged}
	h.clock = h.clock.Add(time.Minute)

	require.NoError(t, h.orch.cycle(ctx))
	assert.Empty(t, h.orch.state.Projects)
	assert.Equal(t, 0, h.orch.Status().Projects)
}

func TestCustomFieldsAreMirrored(t *testing.T) {
	h := newHarness(t, Config{})
	h.crm.open = []types.Opportunity{{ID: "o1"}}
	h.crm.closed = []types.Opportunity{{ID: "o0"}}
	h.crm.accounts = []types.Account{{Name: "City (UTSLC)", AgencyCode: "UTSLC"}}
	h.wf.pilotAgencies = map[string]string{"AZPHX": "AZPHX"}
	h.jira.pilotAgencies = []types.Account{{AgencyCode: "AZPHX"}, {AgencyCode: "UTSLC"}, {AgencyCode: "UTSLC"}}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.NoError(t, h.orch.cycle(ctx))

	assert.Equal(t, []types.Opportunity{{ID: "o0"}}, h.wf.removedOpps)
	assert.Equal(t, []types.Opportunity{{ID: "o1"}}, h.wf.addedOpps)
	assert.Len(t, h.wf.addedAccounts, 1)
	assert.Equal(t, []types.Account{{AgencyCode: "UTSLC"}}, h.wf.addedPilots)

	h.clock = h.clock.Add(time.Minute)
	require.NoError(t, h.orch.cycle(ctx))
	assert.Len(t, h.wf.addedPilots, 1)
}

func TestUnconfiguredPicklistDoesNotStopCycle(t *testing.T) {
	h := newHarness(t, Config{})
	h.wf.projects = []types.Project{activeProject("p1")}
	h.wf.addOptionErr = gateway.Errorf(gateway.KindConfig, "workfront.add_option", "no parameter configured for %q", "XYZ")
	h.crm.open = []types.Opportunity{{ID: "o1"}}
	h.crm.accounts = []types.Account{{Name: "City (UTSLC)", AgencyCode: "UTSLC"}}
	h.jira.pilotAgencies = []types.Account{{AgencyCode: "XYZ"}}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.NoError(t, h.orch.cycle(ctx))

	assert.Len(t, h.wf.projectWindows, 1)
	assert.Len(t, h.wf.requestWindows, 1)

	saved, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, saved.Equal(h.clock))
	assert.Empty(t, h.orch.Status().LastError)

	// the agency is offered again once the parameter exists
	h.wf.addOptionErr = nil
	h.clock = h.clock.Add(time.Minute)
	require.NoError(t, h.orch.cycle(ctx))
	assert.Equal(t, []types.Account{{AgencyCode: "XYZ"}}, h.wf.addedPilots)
}

func TestPicklistTransportFailureIsFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.wf.addOptionErr = gateway.Errorf(gateway.KindTransport, "workfront.add_option", "connection reset")
	h.crm.open = []types.Opportunity{{ID: "o1"}}
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.Error(t, h.orch.cycle(ctx))
	assert.Empty(t, h.wf.projectWindows)

	saved, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, saved.Equal(store.DefaultWatermark))
}

func TestRequestsReconcileAndDropVanished(t *testing.T) {
	h := newHarness(t, Config{})
	h.crm.opportunities["o1"] = types.Opportunity{ID: "o1", Probability: 40}
	h.wf.requests = []types.Request{
		{WorkfrontID: "r1", Status: "NEW", OpportunitySummary: types.OpportunitySummary{IDs: []string{"o1"}}},
		{WorkfrontID: "r2", Status: "NEW", OpportunitySummary: types.OpportunitySummary{IDs: []string{"o1"}}},
		{WorkfrontID: "r3", Status: types.StatusClosed, OpportunitySummary: types.OpportunitySummary{IDs: []string{"o1"}}},
	}
	h.wf.oppUpdateErr["r2"] = gateway.Errorf(gateway.KindNotFound, "update", "request converted")
	ctx := context.Background()

	require.NoError(t, h.orch.start(ctx))
	require.NoError(t, h.orch.cycle(ctx))

	assert.Equal(t, []string{"r1"}, h.wf.oppUpdates)
	assert.Contains(t, h.orch.state.Requests, "r1")
	assert.NotContains(t, h.orch.state.Requests, "r2")
	assert.NotContains(t, h.orch.state.Requests, "r3")

	// the outcome is cached, so an unchanged request is not written again
	h.clock = h.clock.Add(time.Minute)
	h.wf.requests = nil
	require.NoError(t, h.orch.cycle(ctx))
	assert.Equal(t, []string{"r1"}, h.wf.oppUpdates)
	require.Len(t, h.wf.requestWindows, 2)
	assert.NotNil(t, h.wf.requestWindows[1])
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour})
	h.orch.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	require.Eventually(t, func() bool { return h.orch.Status().Cycles == 1 }, 5*time.Second, 10*time.Millisecond)

	require.True(t, h.orch.Trigger())
	require.Eventually(t, func() bool { return h.orch.Status().Cycles == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 1, h.wf.logins)
	assert.Equal(t, 1, h.wf.logouts)
	assert.False(t, h.orch.Status().Running)
}

func TestRunReturnsCycleError(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour})
	h.wf.searchErr = errors.New("workfront unavailable")

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workfront unavailable")
	assert.Equal(t, 1, h.wf.logouts)
}

func TestTriggerDoesNotBlock(t *testing.T) {
	h := newHarness(t, Config{})

	assert.True(t, h.orch.Trigger())
	assert.False(t, h.orch.Trigger())
}
