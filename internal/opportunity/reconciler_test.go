package opportunity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/pkg/types"
)

type fakeCRM struct {
	opps map[string]types.Opportunity
	err  error
}

func (f *fakeCRM) Opportunity(_ context.Context, id string) (types.Opportunity, error) {
	return f.opps[id], f.err
}

func (f *fakeCRM) Opportunities(_ context.Context, ids []string) ([]types.Opportunity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.Opportunity
	for _, id := range ids {
		if o, ok := f.opps[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

type statusWrite struct {
	holder   string
	leading  string
	combined int
}

type fakeWorkfront struct {
	writes []statusWrite
	err    error
}

func (f *fakeWorkfront) UpdateOpportunityStatus(_ context.Context, h types.OpportunityHolder, leading types.Opportunity, combined int) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, statusWrite{holder: h.WorkfrontObjectID(), leading: leading.ID, combined: combined})
	return nil
}

func open(id string, prob int, flag string) types.Opportunity {
	return types.Opportunity{ID: id, Probability: prob, Flag: flag, State: types.OpportunityOpen}
}

func TestCombinedProbability(t *testing.T) {
	assert.Equal(t, 75, CombinedProbability([]types.Opportunity{open("a", 50, ""), open("b", 50, "")}))
	assert.Equal(t, 40, CombinedProbability([]types.Opportunity{open("a", 40, "")}))
	assert.Equal(t, 100, CombinedProbability([]types.Opportunity{open("a", 100, ""), open("b", 10, "")}))
	assert.Equal(t, 0, CombinedProbability(nil))
	// 1 - 0.9*0.9*0.9 = 0.271
	assert.Equal(t, 27, CombinedProbability([]types.Opportunity{open("a", 10, ""), open("b", 10, ""), open("c", 10, "")}))
}

func TestLeading(t *testing.T) {
	_, ok := Leading(nil)
	assert.False(t, ok)

	won := types.Opportunity{ID: "won", State: types.OpportunityWon}
	lost := types.Opportunity{ID: "lost", Probability: 90, State: types.OpportunityLost}

	best, ok := Leading([]types.Opportunity{open("a", 60, "2 - Back Up"), won, lost})
	require.True(t, ok)
	assert.Equal(t, "won", best.ID)

	best, _ = Leading([]types.Opportunity{open("a", 60, "2 - Back Up"), open("b", 60, "1 - Committed"), lost})
	assert.Equal(t, "b", best.ID)

	best, _ = Leading([]types.Opportunity{lost, open("c", 5, "")})
	assert.Equal(t, "c", best.ID)
}

func TestReconcileWritesOnlyOnChange(t *testing.T) {
	crm := &fakeCRM{opps: map[string]types.Opportunity{
		"a": open("a", 50, "1 - Committed"),
		"b": open("b", 50, "2 - Back Up"),
	}}
	wf := &fakeWorkfront{}
	r := NewReconciler(crm, wf, zap.NewNop())

	project := &types.Project{WorkfrontID: "p-1", OpportunitySummary: types.OpportunitySummary{IDs: []string{"a", "b"}}}

	wrote, err := r.Reconcile(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, wrote)
	require.Len(t, wf.writes, 1)
	assert.Equal(t, statusWrite{holder: "p-1", leading: "a", combined: 75}, wf.writes[0])
	assert.Equal(t, "a", project.LeadingOpportunityID())

	wrote, err = r.Reconcile(context.Background(), project)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Len(t, wf.writes, 1)

	// probability change moves the combined value only
	crm.opps["b"] = open("b", 40, "2 - Back Up")
	wrote, err = r.Reconcile(context.Background(), project)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 70, wf.writes[1].combined)
}

func TestReconcileSetsCombinedWhenUnset(t *testing.T) {
	crm := &fakeCRM{opps: map[string]types.Opportunity{"a": open("a", 40, "")}}
	wf := &fakeWorkfront{}
	r := NewReconciler(crm, wf, zap.NewNop())

	request := &types.Request{WorkfrontID: "r-1", OpportunitySummary: types.OpportunitySummary{IDs: []string{"a"}, LeadingID: "a"}}

	wrote, err := r.Reconcile(context.Background(), request)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 40, wf.writes[0].combined)
}

func TestReconcileSkipsHoldersWithoutOpportunities(t *testing.T) {
	crm := &fakeCRM{err: errors.New("should not be called")}
	wf := &fakeWorkfront{}
	r := NewReconciler(crm, wf, zap.NewNop())

	wrote, err := r.Reconcile(context.Background(), &types.Request{WorkfrontID: "r-1"})
	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestReconcilePropagatesErrors(t *testing.T) {
	r := NewReconciler(&fakeCRM{err: errors.New("crm down")}, &fakeWorkfront{}, zap.NewNop())

	_, err := r.Reconcile(context.Background(), &types.Request{
		WorkfrontID:        "r-1",
		OpportunitySummary: types.OpportunitySummary{IDs: []string{"a"}},
	})
	assert.ErrorContains(t, err, "crm down")

	crm := &fakeCRM{opps: map[string]types.Opportunity{"a": open("a", 40, "")}}
	request := &types.Request{WorkfrontID: "r-1", OpportunitySummary: types.OpportunitySummary{IDs: []string{"a"}}}
	r = NewReconciler(crm, &fakeWorkfront{err: errors.New("wf down")}, zap.NewNop())

	_, err = r.Reconcile(context.Background(), request)
	require.Error(t, err)
	_, cached := request.CombinedProbability()
	assert.False(t, cached)
}
