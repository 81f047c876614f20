// Package opportunity derives the leading opportunity and combined win
// probability of a Workfront project or request.
package opportunity

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/clintrovert/wfsync/internal/gateway"
	"github.com/clintrovert/wfsync/pkg/types"
)

// Outcome is the derived opportunity state of one holder
type Outcome struct {
	Leading  types.Opportunity
	Combined int
}

// Reconciler keeps the opportunity status on Workfront objects in step with
// the CRM
type Reconciler struct {
	crm       gateway.OpportunitySource
	workfront gateway.WorkfrontOpportunities
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(crm gateway.OpportunitySource, workfront gateway.WorkfrontOpportunities, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		crm:       crm,
		workfront: workfront,
		logger:    logger,
	}
}

// Leading returns the opportunity most likely to be won
func Leading(opps []types.Opportunity) (types.Opportunity, bool) {
	if len(opps) == 0 {
		return types.Opportunity{}, false
	}

	best := opps[0]
	for _, o := range opps[1:] {
		if types.CompareOpportunities(o, best) > 0 {
			best = o
		}
	}
	return best, true
}

// CombinedProbability is the chance that at least one opportunity is won,
// truncated to a whole percentage
func CombinedProbability(opps []types.Opportunity) int {
	if len(opps) == 0 {
		return 0
	}

	lose := 1.0
	for _, o := range opps {
		lose *= 1 - float64(o.Probability)/100
	}
	return int(math.Floor((1-lose)*100 + 1e-9))
}

// NeedsUpdate reports whether the holder's cached outcome is stale
func NeedsUpdate(holder types.OpportunityHolder, out Outcome) bool {
	if holder.LeadingOpportunityID() != out.Leading.ID {
		return true
	}
	cached, ok := holder.CombinedProbability()
	return !ok || cached != out.Combined
}

// Reconcile resolves the holder's opportunities and pushes a changed
// outcome to Workfront. It reports whether a write was made.
func (r *Reconciler) Reconcile(ctx context.Context, holder types.OpportunityHolder) (bool, error) {
	ids := holder.OpportunityIDs()
	if len(ids) == 0 {
		return false, nil
	}

	opps, err := r.crm.Opportunities(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to resolve opportunities of %s: %w", holder.WorkfrontObjectID(), err)
	}

	leading, ok := Leading(opps)
	if !ok {
		r.logger.Warn("no opportunities found in the CRM",
			zap.String("holder", holder.WorkfrontObjectID()),
			zap.Strings("ids", ids),
		)
		return false, nil
	}

	out := Outcome{Leading: leading, Combined: CombinedProbability(opps)}
	if !NeedsUpdate(holder, out) {
		return false, nil
	}

	if err := r.workfront.UpdateOpportunityStatus(ctx, holder, out.Leading, out.Combined); err != nil {
		return false, err
	}
	holder.SetOpportunityOutcome(out.Leading, out.Combined)

	r.logger.Info("updated opportunity status",
		zap.String("objcode", holder.WorkfrontObjCode()),
		zap.String("id", holder.WorkfrontObjectID()),
		zap.String("name", holder.DisplayName()),
		zap.String("leading", out.Leading.ID),
		zap.Int("combined", out.Combined),
	)
	return true, nil
}
