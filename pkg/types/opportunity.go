package types

import "strings"

// OpportunityState mirrors the CRM opportunity state code
type OpportunityState int

const (
	OpportunityOpen OpportunityState = 0
	OpportunityWon  OpportunityState = 1
	OpportunityLost OpportunityState = 2
)

func (s OpportunityState) String() string {
	switch s {
	case OpportunityOpen:
		return "open"
	case OpportunityWon:
		return "won"
	case OpportunityLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Opportunity is a CRM sales opportunity
type Opportunity struct {
	ID          string
	Name        string
	Probability int
	Flag        string
	Phase       string
	Position    string
	State       OpportunityState
}

// SameStatus reports whether both opportunities carry the same sales status
func (o Opportunity) SameStatus(other Opportunity) bool {
	return o.Flag == other.Flag &&
		o.Phase == other.Phase &&
		o.Position == other.Position &&
		o.Probability == other.Probability &&
		o.State == other.State
}

// CompareOpportunities orders opportunities by how likely they are to be won.
// Won beats open and open beats lost. Two open opportunities are ordered by
// probability, then by flag where the lower rank prefix wins.
func CompareOpportunities(a, b Opportunity) int {
	if a.State != b.State {
		switch {
		case a.State == OpportunityWon:
			return 1
		case b.State == OpportunityWon:
			return -1
		case a.State == OpportunityLost:
			return -1
		case b.State == OpportunityLost:
			return 1
		}
	}

	if a.State != OpportunityOpen {
		return 0
	}

	if a.Probability != b.Probability {
		if a.Probability > b.Probability {
			return 1
		}
		return -1
	}

	// flags look like "1 - Committed", "2 - Back Up"
	return -strings.Compare(a.Flag, b.Flag)
}

// OpportunityHolder is a Workfront object linked to CRM opportunities
type OpportunityHolder interface {
	WorkfrontObjCode() string
	WorkfrontObjectID() string
	DisplayName() string
	OpportunityIDs() []string
	LeadingOpportunityID() string
	CombinedProbability() (int, bool)
	SetOpportunityOutcome(leading Opportunity, combined int)
}

// OpportunitySummary tracks the opportunities linked to a Workfront object
// and the last outcome written back to it.
type OpportunitySummary struct {
	IDs       []string
	LeadingID string
	Leading   *Opportunity
	Combined  *int
}

// OpportunityIDs returns the distinct non-empty linked opportunity IDs
func (s *OpportunitySummary) OpportunityIDs() []string {
	seen := make(map[string]struct{}, len(s.IDs))
	ids := make([]string, 0, len(s.IDs))
	for _, id := range s.IDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// LeadingOpportunityID returns the cached leading opportunity ID
func (s *OpportunitySummary) LeadingOpportunityID() string {
	return s.LeadingID
}

// CombinedProbability returns the cached combined probability, if any
func (s *OpportunitySummary) CombinedProbability() (int, bool) {
	if s.Combined == nil {
		return 0, false
	}
	return *s.Combined, true
}

// SetOpportunityOutcome caches the outcome last written to Workfront
func (s *OpportunitySummary) SetOpportunityOutcome(leading Opportunity, combined int) {
	l := leading
	s.Leading = &l
	s.LeadingID = leading.ID
	s.Combined = &combined
}
