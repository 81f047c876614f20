package jira

import "math"

// EpicStatusDone is the Jira status of a finished epic
const EpicStatusDone = "Done"

// EpicAggregate holds the rolled-up story and time counters of one epic
type EpicAggregate struct {
	OriginalEstimate       float64
	TotalStoryPoints       float64
	ClosedTimeSpent        float64
	ClosedStoryPoints      float64
	ClosedSubtaskTimeSpent float64
	Status                 string
}

// EpicEstimate is the derived duration (hours) and percent complete
type EpicEstimate struct {
	Duration        float64
	PercentComplete float64
}

// EstimateEpic projects an epic's duration from the velocity of its closed
// stories. Without closed story points the original estimate stands.
func EstimateEpic(a EpicAggregate) EpicEstimate {
	var est EpicEstimate

	if a.ClosedStoryPoints <= 0 {
		est.Duration = a.OriginalEstimate
		est.PercentComplete = 0
	} else {
		velocity := a.ClosedTimeSpent / a.ClosedStoryPoints
		remaining := a.TotalStoryPoints - a.ClosedStoryPoints
		est.Duration = math.Round(velocity*remaining + a.ClosedTimeSpent + a.ClosedSubtaskTimeSpent)

		if a.TotalStoryPoints <= 0 {
			// every known point is closed
			est.PercentComplete = 100
		} else {
			est.PercentComplete = math.Round(100 * a.ClosedStoryPoints / a.TotalStoryPoints)
		}
	}

	if a.Status == EpicStatusDone {
		est.PercentComplete = 100
	}

	est.PercentComplete = math.Max(0, math.Min(100, est.PercentComplete))
	return est
}
