package jira

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEpic(t *testing.T) {
	tests := []struct {
		name     string
		in       EpicAggregate
		duration float64
		percent  float64
	}{
		{
			name:     "velocity projection",
			in:       EpicAggregate{OriginalEstimate: 200, TotalStoryPoints: 100, ClosedStoryPoints: 50, ClosedTimeSpent: 40, ClosedSubtaskTimeSpent: 5, Status: "In Progress"},
			duration: 85,
			percent:  50,
		},
		{
			name:     "no closed points keeps original estimate",
			in:       EpicAggregate{OriginalEstimate: 120, TotalStoryPoints: 30, ClosedTimeSpent: 99, ClosedSubtaskTimeSpent: 7},
			duration: 120,
			percent:  0,
		},
		{
			name:     "negative closed points keeps original estimate",
			in:       EpicAggregate{OriginalEstimate: 16, TotalStoryPoints: 30, ClosedStoryPoints: -1},
			duration: 16,
			percent:  0,
		},
		{
			name:     "done forces complete",
			in:       EpicAggregate{OriginalEstimate: 10, TotalStoryPoints: 40, ClosedStoryPoints: 10, ClosedTimeSpent: 20, Status: EpicStatusDone},
			duration: 80,
			percent:  100,
		},
		{
			name:     "done without closed points",
			in:       EpicAggregate{OriginalEstimate: 10, Status: EpicStatusDone},
			duration: 10,
			percent:  100,
		},
		{
			name:     "rounds half away from zero",
			in:       EpicAggregate{TotalStoryPoints: 8, ClosedStoryPoints: 1, ClosedTimeSpent: 1.5},
			duration: 12,
			percent:  13,
		},
		{
			name:     "zero total with closed points is complete",
			in:       EpicAggregate{TotalStoryPoints: 0, ClosedStoryPoints: 5, ClosedTimeSpent: 10},
			duration: 0,
			percent:  100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateEpic(tt.in)
			assert.Equal(t, tt.duration, got.Duration)
			assert.Equal(t, tt.percent, got.PercentComplete)
		})
	}
}
