package synchronizer

import (
	"sort"
	"time"

	"github.com/clintrovert/wfsync/pkg/types"
)

// SyncState is everything the orchestrator carries from one cycle to the
// next. It is owned by the goroutine running the cycles.
type SyncState struct {
	Projects      map[string]*types.Project
	Requests      map[string]*types.Request
	PilotAgencies map[string]string
	Watermark     time.Time

	projectsLoaded bool
	requestsLoaded bool
}

// NewSyncState returns an empty state starting from watermark
func NewSyncState(watermark time.Time) *SyncState {
	return &SyncState{
		Projects:  make(map[string]*types.Project),
		Requests:  make(map[string]*types.Request),
		Watermark: watermark,
	}
}

// MergeProjects folds a Workfront search result into the active project
// set. Projects that are no longer current or no longer flagged for sync
// are dropped. It returns the number of projects added and removed.
func (s *SyncState) MergeProjects(found []types.Project, specialEpics []string) (added, removed int) {
	for i := range found {
		src := found[i]

		existing, ok := s.Projects[src.WorkfrontID]
		if !src.Active() {
			if ok {
				delete(s.Projects, src.WorkfrontID)
				removed++
			}
			continue
		}

		if ok {
			existing.Update(src)
			continue
		}

		project := new(types.Project)
		*project = src
		for _, name := range specialEpics {
			project.AddSpecialEpic(name)
		}
		s.Projects[src.WorkfrontID] = project
		added++
	}
	return added, removed
}

// MergeRequests folds a Workfront search result into the active request
// set. Closed requests are dropped.
func (s *SyncState) MergeRequests(found []types.Request) (added, removed int) {
	for i := range found {
		src := found[i]

		existing, ok := s.Requests[src.WorkfrontID]
		if !src.Active() {
			if ok {
				delete(s.Requests, src.WorkfrontID)
				removed++
			}
			continue
		}

		if ok {
			existing.Update(src)
			continue
		}

		request := new(types.Request)
		*request = src
		s.Requests[src.WorkfrontID] = request
		added++
	}
	return added, removed
}

// ProjectIDs returns the active project IDs in a stable order
func (s *SyncState) ProjectIDs() []string {
	return sortedKeys(s.Projects)
}

// RequestIDs returns the active request IDs in a stable order
func (s *SyncState) RequestIDs() []string {
	return sortedKeys(s.Requests)
}

// MissingPilotAgencies returns the agencies not yet in the cache
func (s *SyncState) MissingPilotAgencies(agencies []types.Account) []types.Account {
	var missing []types.Account
	seen := make(map[string]struct{})
	for _, a := range agencies {
		if _, ok := s.PilotAgencies[a.AgencyCode]; ok {
			continue
		}
		if _, ok := seen[a.AgencyCode]; ok {
			continue
		}
		seen[a.AgencyCode] = struct{}{}
		missing = append(missing, a)
	}
	return missing
}

// CachePilotAgencies records agencies known to exist in Workfront
func (s *SyncState) CachePilotAgencies(agencies []types.Account) {
	if s.PilotAgencies == nil {
		s.PilotAgencies = make(map[string]string)
	}
	for _, a := range agencies {
		s.PilotAgencies[a.AgencyCode] = a.AgencyCode
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
