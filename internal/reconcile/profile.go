package reconcile

import (
	"context"
	"fmt"
	"sort"

	"member-service/internal/model"
	"member-service/internal/store"
)

// ProfileMatcher deterministically selects a role profile for a member from
// its job-role tag.
type ProfileMatcher struct {
	store store.Store
}

// NewProfileMatcher creates the matcher.
func NewProfileMatcher(st store.Store) *ProfileMatcher {
	return &ProfileMatcher{store: st}
}

// ResolveProfile returns the profile to assign, or nil when no active
// profile matches. No match is not an error: the member stays profile-less
// until a later reconciliation or a manual assignment supplies one.
//
// Selection is a deterministic total order: oldest profile first, ties
// broken by lexical profile-id, so repeated calls with unchanged inputs
// always pick the same profile.
func (m *ProfileMatcher) ResolveProfile(ctx context.Context, member *model.Member) (*string, error) {
	if member.JobRole == "" {
		return nil, nil
	}

	profiles, err := m.store.ListProfilesForTenant(ctx, member.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list role profiles: %w", err)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if !profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
		}
		return profiles[i].ProfileID < profiles[j].ProfileID
	})

	for i := range profiles {
		if profiles[i].Matches(member.JobRole) {
			profileID := profiles[i].ProfileID
			return &profileID, nil
		}
	}
	return nil, nil
}
