package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-service/internal/model"
)

func uintPtr(v uint) *uint { return &v }

func TestMemoryStoreUpdateMemberVersionGuard(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	member := &model.Member{
		ID:       "m1",
		Email:    "a@x.com",
		TenantID: uintPtr(1),
		Status:   model.MemberStatusPending,
		Source:   model.SourceAdminDirect,
	}
	require.NoError(t, st.CreateMember(ctx, member))

	loaded, err := st.GetMember(ctx, "m1")
	require.NoError(t, err)

	loaded.DisplayName = "First Writer"
	require.NoError(t, st.UpdateMember(ctx, loaded, 0))
	assert.Equal(t, int64(1), loaded.Version)

	// A writer holding the stale version loses.
	stale := *loaded
	stale.DisplayName = "Second Writer"
	err = st.UpdateMember(ctx, &stale, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	current, err := st.GetMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "First Writer", current.DisplayName)
	assert.Equal(t, int64(1), current.Version)

	err = st.UpdateMember(ctx, &model.Member{ID: "ghost"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMemberCopiesAreIsolated(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	member := &model.Member{
		ID:           "m1",
		Email:        "a@x.com",
		Status:       model.MemberStatusPending,
		Source:       model.SourceAdminDirect,
		FieldSources: map[string]string{"email": model.SourceAdminDirect},
	}
	require.NoError(t, st.CreateMember(ctx, member))

	loaded, err := st.GetMember(ctx, "m1")
	require.NoError(t, err)
	loaded.FieldSources["email"] = model.SourceEventDriven

	fresh, err := st.GetMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAdminDirect, fresh.FieldSources["email"])
}

func TestMemoryStoreFindOpenInvitationByEmail(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token: "t-old", Email: "a@x.com", TenantID: 1,
		Status: model.InvitationStatusPending, ExpiresAt: expiry,
	}))
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token: "t-new", Email: "a@x.com", TenantID: 2,
		Status: model.InvitationStatusSent, ExpiresAt: expiry,
	}))
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token: "t-done", Email: "a@x.com", TenantID: 3,
		Status: model.InvitationStatusCompleted, ExpiresAt: expiry,
	}))

	// Newest open invitation wins; completed ones are not open.
	open, err := st.FindOpenInvitationByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "t-new", open.Token)

	// The any-status lookup sees the completed one, which is newest overall.
	latest, err := st.FindLatestInvitationByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "t-done", latest.Token)

	_, err = st.FindOpenInvitationByEmail(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetMemberByEmailTenantPrefersOldest(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateMember(ctx, &model.Member{
		ID: "older", Email: "a@x.com", TenantID: uintPtr(1),
		Status: model.MemberStatusPending, Source: model.SourceAdminDirect,
	}))
	require.NoError(t, st.CreateMember(ctx, &model.Member{
		ID: "newer", Email: "a@x.com", TenantID: uintPtr(1),
		Status: model.MemberStatusPending, Source: model.SourceEventDriven,
	}))

	member, err := st.GetMemberByEmailTenant(ctx, "a@x.com", 1)
	require.NoError(t, err)
	assert.Equal(t, "older", member.ID)
}

func TestMemoryStoreListProfilesForTenant(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateProfile(ctx, &model.RoleProfile{
		ProfileID: "global", Name: "Global", Status: model.ProfileStatusActive,
	}))
	require.NoError(t, st.CreateProfile(ctx, &model.RoleProfile{
		ProfileID: "t1", Name: "Tenant 1", TenantID: uintPtr(1), Status: model.ProfileStatusActive,
	}))
	require.NoError(t, st.CreateProfile(ctx, &model.RoleProfile{
		ProfileID: "t2", Name: "Tenant 2", TenantID: uintPtr(2), Status: model.ProfileStatusActive,
	}))
	require.NoError(t, st.CreateProfile(ctx, &model.RoleProfile{
		ProfileID: "off", Name: "Inactive", TenantID: uintPtr(1), Status: model.ProfileStatusInactive,
	}))

	profiles, err := st.ListProfilesForTenant(ctx, uintPtr(1))
	require.NoError(t, err)
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ProfileID)
	}
	assert.ElementsMatch(t, []string{"global", "t1"}, ids)

	globalOnly, err := st.ListProfilesForTenant(ctx, nil)
	require.NoError(t, err)
	require.Len(t, globalOnly, 1)
	assert.Equal(t, "global", globalOnly[0].ProfileID)
}

func TestMemoryStoreFlags(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateFlag(ctx, &model.OperatorFlag{
		Kind: model.FlagMissingTenant, Email: "a@x.com",
	}))
	require.NoError(t, st.CreateFlag(ctx, &model.OperatorFlag{
		Kind: model.FlagAmbiguousResolution, Email: "b@x.com", Resolved: true,
	}))

	flags, err := st.ListOpenFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, model.FlagMissingTenant, flags[0].Kind)
	assert.NotZero(t, flags[0].ID)
}
