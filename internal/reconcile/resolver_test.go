package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-service/internal/model"
	"member-service/internal/store"
)

func seedMember(t *testing.T, st *store.MemoryStore, id, email string, tenantID uint, identityID string) *model.Member {
	t.Helper()
	member := &model.Member{
		ID:       id,
		Email:    email,
		TenantID: &tenantID,
		Status:   model.MemberStatusPending,
		Source:   model.SourceAdminDirect,
	}
	if identityID != "" {
		member.IdentityID = &identityID
	}
	require.NoError(t, st.CreateMember(context.Background(), member))
	return member
}

func TestResolveByIdentity(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)
	seedMember(t, st, "m1", "a@x.com", 1, "auth0|a")

	resolution, err := resolver.Resolve(context.Background(), Fact{IdentityID: "auth0|a"})
	require.NoError(t, err)
	require.NotNil(t, resolution.Member)
	assert.Equal(t, "m1", resolution.Member.ID)
	assert.Equal(t, KeyIdentity, resolution.Key)
}

func TestResolveByInviteToken(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)
	ctx := context.Background()

	member := seedMember(t, st, "m1", "a@x.com", 1, "")
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:     "tok-1",
		Email:     "a@x.com",
		TenantID:  1,
		Status:    model.InvitationStatusSent,
		ExpiresAt: time.Now().Add(time.Hour),
		MemberID:  &member.ID,
	}))

	// The token alone locates the member through the invitation back-ref.
	resolution, err := resolver.Resolve(ctx, Fact{InviteToken: "tok-1"})
	require.NoError(t, err)
	require.NotNil(t, resolution.Member)
	assert.Equal(t, "m1", resolution.Member.ID)
	require.NotNil(t, resolution.Invitation)
	assert.Equal(t, "tok-1", resolution.Invitation.Token)
}

func TestResolveBorrowsEmailTenantFromInvitation(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)
	ctx := context.Background()

	seedMember(t, st, "m1", "a@x.com", 1, "")
	// Invitation without a member back-ref; the (email, tenant) pair it
	// carries still leads to the member.
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:     "tok-2",
		Email:     "a@x.com",
		TenantID:  1,
		Status:    model.InvitationStatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	resolution, err := resolver.Resolve(ctx, Fact{InviteToken: "tok-2"})
	require.NoError(t, err)
	require.NotNil(t, resolution.Member)
	assert.Equal(t, "m1", resolution.Member.ID)
	assert.Equal(t, KeyEmailTenant, resolution.Key)
}

func TestResolveNoMatch(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)

	resolution, err := resolver.Resolve(context.Background(), Fact{
		IdentityID: "auth0|ghost",
		Email:      "ghost@x.com",
		TenantID:   uintPtr(1),
	})
	require.NoError(t, err)
	assert.Nil(t, resolution.Member)
	assert.Equal(t, KeyNone, resolution.Key)
}

func TestResolveAgreeingKeysAreNotAmbiguous(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)
	seedMember(t, st, "m1", "a@x.com", 1, "auth0|a")

	resolution, err := resolver.Resolve(context.Background(), Fact{
		IdentityID: "auth0|a",
		Email:      "a@x.com",
		TenantID:   uintPtr(1),
	})
	require.NoError(t, err)
	require.NotNil(t, resolution.Member)
	assert.Equal(t, "m1", resolution.Member.ID)
	assert.Equal(t, KeyIdentity, resolution.Key)
}

func TestResolveConflictingKeysAreAmbiguous(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryStore()
	resolver := NewResolver(st)
	seedMember(t, st, "m1", "a@x.com", 1, "auth0|a")
	seedMember(t, st, "m2", "b@x.com", 1, "")

	_, err := resolver.Resolve(context.Background(), Fact{
		IdentityID: "auth0|a",
		Email:      "b@x.com",
		TenantID:   uintPtr(1),
	})
	assert.ErrorIs(t, err, ErrResolutionAmbiguous)
}
