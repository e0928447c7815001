package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-service/internal/model"
	"member-service/internal/sideeffect"
	"member-service/internal/store"
)

func newTestLifecycle(t *testing.T) (*InvitationLifecycle, *store.MemoryStore, *recordingEmitter) {
	t.Helper()
	st := store.NewMemoryStore()
	emitter := &recordingEmitter{}
	return NewInvitationLifecycle(st, emitter), st, emitter
}

func TestInvitationCreate(t *testing.T) {
	t.Parallel()
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	before := time.Now()
	invitation, err := lifecycle.Create(ctx, "new@x.com", 2, "tecnico", nil, nil, 48*time.Hour)
	require.NoError(t, err)

	assert.NotEmpty(t, invitation.Token)
	assert.Equal(t, model.InvitationStatusPending, invitation.Status)
	assert.Equal(t, "new@x.com", invitation.Email)
	assert.Equal(t, uint(2), invitation.TenantID)
	assert.Equal(t, "tecnico", invitation.JobRole)
	assert.True(t, invitation.ExpiresAt.After(before.Add(47*time.Hour)))

	stored, err := st.GetInvitation(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, invitation.Token, stored.Token)

	// Tokens are unguessable and unique per invitation.
	other, err := lifecycle.Create(ctx, "new@x.com", 2, "tecnico", nil, nil, 48*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, invitation.Token, other.Token)
}

func TestInvitationMarkSent(t *testing.T) {
	t.Parallel()
	lifecycle, st, emitter := newTestLifecycle(t)
	ctx := context.Background()

	invitation, err := lifecycle.Create(ctx, "send@x.com", 1, "", nil, nil, time.Hour)
	require.NoError(t, err)

	sent, err := lifecycle.MarkSent(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusSent, sent.Status)
	assert.Equal(t, []string{sideeffect.KindInvitationSent}, emitter.kinds())

	// Resend: no state change, but the notification goes out again.
	resent, err := lifecycle.MarkSent(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusSent, resent.Status)
	assert.Len(t, emitter.kinds(), 2)

	stored, err := st.GetInvitation(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusSent, stored.Status)
}

func TestInvitationMarkSentRejectsTerminalStates(t *testing.T) {
	t.Parallel()
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:       "completed-token",
		Email:       "done@x.com",
		TenantID:    1,
		Status:      model.InvitationStatusCompleted,
		ExpiresAt:   now.Add(time.Hour),
		CompletedAt: &now,
	}))
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:     "expired-token",
		Email:     "late@x.com",
		TenantID:  1,
		Status:    model.InvitationStatusSent,
		ExpiresAt: now.Add(-time.Hour),
	}))

	_, err := lifecycle.MarkSent(ctx, "completed-token")
	assert.ErrorIs(t, err, ErrInvalidInviteState)

	_, err = lifecycle.MarkSent(ctx, "expired-token")
	assert.ErrorIs(t, err, ErrInvalidInviteState)

	_, err = lifecycle.MarkSent(ctx, "no-such-token")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvitationAdvanceOnActivity(t *testing.T) {
	t.Parallel()
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	invitation, err := lifecycle.Create(ctx, "adv@x.com", 1, "", nil, nil, time.Hour)
	require.NoError(t, err)

	require.NoError(t, lifecycle.AdvanceOnActivity(ctx, invitation.Token, "member-1"))

	completed, err := st.GetInvitation(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.MemberID)
	assert.Equal(t, "member-1", *completed.MemberID)

	// Completing again is a no-op, even with a different member id: the first
	// completion wins and multiple entry points may race for the same invite.
	firstCompletion := *completed.CompletedAt
	require.NoError(t, lifecycle.AdvanceOnActivity(ctx, invitation.Token, "member-2"))

	replayed, err := st.GetInvitation(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, "member-1", *replayed.MemberID)
	assert.Equal(t, firstCompletion, *replayed.CompletedAt)
}

func TestInvitationAdvanceOnActivityRejectsExpired(t *testing.T) {
	t.Parallel()
	lifecycle, st, _ := newTestLifecycle(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:     "stale-token",
		Email:     "stale@x.com",
		TenantID:  1,
		Status:    model.InvitationStatusSent,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	err := lifecycle.AdvanceOnActivity(ctx, "stale-token", "member-1")
	assert.ErrorIs(t, err, ErrInvalidInviteState)
}
