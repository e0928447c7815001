package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"member-service/internal/model"
	"member-service/internal/sideeffect"
	"member-service/internal/store"
	"member-service/prometheus"
)

// InvitationLifecycle owns the invitation state machine:
// pending -> sent -> completed, with an implicit read-only expired view once
// the expiry timestamp passes.
type InvitationLifecycle struct {
	store   store.Store
	emitter sideeffect.Emitter
	now     func() time.Time
}

// NewInvitationLifecycle creates the lifecycle manager.
func NewInvitationLifecycle(st store.Store, emitter sideeffect.Emitter) *InvitationLifecycle {
	return &InvitationLifecycle{store: st, emitter: emitter, now: time.Now}
}

// Create issues a new pending invitation with an unguessable token.
func (l *InvitationLifecycle) Create(ctx context.Context, email string, tenantID uint, jobRole string, profileID *string, memberID *string, ttl time.Duration) (*model.Invitation, error) {
	token, err := newInviteToken()
	if err != nil {
		return nil, fmt.Errorf("generate invite token: %w", err)
	}

	invitation := &model.Invitation{
		Token:     token,
		Email:     email,
		TenantID:  tenantID,
		JobRole:   jobRole,
		ProfileID: profileID,
		MemberID:  memberID,
		Status:    model.InvitationStatusPending,
		ExpiresAt: l.now().Add(ttl),
	}
	if err := l.store.CreateInvitation(ctx, invitation); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	prometheus.RecordInviteTransition(model.InvitationStatusPending)
	return invitation, nil
}

// MarkSent transitions a pending invitation to sent and emits the outbound
// "invitation sent" notification. Calling it on an already-sent invitation
// re-emits the notification without a state change; completed or expired
// invitations are rejected.
func (l *InvitationLifecycle) MarkSent(ctx context.Context, token string) (*model.Invitation, error) {
	invitation, err := l.store.GetInvitation(ctx, token)
	if err != nil {
		return nil, err
	}
	if invitation.IsTerminal(l.now()) {
		return nil, fmt.Errorf("%w: invitation %s is %s", ErrInvalidInviteState, token, invitationState(invitation, l.now()))
	}

	if invitation.Status == model.InvitationStatusPending {
		invitation.Status = model.InvitationStatusSent
		if err := l.store.UpdateInvitation(ctx, invitation); err != nil {
			return nil, fmt.Errorf("mark invitation sent: %w", err)
		}
		prometheus.RecordInviteTransition(model.InvitationStatusSent)
	}

	tenantID := invitation.TenantID
	l.emitter.Emit(sideeffect.Event{
		Kind:        sideeffect.KindInvitationSent,
		Email:       invitation.Email,
		TenantID:    &tenantID,
		InviteToken: invitation.Token,
	})
	return invitation, nil
}

// AdvanceOnActivity completes an invitation on member activity. Valid from
// pending or sent; completing an already-completed invitation is an
// idempotent no-op because multiple entry points may race for the same
// invite. Expired invitations are rejected.
func (l *InvitationLifecycle) AdvanceOnActivity(ctx context.Context, token, memberID string) error {
	invitation, err := l.store.GetInvitation(ctx, token)
	if err != nil {
		return err
	}

	if invitation.Status == model.InvitationStatusCompleted {
		return nil
	}
	if invitation.IsExpired(l.now()) {
		return fmt.Errorf("%w: invitation %s expired at %s", ErrInvalidInviteState, token, invitation.ExpiresAt.Format(time.RFC3339))
	}

	now := l.now()
	invitation.Status = model.InvitationStatusCompleted
	invitation.CompletedAt = &now
	invitation.MemberID = &memberID
	if err := l.store.UpdateInvitation(ctx, invitation); err != nil {
		return fmt.Errorf("complete invitation: %w", err)
	}
	prometheus.RecordInviteTransition(model.InvitationStatusCompleted)
	return nil
}

// newInviteToken generates an unguessable URL-safe token.
func newInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
