package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/internal/sideeffect"
	"member-service/internal/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []sideeffect.Event
}

func (r *recordingEmitter) Emit(event sideeffect.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *recordingEmitter) {
	t.Helper()
	st := store.NewMemoryStore()
	emitter := &recordingEmitter{}
	engine := NewEngine(st, emitter, zap.NewNop())
	engine.sleep = func(int) {}
	return engine, st, emitter
}

func uintPtr(v uint) *uint { return &v }

func TestReconcileAdminDirectCreatesMemberAndInvitation(t *testing.T) {
	t.Parallel()
	engine, st, emitter := newTestEngine(t)
	ctx := context.Background()

	member, err := engine.Reconcile(ctx, Fact{
		Email:    "jane@x.com",
		TenantID: uintPtr(1),
		JobRole:  "tecnico",
	}, model.SourceAdminDirect)
	require.NoError(t, err)
	require.NotNil(t, member)

	assert.Equal(t, "jane@x.com", member.Email)
	assert.Equal(t, uint(1), *member.TenantID)
	assert.Equal(t, "tecnico", member.JobRole)
	assert.Equal(t, model.MemberStatusPending, member.Status)
	assert.Equal(t, model.SourceAdminDirect, member.Source)

	invitation, err := st.FindInvitationByEmailTenant(ctx, "jane@x.com", 1)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusPending, invitation.Status)
	assert.Equal(t, "tecnico", invitation.JobRole)
	assert.Equal(t, member.ID, *invitation.MemberID)
	assert.NotEmpty(t, invitation.Token)

	assert.Contains(t, emitter.kinds(), sideeffect.KindAudit)
}

func TestReconcileAdminDirectIsIdempotent(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	fact := Fact{Email: "jane@x.com", TenantID: uintPtr(1), JobRole: "tecnico"}

	first, err := engine.Reconcile(ctx, fact, model.SourceAdminDirect)
	require.NoError(t, err)
	second, err := engine.Reconcile(ctx, fact, model.SourceAdminDirect)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)

	members, err := st.ListMembersByTenant(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

// Full lifecycle: admin provisions, the invite is sent, the invited user
// registers (twice, as a duplicated delivery), then logs in for the first
// time. All paths must land on one member record and the admin-supplied
// job role must survive the lower-precedence writes.
func TestReconcileLifecycleConvergesOnOneMember(t *testing.T) {
	t.Parallel()
	engine, st, emitter := newTestEngine(t)
	ctx := context.Background()

	member, err := engine.Reconcile(ctx, Fact{
		Email:    "jane@x.com",
		TenantID: uintPtr(1),
		JobRole:  "tecnico",
	}, model.SourceAdminDirect)
	require.NoError(t, err)

	invitation, err := st.FindInvitationByEmailTenant(ctx, "jane@x.com", 1)
	require.NoError(t, err)
	_, err = engine.Invitations().MarkSent(ctx, invitation.Token)
	require.NoError(t, err)

	registration := Fact{
		InviteToken: invitation.Token,
		Email:       "jane@x.com",
		DisplayName: "Jane",
		JobRole:     "gerente", // must lose to the admin-supplied role
	}
	afterFirst, err := engine.Reconcile(ctx, registration, model.SourceInviteRegistration)
	require.NoError(t, err)
	afterSecond, err := engine.Reconcile(ctx, registration, model.SourceInviteRegistration)
	require.NoError(t, err)

	assert.Equal(t, member.ID, afterFirst.ID)
	assert.Equal(t, member.ID, afterSecond.ID)
	assert.Equal(t, "Jane", afterSecond.DisplayName)
	assert.Equal(t, "tecnico", afterSecond.JobRole)
	assert.Equal(t, afterFirst.Version, afterSecond.Version)

	completed, err := st.GetInvitation(ctx, invitation.Token)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusCompleted, completed.Status)
	require.NotNil(t, completed.MemberID)
	assert.Equal(t, member.ID, *completed.MemberID)

	active, err := engine.Reconcile(ctx, Fact{
		IdentityID: "auth0|jane",
		Email:      "jane@x.com",
		Activate:   true,
	}, model.SourceFirstLogin)
	require.NoError(t, err)

	assert.Equal(t, member.ID, active.ID)
	assert.Equal(t, model.MemberStatusActive, active.Status)
	require.NotNil(t, active.FirstActivityAt)
	require.NotNil(t, active.IdentityID)
	assert.Equal(t, "auth0|jane", *active.IdentityID)

	members, err := st.ListMembersByTenant(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	assert.Contains(t, emitter.kinds(), sideeffect.KindMemberActivated)
}

func TestReconcileFirstLoginActivatesAndMirrorsGrant(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, Fact{
		Email:    "carlos@x.com",
		TenantID: uintPtr(3),
		JobRole:  "vendedor",
	}, model.SourceAdminDirect)
	require.NoError(t, err)

	member, err := engine.Reconcile(ctx, Fact{
		IdentityID: "auth0|carlos",
		Email:      "carlos@x.com",
		Activate:   true,
	}, model.SourceFirstLogin)
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusActive, member.Status)

	identity, err := st.GetIdentity(ctx, "auth0|carlos")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityStatusActive, identity.Status)
	require.NotNil(t, identity.MemberID)
	assert.Equal(t, member.ID, *identity.MemberID)

	grant, err := st.GetGrantByIdentity(ctx, "auth0|carlos")
	require.NoError(t, err)
	assert.True(t, grant.Active)
	assert.Equal(t, uint(3), grant.TenantID)

	// The open invitation implied by provisioning completes on the login.
	invitation, err := st.FindInvitationByEmailTenant(ctx, "carlos@x.com", 3)
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusCompleted, invitation.Status)
}

func TestReconcileEventWithoutTenantHoldsMember(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	fact := Fact{IdentityID: "auth0|stray", Email: "stray@x.com"}

	member, err := engine.Reconcile(ctx, fact, model.SourceEventDriven)
	require.ErrorIs(t, err, ErrMissingTenant)
	require.NotNil(t, member)
	assert.Nil(t, member.TenantID)
	assert.Equal(t, model.MemberStatusPending, member.Status)

	flags, err := st.ListOpenFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, model.FlagMissingTenant, flags[0].Kind)

	// Replaying the event resolves to the held member and does not pile up
	// duplicate flags.
	again, err := engine.Reconcile(ctx, fact, model.SourceEventDriven)
	require.ErrorIs(t, err, ErrMissingTenant)
	assert.Equal(t, member.ID, again.ID)

	flags, err = st.ListOpenFlags(ctx)
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestReconcileEventTenantFromInvitation(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Invitations().Create(ctx, "bob@x.com", 7, "tecnico", nil, nil, 24*time.Hour)
	require.NoError(t, err)

	member, err := engine.Reconcile(ctx, Fact{
		IdentityID: "auth0|bob",
		Email:      "bob@x.com",
	}, model.SourceEventDriven)
	require.NoError(t, err)
	require.NotNil(t, member.TenantID)
	assert.Equal(t, uint(7), *member.TenantID)

	// An identity event is not member activity, the invite stays open.
	invitation, err := st.FindOpenInvitationByEmail(ctx, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, model.InvitationStatusPending, invitation.Status)
}

func TestReconcileEventIgnoresPayloadTenantWhenInviteExists(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Invitations().Create(ctx, "bob@x.com", 7, "", nil, nil, 24*time.Hour)
	require.NoError(t, err)

	// The invitation outranks the tenant claimed by the event payload.
	member, err := engine.Reconcile(ctx, Fact{
		IdentityID: "auth0|bob",
		Email:      "bob@x.com",
		TenantID:   uintPtr(99),
	}, model.SourceEventDriven)
	require.NoError(t, err)
	require.NotNil(t, member.TenantID)
	assert.Equal(t, uint(7), *member.TenantID)
}

func TestReconcileAmbiguousResolutionIsFlagged(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	identityID := "auth0|dup"
	require.NoError(t, st.CreateMember(ctx, &model.Member{
		ID:         "member-a",
		IdentityID: &identityID,
		Email:      "other@x.com",
		TenantID:   uintPtr(1),
		Status:     model.MemberStatusPending,
		Source:     model.SourceEventDriven,
	}))
	require.NoError(t, st.CreateMember(ctx, &model.Member{
		ID:       "member-b",
		Email:    "dup@x.com",
		TenantID: uintPtr(1),
		Status:   model.MemberStatusPending,
		Source:   model.SourceAdminDirect,
	}))

	_, err := engine.Reconcile(ctx, Fact{
		IdentityID: identityID,
		Email:      "dup@x.com",
		TenantID:   uintPtr(1),
	}, model.SourceEventDriven)
	require.ErrorIs(t, err, ErrResolutionAmbiguous)

	flags, err := st.ListOpenFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, model.FlagAmbiguousResolution, flags[0].Kind)
}

func TestReconcileRegistrationAgainstExpiredInvite(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:     "expired-token",
		Email:     "late@x.com",
		TenantID:  1,
		Status:    model.InvitationStatusSent,
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	_, err := engine.Reconcile(ctx, Fact{
		InviteToken: "expired-token",
		Email:       "late@x.com",
	}, model.SourceInviteRegistration)
	require.ErrorIs(t, err, ErrInvalidInviteState)

	// The rejection happens before any record is touched.
	members, err := st.ListMembersByTenant(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestReconcileRegistrationReplayAfterCompletion(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	member, err := engine.Reconcile(ctx, Fact{
		Email:    "done@x.com",
		TenantID: uintPtr(2),
	}, model.SourceAdminDirect)
	require.NoError(t, err)

	invitation, err := st.FindInvitationByEmailTenant(ctx, "done@x.com", 2)
	require.NoError(t, err)

	fact := Fact{InviteToken: invitation.Token, Email: "done@x.com", DisplayName: "Done"}
	_, err = engine.Reconcile(ctx, fact, model.SourceInviteRegistration)
	require.NoError(t, err)

	// Replay against the now-completed invitation stays a success.
	replayed, err := engine.Reconcile(ctx, fact, model.SourceInviteRegistration)
	require.NoError(t, err)
	assert.Equal(t, member.ID, replayed.ID)
}

func TestReconcileAdminDirectRejectsTerminalInvitation(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	now := time.Now()
	memberID := "member-x"
	require.NoError(t, st.CreateInvitation(ctx, &model.Invitation{
		Token:       "used-token",
		Email:       "used@x.com",
		TenantID:    4,
		Status:      model.InvitationStatusCompleted,
		ExpiresAt:   now.Add(time.Hour),
		CompletedAt: &now,
		MemberID:    &memberID,
	}))

	_, err := engine.Reconcile(ctx, Fact{
		Email:    "used@x.com",
		TenantID: uintPtr(4),
	}, model.SourceAdminDirect)
	require.ErrorIs(t, err, ErrInvalidInviteState)
}

func TestReconcileAutoAssignsMatchingProfile(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProfile(ctx, &model.RoleProfile{
		ProfileID: "profile-tec",
		TenantID:  uintPtr(1),
		Name:      "Technician",
		JobRoles:  []string{"tecnico"},
		Status:    model.ProfileStatusActive,
	}))

	member, err := engine.Reconcile(ctx, Fact{
		Email:    "tec@x.com",
		TenantID: uintPtr(1),
		JobRole:  "tecnico",
	}, model.SourceAdminDirect)
	require.NoError(t, err)
	require.NotNil(t, member.ProfileID)
	assert.Equal(t, "profile-tec", *member.ProfileID)
}

type conflictingStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) UpdateMember(ctx context.Context, member *model.Member, expectedVersion int64) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return store.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.Store.UpdateMember(ctx, member, expectedVersion)
}

func TestReconcileRetriesVersionConflicts(t *testing.T) {
	t.Parallel()

	newConflictingEngine := func(conflicts int) (*Engine, *conflictingStore) {
		wrapped := &conflictingStore{Store: store.NewMemoryStore(), conflicts: conflicts}
		engine := NewEngine(wrapped, &recordingEmitter{}, zap.NewNop())
		engine.sleep = func(int) {}
		return engine, wrapped
	}

	t.Run("recovers within the retry budget", func(t *testing.T) {
		t.Parallel()
		engine, wrapped := newConflictingEngine(0)
		ctx := context.Background()

		_, err := engine.Reconcile(ctx, Fact{Email: "busy@x.com", TenantID: uintPtr(5)}, model.SourceAdminDirect)
		require.NoError(t, err)

		wrapped.mu.Lock()
		wrapped.conflicts = 2
		wrapped.mu.Unlock()

		member, err := engine.Reconcile(ctx, Fact{
			Email:       "busy@x.com",
			TenantID:    uintPtr(5),
			DisplayName: "Busy",
		}, model.SourceAdminDirect)
		require.NoError(t, err)
		assert.Equal(t, "Busy", member.DisplayName)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		t.Parallel()
		engine, wrapped := newConflictingEngine(0)
		ctx := context.Background()

		_, err := engine.Reconcile(ctx, Fact{Email: "stuck@x.com", TenantID: uintPtr(5)}, model.SourceAdminDirect)
		require.NoError(t, err)

		wrapped.mu.Lock()
		wrapped.conflicts = 10
		wrapped.mu.Unlock()

		_, err = engine.Reconcile(ctx, Fact{
			Email:       "stuck@x.com",
			TenantID:    uintPtr(5),
			DisplayName: "Stuck",
		}, model.SourceAdminDirect)
		require.ErrorIs(t, err, ErrReconcileConflict)
	})
}

func TestApplyStringPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		existingValue string
		existingFrom  string
		value         string
		source        string
		want          applyOutcome
		wantValue     string
	}{
		{
			name:   "empty value is a no-op",
			value:  "",
			source: model.SourceAdminDirect,
			want:   applyNone,
		},
		{
			name:      "unset field accepts any source",
			value:     "tecnico",
			source:    model.SourceEventDriven,
			want:      applyValue,
			wantValue: "tecnico",
		},
		{
			name:          "lower precedence cannot overwrite",
			existingValue: "tecnico",
			existingFrom:  model.SourceAdminDirect,
			value:         "gerente",
			source:        model.SourceInviteRegistration,
			want:          applyNone,
			wantValue:     "tecnico",
		},
		{
			name:          "higher precedence overwrites",
			existingValue: "tecnico",
			existingFrom:  model.SourceEventDriven,
			value:         "gerente",
			source:        model.SourceFirstLogin,
			want:          applyValue,
			wantValue:     "gerente",
		},
		{
			name:          "equal precedence overwrites",
			existingValue: "tecnico",
			existingFrom:  model.SourceFirstLogin,
			value:         "gerente",
			source:        model.SourceFirstLogin,
			want:          applyValue,
			wantValue:     "gerente",
		},
		{
			name:          "same value from a stronger source upgrades provenance",
			existingValue: "tecnico",
			existingFrom:  model.SourceEventDriven,
			value:         "tecnico",
			source:        model.SourceAdminDirect,
			want:          applyProvenance,
			wantValue:     "tecnico",
		},
		{
			name:          "same value from a weaker source is a no-op",
			existingValue: "tecnico",
			existingFrom:  model.SourceAdminDirect,
			value:         "tecnico",
			source:        model.SourceEventDriven,
			want:          applyNone,
			wantValue:     "tecnico",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			member := &model.Member{
				JobRole: tt.existingValue,
				Source:  model.SourceEventDriven,
			}
			if tt.existingFrom != "" {
				member.SetFieldSource(fieldJobRole, tt.existingFrom)
			}

			got := applyString(member, fieldJobRole, tt.value, tt.source, &member.JobRole)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantValue, member.JobRole)
		})
	}
}

func TestApplyStringProvenanceUpgradeBlocksLaterOverwrite(t *testing.T) {
	t.Parallel()

	member := &model.Member{Source: model.SourceEventDriven}
	member.JobRole = "tecnico"
	member.SetFieldSource(fieldJobRole, model.SourceEventDriven)

	// Admin confirms the same value; the field now carries admin precedence.
	assert.Equal(t, applyProvenance,
		applyString(member, fieldJobRole, "tecnico", model.SourceAdminDirect, &member.JobRole))

	got := applyString(member, fieldJobRole, "gerente", model.SourceInviteRegistration, &member.JobRole)
	assert.Equal(t, applyNone, got)
	assert.Equal(t, "tecnico", member.JobRole)
}

// An admin confirmation whose only effect is the provenance upgrade must
// still be written back; a dropped upgrade would let a later
// lower-precedence fact overwrite the admin-confirmed value.
func TestReconcilePersistsProvenanceOnlyMerges(t *testing.T) {
	t.Parallel()
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Reconcile(ctx, Fact{
		IdentityID:  "auth0|jane",
		Email:       "jane@x.com",
		TenantID:    uintPtr(1),
		DisplayName: "Jane Doe",
	}, model.SourceEventDriven)
	require.NoError(t, err)

	confirmed, err := engine.Reconcile(ctx, Fact{
		Email:       "jane@x.com",
		TenantID:    uintPtr(1),
		DisplayName: "Jane Doe",
	}, model.SourceAdminDirect)
	require.NoError(t, err)

	stored, err := st.GetMember(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAdminDirect, stored.FieldSources[fieldDisplayName])

	invitation, err := st.FindInvitationByEmailTenant(ctx, "jane@x.com", 1)
	require.NoError(t, err)

	registered, err := engine.Reconcile(ctx, Fact{
		InviteToken: invitation.Token,
		Email:       "jane@x.com",
		DisplayName: "Someone Else",
	}, model.SourceInviteRegistration)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", registered.DisplayName)

	final, err := st.GetMember(ctx, registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", final.DisplayName)
}
