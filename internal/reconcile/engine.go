package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"member-service/internal/model"
	"member-service/internal/sideeffect"
	"member-service/internal/store"
	"member-service/prometheus"
)

// Engine is the reconciliation orchestrator. It consumes facts from the four
// entry points and converges them onto one consistent member record per
// human per tenant, keeping the identity record, invitation record and
// permission grant in step.
type Engine struct {
	store       store.Store
	resolver    *Resolver
	invitations *InvitationLifecycle
	profiles    *ProfileMatcher
	grants      *GrantSynchronizer
	emitter     sideeffect.Emitter
	log         *zap.Logger

	maxAttempts int
	inviteTTL   time.Duration
	now         func() time.Time
	sleep       func(attempt int)
}

// NewEngine wires the engine and its sub-components over one store.
func NewEngine(st store.Store, emitter sideeffect.Emitter, log *zap.Logger) *Engine {
	return &Engine{
		store:       st,
		resolver:    NewResolver(st),
		invitations: NewInvitationLifecycle(st, emitter),
		profiles:    NewProfileMatcher(st),
		grants:      NewGrantSynchronizer(st),
		emitter:     emitter,
		log:         log,
		maxAttempts: 3,
		inviteTTL:   7 * 24 * time.Hour,
		now:         time.Now,
		sleep:       jitterSleep,
	}
}

// Invitations exposes the invitation lifecycle manager for the admin
// send/resend surface.
func (e *Engine) Invitations() *InvitationLifecycle {
	return e.invitations
}

// SetInviteTTL overrides the validity window for invitations the engine
// issues on admin-direct provisioning.
func (e *Engine) SetInviteTTL(ttl time.Duration) {
	if ttl > 0 {
		e.inviteTTL = ttl
	}
}

// Reconcile merges one fact into the canonical member record under the
// field-level precedence policy and brings the invitation, identity and
// permission grant records in line. The operation is idempotent: replaying
// the same fact produces no observable state change.
//
// The returned member is non-nil even when ErrMissingTenant is returned:
// the record is created in an unresolved-tenant holding state and flagged
// for operator follow-up rather than dropped.
func (e *Engine) Reconcile(ctx context.Context, fact Fact, source string) (*model.Member, error) {
	if fact.IsEmpty() {
		return nil, errors.New("fact carries no identifying information")
	}
	if model.SourceRank(source) < 0 {
		return nil, fmt.Errorf("unknown source kind %q", source)
	}
	now := e.now()

	var invitation *model.Invitation

	switch source {
	case model.SourceInviteRegistration:
		if fact.InviteToken == "" {
			return nil, errors.New("invite-registration fact requires an invite token")
		}
		found, err := e.store.GetInvitation(ctx, fact.InviteToken)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("invitation %q: %w", fact.InviteToken, store.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup invitation: %w", err)
		}
		// Replays against a completed invite stay idempotent; only an expired
		// invite rejects the registration.
		if found.Status != model.InvitationStatusCompleted && found.IsExpired(now) {
			return nil, fmt.Errorf("%w: invitation %s expired at %s",
				ErrInvalidInviteState, found.Token, found.ExpiresAt.Format(time.RFC3339))
		}
		invitation = found

	case model.SourceAdminDirect:
		if fact.Email == "" || fact.TenantID == nil {
			return nil, errors.New("admin-direct fact requires email and tenant-id")
		}
		existing, err := e.store.FindInvitationByEmailTenant(ctx, fact.Email, *fact.TenantID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup invitation: %w", err)
		}
		if existing != nil {
			if existing.IsTerminal(now) {
				return nil, fmt.Errorf("%w: invitation for %s in tenant %d is %s",
					ErrInvalidInviteState, fact.Email, *fact.TenantID, invitationState(existing, now))
			}
			invitation = existing
		}

	default:
		found, err := e.loadInvitation(ctx, fact)
		if err != nil {
			return nil, err
		}
		invitation = found
	}

	enriched := e.enrich(ctx, fact, invitation, source)

	resolution, err := e.resolveFlagged(ctx, enriched)
	if err != nil {
		return nil, err
	}
	if invitation == nil {
		invitation = resolution.Invitation
	}

	member := resolution.Member
	created := false
	var changed []string
	activated := false

	if member == nil {
		// Guard the read-then-write race window: re-resolve once before
		// creating, and merge into the winner if a concurrent creator won.
		again, err := e.resolveFlagged(ctx, enriched)
		if err != nil {
			return nil, err
		}
		member = again.Member
		if member == nil {
			fresh := &model.Member{
				ID:           uuid.New().String(),
				Status:       model.MemberStatusPending,
				Source:       source,
				FieldSources: make(map[string]string),
			}
			applied, didActivate, _ := e.applyFact(fresh, enriched, source, invitation)
			if err := e.store.CreateMember(ctx, fresh); err != nil {
				return nil, fmt.Errorf("create member: %w", err)
			}
			member = fresh
			created = true
			changed = applied
			activated = didActivate
		}
	}

	if !created {
		member, changed, activated, err = e.mergeWithRetry(ctx, member, enriched, source, invitation)
		if err != nil {
			return member, err
		}
	}

	// Side-effect chain of the pass. Each step is independently idempotent,
	// so a partial failure can be retried end-to-end.
	invitation, err = e.advanceInvitation(ctx, member, enriched, source, invitation, now)
	if err != nil {
		return member, err
	}

	if member.ProfileID == nil {
		member, err = e.matchProfile(ctx, member, source, &changed)
		if err != nil {
			return member, err
		}
	}

	if member.IdentityID != nil {
		if err := e.syncIdentity(ctx, member, invitation); err != nil {
			return member, err
		}
		if member.TenantID != nil {
			if err := e.grants.SyncGrant(ctx, *member.IdentityID, *member.TenantID, member.ProfileID); err != nil {
				return member, err
			}
		}
	}

	e.emitter.Emit(sideeffect.Event{
		Kind:          sideeffect.KindAudit,
		Source:        source,
		MemberID:      member.ID,
		Email:         member.Email,
		TenantID:      member.TenantID,
		FieldsChanged: changed,
	})
	if activated {
		e.emitter.Emit(sideeffect.Event{
			Kind:     sideeffect.KindMemberActivated,
			Source:   source,
			MemberID: member.ID,
			Email:    member.Email,
			TenantID: member.TenantID,
		})
	}

	if member.TenantID == nil {
		if created {
			e.flag(ctx, model.FlagMissingTenant, member.Email, &member.ID,
				fmt.Sprintf("member %s created without a resolvable tenant", member.ID))
		}
		return member, fmt.Errorf("%w: member %s", ErrMissingTenant, member.ID)
	}
	return member, nil
}

// loadInvitation finds the invitation view a login or identity event can
// see: the newest open invitation for the fact's email, falling back to the
// newest invitation of any status. A completed invitation is still the
// anchor that ties a later login to its tenant.
func (e *Engine) loadInvitation(ctx context.Context, fact Fact) (*model.Invitation, error) {
	if fact.Email == "" {
		return nil, nil
	}
	invitation, err := e.store.FindOpenInvitationByEmail(ctx, fact.Email)
	if err == nil {
		return invitation, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup invitation by email: %w", err)
	}

	invitation, err = e.store.FindLatestInvitationByEmail(ctx, fact.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup invitation by email: %w", err)
	}
	return invitation, nil
}

// enrich fills gaps in the fact from the invitation and resolves the tenant.
// For identity-provider events the tenant waterfall is: invitation record,
// then the identity record's stored tenant, then the explicit fact value.
// For the other sources an explicit fact value is authoritative.
func (e *Engine) enrich(ctx context.Context, fact Fact, invitation *model.Invitation, source string) Fact {
	enriched := fact
	if enriched.Email == "" && invitation != nil {
		enriched.Email = invitation.Email
	}

	if source == model.SourceEventDriven {
		enriched.TenantID = e.tenantWaterfall(ctx, fact, invitation)
		return enriched
	}
	if enriched.TenantID == nil {
		enriched.TenantID = e.tenantWaterfall(ctx, fact, invitation)
	}
	return enriched
}

func (e *Engine) tenantWaterfall(ctx context.Context, fact Fact, invitation *model.Invitation) *uint {
	if invitation != nil {
		tenantID := invitation.TenantID
		return &tenantID
	}
	if fact.IdentityID != "" {
		identity, err := e.store.GetIdentity(ctx, fact.IdentityID)
		if err == nil && identity.TenantID != nil {
			return identity.TenantID
		}
	}
	return fact.TenantID
}

// resolveFlagged resolves the fact and pushes ambiguous resolutions onto the
// operator queue before surfacing them.
func (e *Engine) resolveFlagged(ctx context.Context, fact Fact) (*Resolution, error) {
	resolution, err := e.resolver.Resolve(ctx, fact)
	if err != nil {
		if errors.Is(err, ErrResolutionAmbiguous) {
			e.flag(ctx, model.FlagAmbiguousResolution, fact.Email, nil, err.Error())
		}
		return nil, err
	}
	return resolution, nil
}

// mergeWithRetry merges the fact into the member under optimistic
// concurrency: on a version conflict the member is re-read and the merge
// recomputed, bounded by maxAttempts. A pass whose only effect is a
// provenance upgrade is still persisted, otherwise the upgrade would be
// lost and a later lower-precedence fact could overwrite the value.
func (e *Engine) mergeWithRetry(ctx context.Context, member *model.Member, fact Fact, source string, invitation *model.Invitation) (*model.Member, []string, bool, error) {
	for attempt := 1; ; attempt++ {
		merged := cloneMember(member)
		changed, activated, dirty := e.applyFact(merged, fact, source, invitation)
		if !dirty {
			return member, nil, false, nil
		}

		err := e.store.UpdateMember(ctx, merged, member.Version)
		if err == nil {
			return merged, changed, activated, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return member, nil, false, fmt.Errorf("update member: %w", err)
		}
		if attempt >= e.maxAttempts {
			return member, nil, false, fmt.Errorf("%w: member %s after %d attempts", ErrReconcileConflict, member.ID, attempt)
		}

		e.sleep(attempt)
		reloaded, err := e.store.GetMember(ctx, member.ID)
		if err != nil {
			return member, nil, false, fmt.Errorf("reload member: %w", err)
		}
		member = reloaded
		e.log.Debug("retrying member merge after version conflict",
			zap.String("member_id", member.ID),
			zap.Int("attempt", attempt))
	}
}

// applyFact mutates the member in place under the field-level precedence
// policy. It reports the changed fields, whether the member activated, and
// whether the member needs persisting at all, which includes passes that
// only upgraded a field's provenance without touching its value.
func (e *Engine) applyFact(member *model.Member, fact Fact, source string, invitation *model.Invitation) ([]string, bool, bool) {
	var changed []string
	dirty := false
	mark := func(field string, outcome applyOutcome) {
		if outcome == applyValue {
			changed = append(changed, field)
		}
		if outcome != applyNone {
			dirty = true
		}
	}

	// Identity link: once known, always recorded; never cleared.
	if fact.IdentityID != "" && member.IdentityID == nil {
		identityID := fact.IdentityID
		member.IdentityID = &identityID
		member.SetFieldSource(fieldIdentityID, source)
		mark(fieldIdentityID, applyValue)
	}

	// Tenant: set once, never downgraded or moved.
	if fact.TenantID != nil && member.TenantID == nil {
		tenantID := *fact.TenantID
		member.TenantID = &tenantID
		member.SetFieldSource(fieldTenantID, source)
		mark(fieldTenantID, applyValue)
	}

	// Fields the administrator intended on the invitation carry admin-direct
	// precedence regardless of which entry point delivered them.
	if invitation != nil {
		mark(fieldJobRole, applyString(member, fieldJobRole, invitation.JobRole, model.SourceAdminDirect, &member.JobRole))
		if invitation.ProfileID != nil {
			mark(fieldProfileID, applyProfile(member, *invitation.ProfileID, model.SourceAdminDirect))
		}
	}

	mark(fieldEmail, applyString(member, fieldEmail, fact.Email, source, &member.Email))
	mark(fieldDisplayName, applyString(member, fieldDisplayName, fact.DisplayName, source, &member.DisplayName))
	mark(fieldJobRole, applyString(member, fieldJobRole, fact.JobRole, source, &member.JobRole))
	mark(fieldArea, applyString(member, fieldArea, fact.Area, source, &member.Area))
	if fact.ProfileID != "" {
		mark(fieldProfileID, applyProfile(member, fact.ProfileID, source))
	}

	// Status is monotonic: pending -> active only, and the first-activity
	// timestamp is recorded once on the first transition.
	activated := false
	if fact.Activate && member.Status == model.MemberStatusPending {
		member.Status = model.MemberStatusActive
		if member.FirstActivityAt == nil {
			now := e.now()
			member.FirstActivityAt = &now
		}
		member.SetFieldSource(fieldStatus, source)
		mark(fieldStatus, applyValue)
		activated = true
	}

	return changed, activated, dirty
}

// advanceInvitation moves the invitation state machine along for the entry
// points that represent member activity, and creates the pending invitation
// an admin-direct provisioning implies.
func (e *Engine) advanceInvitation(ctx context.Context, member *model.Member, fact Fact, source string, invitation *model.Invitation, now time.Time) (*model.Invitation, error) {
	switch source {
	case model.SourceAdminDirect:
		if invitation != nil {
			return invitation, nil
		}
		profileID := member.ProfileID
		if fact.ProfileID != "" {
			requested := fact.ProfileID
			profileID = &requested
		}
		created, err := e.invitations.Create(ctx, member.Email, *fact.TenantID, fact.JobRole, profileID, &member.ID, e.inviteTTL)
		if err != nil {
			return nil, err
		}
		return created, nil

	case model.SourceInviteRegistration, model.SourceFirstLogin:
		if invitation == nil {
			return nil, nil
		}
		// A login is legitimate regardless of an invite that lapsed; only the
		// registration path treats expiry as an error, and that was rejected
		// before any record was touched.
		if invitation.Status != model.InvitationStatusCompleted && invitation.IsExpired(now) {
			return invitation, nil
		}
		if err := e.invitations.AdvanceOnActivity(ctx, invitation.Token, member.ID); err != nil {
			return invitation, err
		}
		return invitation, nil
	}
	return invitation, nil
}

// matchProfile auto-assigns a role profile when the member has none,
// persisting the assignment with the same conditional-update discipline.
func (e *Engine) matchProfile(ctx context.Context, member *model.Member, source string, changed *[]string) (*model.Member, error) {
	profileID, err := e.profiles.ResolveProfile(ctx, member)
	if err != nil {
		return member, err
	}
	if profileID == nil {
		if member.JobRole != "" {
			prometheus.RecordProfileMatch("unmatched")
		}
		return member, nil
	}
	prometheus.RecordProfileMatch("matched")

	for attempt := 1; ; attempt++ {
		clone := cloneMember(member)
		if applyProfile(clone, *profileID, source) != applyValue {
			return member, nil
		}
		err := e.store.UpdateMember(ctx, clone, member.Version)
		if err == nil {
			*changed = append(*changed, fieldProfileID)
			return clone, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return member, fmt.Errorf("assign profile: %w", err)
		}
		if attempt >= e.maxAttempts {
			return member, fmt.Errorf("%w: member %s after %d attempts", ErrReconcileConflict, member.ID, attempt)
		}
		e.sleep(attempt)
		reloaded, err := e.store.GetMember(ctx, member.ID)
		if err != nil {
			return member, fmt.Errorf("reload member: %w", err)
		}
		member = reloaded
		if member.ProfileID != nil {
			return member, nil
		}
	}
}

// syncIdentity keeps the identity record's back-references and lifecycle
// status aligned with the member record.
func (e *Engine) syncIdentity(ctx context.Context, member *model.Member, invitation *model.Invitation) error {
	identityID := *member.IdentityID
	var token *string
	if invitation != nil {
		t := invitation.Token
		token = &t
	}
	status := model.IdentityStatusPending
	if member.Status == model.MemberStatusActive {
		status = model.IdentityStatusActive
	}

	identity, err := e.store.GetIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		identity = &model.Identity{
			IdentityID:  identityID,
			Email:       member.Email,
			DisplayName: member.DisplayName,
			TenantID:    member.TenantID,
			ProfileID:   member.ProfileID,
			MemberID:    &member.ID,
			InviteToken: token,
			Status:      status,
		}
		if err := e.store.CreateIdentity(ctx, identity); err != nil {
			return fmt.Errorf("create identity record: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup identity record: %w", err)
	}

	dirty := false
	if identity.MemberID == nil || *identity.MemberID != member.ID {
		identity.MemberID = &member.ID
		dirty = true
	}
	if identity.TenantID == nil && member.TenantID != nil {
		identity.TenantID = member.TenantID
		dirty = true
	}
	if !equalProfile(identity.ProfileID, member.ProfileID) {
		identity.ProfileID = member.ProfileID
		dirty = true
	}
	if token != nil && (identity.InviteToken == nil || *identity.InviteToken != *token) {
		identity.InviteToken = token
		dirty = true
	}
	if identity.Email == "" {
		identity.Email = member.Email
		dirty = true
	}
	if identity.DisplayName == "" && member.DisplayName != "" {
		identity.DisplayName = member.DisplayName
		dirty = true
	}
	if status == model.IdentityStatusActive && identity.Status != model.IdentityStatusActive {
		identity.Status = model.IdentityStatusActive
		dirty = true
	}

	if dirty {
		if err := e.store.UpdateIdentity(ctx, identity); err != nil {
			return fmt.Errorf("update identity record: %w", err)
		}
	}
	return nil
}

// flag appends to the operator queue; a failed append is logged, never fatal.
func (e *Engine) flag(ctx context.Context, kind, email string, memberID *string, detail string) {
	err := e.store.CreateFlag(ctx, &model.OperatorFlag{
		Kind:     kind,
		Email:    email,
		MemberID: memberID,
		Detail:   detail,
	})
	if err != nil {
		e.log.Error("failed to record operator flag",
			zap.String("kind", kind),
			zap.String("email", email),
			zap.Error(err))
	}
}

// applyOutcome reports what a precedence-gated write did to a field.
// Provenance-only upgrades change no value but still need persisting.
type applyOutcome int

const (
	applyNone applyOutcome = iota
	applyProvenance
	applyValue
)

// applyString sets a precedence-gated string field. A value already set by a
// higher-precedence source is never overwritten by a lower-precedence one.
func applyString(member *model.Member, field, value, source string, target *string) applyOutcome {
	if value == "" {
		return applyNone
	}
	if *target == value {
		// Same value from a stronger source: upgrade the provenance so later
		// mid-precedence facts cannot sneak an overwrite in.
		if existing, ok := member.FieldSource(field); !ok || model.SourceRank(source) > model.SourceRank(existing) {
			member.SetFieldSource(field, source)
			return applyProvenance
		}
		return applyNone
	}
	if *target != "" {
		existing, ok := member.FieldSource(field)
		if !ok {
			existing = member.Source
		}
		if model.SourceRank(source) < model.SourceRank(existing) {
			return applyNone
		}
	}
	*target = value
	member.SetFieldSource(field, source)
	return applyValue
}

// applyProfile is applyString for the nullable profile reference.
func applyProfile(member *model.Member, value, source string) applyOutcome {
	if value == "" {
		return applyNone
	}
	if member.ProfileID != nil && *member.ProfileID == value {
		if existing, ok := member.FieldSource(fieldProfileID); !ok || model.SourceRank(source) > model.SourceRank(existing) {
			member.SetFieldSource(fieldProfileID, source)
			return applyProvenance
		}
		return applyNone
	}
	if member.ProfileID != nil {
		existing, ok := member.FieldSource(fieldProfileID)
		if !ok {
			existing = member.Source
		}
		if model.SourceRank(source) < model.SourceRank(existing) {
			return applyNone
		}
	}
	profileID := value
	member.ProfileID = &profileID
	member.SetFieldSource(fieldProfileID, source)
	return applyValue
}

func cloneMember(member *model.Member) *model.Member {
	clone := *member
	if member.FieldSources != nil {
		clone.FieldSources = make(map[string]string, len(member.FieldSources))
		for field, source := range member.FieldSources {
			clone.FieldSources[field] = source
		}
	}
	return &clone
}

func invitationState(invitation *model.Invitation, now time.Time) string {
	if invitation.Status == model.InvitationStatusCompleted {
		return model.InvitationStatusCompleted
	}
	if invitation.IsExpired(now) {
		return "expired"
	}
	return invitation.Status
}

// jitterSleep backs a losing writer off before its next merge attempt.
func jitterSleep(attempt int) {
	base := time.Duration(attempt) * 20 * time.Millisecond
	time.Sleep(base + time.Duration(rand.Intn(30))*time.Millisecond)
}
