package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"member-service/internal/model"
)

// MemoryStore is an in-memory Store with the same conditional-update
// semantics as the database-backed one. It serves unit tests and the
// memory database driver for local development.
type MemoryStore struct {
	mu sync.Mutex

	members     map[string]model.Member
	memberSeq   map[string]uint64
	invitations map[string]model.Invitation
	inviteSeq   map[string]uint64
	identities  map[string]model.Identity
	profiles    map[string]model.RoleProfile
	grants      map[string]model.PermissionGrant
	flags       []model.OperatorFlag

	seq    uint64
	flagID uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:     make(map[string]model.Member),
		memberSeq:   make(map[string]uint64),
		invitations: make(map[string]model.Invitation),
		inviteSeq:   make(map[string]uint64),
		identities:  make(map[string]model.Identity),
		profiles:    make(map[string]model.RoleProfile),
		grants:      make(map[string]model.PermissionGrant),
	}
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// GetMember retrieves a member by primary key.
func (s *MemoryStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMember(member), nil
}

// GetMemberByIdentity retrieves the oldest member linked to an identity.
func (s *MemoryStore) GetMemberByIdentity(ctx context.Context, identityID string) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pickMember(func(m model.Member) bool {
		return m.IdentityID != nil && *m.IdentityID == identityID
	})
}

// GetMemberByEmailTenant retrieves the oldest member for an (email, tenant) pair.
func (s *MemoryStore) GetMemberByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pickMember(func(m model.Member) bool {
		return m.Email == email && m.TenantID != nil && *m.TenantID == tenantID
	})
}

// pickMember returns the matching member with the lowest insertion sequence.
// Callers must hold the mutex.
func (s *MemoryStore) pickMember(match func(model.Member) bool) (*model.Member, error) {
	var best *model.Member
	var bestSeq uint64
	for id, member := range s.members {
		if !match(member) {
			continue
		}
		if best == nil || s.memberSeq[id] < bestSeq {
			m := member
			best = &m
			bestSeq = s.memberSeq[id]
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyMember(*best), nil
}

// ListMembersByTenant retrieves all members of a tenant in insertion order.
func (s *MemoryStore) ListMembersByTenant(ctx context.Context, tenantID uint) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []model.Member
	for _, member := range s.members {
		if member.TenantID != nil && *member.TenantID == tenantID {
			members = append(members, *copyMember(member))
		}
	}
	sortBySeq(members, func(m model.Member) uint64 { return s.memberSeq[m.ID] })
	return members, nil
}

// CreateMember inserts a new member record.
func (s *MemoryStore) CreateMember(ctx context.Context, member *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now
	s.members[member.ID] = *copyMember(*member)
	s.memberSeq[member.ID] = s.nextSeq()
	return nil
}

// UpdateMember performs a conditional update guarded by the version field.
func (s *MemoryStore) UpdateMember(ctx context.Context, member *model.Member, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.members[member.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	next := *copyMember(*member)
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	s.members[member.ID] = next
	member.Version = next.Version
	return nil
}

// GetInvitation retrieves an invitation by token.
func (s *MemoryStore) GetInvitation(ctx context.Context, token string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invitation, ok := s.invitations[token]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInvitation(invitation), nil
}

// FindOpenInvitationByEmail retrieves the newest pending or sent invitation
// for an email.
func (s *MemoryStore) FindOpenInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pickInvitation(func(i model.Invitation) bool {
		return i.Email == email &&
			(i.Status == model.InvitationStatusPending || i.Status == model.InvitationStatusSent)
	})
}

// FindLatestInvitationByEmail retrieves the newest invitation for an email
// regardless of status.
func (s *MemoryStore) FindLatestInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pickInvitation(func(i model.Invitation) bool {
		return i.Email == email
	})
}

// FindInvitationByEmailTenant retrieves the newest invitation for an
// (email, tenant) pair regardless of status.
func (s *MemoryStore) FindInvitationByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pickInvitation(func(i model.Invitation) bool {
		return i.Email == email && i.TenantID == tenantID
	})
}

// pickInvitation returns the matching invitation with the highest insertion
// sequence. Callers must hold the mutex.
func (s *MemoryStore) pickInvitation(match func(model.Invitation) bool) (*model.Invitation, error) {
	var best *model.Invitation
	var bestSeq uint64
	for token, invitation := range s.invitations {
		if !match(invitation) {
			continue
		}
		if best == nil || s.inviteSeq[token] > bestSeq {
			i := invitation
			best = &i
			bestSeq = s.inviteSeq[token]
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyInvitation(*best), nil
}

// ListInvitationsByTenant retrieves all invitations of a tenant, newest first.
func (s *MemoryStore) ListInvitationsByTenant(ctx context.Context, tenantID uint) ([]model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invitations []model.Invitation
	for _, invitation := range s.invitations {
		if invitation.TenantID == tenantID {
			invitations = append(invitations, *copyInvitation(invitation))
		}
	}
	sortBySeqDesc(invitations, func(i model.Invitation) uint64 { return s.inviteSeq[i.Token] })
	return invitations, nil
}

// CreateInvitation inserts a new invitation.
func (s *MemoryStore) CreateInvitation(ctx context.Context, invitation *model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	invitation.CreatedAt = now
	invitation.UpdatedAt = now
	s.invitations[invitation.Token] = *copyInvitation(*invitation)
	s.inviteSeq[invitation.Token] = s.nextSeq()
	return nil
}

// UpdateInvitation persists invitation changes.
func (s *MemoryStore) UpdateInvitation(ctx context.Context, invitation *model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invitations[invitation.Token]; !ok {
		return ErrNotFound
	}
	invitation.UpdatedAt = time.Now()
	s.invitations[invitation.Token] = *copyInvitation(*invitation)
	return nil
}

// GetIdentity retrieves an identity record.
func (s *MemoryStore) GetIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	result := identity
	return &result, nil
}

// CreateIdentity inserts a new identity record.
func (s *MemoryStore) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	s.identities[identity.IdentityID] = *identity
	return nil
}

// UpdateIdentity persists identity changes.
func (s *MemoryStore) UpdateIdentity(ctx context.Context, identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.IdentityID]; !ok {
		return ErrNotFound
	}
	identity.UpdatedAt = time.Now()
	s.identities[identity.IdentityID] = *identity
	return nil
}

// GetProfile retrieves a role profile.
func (s *MemoryStore) GetProfile(ctx context.Context, profileID string) (*model.RoleProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[profileID]
	if !ok {
		return nil, ErrNotFound
	}
	result := profile
	return &result, nil
}

// ListProfilesForTenant retrieves active profiles for the tenant plus
// global profiles.
func (s *MemoryStore) ListProfilesForTenant(ctx context.Context, tenantID *uint) ([]model.RoleProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var profiles []model.RoleProfile
	for _, profile := range s.profiles {
		if profile.Status != model.ProfileStatusActive {
			continue
		}
		global := profile.TenantID == nil
		scoped := tenantID != nil && profile.TenantID != nil && *profile.TenantID == *tenantID
		if global || scoped {
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

// CreateProfile inserts a new role profile.
func (s *MemoryStore) CreateProfile(ctx context.Context, profile *model.RoleProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	profile.UpdatedAt = profile.CreatedAt
	s.profiles[profile.ProfileID] = *profile
	return nil
}

// GetGrantByIdentity retrieves the permission grant for an identity.
func (s *MemoryStore) GetGrantByIdentity(ctx context.Context, identityID string) (*model.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[identityID]
	if !ok {
		return nil, ErrNotFound
	}
	result := grant
	return &result, nil
}

// CreateGrant inserts a new permission grant.
func (s *MemoryStore) CreateGrant(ctx context.Context, grant *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	grant.ID = uint(len(s.grants) + 1)
	grant.CreatedAt = now
	grant.UpdatedAt = now
	s.grants[grant.IdentityID] = *grant
	return nil
}

// UpdateGrant persists grant changes.
func (s *MemoryStore) UpdateGrant(ctx context.Context, grant *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[grant.IdentityID]; !ok {
		return ErrNotFound
	}
	grant.UpdatedAt = time.Now()
	s.grants[grant.IdentityID] = *grant
	return nil
}

// CreateFlag appends an entry to the operator queue.
func (s *MemoryStore) CreateFlag(ctx context.Context, flag *model.OperatorFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flagID++
	flag.ID = s.flagID
	flag.CreatedAt = time.Now()
	flag.UpdatedAt = flag.CreatedAt
	s.flags = append(s.flags, *flag)
	return nil
}

// ListOpenFlags retrieves unresolved operator flags, oldest first.
func (s *MemoryStore) ListOpenFlags(ctx context.Context) ([]model.OperatorFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flags []model.OperatorFlag
	for _, flag := range s.flags {
		if !flag.Resolved {
			flags = append(flags, flag)
		}
	}
	return flags, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func copyMember(member model.Member) *model.Member {
	result := member
	if member.FieldSources != nil {
		result.FieldSources = make(map[string]string, len(member.FieldSources))
		for field, source := range member.FieldSources {
			result.FieldSources[field] = source
		}
	}
	return &result
}

func copyInvitation(invitation model.Invitation) *model.Invitation {
	result := invitation
	return &result
}

func sortBySeq[T any](items []T, seq func(T) uint64) {
	sort.Slice(items, func(i, j int) bool { return seq(items[i]) < seq(items[j]) })
}

func sortBySeqDesc[T any](items []T, seq func(T) uint64) {
	sort.Slice(items, func(i, j int) bool { return seq(items[i]) > seq(items[j]) })
}
