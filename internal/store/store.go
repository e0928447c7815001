package store

import (
	"context"
	"errors"

	"member-service/internal/model"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by conditional updates when the stored
	// version no longer matches the version the caller read.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the per-entity persistence adapter. It offers only single-record
// get/filter/create/update operations: there are no multi-record
// transactions and no locks, so callers that need stronger guarantees use
// the conditional member update for optimistic concurrency.
type Store interface {
	// Members.
	GetMember(ctx context.Context, id string) (*model.Member, error)
	GetMemberByIdentity(ctx context.Context, identityID string) (*model.Member, error)
	GetMemberByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Member, error)
	ListMembersByTenant(ctx context.Context, tenantID uint) ([]model.Member, error)
	CreateMember(ctx context.Context, member *model.Member) error
	// UpdateMember persists the member only if the stored version still equals
	// expectedVersion; on success the member's version is incremented.
	// Returns ErrVersionConflict when a concurrent writer won.
	UpdateMember(ctx context.Context, member *model.Member, expectedVersion int64) error

	// Invitations.
	GetInvitation(ctx context.Context, token string) (*model.Invitation, error)
	FindOpenInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error)
	// FindLatestInvitationByEmail returns the newest invitation for the email
	// regardless of status. Completed invitations still identify the tenant a
	// member was invited into.
	FindLatestInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error)
	FindInvitationByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Invitation, error)
	ListInvitationsByTenant(ctx context.Context, tenantID uint) ([]model.Invitation, error)
	CreateInvitation(ctx context.Context, invitation *model.Invitation) error
	UpdateInvitation(ctx context.Context, invitation *model.Invitation) error

	// Identities.
	GetIdentity(ctx context.Context, identityID string) (*model.Identity, error)
	CreateIdentity(ctx context.Context, identity *model.Identity) error
	UpdateIdentity(ctx context.Context, identity *model.Identity) error

	// Role profiles.
	GetProfile(ctx context.Context, profileID string) (*model.RoleProfile, error)
	// ListProfilesForTenant returns active profiles scoped to the tenant plus
	// global profiles. A nil tenant returns only global profiles. Ordering is
	// up to the caller.
	ListProfilesForTenant(ctx context.Context, tenantID *uint) ([]model.RoleProfile, error)
	CreateProfile(ctx context.Context, profile *model.RoleProfile) error

	// Permission grants.
	GetGrantByIdentity(ctx context.Context, identityID string) (*model.PermissionGrant, error)
	CreateGrant(ctx context.Context, grant *model.PermissionGrant) error
	UpdateGrant(ctx context.Context, grant *model.PermissionGrant) error

	// Operator flags.
	CreateFlag(ctx context.Context, flag *model.OperatorFlag) error
	ListOpenFlags(ctx context.Context) ([]model.OperatorFlag, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
