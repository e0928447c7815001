package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"member-service/internal/model"
)

// GormStore implements Store on top of a gorm-managed PostgreSQL database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store backed by the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetMember retrieves a member by primary key.
func (s *GormStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	var member model.Member
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&member).Error; err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// GetMemberByIdentity retrieves the member linked to an identity.
func (s *GormStore) GetMemberByIdentity(ctx context.Context, identityID string) (*model.Member, error) {
	var member model.Member
	if err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).
		Order("created_at asc").First(&member).Error; err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// GetMemberByEmailTenant retrieves the member for an (email, tenant) pair.
func (s *GormStore) GetMemberByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Member, error) {
	var member model.Member
	if err := s.db.WithContext(ctx).Where("email = ? AND tenant_id = ?", email, tenantID).
		Order("created_at asc").First(&member).Error; err != nil {
		return nil, translate(err)
	}
	return &member, nil
}

// ListMembersByTenant retrieves all members of a tenant.
func (s *GormStore) ListMembersByTenant(ctx context.Context, tenantID uint) ([]model.Member, error) {
	var members []model.Member
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		Order("created_at asc").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// CreateMember inserts a new member record.
func (s *GormStore) CreateMember(ctx context.Context, member *model.Member) error {
	return s.db.WithContext(ctx).Create(member).Error
}

// UpdateMember performs a conditional update guarded by the version column.
func (s *GormStore) UpdateMember(ctx context.Context, member *model.Member, expectedVersion int64) error {
	next := *member
	next.Version = expectedVersion + 1

	result := s.db.WithContext(ctx).Model(&model.Member{}).
		Where("id = ? AND version = ?", member.ID, expectedVersion).
		Select("*").Omit("id", "created_at").
		Updates(&next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	member.Version = next.Version
	return nil
}

// GetInvitation retrieves an invitation by token.
func (s *GormStore) GetInvitation(ctx context.Context, token string) (*model.Invitation, error) {
	var invitation model.Invitation
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&invitation).Error; err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}

// FindOpenInvitationByEmail retrieves the newest pending or sent invitation
// for an email across all tenants.
func (s *GormStore) FindOpenInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	var invitation model.Invitation
	if err := s.db.WithContext(ctx).
		Where("email = ? AND status IN ?", email, []string{model.InvitationStatusPending, model.InvitationStatusSent}).
		Order("created_at desc").First(&invitation).Error; err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}

// FindLatestInvitationByEmail retrieves the newest invitation for an email
// regardless of status.
func (s *GormStore) FindLatestInvitationByEmail(ctx context.Context, email string) (*model.Invitation, error) {
	var invitation model.Invitation
	if err := s.db.WithContext(ctx).Where("email = ?", email).
		Order("created_at desc").First(&invitation).Error; err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}

// FindInvitationByEmailTenant retrieves the newest invitation for an
// (email, tenant) pair regardless of status.
func (s *GormStore) FindInvitationByEmailTenant(ctx context.Context, email string, tenantID uint) (*model.Invitation, error) {
	var invitation model.Invitation
	if err := s.db.WithContext(ctx).Where("email = ? AND tenant_id = ?", email, tenantID).
		Order("created_at desc").First(&invitation).Error; err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}

// ListInvitationsByTenant retrieves all invitations of a tenant.
func (s *GormStore) ListInvitationsByTenant(ctx context.Context, tenantID uint) ([]model.Invitation, error) {
	var invitations []model.Invitation
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		Order("created_at desc").Find(&invitations).Error; err != nil {
		return nil, err
	}
	return invitations, nil
}

// CreateInvitation inserts a new invitation.
func (s *GormStore) CreateInvitation(ctx context.Context, invitation *model.Invitation) error {
	return s.db.WithContext(ctx).Create(invitation).Error
}

// UpdateInvitation persists invitation changes.
func (s *GormStore) UpdateInvitation(ctx context.Context, invitation *model.Invitation) error {
	return s.db.WithContext(ctx).Save(invitation).Error
}

// GetIdentity retrieves an identity record.
func (s *GormStore) GetIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	var identity model.Identity
	if err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).First(&identity).Error; err != nil {
		return nil, translate(err)
	}
	return &identity, nil
}

// CreateIdentity inserts a new identity record.
func (s *GormStore) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	return s.db.WithContext(ctx).Create(identity).Error
}

// UpdateIdentity persists identity changes.
func (s *GormStore) UpdateIdentity(ctx context.Context, identity *model.Identity) error {
	return s.db.WithContext(ctx).Save(identity).Error
}

// GetProfile retrieves a role profile.
func (s *GormStore) GetProfile(ctx context.Context, profileID string) (*model.RoleProfile, error) {
	var profile model.RoleProfile
	if err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).First(&profile).Error; err != nil {
		return nil, translate(err)
	}
	return &profile, nil
}

// ListProfilesForTenant retrieves active profiles for the tenant plus
// global profiles.
func (s *GormStore) ListProfilesForTenant(ctx context.Context, tenantID *uint) ([]model.RoleProfile, error) {
	query := s.db.WithContext(ctx).Where("status = ?", model.ProfileStatusActive)
	if tenantID != nil {
		query = query.Where("tenant_id = ? OR tenant_id IS NULL", *tenantID)
	} else {
		query = query.Where("tenant_id IS NULL")
	}

	var profiles []model.RoleProfile
	if err := query.Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// CreateProfile inserts a new role profile.
func (s *GormStore) CreateProfile(ctx context.Context, profile *model.RoleProfile) error {
	return s.db.WithContext(ctx).Create(profile).Error
}

// GetGrantByIdentity retrieves the permission grant for an identity.
func (s *GormStore) GetGrantByIdentity(ctx context.Context, identityID string) (*model.PermissionGrant, error) {
	var grant model.PermissionGrant
	if err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).First(&grant).Error; err != nil {
		return nil, translate(err)
	}
	return &grant, nil
}

// CreateGrant inserts a new permission grant.
func (s *GormStore) CreateGrant(ctx context.Context, grant *model.PermissionGrant) error {
	return s.db.WithContext(ctx).Create(grant).Error
}

// UpdateGrant persists grant changes.
func (s *GormStore) UpdateGrant(ctx context.Context, grant *model.PermissionGrant) error {
	return s.db.WithContext(ctx).Save(grant).Error
}

// CreateFlag appends an entry to the operator queue.
func (s *GormStore) CreateFlag(ctx context.Context, flag *model.OperatorFlag) error {
	return s.db.WithContext(ctx).Create(flag).Error
}

// ListOpenFlags retrieves unresolved operator flags, oldest first.
func (s *GormStore) ListOpenFlags(ctx context.Context) ([]model.OperatorFlag, error) {
	var flags []model.OperatorFlag
	if err := s.db.WithContext(ctx).Where("resolved = ?", false).
		Order("created_at asc").Find(&flags).Error; err != nil {
		return nil, err
	}
	return flags, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
