package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"member-service/internal/model"
	"member-service/internal/store"
)

// GrantSynchronizer keeps exactly one active permission grant per identity,
// mirroring the member record's tenant and profile assignment.
type GrantSynchronizer struct {
	store store.Store
	now   func() time.Time
}

// NewGrantSynchronizer creates the synchronizer.
func NewGrantSynchronizer(st store.Store) *GrantSynchronizer {
	return &GrantSynchronizer{store: st, now: time.Now}
}

// SyncGrant upserts the grant for an identity. The identity-id is a unique
// key, so the lookup cannot be ambiguous, and the same inputs always produce
// the same resulting state. That makes the operation safe to call on every
// reconciliation pass, including replays.
func (g *GrantSynchronizer) SyncGrant(ctx context.Context, identityID string, tenantID uint, profileID *string) error {
	grant, err := g.store.GetGrantByIdentity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		grant = &model.PermissionGrant{
			IdentityID: identityID,
			TenantID:   tenantID,
			ProfileID:  profileID,
			Active:     true,
			ApprovedAt: g.now(),
		}
		if err := g.store.CreateGrant(ctx, grant); err != nil {
			return fmt.Errorf("create permission grant: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup permission grant: %w", err)
	}

	if grant.TenantID == tenantID && equalProfile(grant.ProfileID, profileID) && grant.Active {
		return nil
	}

	grant.TenantID = tenantID
	grant.ProfileID = profileID
	grant.Active = true
	if err := g.store.UpdateGrant(ctx, grant); err != nil {
		return fmt.Errorf("update permission grant: %w", err)
	}
	return nil
}

func equalProfile(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
