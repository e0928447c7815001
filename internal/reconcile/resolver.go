package reconcile

import (
	"context"
	"errors"
	"fmt"

	"member-service/internal/model"
	"member-service/internal/store"
)

// ResolutionKey identifies the lookup strategy that located a member.
type ResolutionKey string

// Resolution keys, ordered by specificity. Identity is authoritative and
// checked first, then the invite token, then the (email, tenant) pair.
const (
	KeyIdentity    ResolutionKey = "identity"
	KeyInviteToken ResolutionKey = "invite-token"
	KeyEmailTenant ResolutionKey = "email-tenant"
	KeyNone        ResolutionKey = "none"
)

// Resolution is the outcome of resolving a fact against the store.
type Resolution struct {
	// Member is the best-known existing member record, or nil.
	Member *model.Member
	// Key is the lookup that found the member, or KeyNone.
	Key ResolutionKey
	// Invitation is the invitation loaded while resolving, if the fact
	// carried a token that matched one.
	Invitation *model.Invitation
}

// Resolver turns a partial fact into at most one existing member record.
// Resolution is a pure function of the fact and current store state; it
// never mutates anything.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve looks the fact up by every applicable key. When two keys locate
// two different member records the resolution is ambiguous and reported as
// an error wrapping ErrResolutionAmbiguous, never silently merged.
func (r *Resolver) Resolve(ctx context.Context, fact Fact) (*Resolution, error) {
	resolution := &Resolution{Key: KeyNone}

	type candidate struct {
		member *model.Member
		key    ResolutionKey
	}
	var candidates []candidate

	if fact.IdentityID != "" {
		member, err := r.store.GetMemberByIdentity(ctx, fact.IdentityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve by identity: %w", err)
		}
		if member != nil {
			candidates = append(candidates, candidate{member, KeyIdentity})
		}
	}

	if fact.InviteToken != "" {
		invitation, err := r.store.GetInvitation(ctx, fact.InviteToken)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve invitation: %w", err)
		}
		if invitation != nil {
			resolution.Invitation = invitation
			if invitation.MemberID != nil {
				member, err := r.store.GetMember(ctx, *invitation.MemberID)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("resolve by invite token: %w", err)
				}
				if member != nil {
					candidates = append(candidates, candidate{member, KeyInviteToken})
				}
			}
		}
	}

	// The (email, tenant) key can borrow both parts from the invitation when
	// the fact itself is missing them.
	email := fact.Email
	tenantID := fact.TenantID
	if resolution.Invitation != nil {
		if email == "" {
			email = resolution.Invitation.Email
		}
		if tenantID == nil {
			t := resolution.Invitation.TenantID
			tenantID = &t
		}
	}
	if email != "" && tenantID != nil {
		member, err := r.store.GetMemberByEmailTenant(ctx, email, *tenantID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("resolve by email and tenant: %w", err)
		}
		if member != nil {
			candidates = append(candidates, candidate{member, KeyEmailTenant})
		}
	}

	for _, c := range candidates {
		if resolution.Member == nil {
			resolution.Member = c.member
			resolution.Key = c.key
			continue
		}
		if c.member.ID != resolution.Member.ID {
			return nil, fmt.Errorf("%w: member %s (by %s) vs member %s (by %s)",
				ErrResolutionAmbiguous, resolution.Member.ID, resolution.Key, c.member.ID, c.key)
		}
	}

	return resolution, nil
}
