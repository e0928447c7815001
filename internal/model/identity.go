package model

import (
	"time"
)

// Identity lifecycle statuses.
const (
	IdentityStatusPending = "pending"
	IdentityStatusActive  = "active"
)

// Identity represents the authentication-level account, one per human.
// It carries back-references into the member and invitation tables so the
// reconciliation engine can keep all three views consistent. Identities are
// never deleted, only deactivated.
type Identity struct {
	IdentityID  string    `json:"identity_id" gorm:"type:varchar(64);primaryKey"`
	Email       string    `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(100)"`
	TenantID    *uint     `json:"tenant_id,omitempty" gorm:"index"`
	ProfileID   *string   `json:"profile_id,omitempty" gorm:"type:varchar(36)"`
	MemberID    *string   `json:"member_id,omitempty" gorm:"type:varchar(36);index"`
	InviteToken *string   `json:"invite_token,omitempty" gorm:"type:varchar(64)"`
	Status      string    `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
