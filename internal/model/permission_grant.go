package model

import (
	"time"
)

// PermissionGrant is the single active authorization binding an identity to
// a tenant and profile. It mirrors the member record's assignment and is
// recomputed by the permission synchronizer, never hand-edited.
type PermissionGrant struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	IdentityID string    `json:"identity_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	TenantID   uint      `json:"tenant_id" gorm:"index;not null"`
	ProfileID  *string   `json:"profile_id,omitempty" gorm:"type:varchar(36)"`
	Active     bool      `json:"active" gorm:"default:true"`
	ApprovedAt time.Time `json:"approved_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
