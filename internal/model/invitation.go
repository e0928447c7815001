package model

import (
	"time"
)

// Invitation statuses. The state machine is pending -> sent -> completed;
// completed is terminal, and any state becomes a read-only expired view once
// the expiry timestamp passes.
const (
	InvitationStatusPending   = "pending"
	InvitationStatusSent      = "sent"
	InvitationStatusCompleted = "completed"
)

// Invitation represents a token-based pending-access grant.
type Invitation struct {
	Token       string     `json:"token" gorm:"type:varchar(64);primaryKey"`
	Email       string     `json:"email" gorm:"type:varchar(100);index;not null"`
	TenantID    uint       `json:"tenant_id" gorm:"index;not null"`
	JobRole     string     `json:"job_role" gorm:"type:varchar(50)"`
	ProfileID   *string    `json:"profile_id,omitempty" gorm:"type:varchar(36)"` // intended profile, may be auto-resolved later
	Status      string     `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	MemberID    *string    `json:"member_id,omitempty" gorm:"type:varchar(36)"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsExpired determines whether the invitation has expired.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// IsTerminal reports whether the invitation accepts no further mutation.
func (i *Invitation) IsTerminal(now time.Time) bool {
	return i.Status == InvitationStatusCompleted || i.IsExpired(now)
}
