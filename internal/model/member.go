package model

import (
	"time"
)

// Member statuses. Status only moves forward: pending -> active.
const (
	MemberStatusPending = "pending"
	MemberStatusActive  = "active"
)

// Source kinds record which entry point created or last touched a field.
// They double as the precedence order for merges (see SourceRank).
const (
	SourceAdminDirect        = "admin-direct"
	SourceEventDriven        = "event-driven"
	SourceFirstLogin         = "first-login"
	SourceInviteRegistration = "invite-registration"
)

// SourceRank returns the merge precedence of a source kind.
// Higher wins: admin-direct > invite-registration > first-login > event-driven.
func SourceRank(source string) int {
	switch source {
	case SourceAdminDirect:
		return 3
	case SourceInviteRegistration:
		return 2
	case SourceFirstLogin:
		return 1
	case SourceEventDriven:
		return 0
	default:
		return -1
	}
}

// Member represents the tenant-scoped member profile under reconciliation.
// At most one active member exists per identity and per (email, tenant) pair;
// the reconciliation engine enforces this since the store has no unique
// constraints of its own.
type Member struct {
	ID              string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID        *uint      `json:"tenant_id,omitempty" gorm:"index"`
	IdentityID      *string    `json:"identity_id,omitempty" gorm:"type:varchar(64);index"`
	Email           string     `json:"email" gorm:"type:varchar(100);index;not null"`
	DisplayName     string     `json:"display_name" gorm:"type:varchar(100)"`
	JobRole         string     `json:"job_role" gorm:"type:varchar(50)"`
	Area            string     `json:"area" gorm:"type:varchar(50)"`
	ProfileID       *string    `json:"profile_id,omitempty" gorm:"type:varchar(36);index"`
	Status          string     `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	FirstActivityAt *time.Time `json:"first_activity_at,omitempty"`
	Source          string     `json:"source" gorm:"type:varchar(30);not null"` // entry point that created the record, immutable

	// FieldSources maps a field name to the source kind that last set it,
	// so lower-precedence facts never overwrite higher-precedence values.
	FieldSources map[string]string `json:"field_sources,omitempty" gorm:"serializer:json;type:jsonb"`

	// Version backs the conditional update used for optimistic concurrency.
	Version   int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldSource returns the source kind that last set the given field, if any.
func (m *Member) FieldSource(field string) (string, bool) {
	if m.FieldSources == nil {
		return "", false
	}
	source, ok := m.FieldSources[field]
	return source, ok
}

// SetFieldSource records the source kind that set the given field.
func (m *Member) SetFieldSource(field, source string) {
	if m.FieldSources == nil {
		m.FieldSources = make(map[string]string)
	}
	m.FieldSources[field] = source
}
