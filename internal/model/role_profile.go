package model

import (
	"time"
)

// Role profile statuses.
const (
	ProfileStatusActive   = "active"
	ProfileStatusInactive = "inactive"
)

// RoleProfile is a named permission template. A nil TenantID makes the
// profile global; otherwise it is scoped to one tenant. JobRoles lists the
// job-role tags the profile auto-matches.
type RoleProfile struct {
	ProfileID string    `json:"profile_id" gorm:"type:varchar(36);primaryKey"`
	TenantID  *uint     `json:"tenant_id,omitempty" gorm:"index"`
	Name      string    `json:"name" gorm:"type:varchar(100);not null"`
	JobRoles  []string  `json:"job_roles" gorm:"serializer:json;type:jsonb"`
	Status    string    `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the profile auto-matches the given job-role tag.
func (p *RoleProfile) Matches(jobRole string) bool {
	for _, role := range p.JobRoles {
		if role == jobRole {
			return true
		}
	}
	return false
}
