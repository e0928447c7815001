package model

import (
	"time"
)

// Operator flag kinds.
const (
	FlagAmbiguousResolution = "ambiguous-resolution"
	FlagMissingTenant       = "missing-tenant"
)

// OperatorFlag is an entry in the manual-resolution queue. Ambiguous
// resolutions and members stuck without a resolvable tenant are recorded
// here for operator follow-up instead of being silently merged or dropped.
type OperatorFlag struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Kind      string    `json:"kind" gorm:"type:varchar(30);index;not null"`
	Email     string    `json:"email" gorm:"type:varchar(100)"`
	MemberID  *string   `json:"member_id,omitempty" gorm:"type:varchar(36)"`
	Detail    string    `json:"detail" gorm:"type:text"`
	Resolved  bool      `json:"resolved" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
