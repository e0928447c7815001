package reconcile

// Member field names used for precedence bookkeeping.
const (
	fieldEmail       = "email"
	fieldDisplayName = "display_name"
	fieldJobRole     = "job_role"
	fieldArea        = "area"
	fieldTenantID    = "tenant_id"
	fieldProfileID   = "profile_id"
	fieldIdentityID  = "identity_id"
	fieldStatus      = "status"
)

// Fact is a partial, source-tagged view of a member delivered by one of the
// four entry points. Zero-valued fields are treated as "not supplied".
type Fact struct {
	IdentityID  string `json:"identity_id,omitempty"`
	Email       string `json:"email,omitempty"`
	TenantID    *uint  `json:"tenant_id,omitempty"`
	InviteToken string `json:"invite_token,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	JobRole     string `json:"job_role,omitempty"`
	Area        string `json:"area,omitempty"`
	ProfileID   string `json:"profile_id,omitempty"`

	// Activate requests the monotonic pending -> active status transition.
	// Set by the first-login entry point.
	Activate bool `json:"-"`
}

// IsEmpty reports whether the fact carries no identifying information.
func (f Fact) IsEmpty() bool {
	return f.IdentityID == "" && f.Email == "" && f.InviteToken == "" && f.TenantID == nil
}
