package models

import "time"

// ===============================
// ROLES
// ===============================

// Role is an administrative or academic role carried by an identity.
// The set is fixed; authorization decisions route through internal/authz,
// never through ad-hoc string comparisons.
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleInstitutionHead Role = "institution_head"
	RoleDepartmentAdmin Role = "department_admin"
	RolePlacementsAdmin Role = "placements_admin"
	RoleFaculty         Role = "faculty"
	RoleStudent         Role = "student"
)

// AdminRoles lists roles that may hold any badge-management privilege.
var AdminRoles = []Role{
	RoleSuperAdmin,
	RoleInstitutionHead,
	RoleDepartmentAdmin,
	RolePlacementsAdmin,
}

// Valid reports whether r is a member of the fixed role enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleInstitutionHead, RoleDepartmentAdmin,
		RolePlacementsAdmin, RoleFaculty, RoleStudent:
		return true
	}
	return false
}

// ===============================
// ACTOR CONTEXT
// ===============================

// ActorContext is the per-request view of the authenticated administrative
// identity. It is derived from a verified token by the auth middleware and
// never persisted.
type ActorContext struct {
	ActorID       int64   `json:"actor_id"`
	Roles         []Role  `json:"roles"`
	InstitutionID int64   `json:"institution_id"`
	Department    *string `json:"department,omitempty"`
	RemoteAddr    string  `json:"remote_addr,omitempty"`
	UserAgent     string  `json:"user_agent,omitempty"`
}

// HasRole reports whether the actor carries the given role.
func (a *ActorContext) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ===============================
// IDENTITY SUBSYSTEM RECORDS
// ===============================

// SubjectRecord is the identity subsystem's view of a subject, resolved
// through the identity client. Absence (not found, unauthorized, or the
// identity subsystem being unreachable) is represented by a nil record,
// never by an error.
type SubjectRecord struct {
	SubjectID         int64   `json:"subject_id"`
	InstitutionID     int64   `json:"institution_id"`
	Department        *string `json:"department,omitempty"`
	Year              *int    `json:"year,omitempty"`
	Roles             []Role  `json:"roles"`
	PlacementEligible bool    `json:"placement_eligible"`
}

// IsStudent reports whether the subject carries the student role.
func (s *SubjectRecord) IsStudent() bool {
	for _, r := range s.Roles {
		if r == RoleStudent {
			return true
		}
	}
	return false
}

// ===============================
// BULK OPERATIONS
// ===============================

// BulkAction selects what a bulk call does to each item.
type BulkAction string

const (
	BulkActionAward  BulkAction = "AWARD"
	BulkActionRevoke BulkAction = "REVOKE"
)

// Valid reports whether a is a known bulk action.
func (a BulkAction) Valid() bool {
	return a == BulkActionAward || a == BulkActionRevoke
}

// BulkItemFailure records one failed item of a bulk run, by input index.
type BulkItemFailure struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BulkOperationResult is the partial-success accounting of one bulk run.
// It is constructed fresh per call and never persisted.
type BulkOperationResult struct {
	Requested int               `json:"requested"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Failures  []BulkItemFailure `json:"failures,omitempty"`
	Preview   bool              `json:"preview"`
}

// ===============================
// AUDIT
// ===============================

// AuditEntry is one record written to the audit sink for a privileged
// action, successful or not.
type AuditEntry struct {
	ID           string    `json:"id" db:"id"`
	ActorID      int64     `json:"actor_id" db:"actor_id"`
	Action       string    `json:"action" db:"action"`
	TargetType   string    `json:"target_type" db:"target_type"`
	TargetID     *int64    `json:"target_id,omitempty" db:"target_id"`
	Details      string    `json:"details,omitempty" db:"details"`
	Success      bool      `json:"success" db:"success"`
	ErrorMessage *string   `json:"error_message,omitempty" db:"error_message"`
	RemoteAddr   string    `json:"remote_addr,omitempty" db:"remote_addr"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ===============================
// PAGINATION
// ===============================

// PaginationParams carries offset pagination for list endpoints.
type PaginationParams struct {
	Limit  int `json:"limit" schema:"limit"`
	Offset int `json:"offset" schema:"offset"`
}

// Normalize clamps pagination to sane bounds.
func (p *PaginationParams) Normalize() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}
