// Package authz is the single authorization decision point for badge
// management. Every role check in the system routes through these
// functions; handlers and services never compare role strings inline.
package authz

import (
	"merithub/internal/models"

	"golang.org/x/exp/slices"
)

// ScopeKind classifies the data boundary an actor may act within.
type ScopeKind string

const (
	ScopeInstitution     ScopeKind = "institution"
	ScopeDepartment      ScopeKind = "department"
	ScopePlacementSubset ScopeKind = "placement_subset"
	ScopeNone            ScopeKind = "none"
)

// DataScope is the resolved data boundary for an actor. Department is set
// only for department-scoped actors.
type DataScope struct {
	Kind       ScopeKind
	Department *string
}

// managementPrecedence orders roles from widest to narrowest authority.
// The first role the actor holds decides both eligibility and scope.
var managementPrecedence = []models.Role{
	models.RoleSuperAdmin,
	models.RoleInstitutionHead,
	models.RoleDepartmentAdmin,
	models.RolePlacementsAdmin,
}

// CanManage decides whether the actor may perform badge management
// (award, read administrative views) against a target in the given
// institution and optional department. Deterministic and total: every
// input maps to a decision.
func CanManage(actor *models.ActorContext, targetInstitutionID int64, targetDepartment *string) bool {
	if actor == nil {
		return false
	}
	for _, role := range managementPrecedence {
		if !actor.HasRole(role) {
			continue
		}
		switch role {
		case models.RoleSuperAdmin:
			return true
		case models.RoleInstitutionHead:
			return actor.InstitutionID == targetInstitutionID
		case models.RoleDepartmentAdmin:
			// A department-admin without an assigned department is never
			// authorized (fail closed).
			if actor.Department == nil || *actor.Department == "" {
				return false
			}
			if actor.InstitutionID != targetInstitutionID {
				return false
			}
			return targetDepartment != nil && *targetDepartment == *actor.Department
		case models.RolePlacementsAdmin:
			// Placement scope spans departments within the institution.
			return actor.InstitutionID == targetInstitutionID
		}
	}
	return false
}

// ResolveDataScope returns the widest data boundary the actor's roles
// grant, following the same precedence as CanManage.
func ResolveDataScope(actor *models.ActorContext) DataScope {
	if actor == nil {
		return DataScope{Kind: ScopeNone}
	}
	for _, role := range managementPrecedence {
		if !actor.HasRole(role) {
			continue
		}
		switch role {
		case models.RoleSuperAdmin, models.RoleInstitutionHead:
			return DataScope{Kind: ScopeInstitution}
		case models.RoleDepartmentAdmin:
			if actor.Department == nil || *actor.Department == "" {
				return DataScope{Kind: ScopeNone}
			}
			return DataScope{Kind: ScopeDepartment, Department: actor.Department}
		case models.RolePlacementsAdmin:
			return DataScope{Kind: ScopePlacementSubset}
		}
	}
	return DataScope{Kind: ScopeNone}
}

// CanManageDefinitions reports whether the actor may create, update, or
// deactivate badge definitions. This is a strict subset of management:
// only institution heads and super admins qualify.
func CanManageDefinitions(actor *models.ActorContext) bool {
	if actor == nil {
		return false
	}
	return actor.HasRole(models.RoleSuperAdmin) || actor.HasRole(models.RoleInstitutionHead)
}

// CanRevoke reports whether the actor's roles permit revoking awards at
// all. Department admins can never revoke, regardless of institution or
// department match; this is explicit policy, not an incidental gap.
func CanRevoke(actor *models.ActorContext) bool {
	if actor == nil {
		return false
	}
	return actor.HasRole(models.RoleSuperAdmin) || actor.HasRole(models.RoleInstitutionHead)
}

// CanAward reports whether the actor's roles could ever grant an award,
// without reference to a target. Used as a cheap pre-flight gate before
// any external call is spent on a request that can never succeed.
func CanAward(actor *models.ActorContext) bool {
	if actor == nil {
		return false
	}
	if actor.HasRole(models.RoleDepartmentAdmin) &&
		!actor.HasRole(models.RoleSuperAdmin) &&
		!actor.HasRole(models.RoleInstitutionHead) &&
		!actor.HasRole(models.RolePlacementsAdmin) {
		// Sole department-admin role with no department fails closed.
		if actor.Department == nil || *actor.Department == "" {
			return false
		}
	}
	return slices.ContainsFunc(models.AdminRoles, actor.HasRole)
}
