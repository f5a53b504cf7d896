package rbac

import "strings"

type Role string
type Action string

const (
	RoleAdministrator Role = "administrator"
	RoleSigner        Role = "signer"
	RoleInfoProvider  Role = "info_provider"
)

const (
	ActionRead    Action = "read"
	ActionUpload  Action = "upload"
	ActionApprove Action = "approve"
	ActionCreate  Action = "create"
	ActionGrant   Action = "grant"
)

// Can answers the coarse, registry-wide question used for UI gating.
// Stage membership is checked separately by the workflow engine.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdministrator:
		return action == ActionRead || action == ActionCreate || action == ActionGrant
	case RoleSigner:
		return action == ActionRead || action == ActionApprove
	case RoleInfoProvider:
		return action == ActionRead || action == ActionUpload
	default:
		return false
	}
}

// CanAny reports whether any of roles permits action.
func CanAny(roles []Role, action Action) bool {
	for _, role := range roles {
		if Can(role, action) {
			return true
		}
	}
	return false
}

// Parse accepts the canonical role names plus a few legacy spellings
// (ADMIN_ROLE, SIGNER_ROLE, INFO_PROVIDER_ROLE).
func Parse(value string) (Role, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.TrimSuffix(normalized, "_role")
	switch normalized {
	case "administrator", "admin":
		return RoleAdministrator, true
	case "signer":
		return RoleSigner, true
	case "info_provider", "infoprovider", "information_provider", "provider":
		return RoleInfoProvider, true
	default:
		return "", false
	}
}

func AllRoles() []Role {
	return []Role{RoleAdministrator, RoleSigner, RoleInfoProvider}
}
