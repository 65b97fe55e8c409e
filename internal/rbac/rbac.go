// Package rbac holds the static per-intent permission table. It is a pure
// decision function: consulting it never touches the store, and a denial is
// a normal outcome that the engine audit-logs, not an error.
package rbac

import "dealdesk/internal/domain"

// policy maps each mutating or privileged intent to the roles allowed to
// perform it. Intents absent from the table are permitted for every role.
var policy = map[domain.IntentKind]map[domain.Role]bool{
	domain.IntentCreateLead: {
		domain.RoleAdmin:   true,
		domain.RoleManager: true,
		domain.RoleSales:   true,
	},
	domain.IntentUpdateLead: {
		domain.RoleAdmin:   true,
		domain.RoleManager: true,
		domain.RoleSales:   true,
	},
	domain.IntentDeleteLead: {
		domain.RoleAdmin:   true,
		domain.RoleManager: true,
	},
}

// Allowed reports whether role may perform the intent. It is total: every
// (role, kind) pair yields a decision.
func Allowed(role domain.Role, kind domain.IntentKind) bool {
	roles, restricted := policy[kind]
	if !restricted {
		return true
	}
	return roles[role]
}

// DenialSeverity classifies how sensitive a denied intent is: destructive
// intents escalate to high, other mutations are medium.
func DenialSeverity(kind domain.IntentKind) domain.AuditSeverity {
	if kind == domain.IntentDeleteLead {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}
