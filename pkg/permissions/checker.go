// Package permissions maps staff roles to the pharmacy actions they may
// perform.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "lots.*")
//   - "resource.action" - Specific action (e.g., "dispense.withdraw")
package permissions

import (
	"strings"

	"github.com/medflow/medtrack/pkg/actor"
)

// Pharmacy permissions
const (
	FormularyWrite   = "formulary.write"
	LotsWrite        = "lots.write"
	DispenseCreate   = "dispense.create"
	DispenseEdit     = "dispense.edit"
	DispenseWithdraw = "dispense.withdraw"
	ImportRun        = "import.run"
)

// roleGrants lists what each role may do. Reads need no permission.
var roleGrants = map[string][]string{
	actor.RoleAdmin:      {"*"},
	actor.RolePharmacist: {"formulary.*", "lots.*", "dispense.*", "import.*"},
	actor.RoleProvider:   {"dispense.*"},
	actor.RoleStudent:    {DispenseCreate},
}

// ForRole returns the grants of role. Unknown roles get none.
func ForRole(role string) []string {
	return roleGrants[role]
}

// Allows reports whether a may perform required.
func Allows(a *actor.Actor, required string) bool {
	if a == nil {
		return false
	}
	return HasPermission(ForRole(a.Role), required)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "lots.*" matches "lots.write", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true // No permission required
	}

	for _, p := range userPerms {
		if p == "*" {
			return true
		}
		if p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}
