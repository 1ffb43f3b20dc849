package coord

import (
	"sort"

	"coordline/internal/domain"
)

// HasPermission evaluates the three-tier model. With no effective
// coordinators nothing is granted; effective coordinators get every level;
// anybody else gets READ and OPEN.
func HasPermission(actor, taskID string, level domain.Permission, snap domain.Snapshot) bool {
	return Allows(ResolveEffectiveCoordinators(taskID, snap), actor, level)
}

// Allows applies the permission rule to an already resolved set.
func Allows(effective []string, actor string, level domain.Permission) bool {
	if len(effective) == 0 || actor == "" {
		return false
	}
	switch level {
	case domain.PermRead, domain.PermOpen:
		return true
	case domain.PermManage:
		return Contains(effective, actor)
	default:
		return false
	}
}

// Permissions lists the levels actor holds on taskID, weakest first.
func Permissions(actor, taskID string, snap domain.Snapshot) []domain.Permission {
	effective := ResolveEffectiveCoordinators(taskID, snap)
	var out []domain.Permission
	for _, level := range []domain.Permission{domain.PermRead, domain.PermOpen, domain.PermManage} {
		if Allows(effective, actor, level) {
			out = append(out, level)
		}
	}
	return out
}

// PrimaryCoordinatorAlias returns the lexicographically first alias, or "".
// Display only; never use it to authorize.
func PrimaryCoordinatorAlias(aliases []string) string {
	set := NormalizeAliases(aliases)
	if len(set) == 0 {
		return ""
	}
	sort.Strings(set)
	return set[0]
}
