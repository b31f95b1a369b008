package sync

import (
	"strings"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

// ParseGroupName splits a conventional "Module / Access Level" group name
// into its module and privilege tier. Names without a separator yield an
// empty module and the Other tier; unknown tier words also map to Other.
func ParseGroupName(name string) (string, models.AccessLevel) {
	before, after, found := strings.Cut(name, "/")
	if !found {
		return "", models.AccessLevelOther
	}

	module := strings.TrimSpace(before)
	tier := strings.ToLower(strings.TrimSpace(after))

	switch {
	case tier == "administrator" || tier == "admin":
		return module, models.AccessLevelAdministrator
	case tier == "manager":
		return module, models.AccessLevelManager
	case tier == "user":
		return module, models.AccessLevelUser
	default:
		return module, models.AccessLevelOther
	}
}
