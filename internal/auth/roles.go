package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles. Adding a role means extending
// ParseRole and Rank together; Rank's switch is the single source of truth
// for the privilege order.
type Role string

const (
	RoleAdmin              Role = "ADMIN"
	RoleSolutionsArchitect Role = "SOLUTIONS_ARCHITECT"
	RoleSalesDirector      Role = "SALES_DIRECTOR"
)

// ParseRole maps a raw string onto the closed role set. Anything else,
// including legacy values from old tokens, is rejected.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSolutionsArchitect:
		return RoleSolutionsArchitect, nil
	case RoleSalesDirector:
		return RoleSalesDirector, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Rank totally orders roles: ADMIN > SOLUTIONS_ARCHITECT > SALES_DIRECTOR.
// Unknown roles rank below every valid one.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleSolutionsArchitect:
		return 2
	case RoleSalesDirector:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role is at least as privileged as required.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank() && r.Rank() > 0
}
