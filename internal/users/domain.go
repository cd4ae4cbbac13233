// Package users keeps the staff directory.
package users

import (
	"fmt"
	"strings"
	"time"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// Role is the desk a staff member works at.
type Role string

// Staff roles.
const (
	RoleJobCreator Role = "job_creator"
	RoleTechnician Role = "technician"
	RoleAccountant Role = "accountant"
)

// Roles lists every staff role.
var Roles = []Role{RoleJobCreator, RoleTechnician, RoleAccountant}

// ParseRole validates raw, accepting "job-creator" and plural forms.
func ParseRole(raw string) (Role, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	norm = strings.TrimSuffix(norm, "s")
	for _, r := range Roles {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", shared.FieldErrors{"role": fmt.Sprintf("unknown role %q", raw)}
}

// ErrDuplicateEmail is returned when an email is already registered.
var ErrDuplicateEmail = fmt.Errorf("%w: email already registered", shared.ErrConflict)

// User is a staff member.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
