// Package identity defines who a caller is once the gateway has authenticated
// them: a closed set of roles and the (role, username) pair carried in tokens.
package identity

import (
	"fmt"
	"strings"
)

// Role is one of the platform's fixed user roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Roles lists every recognised role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleTeacher, RoleStudent}
}

// ParseRole converts a wire value into a Role. Unknown values are an error,
// never a default role.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Valid reports whether r is a recognised role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// UnmarshalText rejects unknown roles during JSON/YAML decoding.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText encodes the role's wire value.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return []byte(r), nil
}

// RoleSet is a route's allow-list.
type RoleSet []Role

// NewRoleSet parses and de-duplicates role names.
func NewRoleSet(values ...string) (RoleSet, error) {
	set := make(RoleSet, 0, len(values))
	for _, v := range values {
		role, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		if !set.Contains(role) {
			set = append(set, role)
		}
	}
	return set, nil
}

// Contains reports whether role is admitted. Unrecognised roles are never admitted.
func (s RoleSet) Contains(role Role) bool {
	if !role.Valid() {
		return false
	}
	for _, allowed := range s {
		if allowed == role {
			return true
		}
	}
	return false
}

// Strings returns the wire values in allow-list order.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// Identity is an authenticated caller.
type Identity struct {
	Role     Role
	Username string
}
