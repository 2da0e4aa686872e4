package enums

import "fmt"

// UserRole is carried on access tokens.
type UserRole string

const (
	UserRoleClient   UserRole = "client"
	UserRoleProvider UserRole = "provider"
	UserRoleAdmin    UserRole = "admin"
)

var validUserRoles = []UserRole{UserRoleClient, UserRoleProvider, UserRoleAdmin}

func (r UserRole) String() string {
	return string(r)
}

func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
