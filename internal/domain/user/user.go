// Package user defines the user accounts that issues are reported by.
package user

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Role represents the authorization level of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ValidRoles is the set of all valid user roles.
var ValidRoles = map[Role]bool{
	RoleAdmin:  true,
	RoleMember: true,
	RoleViewer: true,
}

// User is an account that can report and own issues. Issues created by
// webhooks and syncs are reported by the system actor, the oldest admin.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the input for registering a new user.
type CreateRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("invalid email format")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.Role == "" {
		r.Role = RoleMember
	}
	if !ValidRoles[r.Role] {
		return errors.New("invalid role: must be admin, member, or viewer")
	}
	return nil
}
