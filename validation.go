package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// SignUpPayload is the input of a sign up. Role may be empty, meaning
// student.
type SignUpPayload struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	Role     UserRole `json:"role,omitempty"`
}

// Normalize trims the fields and lowercases the role.
func (p SignUpPayload) Normalize() SignUpPayload {
	return SignUpPayload{
		Email:    strings.TrimSpace(p.Email),
		Password: p.Password,
		Name:     strings.TrimSpace(p.Name),
		Role:     UserRole(strings.ToLower(strings.TrimSpace(string(p.Role)))),
	}
}

// Validate will validate the payload
func (p SignUpPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(
			&p.Role,
			validation.In(
				RoleStudent,
				RoleInstructor,
				RoleAdmin,
			),
		),
	)
}

// RoleOrDefault returns the payload role, student when empty.
func (p SignUpPayload) RoleOrDefault() UserRole {
	if p.Role == "" {
		return RoleStudent
	}
	return p.Role
}
