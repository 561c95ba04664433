package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	RoleID    int64     `json:"role_id"`
	RoleSlug  string    `json:"role_slug"`
	IsActive  bool      `json:"is_active"`
	Grants    []string  `json:"grants"`
	Blocks    []string  `json:"blocks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the self-service view of a user.
type Profile struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	RoleSlug string `json:"role_slug"`
}

// OverridesInput replaces a user's direct grants and blocks wholesale.
type OverridesInput struct {
	Grants []string `json:"grants"`
	Blocks []string `json:"blocks"`
}

// AssignRoleInput moves a user to another role.
type AssignRoleInput struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

// ProfileInput carries the editable profile fields.
type ProfileInput struct {
	Name string `json:"name" validate:"required,max=120"`
}
