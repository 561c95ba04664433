package roles

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
)

// ErrDuplicate indicates a role with the same slug already exists.
var ErrDuplicate = fmt.Errorf("roles: slug already taken: %w", httpx.ErrDuplicate)

// CreateRoleInput carries the fields of a new role.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,max=120"`
	Slug        string   `json:"slug" validate:"required,max=120"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleInput carries the editable plain fields of a role.
type UpdateRoleInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// PermissionsInput carries the full replacement permission set of a role.
type PermissionsInput struct {
	Permissions []string `json:"permissions" validate:"required"`
}
