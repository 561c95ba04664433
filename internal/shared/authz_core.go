package shared

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermProfileView = "profile.view"
	PermProfileEdit = "profile.edit"

	PermJobsView = "jobs.view"
)

// ScopeDefinition describes a permission the platform itself relies on.
type ScopeDefinition struct {
	Slug  string
	Name  string
	Group string
}

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []ScopeDefinition {
	return []ScopeDefinition{
		{Slug: PermUsersView, Name: "View users", Group: "Access control"},
		{Slug: PermUsersEdit, Name: "Manage users", Group: "Access control"},
		{Slug: PermRolesView, Name: "View roles", Group: "Access control"},
		{Slug: PermRolesEdit, Name: "Manage roles", Group: "Access control"},
		{Slug: PermPermissionsView, Name: "View permissions", Group: "Access control"},
		{Slug: PermProfileView, Name: "View other profiles", Group: "Profile"},
		{Slug: PermProfileEdit, Name: "Edit other profiles", Group: "Profile"},
		{Slug: PermJobsView, Name: "View job queues", Group: "Operations"},
	}
}
