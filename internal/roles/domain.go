package roles

// Built-in role types.
const (
	Admin          = "admin"
	ContentManager = "content_manager"
	User           = "user"
)

// Permissions granted through the built-in roles.
const (
	PermAdmin         = "admin"
	PermManageUsers   = "manage_users"
	PermManageRoles   = "manage_roles"
	PermViewLogs      = "view_logs"
	PermManageContent = "manage_content"
	PermViewUsers     = "view_users"
	PermUseBot        = "use_bot"
)

// Role is a catalog entry: a named bundle of permissions.
type Role struct {
	Name        string   `json:"id" yaml:"-"`
	DisplayName string   `json:"name" yaml:"display_name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// DefaultRoles returns the built-in role table.
func DefaultRoles() []Role {
	return []Role{
		{
			Name:        Admin,
			DisplayName: "Administrator",
			Permissions: []string{PermAdmin, PermManageUsers, PermManageRoles, PermViewLogs},
		},
		{
			Name:        ContentManager,
			DisplayName: "Content manager",
			Permissions: []string{PermManageContent, PermViewUsers},
		},
		{
			Name:        User,
			DisplayName: "User",
			Permissions: []string{PermUseBot},
		},
	}
}

// DefaultAliases lists role names stored under more than one spelling.
// Which spelling is canonical is an open migration decision; see RenameRole.
func DefaultAliases() map[string][]string {
	return map[string][]string{
		"content": {ContentManager},
	}
}
