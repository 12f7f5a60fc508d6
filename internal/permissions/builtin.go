package permissions

// Built-in category keys owned by the host itself.
const (
	CategoryDashboard   = "dashboard"
	CategoryPermissions = "permissions"
)

// Built-in full action keys.
const (
	ActionDashboardView   = CategoryDashboard + ".view"
	ActionPermissionsView = CategoryPermissions + ".view"
	ActionPermissionsEdit = CategoryPermissions + ".manage"
)

// BuiltinCategories returns the categories every registry is seeded with.
func BuiltinCategories() []Category {
	return []Category{
		{
			Key:   CategoryDashboard,
			Label: "Dashboard",
			Actions: []Action{
				{Key: "view", Label: "View dashboard", Description: "Open the guild dashboard and receive live updates."},
			},
		},
		{
			Key:   CategoryPermissions,
			Label: "Permissions",
			Actions: []Action{
				{Key: "view", Label: "View permissions", Description: "See role overrides configured for the guild."},
				{Key: "manage", Label: "Manage permissions", Description: "Create, change, and remove role overrides."},
			},
		},
	}
}
