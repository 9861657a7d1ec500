package metadata

// Content-manager actions understood by the permission model.
const (
	ActionCreate  = "plugin::content-manager.explorer.create"
	ActionRead    = "plugin::content-manager.explorer.read"
	ActionUpdate  = "plugin::content-manager.explorer.update"
	ActionDelete  = "plugin::content-manager.explorer.delete"
	ActionPublish = "plugin::content-manager.explorer.publish"
)

// SuperAdminRoleID is the role seeded on first boot. It gates the admin API
// and receives every explorer action on newly registered content types.
const SuperAdminRoleID = "super-admin"

// ExplorerActions lists the actions in the order they are granted.
func ExplorerActions() []string {
	return []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish}
}

// IsExplorerAction reports whether action is a known content-manager action.
func IsExplorerAction(action string) bool {
	for _, a := range ExplorerActions() {
		if a == action {
			return true
		}
	}
	return false
}
