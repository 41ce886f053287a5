// Package rbac maps operator roles to the actions they may take.
package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionDecide  Action = "decide"
	ActionResolve Action = "resolve"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionRead || action == ActionDecide || action == ActionResolve
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps stored role text to a Role; unknown roles get read-only access.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
