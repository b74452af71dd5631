package rbac

type Role string
type Action string

const (
	RoleNone   Role = ""
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
	ActionDelete Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionInvite
	default:
		return false
	}
}

// RoleFor resolves the caller's role on a board from its owner and member set.
func RoleFor(userID, ownerID string, members []string) Role {
	if userID == "" {
		return RoleNone
	}
	if userID == ownerID {
		return RoleOwner
	}
	for _, member := range members {
		if member == userID {
			return RoleMember
		}
	}
	return RoleNone
}
