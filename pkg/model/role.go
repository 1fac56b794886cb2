package model

// Role marks the coordinator among connected users.
type Role int

const (
	RoleMember      Role = iota // Default role for every new user
	RoleCoordinator             // Longest-connected user; advisory only
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "MEMBER"
	case RoleCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

// Status reports whether a user is currently active at their client.
type Status int

const (
	StatusActive Status = iota
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Toggle returns the opposite status.
func (s Status) Toggle() Status {
	if s == StatusActive {
		return StatusInactive
	}
	return StatusActive
}
