// Package model defines the server-side domain types for GoChat.
package model

import "time"

// Outbound writes protocol lines to one connected peer. Implementations must
// be safe for concurrent use; each connection owns its own Outbound.
type Outbound interface {
	WriteLine(line string) error
}

// User is a connected chat participant. The session registry owns every
// User; callers outside the registry only ever see copies.
type User struct {
	ID          string
	Role        Role
	Status      Status
	PeerAddress string
	JoinedAt    time.Time
	Out         Outbound
}

// NewUser creates an active member that has not been promoted yet.
func NewUser(id, peerAddress string, out Outbound) *User {
	return &User{
		ID:          id,
		Role:        RoleMember,
		Status:      StatusActive,
		PeerAddress: peerAddress,
		JoinedAt:    time.Now(),
		Out:         out,
	}
}

// ToggleStatus flips the user between ACTIVE and INACTIVE.
func (u *User) ToggleStatus() {
	u.Status = u.Status.Toggle()
}

// PromoteToCoordinator marks the user as the coordinator.
func (u *User) PromoteToCoordinator() {
	u.Role = RoleCoordinator
}
