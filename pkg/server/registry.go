package server

import (
	"errors"
	"sync"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// ErrDuplicateID is returned by Registry.Add when the id is already connected.
var ErrDuplicateID = errors.New("server: user id already connected")

// Detail keys returned by Registry.DetailsOf.
const (
	DetailUserID      = "userId"
	DetailPeerAddress = "peerAddress"
	DetailRole        = "role"
	DetailStatus      = "status"
)

// Registry is the directory of connected users in join order. It owns the
// coordinator election: the coordinator is always the oldest remaining user.
//
// Every read and write goes through mu, so the user set and the coordinator
// id are always observed together. Callers receive copies of User values.
type Registry struct {
	mu          sync.Mutex
	users       map[string]*model.User
	order       []string // join order, oldest first
	coordinator string   // "" iff users is empty
}

// Departure describes a removal.
type Departure struct {
	User           model.User
	WasCoordinator bool
	Coordinator    string // coordinator after the removal, "" if none left
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*model.User),
	}
}

// Add registers u. The duplicate check and the insertion happen under one
// lock. If the registry was empty, u becomes coordinator and promoted is true.
func (r *Registry) Add(u *model.User) (promoted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return false, ErrDuplicateID
	}
	r.users[u.ID] = u
	r.order = append(r.order, u.ID)

	if r.coordinator == "" {
		r.coordinator = u.ID
		u.PromoteToCoordinator()
		return true, nil
	}
	return false, nil
}

// Remove deletes id. If id was the coordinator, the oldest remaining user is
// promoted. ok is false if id was not registered.
func (r *Registry) Remove(id string) (dep Departure, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, exists := r.users[id]
	if !exists {
		return Departure{}, false
	}
	delete(r.users, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	dep.User = *u
	if r.coordinator == id {
		dep.WasCoordinator = true
		r.coordinator = ""
		if len(r.order) > 0 {
			r.coordinator = r.order[0]
			r.users[r.coordinator].PromoteToCoordinator()
		}
	}
	dep.Coordinator = r.coordinator
	return dep, true
}

// Get returns a copy of the user registered under id.
func (r *Registry) Get(id string) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// All returns a point-in-time snapshot of every user in join order.
func (r *Registry) All() []model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]model.User, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, *r.users[id])
	}
	return result
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// CoordinatorID returns the current coordinator; ok is false when empty.
func (r *Registry) CoordinatorID() (id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinator, r.coordinator != ""
}

// ToggleStatus flips the status of id. Unknown ids are ignored.
func (r *Registry) ToggleStatus(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false
	}
	u.ToggleStatus()
	return true
}

// DetailsOf returns the details of id: userId, peerAddress, role and status
// when includePrivate is set, otherwise role and status only. Unknown ids
// yield empty (non-nil) Fields.
func (r *Registry) DetailsOf(id string, includePrivate bool) protocol.Fields {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return protocol.Fields{}
	}
	return details(u, includePrivate)
}

// Roster returns the public details of every user, in join order, taken
// from one consistent snapshot.
func (r *Registry) Roster() protocol.Roster {
	r.mu.Lock()
	defer r.mu.Unlock()
	roster := make(protocol.Roster, 0, len(r.order))
	for _, id := range r.order {
		roster = append(roster, protocol.Entry{Key: id, Fields: details(r.users[id], false)})
	}
	return roster
}

func details(u *model.User, includePrivate bool) protocol.Fields {
	fields := make(protocol.Fields, 0, 4)
	if includePrivate {
		fields = append(fields,
			protocol.Field{Key: DetailUserID, Value: u.ID},
			protocol.Field{Key: DetailPeerAddress, Value: u.PeerAddress},
		)
	}
	return append(fields,
		protocol.Field{Key: DetailRole, Value: u.Role.String()},
		protocol.Field{Key: DetailStatus, Value: u.Status.String()},
	)
}
