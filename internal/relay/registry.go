package relay

import (
	"fmt"
	"iter"
	"slices"
	"time"
)

// Registry holds every actor the relay has seen since start. Records are never
// removed, a disconnect only flips Connected. It is owned by the hub goroutine
// and is not safe for concurrent use.
type Registry struct {
	actors map[string]*Actor
	rooms  map[string]string // room name -> location actor id
	now    func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		actors: make(map[string]*Actor),
		rooms:  make(map[string]string),
		now:    now,
	}
}

// Register marks the identity as connected through connID. It is idempotent on
// the actor id: a known record is updated in place and known is true.
func (r *Registry) Register(id Identity, connID string) (Actor, bool, error) {
	now := r.now()

	existing, known := r.actors[id.ID]
	if known && existing.Role != id.Role {
		return Actor{}, true, fmt.Errorf("%w: id %s is registered as %s", ErrInvalidActor, id.ID, existing.Role)
	}

	var (
		rebound   bool
		inherited bool
	)
	if id.Role == RoleLocation {
		if ownerID, taken := r.rooms[id.Name]; taken && ownerID != id.ID {
			owner := r.actors[ownerID]
			if owner.Connected {
				return Actor{}, known, fmt.Errorf("%w: %s", ErrRoomClaimed, id.Name)
			}
			// the room moved to another device and keeps its open state
			rebound, inherited = true, owner.Open
			owner.Open = false
		}
	}

	if !known {
		existing = &Actor{ID: id.ID, Role: id.Role}
		r.actors[id.ID] = existing
	}

	if existing.Role == RoleLocation {
		if existing.Name != "" && existing.Name != id.Name {
			if r.rooms[existing.Name] == existing.ID {
				delete(r.rooms, existing.Name)
			}
			existing.Open = false
		}
		if rebound {
			existing.Open = inherited
		}
		r.rooms[id.Name] = id.ID
	}

	existing.Name = id.Name
	existing.Connected = true
	existing.ConnectedAt = now
	existing.LastSeen = now
	existing.connID = connID

	return *existing, known, nil
}

// MarkOffline flips the actor to disconnected. It reports false when the actor
// is unknown or connID belongs to a connection that was already replaced.
func (r *Registry) MarkOffline(actorID, connID string) (Actor, bool) {
	actor, ok := r.actors[actorID]
	if !ok || !actor.Connected || actor.connID != connID {
		return Actor{}, false
	}
	actor.Connected = false
	actor.LastSeen = r.now()
	actor.connID = ""
	return *actor, true
}

// Touch records activity of a connected actor.
func (r *Registry) Touch(actorID string) {
	if actor, ok := r.actors[actorID]; ok {
		actor.LastSeen = r.now()
	}
}

func (r *Registry) Lookup(id string) (Actor, bool) {
	actor, ok := r.actors[id]
	if !ok {
		return Actor{}, false
	}
	return *actor, true
}

// LocationByName resolves the Location actor currently bound to a room name.
func (r *Registry) LocationByName(room string) (Actor, bool) {
	id, ok := r.rooms[room]
	if !ok {
		return Actor{}, false
	}
	return r.Lookup(id)
}

// IsOpen reports whether the room is served by a connected, open Location.
func (r *Registry) IsOpen(room string) bool {
	actor, ok := r.LocationByName(room)
	return ok && actor.Connected && actor.Open
}

// WasOpen reports the remembered open flag regardless of connection state.
func (r *Registry) WasOpen(room string) bool {
	actor, ok := r.LocationByName(room)
	return ok && actor.Open
}

// SetOpen sets the open flag of the room and reports whether it changed.
func (r *Registry) SetOpen(room string, open bool) (bool, error) {
	id, ok := r.rooms[room]
	if !ok {
		return false, fmt.Errorf("%w: no location for room %s", ErrUnknownActor, room)
	}
	actor := r.actors[id]
	if actor.Open == open {
		return false, nil
	}
	actor.Open = open
	return true, nil
}

// ListByRole yields actors of the role in id order. A nil filter accepts all.
// The sequence is restartable and reads the registry lazily on each iteration.
func (r *Registry) ListByRole(role Role, filter func(Actor) bool) iter.Seq[Actor] {
	return func(yield func(Actor) bool) {
		for _, id := range r.sortedIDs() {
			actor, ok := r.actors[id]
			if !ok || actor.Role != role {
				continue
			}
			if filter != nil && !filter(*actor) {
				continue
			}
			if !yield(*actor) {
				return
			}
		}
	}
}

// All yields every actor in id order.
func (r *Registry) All() iter.Seq[Actor] {
	return func(yield func(Actor) bool) {
		for _, id := range r.sortedIDs() {
			if actor, ok := r.actors[id]; ok && !yield(*actor) {
				return
			}
		}
	}
}

// ConnectedIDs returns the ids of connected actors, optionally limited to roles.
func (r *Registry) ConnectedIDs(roles ...Role) []string {
	ids := make([]string, 0, len(r.actors))
	for _, id := range r.sortedIDs() {
		actor := r.actors[id]
		if !actor.Connected {
			continue
		}
		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) ConnectedCount() int {
	n := 0
	for _, actor := range r.actors {
		if actor.Connected {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	return len(r.actors)
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Connected is a filter for ListByRole.
func Connected(a Actor) bool {
	return a.Connected
}
