package relay

import (
	"maps"
	"slices"
	"time"
)

// OpenChecker tells the tracker whether a room accepts visitors.
type OpenChecker interface {
	IsOpen(room string) bool
}

// Membership records that a Person is present at a room.
type Membership struct {
	PersonID  string    `json:"visitor"`
	Room      string    `json:"room"`
	EnteredAt time.Time `json:"enteredAt"`
}

// Tracker is the many-to-many relation between Persons and rooms, indexed both
// ways so occupancy and cascading cleanup stay cheap.
type Tracker struct {
	rooms   OpenChecker
	byRoom  map[string]map[string]time.Time
	byActor map[string]map[string]struct{}
}

func NewTracker(rooms OpenChecker) *Tracker {
	return &Tracker{
		rooms:   rooms,
		byRoom:  make(map[string]map[string]time.Time),
		byActor: make(map[string]map[string]struct{}),
	}
}

// Enter adds the person to the room. Entering twice keeps the first entry.
// It returns the occupancy and whether a membership was inserted.
func (t *Tracker) Enter(personID, room string, at time.Time) (int, bool, error) {
	if !t.rooms.IsOpen(room) {
		return t.Occupancy(room), false, ErrLocationNotOpen
	}

	members, ok := t.byRoom[room]
	if !ok {
		members = make(map[string]time.Time)
		t.byRoom[room] = members
	}
	if _, present := members[personID]; present {
		return len(members), false, nil
	}
	members[personID] = at

	visited, ok := t.byActor[personID]
	if !ok {
		visited = make(map[string]struct{})
		t.byActor[personID] = visited
	}
	visited[room] = struct{}{}

	return len(members), true, nil
}

// Leave removes the membership. It reports whether one existed.
func (t *Tracker) Leave(personID, room string) bool {
	members, ok := t.byRoom[room]
	if !ok {
		return false
	}
	if _, present := members[personID]; !present {
		return false
	}

	delete(members, personID)
	if len(members) == 0 {
		delete(t.byRoom, room)
	}

	delete(t.byActor[personID], room)
	if len(t.byActor[personID]) == 0 {
		delete(t.byActor, personID)
	}
	return true
}

// LeaveAll removes every membership of the person and returns the rooms left.
func (t *Tracker) LeaveAll(personID string) []string {
	rooms := t.LocationsOf(personID)
	for _, room := range rooms {
		t.Leave(personID, room)
	}
	return rooms
}

// Evict removes every member of the room and returns who was removed.
func (t *Tracker) Evict(room string) []string {
	persons := t.Occupants(room)
	for _, personID := range persons {
		t.Leave(personID, room)
	}
	return persons
}

func (t *Tracker) Occupancy(room string) int {
	return len(t.byRoom[room])
}

// Occupants returns the person ids present at the room, sorted.
func (t *Tracker) Occupants(room string) []string {
	return sortedKeys(t.byRoom[room])
}

// LocationsOf returns the rooms the person is present at, sorted.
func (t *Tracker) LocationsOf(personID string) []string {
	return sortedKeys(t.byActor[personID])
}

func (t *Tracker) Contains(personID, room string) bool {
	_, ok := t.byRoom[room][personID]
	return ok
}

// Memberships returns all memberships ordered by room then person.
func (t *Tracker) Memberships() []Membership {
	out := make([]Membership, 0)
	for _, room := range slices.Sorted(maps.Keys(t.byRoom)) {
		for _, personID := range t.Occupants(room) {
			out = append(out, Membership{
				PersonID:  personID,
				Room:      room,
				EnteredAt: t.byRoom[room][personID],
			})
		}
	}
	return out
}

// sortedKeys never returns nil so empty lists encode as [].
func sortedKeys[V any](m map[string]V) []string {
	return append([]string{}, slices.Sorted(maps.Keys(m))...)
}
