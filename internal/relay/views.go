package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

type OpenRoomView struct {
	Room      string   `json:"room"`
	ID        string   `json:"id"`
	Occupancy int      `json:"occupancy"`
	Occupants []string `json:"occupants"`
}

type AvailableRoomView struct {
	Room      string `json:"room"`
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Open      bool   `json:"open"`
}

type VisitorView struct {
	ID        string   `json:"id"`
	Name      string   `json:"visitor"`
	Connected bool     `json:"connected"`
	Rooms     []string `json:"rooms"`
}

type ActorView struct {
	Actor
	Rooms []string `json:"rooms,omitempty"`
}

type Stats struct {
	Actors          int        `json:"actors"`
	Connected       int        `json:"connected"`
	OpenRooms       int        `json:"openRooms"`
	Memberships     int        `json:"memberships"`
	PendingWarnings int        `json:"pendingWarnings"`
	PendingAlerts   int        `json:"pendingAlerts"`
	OldestPending   *time.Time `json:"oldestPending,omitempty"`
}

// Snapshot is a read-only copy of the relay state.
type Snapshot struct {
	Actors          []ActorView         `json:"actors"`
	OpenRooms       []OpenRoomView      `json:"openRooms"`
	AvailableRooms  []AvailableRoomView `json:"availableRooms"`
	Visitors        []VisitorView       `json:"visitors"`
	PendingWarnings []PendingWarning    `json:"pendingWarnings"`
	PendingAlerts   []PendingAlert      `json:"pendingAlerts"`
	Stats           Stats               `json:"stats"`
}

func (r *Relay) openRooms() []OpenRoomView {
	out := make([]OpenRoomView, 0)
	for actor := range r.registry.ListByRole(RoleLocation, Connected) {
		if !actor.Open {
			continue
		}
		out = append(out, OpenRoomView{
			Room:      actor.Name,
			ID:        actor.ID,
			Occupancy: r.tracker.Occupancy(actor.Name),
			Occupants: r.tracker.Occupants(actor.Name),
		})
	}
	return out
}

func (r *Relay) availableRooms() []AvailableRoomView {
	out := make([]AvailableRoomView, 0)
	for actor := range r.registry.ListByRole(RoleLocation, Connected) {
		out = append(out, AvailableRoomView{
			Room:      actor.Name,
			ID:        actor.ID,
			Connected: actor.Connected,
			Open:      actor.Open,
		})
	}
	return out
}

func (r *Relay) visitorsRooms() []VisitorView {
	out := make([]VisitorView, 0)
	for actor := range r.registry.ListByRole(RolePerson, nil) {
		out = append(out, VisitorView{
			ID:        actor.ID,
			Name:      actor.Name,
			Connected: actor.Connected,
			Rooms:     r.tracker.LocationsOf(actor.ID),
		})
	}
	return out
}

func (r *Relay) allSockets() []ActorView {
	out := make([]ActorView, 0, r.registry.Len())
	for actor := range r.registry.All() {
		view := ActorView{Actor: actor}
		if actor.Role == RolePerson {
			view.Rooms = r.tracker.LocationsOf(actor.ID)
		}
		out = append(out, view)
	}
	return out
}

func (r *Relay) Stats() Stats {
	stats := Stats{
		Actors:          r.registry.Len(),
		Connected:       r.registry.ConnectedCount(),
		OpenRooms:       len(r.openRooms()),
		Memberships:     len(r.tracker.Memberships()),
		PendingWarnings: r.pending.WarningCount(),
		PendingAlerts:   r.pending.AlertCount(),
	}
	if oldest, ok := r.pending.Oldest(); ok {
		stats.OldestPending = &oldest
	}
	return stats
}

func (r *Relay) Snapshot() Snapshot {
	return Snapshot{
		Actors:          r.allSockets(),
		OpenRooms:       r.openRooms(),
		AvailableRooms:  r.availableRooms(),
		Visitors:        r.visitorsRooms(),
		PendingWarnings: r.pending.PendingWarnings(),
		PendingAlerts:   r.pending.PendingAlerts(),
		Stats:           r.Stats(),
	}
}

func (r *Relay) exposeAllSockets(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.allSockets()
	return nil
}

func (r *Relay) exposeOpenRooms(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.openRooms()
	return nil
}

func (r *Relay) exposeAvailableRooms(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.availableRooms()
	return nil
}

func (r *Relay) exposeVisitorsRooms(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.visitorsRooms()
	return nil
}

func (r *Relay) exposePendingWarnings(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.pending.PendingWarnings()
	return nil
}

func (r *Relay) exposePendingAlerts(o *Outcome, _ Actor, _ json.RawMessage) error {
	o.Ack = r.pending.PendingAlerts()
	return nil
}

func (r *Relay) pingServer(o *Outcome, sender Actor, data json.RawMessage) error {
	name := sender.Name
	var given string
	if err := json.Unmarshal(data, &given); err == nil && given != "" {
		name = given
	}
	o.Ack = fmt.Sprintf("Server is at your disposal, %s", name)
	return nil
}
