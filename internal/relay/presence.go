package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freekieb7/lctrelay/internal/audit"
)

// senderRoom checks that a Location only speaks for its own room. An empty
// requested room means the sender's room.
func senderRoom(sender Actor, requested string) (string, error) {
	room := sender.Room()
	if requested != "" && requested != room {
		return "", fmt.Errorf("%w: %s speaks for %s, not %s", ErrRoomMismatch, sender.ID, room, requested)
	}
	return room, nil
}

// senderVisitor checks that a Person only speaks for itself.
func senderVisitor(sender Actor, ref *VisitorRef) (VisitorRef, error) {
	if ref == nil || ref.ID == "" {
		return VisitorRef{ID: sender.ID, Name: sender.Name}, nil
	}
	if ref.ID != sender.ID {
		return VisitorRef{}, malformed("visitor %s does not match connection %s", ref.ID, sender.ID)
	}
	if ref.Name == "" {
		ref.Name = sender.Name
	}
	return *ref, nil
}

func (r *Relay) openRoom(o *Outcome, sender Actor, data json.RawMessage) error {
	var req OpenRoomRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	room, err := senderRoom(sender, req.Room)
	if err != nil {
		return err
	}

	if r.registry.IsOpen(room) {
		o.Ack = OpenRoomAck{Event: "onOpenRoom", Room: room, State: StateReopened, Result: true}
		return nil
	}

	if _, err := r.registry.SetOpen(room, true); err != nil {
		return err
	}

	// re-read: the actor record now carries Open
	actor, _ := r.registry.Lookup(sender.ID)
	replayed := r.replayWarnings(o, actor)
	o.journal(audit.EventTypeRoomOpened, sender.ID, map[string]any{"room": room, "replayed": replayed})

	r.exposeState(o)

	o.Ack = OpenRoomAck{Event: "onOpenRoom", Room: room, State: StateOpened, Result: r.registry.IsOpen(room), Replayed: replayed}
	return nil
}

// replayWarnings delivers and clears every warning cached for the Location's room.
func (r *Relay) replayWarnings(o *Outcome, location Actor) int {
	warnings := r.pending.DrainWarnings(location.Room())
	for _, w := range warnings {
		o.send(location.ID, EventNotifyRoom, notifyRoom(w))
		o.journal(audit.EventTypeRoomNotified, w.Visitor.ID, map[string]any{"room": w.Room, "replayed": true})
		o.journal(audit.EventTypeWarningCleared, location.ID, map[string]any{"room": w.Room})
	}
	return len(warnings)
}

func (r *Relay) closeRoom(o *Outcome, sender Actor, data json.RawMessage) error {
	var req CloseRoomRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	room, err := senderRoom(sender, req.Room)
	if err != nil {
		return err
	}

	// members leave before the room closes so nobody is left in a closed room
	evicted := r.evictRoom(o, room, sender.ID, "Room closed")

	changed, err := r.registry.SetOpen(room, false)
	if err != nil {
		return err
	}

	if changed || len(evicted) > 0 {
		o.everyone(EventUpdatedOccupancy, OccupancyUpdate{Room: room, Occupancy: 0})
		o.journal(audit.EventTypeRoomClosed, sender.ID, map[string]any{"room": room, "evicted": len(evicted)})
		r.exposeState(o)
	}

	o.Ack = CloseRoomAck{
		Event:   "onCloseRoom",
		Room:    room,
		State:   StateClosed,
		Result:  !r.registry.IsOpen(room) && r.tracker.Occupancy(room) == 0,
		Evicted: evicted,
	}
	return nil
}

func (r *Relay) enterRoom(o *Outcome, sender Actor, data json.RawMessage) error {
	var req PresenceRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	visitor, err := senderVisitor(sender, req.Visitor)
	if err != nil {
		return err
	}

	sentTime := r.now()
	if req.SentTime != nil {
		sentTime = *req.SentTime
	}

	occupancy, inserted, err := r.tracker.Enter(visitor.ID, req.Room, r.now())
	if err != nil {
		if errors.Is(err, ErrLocationNotOpen) {
			return fmt.Errorf("%w: %s", err, req.Room)
		}
		return err
	}

	ack := PresenceAck{Event: "onEnterRoom", Room: req.Room, Occupants: occupancy, Result: true, Emits: "nothing"}
	if inserted {
		message := req.Message
		if message == "" {
			message = "Entered"
		}
		r.notifyPresence(o, req.Room, PresenceNotice{
			Visitor:  visitor.ID,
			Name:     visitor.Name,
			Room:     req.Room,
			SentTime: sentTime,
			Message:  message,
		}, EventCheckIn)
		o.everyone(EventUpdatedOccupancy, OccupancyUpdate{Room: req.Room, Occupancy: occupancy})
		o.journal(audit.EventTypeCheckIn, visitor.ID, map[string]any{"room": req.Room, "occupancy": occupancy})
		r.exposeState(o)
		ack.Emits = EventCheckIn
	}

	o.Ack = ack
	return nil
}

func (r *Relay) leaveRoom(o *Outcome, sender Actor, data json.RawMessage) error {
	var req PresenceRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	visitor, err := senderVisitor(sender, req.Visitor)
	if err != nil {
		return err
	}

	sentTime := r.now()
	if req.SentTime != nil {
		sentTime = *req.SentTime
	}

	left := r.tracker.Leave(visitor.ID, req.Room)
	occupancy := r.tracker.Occupancy(req.Room)

	ack := PresenceAck{Event: "onLeaveRoom", Room: req.Room, Occupants: occupancy, Result: left, Emits: "nothing"}
	if left {
		message := req.Message
		if message == "" {
			message = "Departed"
		}
		notice := PresenceNotice{Visitor: visitor.ID, Name: visitor.Name, Room: req.Room, SentTime: sentTime, Message: message}
		// the leaver is no longer an occupant but still hears its own checkOut
		o.send(visitor.ID, EventCheckOut, notice)
		r.notifyPresence(o, req.Room, notice, EventCheckOut)
		o.everyone(EventUpdatedOccupancy, OccupancyUpdate{Room: req.Room, Occupancy: occupancy})
		o.journal(audit.EventTypeCheckOut, visitor.ID, map[string]any{"room": req.Room, "occupancy": occupancy})
		r.exposeState(o)
		ack.Emits = EventCheckOut
	}

	o.Ack = ack
	return nil
}

// notifyPresence sends a checkIn or checkOut to the room's Location and its occupants.
// evictRoom checks every member out of room, telling each member and the
// Location. It returns the evicted person ids.
func (r *Relay) evictRoom(o *Outcome, room, locationID, message string) []string {
	evicted := r.tracker.Evict(room)
	now := r.now()
	for _, personID := range evicted {
		person, _ := r.registry.Lookup(personID)
		notice := PresenceNotice{Visitor: personID, Name: person.Name, Room: room, SentTime: now, Message: message}
		o.send(personID, EventCheckOut, notice)
		o.send(locationID, EventCheckOut, notice)
		o.journal(audit.EventTypeCheckOut, personID, map[string]any{"room": room, "evicted": true})
	}
	return evicted
}

func (r *Relay) notifyPresence(o *Outcome, room string, notice PresenceNotice, event string) {
	if location, ok := r.registry.LocationByName(room); ok {
		o.send(location.ID, event, notice)
	}
	for _, personID := range r.tracker.Occupants(room) {
		o.send(personID, event, notice)
	}
}
