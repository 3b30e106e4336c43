package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/freekieb7/lctrelay/internal/audit"
	"github.com/freekieb7/lctrelay/internal/validator"
)

// Audience selects the recipients of an outbound message.
type Audience int

const (
	// AudienceActor addresses one actor by id.
	AudienceActor Audience = iota
	// AudienceObservers addresses every connected Observer.
	AudienceObservers
	// AudienceEveryone addresses every connected actor.
	AudienceEveryone
)

// Outbound is a message the relay wants delivered. Recipients are resolved
// against the registry at dispatch time and offline actors are skipped.
type Outbound struct {
	Audience Audience
	To       string
	Event    string
	Data     any
}

// Outcome is the result of handling one inbound event: the acknowledgement
// for the sender, the messages to deliver and the journal entries to record.
type Outcome struct {
	Ack     any
	Err     error
	Out     []Outbound
	Journal []audit.Entry
}

func (o *Outcome) send(to, event string, data any) {
	o.Out = append(o.Out, Outbound{Audience: AudienceActor, To: to, Event: event, Data: data})
}

func (o *Outcome) observers(event string, data any) {
	o.Out = append(o.Out, Outbound{Audience: AudienceObservers, Event: event, Data: data})
}

func (o *Outcome) everyone(event string, data any) {
	o.Out = append(o.Out, Outbound{Audience: AudienceEveryone, Event: event, Data: data})
}

func (o *Outcome) journal(t audit.EventType, actorID string, data map[string]any) {
	o.Journal = append(o.Journal, audit.Entry{Type: t, ActorID: actorID, Data: data})
}

// Relay owns the registry, the membership tracker and the pending store and
// turns inbound events into outcomes. It is driven by a single goroutine, see Hub.
type Relay struct {
	registry *Registry
	tracker  *Tracker
	pending  *PendingStore
	validate *validator.Validator
	now      func() time.Time
}

func New(v *validator.Validator, now func() time.Time) *Relay {
	if now == nil {
		now = time.Now
	}
	registry := NewRegistry(now)
	return &Relay{
		registry: registry,
		tracker:  NewTracker(registry),
		pending:  NewPendingStore(),
		validate: v,
		now:      now,
	}
}

func (r *Relay) Registry() *Registry    { return r.registry }
func (r *Relay) Tracker() *Tracker      { return r.tracker }
func (r *Relay) Pending() *PendingStore { return r.pending }

type handlerFunc func(r *Relay, o *Outcome, sender Actor, data json.RawMessage) error

type route struct {
	roles   []Role
	handler handlerFunc
}

var routes = map[string]route{
	EventOpenRoom:        {roles: []Role{RoleLocation}, handler: (*Relay).openRoom},
	EventCloseRoom:       {roles: []Role{RoleLocation}, handler: (*Relay).closeRoom},
	EventEnterRoom:       {roles: []Role{RolePerson}, handler: (*Relay).enterRoom},
	EventLeaveRoom:       {roles: []Role{RolePerson}, handler: (*Relay).leaveRoom},
	EventExposureWarning: {roles: []Role{RolePerson}, handler: (*Relay).exposureWarning},
	EventStepThree:       {roles: []Role{RoleLocation}, handler: (*Relay).stepThree},
	EventAlertVisitor:    {roles: []Role{RoleLocation}, handler: (*Relay).alertVisitor},
	EventStepFive:        {roles: []Role{RolePerson}, handler: (*Relay).stepFive},

	EventExposeAllSockets:      {handler: (*Relay).exposeAllSockets},
	EventExposeOpenRooms:       {handler: (*Relay).exposeOpenRooms},
	EventExposeAvailableRooms:  {handler: (*Relay).exposeAvailableRooms},
	EventExposeVisitorsRooms:   {handler: (*Relay).exposeVisitorsRooms},
	EventExposePendingWarnings: {handler: (*Relay).exposePendingWarnings},
	EventExposePendingAlerts:   {handler: (*Relay).exposePendingAlerts},
	EventPingServer:            {handler: (*Relay).pingServer},
}

// Handle processes one inbound event from a connected actor. A rejected
// request leaves all state untouched and only carries an error ack.
func (r *Relay) Handle(senderID, event string, data json.RawMessage) Outcome {
	var o Outcome

	sender, ok := r.registry.Lookup(senderID)
	if !ok || !sender.Connected {
		return r.reject(senderID, event, fmt.Errorf("%w: %s", ErrUnknownActor, senderID))
	}

	rt, ok := routes[event]
	if !ok {
		return r.reject(senderID, event, fmt.Errorf("%w: %s", ErrUnknownEvent, event))
	}
	if len(rt.roles) > 0 && !roleAllowed(sender.Role, rt.roles) {
		return r.reject(senderID, event, fmt.Errorf("%w: %s cannot send %s", ErrWrongRole, sender.Role, event))
	}

	r.registry.Touch(senderID)

	if err := rt.handler(r, &o, sender, data); err != nil {
		return r.reject(senderID, event, err)
	}
	return o
}

func (r *Relay) reject(actorID, event string, err error) Outcome {
	o := Outcome{Ack: newErrorAck(event, err), Err: err}
	o.journal(audit.EventTypeRequestRejected, actorID, map[string]any{
		"event": event,
		"error": err.Error(),
	})
	return o
}

func roleAllowed(role Role, allowed []Role) bool {
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

// decode unmarshals and validates a payload into dst.
func (r *Relay) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return malformed("invalid payload: %v", err)
	}
	if err := r.validate.Validate(dst); err != nil {
		return malformed("%s", validator.Describe(err))
	}
	return nil
}

// Connect registers the identity and reconciles cached state for it. It must
// complete before any frame of the connection is handled.
func (r *Relay) Connect(id Identity, connID string) Outcome {
	var o Outcome

	previous, _ := r.registry.Lookup(id.ID)

	actor, known, err := r.registry.Register(id, connID)
	if err != nil {
		o.Err = err
		o.Ack = newErrorAck(EventConnected, err)
		o.journal(audit.EventTypeRequestRejected, id.ID, map[string]any{
			"event": EventConnected,
			"error": err.Error(),
		})
		return o
	}

	o.Ack = actor
	o.send(actor.ID, EventConnected, ConnectedFrame{Identity: id, Known: known})

	eventType := audit.EventTypeActorConnected
	if known {
		eventType = audit.EventTypeActorReconnected
	}
	o.journal(eventType, actor.ID, map[string]any{"role": string(actor.Role), "name": actor.Name})

	switch actor.Role {
	case RoleLocation:
		// a renamed Location gives up its old room, members included, unless
		// another Location already took the name over
		if known && previous.Name != "" && previous.Name != actor.Name && !r.roomBound(previous.Name) {
			evicted := r.evictRoom(&o, previous.Name, actor.ID, "Room renamed")
			o.everyone(EventUpdatedOccupancy, OccupancyUpdate{Room: previous.Name, Occupancy: 0})
			o.journal(audit.EventTypeRoomClosed, actor.ID, map[string]any{
				"room":       previous.Name,
				"renamed_to": actor.Name,
				"evicted":    len(evicted),
			})
		}
		// a Location that was open before it dropped is open again
		if actor.Open {
			replayed := r.replayWarnings(&o, actor)
			o.journal(audit.EventTypeRoomReopened, actor.ID, map[string]any{
				"room":     actor.Name,
				"replayed": replayed,
			})
		}
	case RolePerson:
		for _, alert := range r.pending.Alerts(actor.ID) {
			o.send(actor.ID, EventStepFour, alertNotice(alert))
			o.journal(audit.EventTypeAlertDelivered, actor.ID, map[string]any{
				"room":     alert.Room,
				"replayed": true,
			})
		}
	}

	// observers, including a fresh one, get the full views here
	r.exposeState(&o)
	return o
}

func (r *Relay) roomBound(room string) bool {
	_, ok := r.registry.LocationByName(room)
	return ok
}

// Disconnect marks the actor offline. A Person leaves every room it occupied.
// Disconnects of superseded connections are ignored.
func (r *Relay) Disconnect(actorID, connID string) Outcome {
	var o Outcome

	actor, ok := r.registry.MarkOffline(actorID, connID)
	if !ok {
		return o
	}

	data := map[string]any{"role": string(actor.Role)}
	if actor.Role == RolePerson {
		rooms := r.tracker.LeaveAll(actor.ID)
		now := r.now()
		for _, room := range rooms {
			r.notifyPresence(&o, room, PresenceNotice{
				Visitor:  actor.ID,
				Name:     actor.Name,
				Room:     room,
				SentTime: now,
				Message:  "Disconnected",
			}, EventCheckOut)
			o.everyone(EventUpdatedOccupancy, OccupancyUpdate{Room: room, Occupancy: r.tracker.Occupancy(room)})
			o.journal(audit.EventTypeCheckOut, actor.ID, map[string]any{"room": room, "cascade": true})
		}
		data["rooms_left"] = len(rooms)
	}
	o.journal(audit.EventTypeActorDisconnected, actor.ID, data)

	r.exposeState(&o)
	return o
}

// exposeState fans the current room views out after a state change.
func (r *Relay) exposeState(o *Outcome) {
	o.everyone(EventOpenRoomsExposed, r.openRooms())
	o.observers(EventAvailableRoomsExposed, r.availableRooms())
	o.observers(EventVisitorsRoomsExposed, r.visitorsRooms())
}

// Recipients resolves an outbound message to connected actor ids.
func (r *Relay) Recipients(out Outbound) []string {
	switch out.Audience {
	case AudienceActor:
		if actor, ok := r.registry.Lookup(out.To); ok && actor.Connected {
			return []string{actor.ID}
		}
		return nil
	case AudienceObservers:
		return r.registry.ConnectedIDs(RoleObserver)
	case AudienceEveryone:
		return r.registry.ConnectedIDs()
	default:
		return nil
	}
}

// Panicked converts a recovered handler panic into an outcome.
func Panicked(event string, recovered any) Outcome {
	err := fmt.Errorf("%w: %v", ErrHandlerPanic, recovered)
	o := Outcome{Ack: newErrorAck(event, ErrHandlerPanic), Err: err}
	o.journal(audit.EventTypeHandlerPanicked, "", map[string]any{"event": event, "panic": fmt.Sprint(recovered)})
	return o
}

// IsClientError reports whether err was caused by the request rather than the relay.
func IsClientError(err error) bool {
	return err != nil && !errors.Is(err, ErrHandlerPanic)
}
