package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Inbound events.
const (
	EventOpenRoom        = "openRoom"
	EventCloseRoom       = "closeRoom"
	EventEnterRoom       = "enterRoom"
	EventLeaveRoom       = "leaveRoom"
	EventExposureWarning = "exposureWarning"
	EventStepThree       = "stepThreeRoomListsVisitorsForServer"
	EventStepFive        = "stepFiveVisitorReceivedAlert"
	EventAlertVisitor    = "alertVisitor"

	EventExposeAllSockets      = "exposeAllSockets"
	EventExposeOpenRooms       = "exposeOpenRooms"
	EventExposeAvailableRooms  = "exposeAvailableRooms"
	EventExposeVisitorsRooms   = "exposeVisitorsRooms"
	EventExposePendingWarnings = "exposePendingWarnings"
	EventExposePendingAlerts   = "exposePendingAlerts"
	EventPingServer            = "pingServer"
)

// Outbound events.
const (
	EventConnected             = "connected"
	EventCheckIn               = "checkIn"
	EventCheckOut              = "checkOut"
	EventNotifyRoom            = "notifyRoom"
	EventStepFour              = "stepFourServerAlertsVisitor"
	EventAvailableRoomsExposed = "availableRoomsExposed"
	EventOpenRoomsExposed      = "openRoomsExposed"
	EventVisitorsRoomsExposed  = "visitorsRoomsExposed"
	EventUpdatedOccupancy      = "updatedOccupancy"
)

// Delivery statuses reported in acknowledgements.
const (
	StatusWarned  = "WARNED"
	StatusAlerted = "ALERTED"
	StatusPending = "PENDING"
)

// Room states reported by openRoom and closeRoom.
const (
	StateOpened   = "Opened"
	StateReopened = "Reopened"
	StateClosed   = "Closed"
)

// VisitorRef names a Person in payloads. Clients send either the object form
// {"id": "...", "visitor": "Alice"} or a bare id string.
type VisitorRef struct {
	ID   string `json:"id" validate:"required,actor_id"`
	Name string `json:"visitor,omitempty"`
}

func (v *VisitorRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &v.ID)
	}
	type plain VisitorRef
	return json.Unmarshal(data, (*plain)(v))
}

// RoomDates is one entry of a warningsMap: the room and the dates it was visited.
type RoomDates struct {
	Room  string   `json:"room" validate:"required,room_name"`
	Dates []string `json:"dates" validate:"dive,required"`
}

// UnmarshalJSON accepts the object form and the [room, [dates...]] pair form.
func (r *RoomDates) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("warning entry must be a [room, dates] pair, got %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &r.Room); err != nil {
			return fmt.Errorf("warning entry room: %w", err)
		}
		if err := json.Unmarshal(pair[1], &r.Dates); err != nil {
			return fmt.Errorf("warning entry dates: %w", err)
		}
		return nil
	}
	type plain RoomDates
	return json.Unmarshal(data, (*plain)(r))
}

// WarningsMap lists the rooms a warning covers. It decodes from an object
// keyed by room, from a list of [room, dates] pairs or from a list of
// {"room", "dates"} objects. Object keys are sorted by room.
type WarningsMap []RoomDates

func (w *WarningsMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return json.Unmarshal(data, (*[]RoomDates)(w))
	}

	var byRoom map[string][]string
	if err := json.Unmarshal(data, &byRoom); err != nil {
		return err
	}
	entries := make([]RoomDates, 0, len(byRoom))
	for _, room := range slices.Sorted(maps.Keys(byRoom)) {
		entries = append(entries, RoomDates{Room: room, Dates: byRoom[room]})
	}
	*w = entries
	return nil
}

type OpenRoomRequest struct {
	Room  string `json:"room" validate:"omitempty,room_name"`
	Nonce string `json:"nonce,omitempty"`
}

type CloseRoomRequest struct {
	Room string `json:"room" validate:"omitempty,room_name"`
}

// PresenceRequest is the payload of enterRoom and leaveRoom.
type PresenceRequest struct {
	Room     string      `json:"room" validate:"required,room_name"`
	Visitor  *VisitorRef `json:"visitor,omitempty"`
	SentTime *time.Time  `json:"sentTime,omitempty"`
	Message  string      `json:"message,omitempty"`
}

type ExposureWarningRequest struct {
	Visitor     *VisitorRef `json:"visitor" validate:"required"`
	Reason      string      `json:"reason"`
	WarningsMap WarningsMap `json:"warningsMap" validate:"required,min=1,dive"`
}

type StepThreeRequest struct {
	Room            string       `json:"room" validate:"omitempty,room_name"`
	ExposedVisitors []VisitorRef `json:"exposedVisitors" validate:"dive"`
	Message         string       `json:"message,omitempty"`
	ExposureDates   []string     `json:"exposureDates,omitempty"`
}

type AlertVisitorRequest struct {
	Visitor *VisitorRef `json:"visitor"`
	Room    string      `json:"room" validate:"omitempty,room_name"`
	Message string      `json:"message"`
}

// AckRequest confirms receipt of alerts. The payload is the visitor id or
// {"visitorId": "...", "room": "..."} to confirm a single room.
type AckRequest struct {
	VisitorID string `json:"visitorId" validate:"required,actor_id"`
	Room      string `json:"room,omitempty" validate:"omitempty,room_name"`
}

func (a *AckRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.VisitorID)
	}
	type plain AckRequest
	return json.Unmarshal(data, (*plain)(a))
}

// Acknowledgements.

type OpenRoomAck struct {
	Event    string `json:"event"`
	Room     string `json:"room"`
	State    string `json:"state"`
	Result   bool   `json:"result"`
	Replayed int    `json:"replayed"`
}

type CloseRoomAck struct {
	Event   string   `json:"event"`
	Room    string   `json:"room"`
	State   string   `json:"state"`
	Result  bool     `json:"result"`
	Evicted []string `json:"evicted"`
}

type PresenceAck struct {
	Event     string `json:"event"`
	Room      string `json:"room"`
	Occupants int    `json:"occupants"`
	Result    bool   `json:"result"`
	Emits     string `json:"emits"`
}

// DeliveryResult reports whether a message was delivered now or cached.
type DeliveryResult struct {
	Room    string `json:"room,omitempty"`
	Visitor string `json:"visitor,omitempty"`
	Status  string `json:"status"`
}

type ExposureWarningAck struct {
	Event   string           `json:"event"`
	Visitor string           `json:"visitor"`
	Results []DeliveryResult `json:"results"`
}

type StepThreeAck struct {
	Event   string           `json:"event"`
	Room    string           `json:"room"`
	Results []DeliveryResult `json:"results"`
}

type AlertVisitorAck struct {
	Event   string `json:"event"`
	Visitor string `json:"visitor"`
	Room    string `json:"room"`
	Status  string `json:"status"`
}

type StepFiveAck struct {
	Event        string `json:"event"`
	Visitor      string `json:"visitor"`
	Acknowledged int    `json:"acknowledged"`
}

// ConnectedFrame is sent to a connection once it is registered.
type ConnectedFrame struct {
	Identity
	Known bool `json:"known"`
}

// Outbound payloads.

type PresenceNotice struct {
	Visitor  string    `json:"visitor"`
	Name     string    `json:"name,omitempty"`
	Room     string    `json:"room"`
	SentTime time.Time `json:"sentTime"`
	Message  string    `json:"message"`
}

type NotifyRoom struct {
	Room          string     `json:"room"`
	Reason        string     `json:"reason"`
	ExposureDates []string   `json:"exposureDates"`
	Visitor       VisitorRef `json:"visitor"`
	QueuedAt      time.Time  `json:"queuedAt"`
}

type AlertNotice struct {
	Visitor      string       `json:"visitor"`
	Room         string       `json:"room"`
	ExposureInfo ExposureInfo `json:"exposureInfo"`
	QueuedAt     time.Time    `json:"queuedAt"`
}

type OccupancyUpdate struct {
	Room      string `json:"room"`
	Occupancy int    `json:"occupancy"`
}
