package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/freekieb7/lctrelay/internal/validator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRelay() *Relay {
	return New(validator.New(), func() time.Time { return testNow })
}

func connect(t *testing.T, r *Relay, role Role, name, id string) Outcome {
	t.Helper()
	o := r.Connect(Identity{ID: id, Role: role, Name: name}, id+"-conn")
	require.NoError(t, o.Err)
	return o
}

func handle(t *testing.T, r *Relay, senderID, event string, payload any) Outcome {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return r.Handle(senderID, event, data)
}

// sentTo returns the messages addressed directly to id with the given event.
func sentTo(o Outcome, id, event string) []Outbound {
	var out []Outbound
	for _, msg := range o.Out {
		if msg.Audience == AudienceActor && msg.To == id && msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

func broadcasts(o Outcome, audience Audience, event string) []Outbound {
	var out []Outbound
	for _, msg := range o.Out {
		if msg.Audience == audience && msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

func openedRoom(t *testing.T, r *Relay, name, id string) {
	t.Helper()
	connect(t, r, RoleLocation, name, id)
	o := handle(t, r, id, EventOpenRoom, OpenRoomRequest{})
	require.NoError(t, o.Err)
}

func TestCafeExposureFlow(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")
	connect(t, r, RolePerson, "Bob", "bob")

	o := handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"})
	require.NoError(t, o.Err)
	assert.Equal(t, 1, o.Ack.(PresenceAck).Occupants)
	assert.Len(t, sentTo(o, "cafe", EventCheckIn), 1)

	// step 1 + 2: the room is open so the warning goes out immediately
	o = r.Handle("alice", EventExposureWarning, json.RawMessage(
		`{"visitor":{"id":"alice","visitor":"Alice"},"reason":"positive test","warningsMap":[["Cafe",["2024-02-28"]]]}`))
	require.NoError(t, o.Err)
	ack := o.Ack.(ExposureWarningAck)
	assert.Equal(t, []DeliveryResult{{Room: "Cafe", Status: StatusWarned}}, ack.Results)

	notices := sentTo(o, "cafe", EventNotifyRoom)
	require.Len(t, notices, 1)
	notice := notices[0].Data.(NotifyRoom)
	assert.Equal(t, "positive test", notice.Reason)
	assert.Equal(t, []string{"2024-02-28"}, notice.ExposureDates)
	assert.Equal(t, "alice", notice.Visitor.ID)
	assert.True(t, r.Pending().HasWarning("Cafe"), "warning stays until step 3")

	// step 3 + 4
	o = r.Handle("cafe", EventStepThree, json.RawMessage(`{"exposedVisitors":["bob"],"message":"please get tested"}`))
	require.NoError(t, o.Err)
	assert.Equal(t, []DeliveryResult{{Visitor: "bob", Status: StatusAlerted}}, o.Ack.(StepThreeAck).Results)
	assert.False(t, r.Pending().HasWarning("Cafe"))
	require.True(t, r.Pending().HasAlerts("bob"), "alert stays until step 5")

	alerts := sentTo(o, "bob", EventStepFour)
	require.Len(t, alerts, 1)
	info := alerts[0].Data.(AlertNotice).ExposureInfo
	assert.Equal(t, "positive test", info.Reason)
	assert.Equal(t, []string{"2024-02-28"}, info.ExposureDates)
	assert.Equal(t, "please get tested", info.Message)

	// step 5
	o = r.Handle("bob", EventStepFive, json.RawMessage(`"bob"`))
	require.NoError(t, o.Err)
	assert.Equal(t, 1, o.Ack.(StepFiveAck).Acknowledged)
	assert.False(t, r.Pending().HasAlerts("bob"))
}

func TestWarningForClosedRoomIsDeliveredOnceWhenItOpens(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RolePerson, "Alice", "alice")

	o := handle(t, r, "alice", EventExposureWarning, ExposureWarningRequest{
		Visitor:     &VisitorRef{ID: "alice"},
		Reason:      "positive test",
		WarningsMap: []RoomDates{{Room: "ClosedHall", Dates: []string{"2024-02-27"}}},
	})
	require.NoError(t, o.Err)
	assert.Equal(t, StatusPending, o.Ack.(ExposureWarningAck).Results[0].Status)
	assert.Empty(t, sentTo(o, "hall", EventNotifyRoom))

	// connecting without opening keeps the warning cached
	o = connect(t, r, RoleLocation, "ClosedHall", "hall")
	assert.Empty(t, sentTo(o, "hall", EventNotifyRoom))
	assert.True(t, r.Pending().HasWarning("ClosedHall"))

	o = handle(t, r, "hall", EventOpenRoom, OpenRoomRequest{Room: "ClosedHall"})
	require.NoError(t, o.Err)
	assert.Equal(t, StateOpened, o.Ack.(OpenRoomAck).State)
	assert.Equal(t, 1, o.Ack.(OpenRoomAck).Replayed)
	assert.Len(t, sentTo(o, "hall", EventNotifyRoom), 1)
	assert.False(t, r.Pending().HasWarning("ClosedHall"))

	o = handle(t, r, "hall", EventOpenRoom, OpenRoomRequest{})
	require.NoError(t, o.Err)
	assert.Equal(t, StateReopened, o.Ack.(OpenRoomAck).State)
	assert.Empty(t, sentTo(o, "hall", EventNotifyRoom))
}

func TestOpenRoomIsIdempotent(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	before := r.Snapshot()

	o := handle(t, r, "cafe", EventOpenRoom, OpenRoomRequest{})
	require.NoError(t, o.Err)
	assert.Equal(t, StateReopened, o.Ack.(OpenRoomAck).State)
	assert.Empty(t, o.Out)
	assert.Equal(t, before, r.Snapshot())
}

func TestAlertRedeliveredUntilAcknowledged(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")

	o := handle(t, r, "cafe", EventAlertVisitor, AlertVisitorRequest{
		Visitor: &VisitorRef{ID: "carol"},
		Message: "you were at the Cafe",
	})
	require.NoError(t, o.Err)
	assert.Equal(t, StatusPending, o.Ack.(AlertVisitorAck).Status)

	o = connect(t, r, RolePerson, "Carol", "carol")
	assert.Len(t, sentTo(o, "carol", EventStepFour), 1)

	r.Disconnect("carol", "carol-conn")
	o = connect(t, r, RolePerson, "Carol", "carol")
	assert.Len(t, sentTo(o, "carol", EventStepFour), 1, "alert replays until step 5")

	o = handle(t, r, "carol", EventStepFive, AckRequest{VisitorID: "carol", Room: "Cafe"})
	require.NoError(t, o.Err)
	assert.Equal(t, 1, o.Ack.(StepFiveAck).Acknowledged)

	r.Disconnect("carol", "carol-conn")
	o = connect(t, r, RolePerson, "Carol", "carol")
	assert.Empty(t, sentTo(o, "carol", EventStepFour))
}

func TestEnterClosedRoom(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RoleLocation, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")

	o := handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"})
	require.ErrorIs(t, o.Err, ErrLocationNotOpen)
	assert.Empty(t, o.Out)
	assert.Equal(t, 0, r.Tracker().Occupancy("Cafe"))

	ack, ok := o.Ack.(ErrorAck)
	require.True(t, ok)
	assert.Equal(t, EventEnterRoom, ack.On)

	o = handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Nowhere"})
	require.ErrorIs(t, o.Err, ErrLocationNotOpen)
}

func TestCloseRoomEvictsMembersFirst(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")
	connect(t, r, RolePerson, "Bob", "bob")
	require.NoError(t, handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"}).Err)
	require.NoError(t, handle(t, r, "bob", EventEnterRoom, PresenceRequest{Room: "Cafe"}).Err)

	o := handle(t, r, "cafe", EventCloseRoom, CloseRoomRequest{})
	require.NoError(t, o.Err)

	ack := o.Ack.(CloseRoomAck)
	assert.True(t, ack.Result)
	assert.Equal(t, []string{"alice", "bob"}, ack.Evicted)
	assert.Len(t, sentTo(o, "alice", EventCheckOut), 1)
	assert.Len(t, sentTo(o, "cafe", EventCheckOut), 2)
	assert.Equal(t, 0, r.Tracker().Occupancy("Cafe"))
	assert.False(t, r.Registry().IsOpen("Cafe"))

	o = handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"})
	assert.ErrorIs(t, o.Err, ErrLocationNotOpen)
}

func TestPersonDisconnectLeavesAllRooms(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	openedRoom(t, r, "Library", "library")
	connect(t, r, RolePerson, "Alice", "alice")
	require.NoError(t, handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"}).Err)
	require.NoError(t, handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Library"}).Err)

	o := r.Disconnect("alice", "alice-conn")

	assert.Empty(t, r.Tracker().LocationsOf("alice"))
	assert.Equal(t, 0, r.Tracker().Occupancy("Cafe"))
	assert.Len(t, sentTo(o, "cafe", EventCheckOut), 1)
	assert.Len(t, sentTo(o, "library", EventCheckOut), 1)
	assert.Len(t, broadcasts(o, AudienceEveryone, EventUpdatedOccupancy), 2)

	actor, ok := r.Registry().Lookup("alice")
	require.True(t, ok)
	assert.False(t, actor.Connected)
}

func TestLocationReconnectReopensAndReplays(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")
	r.Disconnect("cafe", "cafe-conn")

	assert.False(t, r.Registry().IsOpen("Cafe"))
	assert.True(t, r.Registry().WasOpen("Cafe"))

	o := handle(t, r, "alice", EventExposureWarning, ExposureWarningRequest{
		Visitor:     &VisitorRef{ID: "alice"},
		WarningsMap: []RoomDates{{Room: "Cafe", Dates: []string{"2024-02-29"}}},
	})
	require.NoError(t, o.Err)
	assert.Equal(t, StatusPending, o.Ack.(ExposureWarningAck).Results[0].Status)

	o = connect(t, r, RoleLocation, "Cafe", "cafe")
	assert.True(t, r.Registry().IsOpen("Cafe"))
	assert.Len(t, sentTo(o, "cafe", EventNotifyRoom), 1)
	assert.False(t, r.Pending().HasWarning("Cafe"))
}

func TestRenamedLocationEvictsOldRoom(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "tablet")
	connect(t, r, RolePerson, "Alice", "alice")
	o := handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"})
	require.NoError(t, o.Err)
	r.Disconnect("tablet", "tablet-conn")

	o = connect(t, r, RoleLocation, "Bistro", "tablet")

	assert.False(t, r.Registry().IsOpen("Cafe"))
	assert.False(t, r.Registry().WasOpen("Cafe"))
	assert.Zero(t, r.Tracker().Occupancy("Cafe"))
	assert.Empty(t, r.Tracker().LocationsOf("alice"))

	checkOuts := sentTo(o, "alice", EventCheckOut)
	require.Len(t, checkOuts, 1)
	assert.Equal(t, "Cafe", checkOuts[0].Data.(PresenceNotice).Room)

	updates := broadcasts(o, AudienceEveryone, EventUpdatedOccupancy)
	require.Len(t, updates, 1)
	assert.Equal(t, OccupancyUpdate{Room: "Cafe", Occupancy: 0}, updates[0].Data)
}

func TestRenameKeepsRoomTakenOverByAnotherLocation(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "tablet")
	r.Disconnect("tablet", "tablet-conn")

	// a second device takes the room over while the first is offline
	connect(t, r, RoleLocation, "Cafe", "kiosk")
	connect(t, r, RolePerson, "Alice", "alice")
	o := handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"})
	require.NoError(t, o.Err)

	o = connect(t, r, RoleLocation, "Bistro", "tablet")
	assert.Empty(t, sentTo(o, "alice", EventCheckOut))
	assert.Equal(t, 1, r.Tracker().Occupancy("Cafe"))
	assert.True(t, r.Registry().IsOpen("Cafe"))
}

func TestWarningsMapKeyedByRoom(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")

	o := r.Handle("alice", EventExposureWarning, json.RawMessage(
		`{"visitor":"alice","warningsMap":{"Hall":["2024-02-27"],"Cafe":["2024-02-28"]}}`))
	require.NoError(t, o.Err)
	assert.Equal(t, []DeliveryResult{
		{Room: "Cafe", Status: StatusWarned},
		{Room: "Hall", Status: StatusPending},
	}, o.Ack.(ExposureWarningAck).Results)
	assert.True(t, r.Pending().HasWarning("Cafe"))
	assert.True(t, r.Pending().HasWarning("Hall"))
}

func TestNeverOpenedLocationReconnectStaysClosed(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RoleLocation, "Cafe", "cafe")
	r.Disconnect("cafe", "cafe-conn")
	connect(t, r, RoleLocation, "Cafe", "cafe")

	assert.False(t, r.Registry().IsOpen("Cafe"))
}

func TestWarningsMergePerRoom(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RolePerson, "Alice", "alice")

	for _, date := range []string{"2024-02-01", "2024-02-02"} {
		o := handle(t, r, "alice", EventExposureWarning, ExposureWarningRequest{
			Visitor:     &VisitorRef{ID: "alice"},
			Reason:      "reason " + date,
			WarningsMap: []RoomDates{{Room: "Hall", Dates: []string{date}}},
		})
		require.NoError(t, o.Err)
	}

	assert.Equal(t, 1, r.Pending().WarningCount())
	w, ok := r.Pending().Warning("Hall")
	require.True(t, ok)
	assert.Equal(t, []string{"2024-02-01", "2024-02-02"}, w.ExposureDates)
	assert.Equal(t, "reason 2024-02-02", w.Reason)
}

func TestMalformedRequestsDoNotMutate(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")

	tests := []struct {
		name    string
		sender  string
		event   string
		data    string
		wantErr error
		wantMsg string
	}{
		{"empty warnings map", "alice", EventExposureWarning, `{"visitor":"alice","warningsMap":[]}`, ErrMalformedRequest, "warningsMap"},
		{"missing warner", "alice", EventExposureWarning, `{"warningsMap":[["Cafe",[]]]}`, ErrMalformedRequest, "visitor"},
		{"bad pair", "alice", EventExposureWarning, `{"visitor":"alice","warningsMap":[["Cafe"]]}`, ErrMalformedRequest, "pair"},
		{"warning for someone else", "alice", EventExposureWarning, `{"visitor":"bob","warningsMap":[["Cafe",[]]]}`, ErrMalformedRequest, "does not match"},
		{"alert without visitor", "cafe", EventAlertVisitor, `{"message":"hi"}`, ErrMalformedRequest, "Missing visitor identity"},
		{"alert without message", "cafe", EventAlertVisitor, `{"visitor":"alice"}`, ErrMalformedRequest, "No message to process"},
		{"not json", "alice", EventEnterRoom, `{room`, ErrMalformedRequest, "invalid payload"},
		{"enter without room", "alice", EventEnterRoom, `{}`, ErrMalformedRequest, "room"},
		{"person opens room", "alice", EventOpenRoom, `{}`, ErrWrongRole, "cannot send"},
		{"location enters room", "cafe", EventEnterRoom, `{"room":"Cafe"}`, ErrWrongRole, "cannot send"},
		{"other room", "cafe", EventCloseRoom, `{"room":"Library"}`, ErrRoomMismatch, "Library"},
		{"unknown event", "alice", "dance", `{}`, ErrUnknownEvent, "dance"},
		{"unknown sender", "ghost", EventPingServer, `"x"`, ErrUnknownActor, "ghost"},
		{"ack for someone else", "alice", EventStepFive, `"bob"`, ErrMalformedRequest, "does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := r.Snapshot()

			o := r.Handle(tt.sender, tt.event, json.RawMessage(tt.data))

			require.ErrorIs(t, o.Err, tt.wantErr)
			assert.Contains(t, o.Err.Error(), tt.wantMsg)
			assert.Empty(t, o.Out)
			assert.IsType(t, ErrorAck{}, o.Ack)
			assert.Equal(t, before, r.Snapshot())
		})
	}
}

func TestSupersededDisconnectIsIgnored(t *testing.T) {
	r := newTestRelay()
	require.NoError(t, r.Connect(Identity{ID: "alice", Role: RolePerson, Name: "Alice"}, "first").Err)
	require.NoError(t, r.Connect(Identity{ID: "alice", Role: RolePerson, Name: "Alice"}, "second").Err)

	o := r.Disconnect("alice", "first")
	assert.Empty(t, o.Out)

	actor, _ := r.Registry().Lookup("alice")
	assert.True(t, actor.Connected)

	r.Disconnect("alice", "second")
	actor, _ = r.Registry().Lookup("alice")
	assert.False(t, actor.Connected)
}

func TestObserversReceiveStateChanges(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RoleObserver, "ops", "ops")

	o := connect(t, r, RoleLocation, "Cafe", "cafe")
	assert.Len(t, broadcasts(o, AudienceObservers, EventAvailableRoomsExposed), 1)
	assert.Len(t, broadcasts(o, AudienceObservers, EventVisitorsRoomsExposed), 1)
	assert.Len(t, broadcasts(o, AudienceEveryone, EventOpenRoomsExposed), 1)

	o = handle(t, r, "cafe", EventOpenRoom, OpenRoomRequest{})
	open := broadcasts(o, AudienceEveryone, EventOpenRoomsExposed)
	require.Len(t, open, 1)
	assert.Equal(t, []OpenRoomView{{Room: "Cafe", ID: "cafe", Occupancy: 0, Occupants: []string{}}}, open[0].Data)

	assert.ElementsMatch(t, []string{"ops"}, r.Recipients(Outbound{Audience: AudienceObservers}))
	assert.ElementsMatch(t, []string{"cafe", "ops"}, r.Recipients(Outbound{Audience: AudienceEveryone}))
}

func TestObserverQueries(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")
	connect(t, r, RolePerson, "Alice", "alice")
	connect(t, r, RoleObserver, "ops", "ops")
	require.NoError(t, handle(t, r, "alice", EventEnterRoom, PresenceRequest{Room: "Cafe"}).Err)

	o := r.Handle("ops", EventPingServer, json.RawMessage(`"Ops"`))
	assert.Equal(t, "Server is at your disposal, Ops", o.Ack)

	o = r.Handle("ops", EventExposeVisitorsRooms, nil)
	assert.Equal(t, []VisitorView{{ID: "alice", Name: "Alice", Connected: true, Rooms: []string{"Cafe"}}}, o.Ack)

	o = r.Handle("ops", EventExposeAvailableRooms, nil)
	assert.Equal(t, []AvailableRoomView{{Room: "Cafe", ID: "cafe", Connected: true, Open: true}}, o.Ack)

	o = r.Handle("ops", EventExposeAllSockets, nil)
	assert.Len(t, o.Ack.([]ActorView), 3)

	o = r.Handle("alice", EventExposePendingWarnings, nil)
	assert.Empty(t, o.Ack)
}

func TestRoomClaimedByConnectedLocation(t *testing.T) {
	r := newTestRelay()
	openedRoom(t, r, "Cafe", "cafe")

	o := r.Connect(Identity{ID: "impostor", Role: RoleLocation, Name: "Cafe"}, "x")
	require.ErrorIs(t, o.Err, ErrRoomClaimed)

	// once the owner is gone the room may move, keeping its open state
	r.Disconnect("cafe", "cafe-conn")
	o = r.Connect(Identity{ID: "tablet", Role: RoleLocation, Name: "Cafe"}, "y")
	require.NoError(t, o.Err)
	assert.True(t, r.Registry().IsOpen("Cafe"))

	location, ok := r.Registry().LocationByName("Cafe")
	require.True(t, ok)
	assert.Equal(t, "tablet", location.ID)
}

func TestRoleCannotChange(t *testing.T) {
	r := newTestRelay()
	connect(t, r, RolePerson, "Alice", "alice")

	o := r.Connect(Identity{ID: "alice", Role: RoleLocation, Name: "Cafe"}, "x")
	require.ErrorIs(t, o.Err, ErrInvalidActor)
}
