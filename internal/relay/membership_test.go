package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openRooms map[string]bool

func (o openRooms) IsOpen(room string) bool { return o[room] }

func TestTrackerEnter(t *testing.T) {
	tracker := NewTracker(openRooms{"Cafe": true})

	occupancy, inserted, err := tracker.Enter("alice", "Cafe", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, occupancy)
	assert.True(t, inserted)

	occupancy, inserted, err = tracker.Enter("alice", "Cafe", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, occupancy)
	assert.False(t, inserted)

	_, _, err = tracker.Enter("alice", "Hall", testNow)
	assert.ErrorIs(t, err, ErrLocationNotOpen)
	assert.False(t, tracker.Contains("alice", "Hall"))
}

func TestTrackerLeave(t *testing.T) {
	tracker := NewTracker(openRooms{"Cafe": true, "Library": true})
	_, _, err := tracker.Enter("alice", "Cafe", testNow)
	require.NoError(t, err)
	_, _, err = tracker.Enter("alice", "Library", testNow)
	require.NoError(t, err)
	_, _, err = tracker.Enter("bob", "Cafe", testNow)
	require.NoError(t, err)

	assert.True(t, tracker.Leave("alice", "Cafe"))
	assert.False(t, tracker.Leave("alice", "Cafe"))
	assert.Equal(t, []string{"bob"}, tracker.Occupants("Cafe"))
	assert.Equal(t, []string{"Library"}, tracker.LocationsOf("alice"))

	assert.Equal(t, []string{"Library"}, tracker.LeaveAll("alice"))
	assert.Empty(t, tracker.LocationsOf("alice"))
	assert.Equal(t, 0, tracker.Occupancy("Library"))
}

func TestTrackerEvict(t *testing.T) {
	tracker := NewTracker(openRooms{"Cafe": true, "Library": true})
	for _, person := range []string{"carol", "alice", "bob"} {
		_, _, err := tracker.Enter(person, "Cafe", testNow)
		require.NoError(t, err)
	}
	_, _, err := tracker.Enter("alice", "Library", testNow)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob", "carol"}, tracker.Evict("Cafe"))
	assert.Equal(t, 0, tracker.Occupancy("Cafe"))
	assert.Equal(t, []string{"Library"}, tracker.LocationsOf("alice"))
	assert.Empty(t, tracker.Evict("Cafe"))
}

func TestTrackerMemberships(t *testing.T) {
	tracker := NewTracker(openRooms{"Cafe": true, "Library": true})
	_, _, err := tracker.Enter("bob", "Library", testNow)
	require.NoError(t, err)
	_, _, err = tracker.Enter("alice", "Cafe", testNow)
	require.NoError(t, err)

	assert.Equal(t, []Membership{
		{PersonID: "alice", Room: "Cafe", EnteredAt: testNow},
		{PersonID: "bob", Room: "Library", EnteredAt: testNow},
	}, tracker.Memberships())
	assert.NotNil(t, tracker.Occupants("Nowhere"))
}
