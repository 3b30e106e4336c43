package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingWarnings(t *testing.T) {
	store := NewPendingStore()

	dates := []string{"2024-02-01"}
	store.StashWarning(PendingWarning{Room: "Cafe", Visitor: VisitorRef{ID: "alice"}, Reason: "first", ExposureDates: dates, QueuedAt: testNow})
	dates[0] = "mutated"

	merged := store.StashWarning(PendingWarning{
		Room:          "Cafe",
		Visitor:       VisitorRef{ID: "bob"},
		Reason:        "second",
		ExposureDates: []string{"2024-02-02"},
		QueuedAt:      testNow.Add(time.Hour),
	})
	assert.Equal(t, "bob", merged.Visitor.ID)
	assert.Equal(t, "second", merged.Reason)
	assert.Equal(t, []string{"2024-02-01", "2024-02-02"}, merged.ExposureDates)
	assert.Equal(t, 1, store.WarningCount())

	store.StashWarning(PendingWarning{Room: "Annex", QueuedAt: testNow.Add(-time.Hour)})
	oldest, ok := store.Oldest()
	require.True(t, ok)
	assert.Equal(t, testNow.Add(-time.Hour), oldest)

	rooms := []string{}
	for _, w := range store.PendingWarnings() {
		rooms = append(rooms, w.Room)
	}
	assert.Equal(t, []string{"Annex", "Cafe"}, rooms)

	drained := store.DrainWarnings("Cafe")
	require.Len(t, drained, 1)
	assert.False(t, store.HasWarning("Cafe"))
	assert.Nil(t, store.DrainWarnings("Cafe"))

	assert.True(t, store.DeleteWarning("Annex"))
	assert.False(t, store.DeleteWarning("Annex"))
	_, ok = store.Oldest()
	assert.False(t, ok)
}

func TestPendingAlerts(t *testing.T) {
	store := NewPendingStore()

	store.StashAlert(PendingAlert{PersonID: "bob", Room: "Library", ExposureInfo: ExposureInfo{Message: "one"}})
	store.StashAlert(PendingAlert{PersonID: "bob", Room: "Cafe", ExposureInfo: ExposureInfo{Message: "two"}})
	store.StashAlert(PendingAlert{PersonID: "bob", Room: "Cafe", ExposureInfo: ExposureInfo{Message: "three"}})
	store.StashAlert(PendingAlert{PersonID: "alice", Room: "Cafe"})

	assert.Equal(t, 3, store.AlertCount())

	alerts := store.Alerts("bob")
	require.Len(t, alerts, 2)
	assert.Equal(t, "Cafe", alerts[0].Room)
	assert.Equal(t, "three", alerts[0].ExposureInfo.Message, "a re-stash replaces the alert")
	assert.Len(t, store.Alerts("bob"), 2, "peeking does not remove")

	all := store.PendingAlerts()
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].PersonID)

	assert.True(t, store.AckAlert("bob", "Cafe"))
	assert.False(t, store.AckAlert("bob", "Cafe"))
	assert.False(t, store.AckAlert("nobody", "Cafe"))

	assert.Len(t, store.DrainAlerts("bob"), 1)
	assert.False(t, store.HasAlerts("bob"))
	assert.Empty(t, store.Alerts("bob"))
	assert.True(t, store.HasAlerts("alice"))
}
