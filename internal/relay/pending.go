package relay

import (
	"maps"
	"slices"
	"time"
)

// PendingWarning is the step 1 warning waiting for its Location to open, or
// for the Location to answer with the exposed visitor list.
type PendingWarning struct {
	Room          string     `json:"room"`
	Visitor       VisitorRef `json:"visitor"`
	Reason        string     `json:"reason"`
	ExposureDates []string   `json:"exposureDates"`
	QueuedAt      time.Time  `json:"queuedAt"`
}

// ExposureInfo is what a Person learns about a possible exposure.
type ExposureInfo struct {
	Reason        string   `json:"reason,omitempty"`
	ExposureDates []string `json:"exposureDates,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// PendingAlert is a step 4 alert kept until the Person acknowledges it.
type PendingAlert struct {
	PersonID     string       `json:"visitor"`
	Room         string       `json:"room"`
	ExposureInfo ExposureInfo `json:"exposureInfo"`
	QueuedAt     time.Time    `json:"queuedAt"`
}

// PendingStore caches messages for actors that are offline or closed. Nothing
// expires: entries leave only through drain, delete or acknowledgement.
type PendingStore struct {
	warnings map[string]PendingWarning
	alerts   map[string]map[string]PendingAlert // person -> room -> alert
}

func NewPendingStore() *PendingStore {
	return &PendingStore{
		warnings: make(map[string]PendingWarning),
		alerts:   make(map[string]map[string]PendingAlert),
	}
}

// StashWarning stores the warning for its room. A later warning for the same
// room takes over visitor, reason and queuedAt and appends its exposure dates.
func (s *PendingStore) StashWarning(w PendingWarning) PendingWarning {
	w.ExposureDates = slices.Clone(w.ExposureDates)
	if existing, ok := s.warnings[w.Room]; ok {
		w.ExposureDates = append(slices.Clone(existing.ExposureDates), w.ExposureDates...)
	}
	s.warnings[w.Room] = w
	return w
}

func (s *PendingStore) Warning(room string) (PendingWarning, bool) {
	w, ok := s.warnings[room]
	return w, ok
}

func (s *PendingStore) HasWarning(room string) bool {
	_, ok := s.warnings[room]
	return ok
}

// DrainWarnings removes and returns the warnings cached for the room.
func (s *PendingStore) DrainWarnings(room string) []PendingWarning {
	w, ok := s.warnings[room]
	if !ok {
		return nil
	}
	delete(s.warnings, room)
	return []PendingWarning{w}
}

func (s *PendingStore) DeleteWarning(room string) bool {
	if _, ok := s.warnings[room]; !ok {
		return false
	}
	delete(s.warnings, room)
	return true
}

// StashAlert stores the alert, replacing an earlier one for the same person and room.
func (s *PendingStore) StashAlert(a PendingAlert) {
	byRoom, ok := s.alerts[a.PersonID]
	if !ok {
		byRoom = make(map[string]PendingAlert)
		s.alerts[a.PersonID] = byRoom
	}
	byRoom[a.Room] = a
}

// Alerts returns the person's alerts without removing them, ordered by room.
func (s *PendingStore) Alerts(personID string) []PendingAlert {
	byRoom := s.alerts[personID]
	out := make([]PendingAlert, 0, len(byRoom))
	for _, room := range slices.Sorted(maps.Keys(byRoom)) {
		out = append(out, byRoom[room])
	}
	return out
}

func (s *PendingStore) HasAlerts(personID string) bool {
	return len(s.alerts[personID]) > 0
}

// DrainAlerts removes and returns every alert of the person.
func (s *PendingStore) DrainAlerts(personID string) []PendingAlert {
	out := s.Alerts(personID)
	delete(s.alerts, personID)
	return out
}

// AckAlert removes the alert of the person for one room.
func (s *PendingStore) AckAlert(personID, room string) bool {
	byRoom, ok := s.alerts[personID]
	if !ok {
		return false
	}
	if _, ok := byRoom[room]; !ok {
		return false
	}
	delete(byRoom, room)
	if len(byRoom) == 0 {
		delete(s.alerts, personID)
	}
	return true
}

// PendingWarnings returns all cached warnings ordered by room.
func (s *PendingStore) PendingWarnings() []PendingWarning {
	out := make([]PendingWarning, 0, len(s.warnings))
	for _, room := range slices.Sorted(maps.Keys(s.warnings)) {
		out = append(out, s.warnings[room])
	}
	return out
}

// PendingAlerts returns all cached alerts ordered by person then room.
func (s *PendingStore) PendingAlerts() []PendingAlert {
	out := make([]PendingAlert, 0)
	for _, personID := range slices.Sorted(maps.Keys(s.alerts)) {
		out = append(out, s.Alerts(personID)...)
	}
	return out
}

func (s *PendingStore) WarningCount() int {
	return len(s.warnings)
}

func (s *PendingStore) AlertCount() int {
	n := 0
	for _, byRoom := range s.alerts {
		n += len(byRoom)
	}
	return n
}

// Oldest returns the earliest queuedAt over both caches.
func (s *PendingStore) Oldest() (time.Time, bool) {
	var oldest time.Time
	found := false
	consider := func(t time.Time) {
		if !found || t.Before(oldest) {
			oldest, found = t, true
		}
	}
	for _, w := range s.warnings {
		consider(w.QueuedAt)
	}
	for _, byRoom := range s.alerts {
		for _, a := range byRoom {
			consider(a.QueuedAt)
		}
	}
	return oldest, found
}
