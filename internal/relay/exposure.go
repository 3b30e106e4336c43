package relay

import (
	"encoding/json"
	"strings"

	"github.com/freekieb7/lctrelay/internal/audit"
)

func notifyRoom(w PendingWarning) NotifyRoom {
	return NotifyRoom{
		Room:          w.Room,
		Reason:        w.Reason,
		ExposureDates: w.ExposureDates,
		Visitor:       w.Visitor,
		QueuedAt:      w.QueuedAt,
	}
}

func alertNotice(a PendingAlert) AlertNotice {
	return AlertNotice{
		Visitor:      a.PersonID,
		Room:         a.Room,
		ExposureInfo: a.ExposureInfo,
		QueuedAt:     a.QueuedAt,
	}
}

// exposureWarning is step 1. Every warning is cached first and delivered
// right away to rooms that are open. It stays cached until step 3 answers it.
func (r *Relay) exposureWarning(o *Outcome, sender Actor, data json.RawMessage) error {
	var req ExposureWarningRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	visitor, err := senderVisitor(sender, req.Visitor)
	if err != nil {
		return err
	}

	now := r.now()
	results := make([]DeliveryResult, 0, len(req.WarningsMap))
	for _, entry := range req.WarningsMap {
		stored := r.pending.StashWarning(PendingWarning{
			Room:          entry.Room,
			Visitor:       visitor,
			Reason:        req.Reason,
			ExposureDates: entry.Dates,
			QueuedAt:      now,
		})
		o.journal(audit.EventTypeWarningPended, visitor.ID, map[string]any{
			"room":  entry.Room,
			"dates": len(stored.ExposureDates),
		})

		status := StatusPending
		if r.registry.IsOpen(entry.Room) {
			location, _ := r.registry.LocationByName(entry.Room)
			o.send(location.ID, EventNotifyRoom, notifyRoom(stored))
			o.journal(audit.EventTypeRoomNotified, visitor.ID, map[string]any{"room": entry.Room})
			status = StatusWarned
		}
		results = append(results, DeliveryResult{Room: entry.Room, Status: status})
	}

	o.Ack = ExposureWarningAck{Event: "onExposureWarning", Visitor: visitor.ID, Results: results}
	return nil
}

// stepThree is the Location answering a warning with the visitors it exposed.
// The warning is done and each listed visitor gets an alert.
func (r *Relay) stepThree(o *Outcome, sender Actor, data json.RawMessage) error {
	var req StepThreeRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	room, err := senderRoom(sender, req.Room)
	if err != nil {
		return err
	}

	info := ExposureInfo{Message: req.Message, ExposureDates: req.ExposureDates}
	if w, ok := r.pending.Warning(room); ok {
		info.Reason = w.Reason
		if len(info.ExposureDates) == 0 {
			info.ExposureDates = w.ExposureDates
		}
	}
	if r.pending.DeleteWarning(room) {
		o.journal(audit.EventTypeWarningCleared, sender.ID, map[string]any{"room": room})
	}

	now := r.now()
	seen := make(map[string]struct{}, len(req.ExposedVisitors))
	results := make([]DeliveryResult, 0, len(req.ExposedVisitors))
	for _, visitor := range req.ExposedVisitors {
		if _, dup := seen[visitor.ID]; dup {
			continue
		}
		seen[visitor.ID] = struct{}{}

		status := r.stashAndDeliverAlert(o, PendingAlert{
			PersonID:     visitor.ID,
			Room:         room,
			ExposureInfo: info,
			QueuedAt:     now,
		})
		results = append(results, DeliveryResult{Visitor: visitor.ID, Status: status})
	}

	o.Ack = StepThreeAck{Event: "onStepThree", Room: room, Results: results}
	return nil
}

// alertVisitor lets a Location alert one visitor directly, skipping steps 1 to 3.
func (r *Relay) alertVisitor(o *Outcome, sender Actor, data json.RawMessage) error {
	var req AlertVisitorRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	if req.Visitor == nil || req.Visitor.ID == "" {
		return malformed("Missing visitor identity")
	}
	if strings.TrimSpace(req.Message) == "" {
		return malformed("No message to process")
	}
	room, err := senderRoom(sender, req.Room)
	if err != nil {
		return err
	}

	status := r.stashAndDeliverAlert(o, PendingAlert{
		PersonID:     req.Visitor.ID,
		Room:         room,
		ExposureInfo: ExposureInfo{Message: req.Message},
		QueuedAt:     r.now(),
	})

	o.Ack = AlertVisitorAck{Event: "onAlertVisitor", Visitor: req.Visitor.ID, Room: room, Status: status}
	return nil
}

// stashAndDeliverAlert is step 4. The alert stays cached until step 5
// even when it was delivered.
func (r *Relay) stashAndDeliverAlert(o *Outcome, alert PendingAlert) string {
	r.pending.StashAlert(alert)
	o.journal(audit.EventTypeAlertPended, alert.PersonID, map[string]any{"room": alert.Room})

	person, ok := r.registry.Lookup(alert.PersonID)
	if !ok || !person.Connected || person.Role != RolePerson {
		return StatusPending
	}

	o.send(person.ID, EventStepFour, alertNotice(alert))
	o.journal(audit.EventTypeAlertDelivered, alert.PersonID, map[string]any{"room": alert.Room})
	return StatusAlerted
}

// stepFive is the Person confirming receipt. Only now do alerts leave the cache.
func (r *Relay) stepFive(o *Outcome, sender Actor, data json.RawMessage) error {
	var req AckRequest
	if err := r.decode(data, &req); err != nil {
		return err
	}
	if req.VisitorID != sender.ID {
		return malformed("visitor %s does not match connection %s", req.VisitorID, sender.ID)
	}

	var acknowledged int
	if req.Room != "" {
		if r.pending.AckAlert(req.VisitorID, req.Room) {
			acknowledged = 1
		}
	} else {
		acknowledged = len(r.pending.DrainAlerts(req.VisitorID))
	}

	if acknowledged > 0 {
		o.journal(audit.EventTypeAlertAcknowledged, req.VisitorID, map[string]any{
			"room":  req.Room,
			"count": acknowledged,
		})
	}

	o.Ack = StepFiveAck{Event: "onStepFive", Visitor: req.VisitorID, Acknowledged: acknowledged}
	return nil
}
