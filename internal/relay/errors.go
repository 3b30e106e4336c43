package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidActor means the handshake did not identify exactly one role.
	ErrInvalidActor = errors.New("invalid actor")

	// ErrRoomClaimed means another connected Location already serves the room name.
	ErrRoomClaimed = errors.New("room already claimed by another location")

	// ErrLocationNotOpen rejects entering a room that is closed or offline.
	ErrLocationNotOpen = errors.New("room must be open before you can enter")

	ErrMalformedRequest = errors.New("malformed request")
	ErrWrongRole        = errors.New("event not allowed for role")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrUnknownActor     = errors.New("unknown actor")
	ErrRoomMismatch     = errors.New("room does not belong to sender")

	// ErrHandlerPanic is returned to the client when a handler panicked.
	ErrHandlerPanic = errors.New("internal error")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// ErrorAck is the acknowledgement payload of a rejected request.
type ErrorAck struct {
	Error string `json:"error"`
	On    string `json:"on,omitempty"`
}

func newErrorAck(event string, err error) ErrorAck {
	return ErrorAck{Error: err.Error(), On: event}
}
