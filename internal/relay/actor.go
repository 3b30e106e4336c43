package relay

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/freekieb7/lctrelay/internal/validator"

	"github.com/google/uuid"
)

// Role is the kind of actor behind a connection.
type Role string

const (
	RoleLocation Role = "location"
	RolePerson   Role = "person"
	RoleObserver Role = "observer"
)

// handshake query keys, one per role
const (
	queryID       = "id"
	queryRoom     = "room"
	queryVisitor  = "visitor"
	queryObserver = "admin"
)

// Identity is the parsed, validated handshake of a connection.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name"`
	// Assigned is true when the relay generated ID; the client should reuse it.
	Assigned bool `json:"assigned"`
}

// ParseIdentity turns handshake query parameters into an Identity. Exactly one of
// room, visitor or admin must be set. Anything else fails with ErrInvalidActor.
func ParseIdentity(query url.Values, v *validator.Validator) (Identity, error) {
	var (
		role  Role
		name  string
		found int
	)
	for key, r := range map[string]Role{
		queryRoom:     RoleLocation,
		queryVisitor:  RolePerson,
		queryObserver: RoleObserver,
	} {
		if value := strings.TrimSpace(query.Get(key)); value != "" {
			role, name = r, value
			found++
		}
	}

	switch found {
	case 0:
		return Identity{}, fmt.Errorf("%w: one of room, visitor or admin is required", ErrInvalidActor)
	case 1:
	default:
		return Identity{}, fmt.Errorf("%w: room, visitor and admin are mutually exclusive", ErrInvalidActor)
	}

	if err := v.Var(name, "room_name"); err != nil {
		return Identity{}, fmt.Errorf("%w: invalid %s name", ErrInvalidActor, role)
	}

	identity := Identity{Role: role, Name: name, ID: strings.TrimSpace(query.Get(queryID))}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
		identity.Assigned = true
	} else if err := v.Var(identity.ID, "actor_id"); err != nil {
		return Identity{}, fmt.Errorf("%w: invalid id", ErrInvalidActor)
	}

	return identity, nil
}

// Actor is the registry record of a Location, Person or Observer.
type Actor struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Name        string    `json:"name"`
	Connected   bool      `json:"connected"`
	Open        bool      `json:"open,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`

	connID string
}

// Room returns the room name served by a Location actor.
func (a Actor) Room() string {
	if a.Role != RoleLocation {
		return ""
	}
	return a.Name
}
