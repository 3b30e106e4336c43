package graph

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/freekieb7/lctrelay/internal/validator"
)

// Room is a :room node. The business license listing names rooms by its ID
// column and numbers them by CODE.
type Room struct {
	Name string `json:"name" validate:"required"`
	ID   int64  `json:"id"`
}

// Visitor is a :visitor node.
type Visitor struct {
	Name string `json:"name" validate:"required"`
	ID   int64  `json:"id"`
}

// Contact is a visitor who was at the same room as the queried visitor.
type Contact struct {
	Visitor string `json:"visitor"`
	Room    string `json:"room"`
	Date    string `json:"date"`
}

// ReadRooms parses the rooms CSV and keeps rows whose NAME equals filter.
// An empty filter keeps every row. It also returns the number of data rows read.
func ReadRooms(r io.Reader, filter string) ([]Room, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, errors.New("rooms csv is empty")
		}
		return nil, 0, fmt.Errorf("read rooms header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"NAME", "ID", "CODE"} {
		if _, ok := index[required]; !ok {
			return nil, 0, fmt.Errorf("rooms csv is missing the %s column", required)
		}
	}

	var (
		rooms []Room
		read  int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, read, fmt.Errorf("read rooms row %d: %w", read+1, err)
		}
		read++

		if filter != "" && record[index["NAME"]] != filter {
			continue
		}
		code, err := strconv.ParseInt(strings.TrimSpace(record[index["CODE"]]), 10, 64)
		if err != nil {
			return nil, read, fmt.Errorf("rooms row %d: CODE %q is not a number", read, record[index["CODE"]])
		}
		rooms = append(rooms, Room{Name: strings.TrimSpace(record[index["ID"]]), ID: code})
	}
	return rooms, read, nil
}

// ReadVisitors parses a JSON array of {"name", "id"} objects.
func ReadVisitors(r io.Reader, v *validator.Validator) ([]Visitor, error) {
	var visitors []Visitor
	if err := json.NewDecoder(r).Decode(&visitors); err != nil {
		return nil, fmt.Errorf("decode visitors: %w", err)
	}
	for i := range visitors {
		if err := v.Validate(&visitors[i]); err != nil {
			return nil, fmt.Errorf("visitor %d: %s", i, validator.Describe(err))
		}
	}
	return visitors, nil
}

func (g *Graph) CreateRoom(ctx context.Context, room Room) error {
	_, err := g.Query(ctx, "CREATE (:room{name:$name,id:$id})", map[string]any{
		"name": room.Name,
		"id":   room.ID,
	})
	return err
}

func (g *Graph) CreateVisitor(ctx context.Context, visitor Visitor) error {
	_, err := g.Query(ctx, "CREATE (:visitor{name:$name,id:$id})", map[string]any{
		"name": visitor.Name,
		"id":   visitor.ID,
	})
	return err
}

// LoadStats summarizes a Load run.
type LoadStats struct {
	Rooms    int
	Visitors int
}

// Load creates a node for every room and visitor.
func (g *Graph) Load(ctx context.Context, rooms []Room, visitors []Visitor) (LoadStats, error) {
	var stats LoadStats
	for _, room := range rooms {
		if err := g.CreateRoom(ctx, room); err != nil {
			return stats, fmt.Errorf("create room %s: %w", room.Name, err)
		}
		stats.Rooms++
	}
	for _, visitor := range visitors {
		if err := g.CreateVisitor(ctx, visitor); err != nil {
			return stats, fmt.Errorf("create visitor %s: %w", visitor.Name, err)
		}
		stats.Visitors++
	}
	return stats, nil
}

// CreateVisit records that the visitor was at the room on date.
func (g *Graph) CreateVisit(ctx context.Context, visitor, room, date string) error {
	res, err := g.Query(ctx,
		"MATCH (a:visitor), (b:room) WHERE a.name = $visitor AND b.name = $room CREATE (a)-[:visits{date:$date}]->(b)",
		map[string]any{"visitor": visitor, "room": room, "date": date},
	)
	if err != nil {
		return err
	}
	if created, _ := res.Stat("Relationships created"); created == 0 {
		return fmt.Errorf("%w: visitor %s or room %s", ErrNoMatch, visitor, room)
	}
	return nil
}

// ContactsOf lists visitors who visited a room the visitor visited. With a
// date only visits on that date count for both.
func (g *Graph) ContactsOf(ctx context.Context, visitor, date string) ([]Contact, error) {
	params := map[string]any{"visitor": visitor}
	where := "b.name <> a.name"
	if date != "" {
		params["date"] = date
		where += " AND va.date = $date AND vb.date = $date"
	}

	res, err := g.Query(ctx,
		"MATCH (a:visitor {name:$visitor})-[va:visits]->(r:room)<-[vb:visits]-(b:visitor) WHERE "+where+
			" RETURN DISTINCT b.name, r.name, vb.date ORDER BY b.name, r.name, vb.date",
		params,
	)
	if err != nil {
		return nil, err
	}

	contacts := make([]Contact, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("graph query: contact row has %d columns", len(row))
		}
		contacts = append(contacts, Contact{
			Visitor: asString(row[0]),
			Room:    asString(row[1]),
			Date:    asString(row[2]),
		})
	}
	return contacts, nil
}

// Names returns the name of every node with the label, sorted.
func (g *Graph) Names(ctx context.Context, label string) ([]string, error) {
	switch label {
	case "room", "visitor":
	default:
		return nil, fmt.Errorf("unknown label %q", label)
	}

	res, err := g.Query(ctx, "MATCH (n:"+label+") RETURN n.name ORDER BY n.name", nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			names = append(names, asString(row[0]))
		}
	}
	return names, nil
}
