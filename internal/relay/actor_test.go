package relay

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/freekieb7/lctrelay/internal/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name    string
		query   string
		want    Identity
		wantErr bool
	}{
		{name: "location", query: "room=Cafe&id=cafe-1", want: Identity{ID: "cafe-1", Role: RoleLocation, Name: "Cafe"}},
		{name: "person", query: "visitor=Alice&id=alice", want: Identity{ID: "alice", Role: RolePerson, Name: "Alice"}},
		{name: "observer", query: "admin=ops&id=ops", want: Identity{ID: "ops", Role: RoleObserver, Name: "ops"}},
		{name: "room with spaces", query: "room=Main+Hall&id=hall", want: Identity{ID: "hall", Role: RoleLocation, Name: "Main Hall"}},
		{name: "no role", query: "id=x", wantErr: true},
		{name: "two roles", query: "room=Cafe&visitor=Alice", wantErr: true},
		{name: "blank role", query: "visitor=%20%20", wantErr: true},
		{name: "bad id", query: "visitor=Alice&id=a%2Fb", wantErr: true},
		{name: "control characters", query: "room=Caf%07", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParseIdentity(query, v)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidActor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIdentityAssignsID(t *testing.T) {
	got, err := ParseIdentity(url.Values{"visitor": {"Alice"}}, validator.New())
	require.NoError(t, err)

	assert.True(t, got.Assigned)
	_, err = uuid.Parse(got.ID)
	assert.NoError(t, err)
}

func TestPayloadForms(t *testing.T) {
	var ref VisitorRef
	require.NoError(t, json.Unmarshal([]byte(`"alice"`), &ref))
	assert.Equal(t, VisitorRef{ID: "alice"}, ref)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"bob","visitor":"Bob"}`), &ref))
	assert.Equal(t, VisitorRef{ID: "bob", Name: "Bob"}, ref)

	var entries []RoomDates
	require.NoError(t, json.Unmarshal([]byte(`[["Cafe",["2024-01-01"]],{"room":"Hall","dates":["2024-01-02"]}]`), &entries))
	assert.Equal(t, []RoomDates{
		{Room: "Cafe", Dates: []string{"2024-01-01"}},
		{Room: "Hall", Dates: []string{"2024-01-02"}},
	}, entries)

	assert.Error(t, json.Unmarshal([]byte(`[["Cafe", "2024-01-01", "x"]]`), &entries))
	assert.Error(t, json.Unmarshal([]byte(`[[1, []]]`), &entries))

	tests := []struct {
		name string
		body string
		want WarningsMap
	}{
		{
			name: "object keyed by room",
			body: `{"Hall":["2024-01-02"],"Cafe":["2024-01-01","2024-01-03"]}`,
			want: WarningsMap{
				{Room: "Cafe", Dates: []string{"2024-01-01", "2024-01-03"}},
				{Room: "Hall", Dates: []string{"2024-01-02"}},
			},
		},
		{
			name: "list of pairs",
			body: `[["Cafe",["2024-01-01"]]]`,
			want: WarningsMap{{Room: "Cafe", Dates: []string{"2024-01-01"}}},
		},
		{
			name: "list of objects",
			body: `[{"room":"Hall","dates":["2024-01-02"]}]`,
			want: WarningsMap{{Room: "Hall", Dates: []string{"2024-01-02"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ExposureWarningRequest
			require.NoError(t, json.Unmarshal([]byte(`{"visitor":"alice","warningsMap":`+tt.body+`}`), &req))
			assert.Equal(t, tt.want, req.WarningsMap)
		})
	}

	var warnings WarningsMap
	assert.Error(t, json.Unmarshal([]byte(`{"Cafe":"2024-01-01"}`), &warnings))

	var ack AckRequest
	require.NoError(t, json.Unmarshal([]byte(`"alice"`), &ack))
	assert.Equal(t, AckRequest{VisitorID: "alice"}, ack)

	ack = AckRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"visitorId":"alice","room":"Cafe"}`), &ack))
	assert.Equal(t, AckRequest{VisitorID: "alice", Room: "Cafe"}, ack)
}
