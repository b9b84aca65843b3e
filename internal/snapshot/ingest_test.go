package snapshot

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rendermesh/internal/cluster"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

// TestParseLastSeen covers every timestamp shape the backend has produced.
func TestParseLastSeen(t *testing.T) {
	nowMs := testNow.UnixMilli()
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr error
	}{
		{name: "epoch seconds", raw: `1700000000`, want: 1700000000000},
		{name: "fractional epoch", raw: `1700000000.25`, want: 1700000000250},
		{name: "clock earlier today", raw: `"10:29:55"`, want: nowMs - 5000},
		{name: "clock exactly now", raw: `"10:30:00"`, want: nowMs},
		{name: "clock in future wraps to yesterday", raw: `"23:59:59"`, want: time.Date(2026, 3, 13, 23, 59, 59, 0, time.UTC).UnixMilli()},
		{name: "missing", raw: ``, want: nowMs, wantErr: ErrMissingTimestamp},
		{name: "null", raw: `null`, want: nowMs, wantErr: ErrMissingTimestamp},
		{name: "zero is missing", raw: `0`, want: nowMs, wantErr: ErrMissingTimestamp},
		{name: "empty string", raw: `""`, want: nowMs, wantErr: ErrMissingTimestamp},
		{name: "garbage string", raw: `"yesterday"`, want: nowMs, wantErr: ErrMalformedTimestamp},
		{name: "hour out of range", raw: `"25:00:00"`, want: nowMs, wantErr: ErrMalformedTimestamp},
		{name: "two fields", raw: `"10:00"`, want: nowMs, wantErr: ErrMalformedTimestamp},
		{name: "negative epoch", raw: `-5`, want: nowMs, wantErr: ErrMalformedTimestamp},
		{name: "object", raw: `{"t":1}`, want: nowMs, wantErr: ErrMalformedTimestamp},
		{name: "bool", raw: `true`, want: nowMs, wantErr: ErrMalformedTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLastSeen(json.RawMessage(tt.raw), testNow)
			assert.Equal(t, tt.want, got)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
}

// TestParseLastSeenLocalZone checks that "today" is the caller's calendar day.
func TestParseLastSeenLocalZone(t *testing.T) {
	zone := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2026, 3, 14, 0, 0, 30, 0, zone)

	got, err := ParseLastSeen(json.RawMessage(`"23:59:50"`), now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-40*time.Second).UnixMilli(), got)
}

// TestNormalizeDevices verifies partial payloads degrade field by field.
func TestNormalizeDevices(t *testing.T) {
	var list cluster.DeviceList
	body := `[
		{"name":"A","ip":"10.0.0.1","resource_score":42.5,"last_seen":1773484195},
		{"name":"B","ip":"10.0.0.2","resource_score":"17","last_seen":"not a time"},
		{"name":"","ip":""},
		{"name":"C","ip":"10.0.0.3","resource_score":{"x":1}},
		{"name":"A","ip":"10.0.0.1","last_seen":1773484199}
	]`
	require.NoError(t, json.Unmarshal([]byte(body), &list))

	devices, warnings := NormalizeDevices(list, testNow)
	require.Len(t, devices, 3)

	assert.Equal(t, Device{Name: "A", IP: "10.0.0.1", ResourceScore: 0, LastSeenMs: 1773484199000}, devices[0])
	assert.Equal(t, 17.0, devices[1].ResourceScore)
	assert.Equal(t, testNow.UnixMilli(), devices[1].LastSeenMs)
	assert.Equal(t, testNow.UnixMilli(), devices[2].LastSeenMs)

	assertHasWarning(t, warnings, ErrMalformedTimestamp)
	assertHasWarning(t, warnings, ErrMissingIdentity)
	assertHasWarning(t, warnings, ErrMalformedScore)
	assertHasWarning(t, warnings, ErrMissingTimestamp)
	assertHasWarning(t, warnings, ErrDuplicateDevice)
}

// TestNormalizeDevicesEmpty returns an empty, non-nil list.
func TestNormalizeDevicesEmpty(t *testing.T) {
	devices, warnings := NormalizeDevices(cluster.DeviceList{}, testNow)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.Empty(t, warnings)
}

func assertHasWarning(t *testing.T, warnings []Warning, target error) {
	t.Helper()
	for _, w := range warnings {
		if errors.Is(w, target) {
			return
		}
	}
	t.Errorf("expected a warning wrapping %v, got %v", target, warnings)
}

// TestNormalizeElection maps the status payload field by field.
func TestNormalizeElection(t *testing.T) {
	var raw cluster.ElectionStatus
	body := `{"election_active":true,"current_leader":" 10.0.0.2 ","my_role":"worker",
		"election_results":{"ring_topology":[
			{"ip":"10.0.0.1","name":"A","role":"Worker","successor":"10.0.0.2","resource_score":10,"is_me":true},
			{"ip":"10.0.0.2","name":"","role":"LEADER","successor":"10.0.0.1","resource_score":"20"},
			{"ip":"","name":"ghost","role":"Worker"},
			{"ip":"10.0.0.3","name":"C","role":"Candidate","successor":"10.0.0.1"}
		]},
		"leader_consensus":{"consensus_reached":false,"total_nodes":3}}`
	require.NoError(t, json.Unmarshal([]byte(body), &raw))

	e, warnings := NormalizeElection(raw)
	require.NotNil(t, e)
	assert.True(t, e.Active)
	assert.Equal(t, "10.0.0.2", e.LeaderIP)
	assert.Equal(t, RoleWorker, e.MyRole)
	assert.Equal(t, DefaultElectionMethod, e.Method)
	require.NotNil(t, e.Consensus)
	assert.Equal(t, 3, e.Consensus.TotalNodes)
	assert.False(t, e.Consensus.Reached)

	require.Len(t, e.Ring, 3)
	assert.True(t, e.Ring[0].IsSelf)
	assert.Equal(t, RoleLeader, e.Ring[1].Role)
	assert.Equal(t, "10.0.0.2", e.Ring[1].Name)
	assert.Equal(t, 20.0, e.Ring[1].ResourceScore)
	assert.Equal(t, RoleUnknown, e.Ring[2].Role)

	assertHasWarning(t, warnings, ErrMissingIP)
	assertHasWarning(t, warnings, ErrUnknownRole)

	n, ok := e.RingNodeByIP("10.0.0.2")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", n.SuccessorIP)
	_, ok = e.RingNodeByIP("")
	assert.False(t, ok)
}

// TestNormalizeElectionNulls keeps absent fields absent.
func TestNormalizeElectionNulls(t *testing.T) {
	var raw cluster.ElectionStatus
	require.NoError(t, json.Unmarshal([]byte(`{"election_active":false,"current_leader":null,"my_role":null}`), &raw))

	e, warnings := NormalizeElection(raw)
	assert.Empty(t, warnings)
	assert.Equal(t, "", e.LeaderIP)
	assert.Equal(t, RoleUnknown, e.MyRole)
	assert.Nil(t, e.Consensus)
	assert.Empty(t, e.Ring)
}

// TestNormalizeRound converts a synchronous election result.
func TestNormalizeRound(t *testing.T) {
	e, warnings := NormalizeRound(cluster.ElectionRound{
		LeaderIP:       "10.0.0.2",
		ElectionMethod: "LCR-score",
		RingTopology: []cluster.RingNodeWire{
			{IP: "10.0.0.1", Role: "Worker", Successor: "10.0.0.2"},
			{IP: "10.0.0.2", Role: "Leader", Successor: "10.0.0.1"},
		},
	})
	assert.Empty(t, warnings)
	assert.True(t, e.Active)
	assert.Equal(t, "10.0.0.2", e.LeaderIP)
	assert.Equal(t, "LCR-score", e.Method)
	assert.Len(t, e.Ring, 2)
}

// TestParseRole is case-insensitive and total.
func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleLeader, ParseRole("Leader"))
	assert.Equal(t, RoleLeader, ParseRole(" leader "))
	assert.Equal(t, RoleWorker, ParseRole("WORKER"))
	assert.Equal(t, RoleUnknown, ParseRole("client"))
	assert.Equal(t, "Unknown", RoleUnknown.String())
	assert.Equal(t, "Leader", RoleLeader.String())
}
