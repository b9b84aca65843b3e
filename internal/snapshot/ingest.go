// Package snapshot normalizes raw backend payloads into the strongly typed
// model every other package works on.
//
// Normalization never fails as a whole. A malformed field is replaced by a
// local default and reported as a Warning; the rest of the payload is kept.
// Timestamps always come out as epoch milliseconds. A missing or unreadable
// heartbeat counts as "seen now", so one bad field cannot make a live device
// look dead.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/rendermesh/internal/cluster"
)

// DefaultElectionMethod is reported when the backend omits election_method.
const DefaultElectionMethod = "LCR"

var (
	ErrMissingTimestamp   = errors.New("timestamp missing")
	ErrMalformedTimestamp = errors.New("timestamp malformed")
	ErrMalformedScore     = errors.New("resource score malformed")
	ErrMissingIdentity    = errors.New("device has neither name nor ip")
	ErrMissingIP          = errors.New("ring node has no ip")
	ErrDuplicateDevice    = errors.New("duplicate device identity")
	ErrUnknownRole        = errors.New("unknown role")
)

// Warning reports a field that was replaced by a default during ingestion.
type Warning struct {
	Err    error
	Field  string
	Device Identity
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s %s: %v", w.Device, w.Field, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// ParseLastSeen converts a raw last_seen value into epoch milliseconds.
//
// Numbers are epoch seconds. Strings of the form HH:MM:SS mean "today at that
// time" in now's location, moved back one day when that instant would lie in
// the future. Anything else, including a missing value, yields now together
// with a non-nil error describing why.
func ParseLastSeen(raw json.RawMessage, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nowMs, ErrMissingTimestamp
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nowMs, fmt.Errorf("%w: %v", ErrMalformedTimestamp, err)
		}
		return parseClock(strings.TrimSpace(s), now)
	case '{', '[', 't', 'f':
		return nowMs, fmt.Errorf("%w: unsupported JSON value %s", ErrMalformedTimestamp, trimmed)
	}

	secs, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return nowMs, fmt.Errorf("%w: %v", ErrMalformedTimestamp, err)
	}
	if secs == 0 {
		return nowMs, ErrMissingTimestamp
	}
	if secs < 0 {
		return nowMs, fmt.Errorf("%w: negative epoch %v", ErrMalformedTimestamp, secs)
	}
	return int64(secs * 1000), nil
}

func parseClock(s string, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	if s == "" {
		return nowMs, ErrMissingTimestamp
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nowMs, fmt.Errorf("%w: %q is not HH:MM:SS", ErrMalformedTimestamp, s)
	}
	limits := [3]int{23, 59, 59}
	var hms [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return nowMs, fmt.Errorf("%w: %q is not HH:MM:SS", ErrMalformedTimestamp, s)
		}
		hms[i] = v
	}

	seen := time.Date(now.Year(), now.Month(), now.Day(), hms[0], hms[1], hms[2], 0, now.Location())
	if seen.After(now) {
		// stamped just before midnight, read just after
		seen = seen.AddDate(0, 0, -1)
	}
	return seen.UnixMilli(), nil
}

// parseScore reads a resource score that may be a number, a numeric string
// or absent. Absent is zero without a warning.
func parseScore(raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedScore, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedScore, s)
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedScore, trimmed)
	}
	return v, nil
}

// NormalizeDevices turns a raw device listing into Devices. Entries without
// any identity are dropped. When one identity appears twice the fresher
// heartbeat wins, so the result holds each identity exactly once, in first
// appearance order.
func NormalizeDevices(list cluster.DeviceList, now time.Time) ([]Device, []Warning) {
	var warnings []Warning
	out := make([]Device, 0, len(list.Devices))
	index := make(map[Identity]int, len(list.Devices))

	for _, raw := range list.Devices {
		id := Identity{Name: strings.TrimSpace(raw.Name), IP: strings.TrimSpace(raw.IP)}
		if id.IsZero() {
			warnings = append(warnings, Warning{Field: "identity", Err: ErrMissingIdentity})
			continue
		}

		lastSeen, err := ParseLastSeen(raw.LastSeen, now)
		if err != nil {
			warnings = append(warnings, Warning{Device: id, Field: "last_seen", Err: err})
		}
		score, err := parseScore(raw.ResourceScore)
		if err != nil {
			warnings = append(warnings, Warning{Device: id, Field: "resource_score", Err: err})
		}

		d := Device{Name: id.Name, IP: id.IP, ResourceScore: score, LastSeenMs: lastSeen}
		if i, dup := index[id]; dup {
			warnings = append(warnings, Warning{Device: id, Field: "identity", Err: ErrDuplicateDevice})
			if d.LastSeenMs > out[i].LastSeenMs {
				out[i] = d
			}
			continue
		}
		index[id] = len(out)
		out = append(out, d)
	}
	return out, warnings
}

func normalizeRing(nodes []cluster.RingNodeWire) ([]RingNode, []Warning) {
	var warnings []Warning
	ring := make([]RingNode, 0, len(nodes))
	for _, n := range nodes {
		id := Identity{Name: strings.TrimSpace(n.Name), IP: strings.TrimSpace(n.IP)}
		if id.IP == "" {
			warnings = append(warnings, Warning{Device: id, Field: "ring_topology.ip", Err: ErrMissingIP})
			continue
		}
		role := ParseRole(n.Role)
		if role == RoleUnknown && strings.TrimSpace(n.Role) != "" {
			warnings = append(warnings, Warning{Device: id, Field: "ring_topology.role", Err: fmt.Errorf("%w: %q", ErrUnknownRole, n.Role)})
		}
		score, err := parseScore(n.ResourceScore)
		if err != nil {
			warnings = append(warnings, Warning{Device: id, Field: "ring_topology.resource_score", Err: err})
		}
		name := id.Name
		if name == "" {
			name = id.IP
		}
		ring = append(ring, RingNode{
			IP:            id.IP,
			Name:          name,
			Role:          role,
			SuccessorIP:   strings.TrimSpace(n.Successor),
			ResourceScore: score,
			IsSelf:        n.IsMe,
		})
	}
	return ring, warnings
}

// NormalizeElection turns GET /election/status into an Election.
func NormalizeElection(raw cluster.ElectionStatus) (*Election, []Warning) {
	e := &Election{Active: raw.ElectionActive}
	var warnings []Warning

	if raw.CurrentLeader != nil {
		e.LeaderIP = strings.TrimSpace(*raw.CurrentLeader)
	}
	if raw.MyRole != nil {
		e.MyRole = ParseRole(*raw.MyRole)
		if e.MyRole == RoleUnknown && strings.TrimSpace(*raw.MyRole) != "" {
			warnings = append(warnings, Warning{Field: "my_role", Err: fmt.Errorf("%w: %q", ErrUnknownRole, *raw.MyRole)})
		}
	}
	if raw.LeaderConsensus != nil {
		e.Consensus = &Consensus{
			Reached:    raw.LeaderConsensus.ConsensusReached,
			TotalNodes: raw.LeaderConsensus.TotalNodes,
		}
	}
	if raw.ElectionResults != nil {
		ring, w := normalizeRing(raw.ElectionResults.RingTopology)
		e.Ring = ring
		warnings = append(warnings, w...)
		e.Method = raw.ElectionResults.ElectionMethod
	}
	if e.Method == "" {
		e.Method = DefaultElectionMethod
	}
	return e, warnings
}

// NormalizeRound turns the data block of POST /election/start into an
// Election. The round carries no my_role; the local role is then resolved
// from the ring.
func NormalizeRound(raw cluster.ElectionRound) (*Election, []Warning) {
	ring, warnings := normalizeRing(raw.RingTopology)
	e := &Election{
		Active:   true,
		LeaderIP: strings.TrimSpace(raw.LeaderIP),
		Method:   raw.ElectionMethod,
		Ring:     ring,
	}
	if e.Method == "" {
		e.Method = DefaultElectionMethod
	}
	return e, warnings
}
