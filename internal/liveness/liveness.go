// Package liveness classifies devices as online, offline or self from their
// normalized heartbeat timestamps.
package liveness

import (
	"cmp"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/rendermesh/internal/snapshot"
)

// StalenessWindow is the maximum heartbeat age of an online device. It must
// stay well above the poll interval so a single missed poll does not flap a
// device offline.
const StalenessWindow = 15 * time.Second

// Status is the liveness classification of one device.
type Status int

const (
	Offline Status = iota
	Online
	// Self is the local node. It is exempt from heartbeat checks.
	Self
)

func (s Status) String() string {
	switch s {
	case Online:
		return "Online"
	case Self:
		return "Self"
	default:
		return "Offline"
	}
}

// Ready reports whether the device can accept work.
func (s Status) Ready() bool { return s != Offline }

// MarshalText renders the status by name in JSON views.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// IsOnline reports whether d heartbeated within StalenessWindow of nowMs.
func IsOnline(d snapshot.Device, nowMs int64) bool {
	return nowMs-d.LastSeenMs < StalenessWindow.Milliseconds()
}

// Map is the liveness of every device in one snapshot.
type Map map[snapshot.Identity]Status

// Tracker classifies devices relative to the local node's identity.
type Tracker struct {
	self snapshot.Identity
}

// NewTracker returns a Tracker for the given local identity. A zero identity
// matches no device.
func NewTracker(self snapshot.Identity) *Tracker {
	return &Tracker{self: self}
}

// Self returns the local identity.
func (t *Tracker) Self() snapshot.Identity { return t.self }

// IsSelf reports whether d is the local node. Both name and ip must match.
func (t *Tracker) IsSelf(d snapshot.Device) bool {
	return !t.self.IsZero() && d.Key() == t.self
}

// Classify returns d's status at now.
func (t *Tracker) Classify(d snapshot.Device, now time.Time) Status {
	if t.IsSelf(d) {
		return Self
	}
	if IsOnline(d, now.UnixMilli()) {
		return Online
	}
	return Offline
}

// ClassifyAll builds the liveness map for a whole snapshot at one instant.
func (t *Tracker) ClassifyAll(devices []snapshot.Device, now time.Time) Map {
	m := make(Map, len(devices))
	for _, d := range devices {
		m[d.Key()] = t.Classify(d, now)
	}
	return m
}

// Order sorts devices for display: self first, then by resource score
// descending, ties broken by name and ip so the order is stable across polls.
// The input slice is not modified.
func (t *Tracker) Order(devices []snapshot.Device) []snapshot.Device {
	out := slices.Clone(devices)
	slices.SortStableFunc(out, func(a, b snapshot.Device) int {
		as, bs := t.IsSelf(a), t.IsSelf(b)
		switch {
		case as && !bs:
			return -1
		case bs && !as:
			return 1
		}
		if c := cmp.Compare(b.ResourceScore, a.ResourceScore); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.IP, b.IP)
	})
	return out
}

// Summary aggregates a liveness map. The local node is counted in neither
// Online nor Offline.
type Summary struct {
	Online     int     `json:"online"`
	Offline    int     `json:"offline"`
	TotalScore float64 `json:"total_score"`
	Devices    int     `json:"devices"`
}

// Summarize counts devices by status and sums the resource scores of every
// device that is ready, including self.
func Summarize(devices []snapshot.Device, m Map) Summary {
	s := Summary{Devices: len(devices)}
	for _, d := range devices {
		st := m[d.Key()]
		switch st {
		case Online:
			s.Online++
		case Offline:
			s.Offline++
		}
		if st.Ready() {
			s.TotalScore += d.ResourceScore
		}
	}
	return s
}
