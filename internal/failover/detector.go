// Package failover detects devices that stop heartbeating and raises one
// alert per online→offline transition of the current leader.
package failover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/liveness"
	"github.com/dreamware/rendermesh/internal/snapshot"
)

// ErrAlertNotFound is returned when resolving an alert that is not pending.
var ErrAlertNotFound = errors.New("alert not found")

// Kind distinguishes a failed leader from any other failed device.
type Kind int

const (
	LeaderDown Kind = iota
	NodeDown
)

func (k Kind) String() string {
	if k == LeaderDown {
		return "leader_down"
	}
	return "node_down"
}

// MarshalText renders the kind by name in JSON views.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one observed falling edge.
type Event struct {
	DetectedAt time.Time         `json:"detected_at"`
	ID         string            `json:"id"`
	Device     snapshot.Identity `json:"device"`
	Kind       Kind              `json:"kind"`
}

// Elector starts an election that excludes one candidate.
type Elector interface {
	StartElection(ctx context.Context, excludeIP string) (cluster.ElectionStartResult, error)
}

// Detector tracks per-device liveness across ticks. Only a transition from
// Online on the previous tick to Offline on the current one is reported, so
// a device that stays offline raises nothing further. Thread-safe.
type Detector struct {
	prev    map[snapshot.Identity]liveness.Status
	pending map[string]Event
	now     func() time.Time
	mu      sync.Mutex
}

// NewDetector returns a Detector with no history. The first observation of
// every device only seeds the history.
func NewDetector() *Detector {
	return &Detector{
		prev:    make(map[snapshot.Identity]liveness.Status),
		pending: make(map[string]Event),
		now:     time.Now,
	}
}

// Observe compares statuses with the previous tick and returns the falling
// edges. The leader's edge is a LeaderDown event and is kept pending until
// Dismiss or Reelect resolves it; every other device yields NodeDown. The
// local node never fires. A zero leader identity means no leader is known.
//
// The history is replaced by statuses after classification, so devices that
// left the snapshot are forgotten.
func (d *Detector) Observe(statuses liveness.Map, leader snapshot.Identity) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var events []Event
	for id, cur := range statuses {
		if cur != liveness.Offline || d.prev[id] != liveness.Online {
			continue
		}
		ev := Event{ID: uuid.NewString(), Device: id, Kind: NodeDown, DetectedAt: now}
		if !leader.IsZero() && id == leader {
			ev.Kind = LeaderDown
			d.pending[ev.ID] = ev
		}
		events = append(events, ev)
	}

	d.prev = make(map[snapshot.Identity]liveness.Status, len(statuses))
	for id, st := range statuses {
		d.prev[id] = st
	}

	slices.SortFunc(events, func(a, b Event) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.Device.String(), b.Device.String())
	})
	return events
}

// Pending returns unresolved leader alerts, oldest first.
func (d *Detector) Pending() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b Event) int { return a.DetectedAt.Compare(b.DetectedAt) })
	return out
}

// Dismiss drops a pending alert without further action.
func (d *Detector) Dismiss(id string) (Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ev, ok := d.pending[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	delete(d.pending, id)
	return ev, nil
}

// Reelect asks the election service for a new round that excludes the failed
// leader. The alert stays pending when the request fails. The detector never
// picks a new leader itself; the next election snapshot reports it.
func (d *Detector) Reelect(ctx context.Context, id string, el Elector) (Event, cluster.ElectionStartResult, error) {
	d.mu.Lock()
	ev, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return Event{}, cluster.ElectionStartResult{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}

	res, err := el.StartElection(ctx, ev.Device.IP)
	if err != nil {
		return ev, res, fmt.Errorf("re-election excluding %s: %w", ev.Device.IP, err)
	}

	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
	return ev, res, nil
}

// Reset forgets all history and pending alerts. Used when leaving the network.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = make(map[snapshot.Identity]liveness.Status)
	d.pending = make(map[string]Event)
}
