package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/liveness"
	"github.com/dreamware/rendermesh/internal/snapshot"
)

var (
	self   = snapshot.Identity{Name: "A", IP: "10.0.0.1"}
	leader = snapshot.Identity{Name: "B", IP: "10.0.0.2"}
	worker = snapshot.Identity{Name: "C", IP: "10.0.0.3"}
)

type fakeElector struct {
	err      error
	excluded []string
}

func (f *fakeElector) StartElection(_ context.Context, excludeIP string) (cluster.ElectionStartResult, error) {
	f.excluded = append(f.excluded, excludeIP)
	if f.err != nil {
		return cluster.ElectionStartResult{}, f.err
	}
	return cluster.ElectionStartResult{Status: "Election Initiated"}, nil
}

func tick(leaderSt, workerSt liveness.Status) liveness.Map {
	return liveness.Map{self: liveness.Self, leader: leaderSt, worker: workerSt}
}

// TestLeaderFallingEdgeFiresOnce covers a leader whose heartbeat goes stale.
func TestLeaderFallingEdgeFiresOnce(t *testing.T) {
	d := NewDetector()

	// leader heartbeated 20s ago: offline now, online before
	tr := liveness.NewTracker(self)
	now := time.Now()
	stale := snapshot.Device{Name: leader.Name, IP: leader.IP, LastSeenMs: now.Add(-20 * time.Second).UnixMilli()}
	require.False(t, liveness.IsOnline(stale, now.UnixMilli()))

	assert.Empty(t, d.Observe(tick(liveness.Online, liveness.Online), leader))
	events := d.Observe(liveness.Map{self: liveness.Self, leader: tr.Classify(stale, now), worker: liveness.Online}, leader)
	require.Len(t, events, 1)
	assert.Equal(t, LeaderDown, events[0].Kind)
	assert.Equal(t, leader, events[0].Device)
	assert.NotEmpty(t, events[0].ID)

	// sustained offline raises nothing further
	for i := 0; i < 3; i++ {
		assert.Empty(t, d.Observe(tick(liveness.Offline, liveness.Online), leader))
	}
	assert.Len(t, d.Pending(), 1)
}

// TestNoEdgeWithoutHistory ignores devices first seen offline.
func TestNoEdgeWithoutHistory(t *testing.T) {
	d := NewDetector()
	assert.Empty(t, d.Observe(tick(liveness.Offline, liveness.Offline), leader))
	assert.Empty(t, d.Pending())
}

// TestRecoveryRearms fires again after a full offline, online, offline cycle.
func TestRecoveryRearms(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), leader)
	require.Len(t, d.Observe(tick(liveness.Offline, liveness.Online), leader), 1)
	assert.Empty(t, d.Observe(tick(liveness.Online, liveness.Online), leader))
	require.Len(t, d.Observe(tick(liveness.Offline, liveness.Online), leader), 1)
	assert.Len(t, d.Pending(), 2)
}

// TestNodeDownForWorkers reports non-leader devices without a pending alert.
func TestNodeDownForWorkers(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), leader)
	events := d.Observe(tick(liveness.Offline, liveness.Offline), leader)
	require.Len(t, events, 2)
	assert.Equal(t, LeaderDown, events[0].Kind)
	assert.Equal(t, NodeDown, events[1].Kind)
	assert.Equal(t, worker, events[1].Device)
	assert.Len(t, d.Pending(), 1)
}

// TestSelfNeverFires keeps the local node out of failure detection.
func TestSelfNeverFires(t *testing.T) {
	d := NewDetector()
	d.Observe(liveness.Map{self: liveness.Self}, self)
	assert.Empty(t, d.Observe(liveness.Map{self: liveness.Self}, self))
}

// TestNoLeaderKnown reports the old leader as a plain node.
func TestNoLeaderKnown(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), snapshot.Identity{})
	events := d.Observe(tick(liveness.Offline, liveness.Online), snapshot.Identity{})
	require.Len(t, events, 1)
	assert.Equal(t, NodeDown, events[0].Kind)
	assert.Empty(t, d.Pending())
}

// TestDismiss resolves an alert without contacting the election service.
func TestDismiss(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), leader)
	ev := d.Observe(tick(liveness.Offline, liveness.Online), leader)[0]

	got, err := d.Dismiss(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Empty(t, d.Pending())

	_, err = d.Dismiss(ev.ID)
	assert.True(t, errors.Is(err, ErrAlertNotFound))
}

// TestReelect excludes the failed leader and keeps the alert on failure.
func TestReelect(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), leader)
	ev := d.Observe(tick(liveness.Offline, liveness.Online), leader)[0]

	failing := &fakeElector{err: errors.New("connection refused")}
	_, _, err := d.Reelect(context.Background(), ev.ID, failing)
	require.Error(t, err)
	assert.Len(t, d.Pending(), 1)

	el := &fakeElector{}
	_, res, err := d.Reelect(context.Background(), ev.ID, el)
	require.NoError(t, err)
	assert.Equal(t, "Election Initiated", res.Status)
	assert.Equal(t, []string{leader.IP}, el.excluded)
	assert.Empty(t, d.Pending())

	_, _, err = d.Reelect(context.Background(), ev.ID, el)
	assert.True(t, errors.Is(err, ErrAlertNotFound))
}

// TestReset forgets history.
func TestReset(t *testing.T) {
	d := NewDetector()
	d.Observe(tick(liveness.Online, liveness.Online), leader)
	d.Reset()
	assert.Empty(t, d.Observe(tick(liveness.Offline, liveness.Online), leader))
}
