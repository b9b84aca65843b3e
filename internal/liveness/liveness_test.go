package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/rendermesh/internal/snapshot"
)

var now = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func seenAgo(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

// TestIsOnline checks the staleness window boundary.
func TestIsOnline(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", 0, true},
		{"five seconds", 5 * time.Second, true},
		{"just inside", StalenessWindow - time.Millisecond, true},
		{"exactly window", StalenessWindow, false},
		{"twenty seconds", 20 * time.Second, false},
		{"future heartbeat", -3 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := snapshot.Device{Name: "B", IP: "10.0.0.2", LastSeenMs: seenAgo(tt.age)}
			assert.Equal(t, tt.want, IsOnline(d, now.UnixMilli()))
		})
	}
}

// TestClassifySelfIgnoresHeartbeat covers the local node with a stale timestamp.
func TestClassifySelfIgnoresHeartbeat(t *testing.T) {
	tr := NewTracker(snapshot.Identity{Name: "A", IP: "10.0.0.1"})

	self := snapshot.Device{Name: "A", IP: "10.0.0.1", LastSeenMs: seenAgo(5 * time.Second)}
	assert.Equal(t, Self, tr.Classify(self, now))

	stale := snapshot.Device{Name: "A", IP: "10.0.0.1", LastSeenMs: seenAgo(time.Hour)}
	assert.Equal(t, Self, tr.Classify(stale, now))
	assert.True(t, tr.Classify(stale, now).Ready())

	// same name on another address is a different device
	other := snapshot.Device{Name: "A", IP: "10.0.0.9", LastSeenMs: seenAgo(time.Hour)}
	assert.Equal(t, Offline, tr.Classify(other, now))
}

// TestZeroIdentityMatchesNothing ensures an unknown local identity never claims a device.
func TestZeroIdentityMatchesNothing(t *testing.T) {
	tr := NewTracker(snapshot.Identity{})
	d := snapshot.Device{LastSeenMs: seenAgo(time.Minute)}
	assert.False(t, tr.IsSelf(d))
	assert.Equal(t, Offline, tr.Classify(d, now))
}

// TestClassifyAllAndSummarize builds a map and aggregates it.
func TestClassifyAllAndSummarize(t *testing.T) {
	tr := NewTracker(snapshot.Identity{Name: "A", IP: "10.0.0.1"})
	devices := []snapshot.Device{
		{Name: "A", IP: "10.0.0.1", ResourceScore: 10, LastSeenMs: seenAgo(time.Hour)},
		{Name: "B", IP: "10.0.0.2", ResourceScore: 20, LastSeenMs: seenAgo(2 * time.Second)},
		{Name: "C", IP: "10.0.0.3", ResourceScore: 40, LastSeenMs: seenAgo(30 * time.Second)},
	}

	m := tr.ClassifyAll(devices, now)
	assert.Equal(t, Map{
		{Name: "A", IP: "10.0.0.1"}: Self,
		{Name: "B", IP: "10.0.0.2"}: Online,
		{Name: "C", IP: "10.0.0.3"}: Offline,
	}, m)

	s := Summarize(devices, m)
	assert.Equal(t, Summary{Online: 1, Offline: 1, TotalScore: 30, Devices: 3}, s)
}

// TestOrder puts self first and then sorts by score.
func TestOrder(t *testing.T) {
	tr := NewTracker(snapshot.Identity{Name: "A", IP: "10.0.0.1"})
	devices := []snapshot.Device{
		{Name: "C", IP: "10.0.0.3", ResourceScore: 5},
		{Name: "B", IP: "10.0.0.2", ResourceScore: 50},
		{Name: "A", IP: "10.0.0.1", ResourceScore: 1},
		{Name: "D", IP: "10.0.0.4", ResourceScore: 5},
	}

	got := tr.Order(devices)
	var names []string
	for _, d := range got {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, names)
	assert.Equal(t, "C", devices[0].Name, "input must not be reordered")
}

// TestStatusText renders statuses by name.
func TestStatusText(t *testing.T) {
	b, err := Online.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "Online", string(b))
	assert.Equal(t, "Offline", Offline.String())
	assert.False(t, Offline.Ready())
}
