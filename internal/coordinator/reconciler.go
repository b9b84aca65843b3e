package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/failover"
	"github.com/dreamware/rendermesh/internal/liveness"
	"github.com/dreamware/rendermesh/internal/metrics"
	"github.com/dreamware/rendermesh/internal/ring"
	"github.com/dreamware/rendermesh/internal/role"
	"github.com/dreamware/rendermesh/internal/snapshot"
)

// DeviceView is one device with its derived liveness and role.
type DeviceView struct {
	snapshot.Device
	Role   role.Resolution `json:"role"`
	Status liveness.Status `json:"status"`
	Ready  bool            `json:"ready"`
}

// Summary aggregates the current device snapshot.
type Summary struct {
	liveness.Summary
	RingNodes int `json:"ring_nodes"`
}

// View is the reconciled state at one instant. Every field is derived from
// the same device and election snapshots.
type View struct {
	UpdatedAt       time.Time          `json:"updated_at"`
	Election        *snapshot.Election `json:"election,omitempty"`
	Leader          *DeviceView        `json:"leader,omitempty"`
	SoftErrors      map[string]string  `json:"soft_errors,omitempty"`
	Self            snapshot.Identity  `json:"self"`
	LocalRole       role.Resolution    `json:"local_role"`
	RingError       string             `json:"ring_error,omitempty"`
	Devices         []DeviceView       `json:"devices"`
	Inconsistencies []string           `json:"inconsistencies,omitempty"`
	PendingAlerts   []failover.Event   `json:"pending_alerts,omitempty"`
	Ring            ring.Graph         `json:"ring"`
	Summary         Summary            `json:"summary"`
	Running         bool               `json:"running"`
}

// Reconciler merges independently polled snapshots into one View. Every
// Apply call replaces its input wholesale and recomputes all derived state
// under one lock, so a reader never sees a device list paired with a stale
// election snapshot. Thread-safe.
type Reconciler struct {
	election   *snapshot.Election
	softErrors map[string]string
	detector   *failover.Detector
	log        logrus.FieldLogger
	now        func() time.Time
	self       snapshot.Identity
	ringErr    string
	devices    []snapshot.Device
	view       View
	running    bool
	mu         sync.RWMutex
}

// NewReconciler returns an empty Reconciler.
func NewReconciler(log logrus.FieldLogger) *Reconciler {
	r := &Reconciler{
		detector:   failover.NewDetector(),
		softErrors: make(map[string]string),
		log:        log,
		now:        time.Now,
	}
	r.recompute()
	return r
}

// ApplyStatus records the local identity and network flag.
func (r *Reconciler) ApplyStatus(st cluster.StatusResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	self := snapshot.Identity{Name: strings.TrimSpace(st.LocalPCName), IP: strings.TrimSpace(st.LocalIP)}
	if self != r.self {
		r.log.WithFields(logrus.Fields{"device": self.Name, "ip": self.IP}).Info("Local identity changed")
	}
	r.self = self
	r.running = st.Running
	r.recompute()
}

// ApplyDevices replaces the device snapshot and runs failure detection on
// the new liveness map. It returns the falling edges observed.
func (r *Reconciler) ApplyDevices(list cluster.DeviceList) []failover.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, warnings := snapshot.NormalizeDevices(list, r.now())
	r.logWarnings("devices", warnings)
	if list.Stats != nil && r.self.IsZero() {
		r.self = snapshot.Identity{Name: list.Stats.LocalPCName, IP: list.Stats.LocalIP}
	}
	r.devices = devices
	statuses, leader := r.recompute()

	events := r.detector.Observe(statuses, leader)
	for _, ev := range events {
		metrics.FailureEvents.WithLabelValues(ev.Kind.String()).Inc()
		entry := r.log.WithFields(logrus.Fields{"device": ev.Device.Name, "ip": ev.Device.IP, "alert": ev.ID})
		if ev.Kind == failover.LeaderDown {
			entry.Error("Leader stopped heartbeating")
		} else {
			entry.Warn("Device stopped heartbeating")
		}
	}
	return events
}

// ApplyElection replaces the election snapshot.
func (r *Reconciler) ApplyElection(raw cluster.ElectionStatus) {
	e, warnings := snapshot.NormalizeElection(raw)
	r.applyElection(e, warnings)
}

// ApplyRound replaces the election snapshot with a round returned
// synchronously by POST /election/start.
func (r *Reconciler) ApplyRound(raw cluster.ElectionRound) {
	e, warnings := snapshot.NormalizeRound(raw)
	r.applyElection(e, warnings)
}

func (r *Reconciler) applyElection(e *snapshot.Election, warnings []snapshot.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logWarnings("election", warnings)
	prev := ""
	if r.election != nil {
		prev = r.election.LeaderIP
	}
	if e.LeaderIP != prev {
		r.log.WithFields(logrus.Fields{"leader": e.LeaderIP, "previous": prev, "method": e.Method}).Info("Election leader changed")
	}
	r.election = e
	r.recompute()
}

// ClearNetwork drops device and election state and failure history. Used
// when the node leaves the network.
func (r *Reconciler) ClearNetwork() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	r.devices = nil
	r.election = nil
	r.detector.Reset()
	r.recompute()
}

// SetSoftError records the last failure of source, or clears it when err is
// nil. Soft errors never touch snapshot state.
func (r *Reconciler) SetSoftError(source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.softErrors, source)
	} else {
		r.softErrors[source] = err.Error()
	}
	r.view.SoftErrors = copyErrors(r.softErrors)
}

// View returns the latest reconciled view.
func (r *Reconciler) View() View {
	r.mu.RLock()
	v := r.view
	r.mu.RUnlock()

	v.Devices = append([]DeviceView(nil), v.Devices...)
	v.PendingAlerts = r.detector.Pending()
	return v
}

// LocalRole returns the local node's resolved role.
func (r *Reconciler) LocalRole() role.Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.LocalRole
}

// Running reports whether the backend says discovery is active.
func (r *Reconciler) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// DismissAlert resolves a pending leader-down alert without action.
func (r *Reconciler) DismissAlert(id string) (failover.Event, error) {
	ev, err := r.detector.Dismiss(id)
	if err == nil {
		r.log.WithFields(logrus.Fields{"alert": id, "leader": ev.Device.IP}).Info("Leader alert dismissed")
	}
	return ev, err
}

// ReelectAlert resolves a pending leader-down alert by requesting an
// election that excludes the failed leader. A round returned synchronously
// is applied right away.
func (r *Reconciler) ReelectAlert(ctx context.Context, id string, el failover.Elector) (cluster.ElectionStartResult, error) {
	ev, res, err := r.detector.Reelect(ctx, id, el)
	if err != nil {
		metrics.Reelections.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.Reelections.WithLabelValues("success").Inc()
	r.log.WithFields(logrus.Fields{"alert": id, "leader": ev.Device.IP, "status": res.Status}).Info("Re-election requested")
	if res.Data != nil {
		r.ApplyRound(*res.Data)
	}
	return res, nil
}

// recompute rebuilds the view from the current inputs. r.mu must be held.
// It returns the liveness map and the resolved leader for failure detection.
func (r *Reconciler) recompute() (liveness.Map, snapshot.Identity) {
	now := r.now()
	tracker := liveness.NewTracker(r.self)
	resolver := role.NewResolver(r.self)
	e := r.election

	ordered := tracker.Order(r.devices)
	statuses := tracker.ClassifyAll(ordered, now)

	v := View{
		UpdatedAt:  now,
		Self:       r.self,
		Running:    r.running,
		Election:   e,
		LocalRole:  resolver.Local(e),
		Devices:    make([]DeviceView, 0, len(ordered)),
		SoftErrors: copyErrors(r.softErrors),
	}

	var leaders []int
	selfSeen := 0
	for _, d := range ordered {
		st := statuses[d.Key()]
		res := resolver.Resolve(d, e)
		if st == liveness.Self {
			selfSeen = 1
		}
		if res.Role == snapshot.RoleLeader {
			leaders = append(leaders, len(v.Devices))
		}
		v.Devices = append(v.Devices, DeviceView{Device: d, Status: st, Role: res, Ready: st.Ready()})
	}

	var leader snapshot.Identity
	leaderIP := ""
	if e != nil {
		leaderIP = e.LeaderIP
	}
	switch {
	case len(leaders) == 1:
		lv := v.Devices[leaders[0]]
		v.Leader = &lv
	case len(leaders) > 1:
		names := make([]string, len(leaders))
		for i, idx := range leaders {
			names[i] = v.Devices[idx].Key().String()
		}
		v.Inconsistencies = append(v.Inconsistencies, fmt.Sprintf("multiple devices resolve to Leader: %s", strings.Join(names, ", ")))
		for _, idx := range leaders {
			if v.Devices[idx].IP == leaderIP {
				lv := v.Devices[idx]
				v.Leader = &lv
			}
		}
	}
	if v.Leader != nil {
		leader = v.Leader.Key()
	}
	if leaderIP != "" && len(ordered) > 0 && (v.Leader == nil || v.Leader.IP != leaderIP) {
		v.Inconsistencies = append(v.Inconsistencies, fmt.Sprintf("leader %s is not among known devices", leaderIP))
	}

	var err error
	if e != nil && len(e.Ring) > 0 {
		v.Ring, err = ring.FromRing(e.Ring, r.self.IP, leaderIP)
	} else {
		v.Ring, err = ring.FromDevices(ordered, r.self.IP, leaderIP)
	}
	if err != nil {
		v.RingError = err.Error()
		if v.RingError != r.ringErr {
			metrics.TopologyInconsistencies.Inc()
			r.log.WithError(err).Warn("Ring topology failed validation")
		}
	}
	r.ringErr = v.RingError

	v.Summary = Summary{Summary: liveness.Summarize(ordered, statuses), RingNodes: len(v.Ring.Nodes)}
	metrics.SetDevices(v.Summary.Online, v.Summary.Offline, selfSeen)

	r.view = v
	return statuses, leader
}

// logWarnings reports ingestion warnings once per poll.
func (r *Reconciler) logWarnings(source string, warnings []snapshot.Warning) {
	if len(warnings) == 0 {
		return
	}
	details := make([]string, 0, 3)
	for i, w := range warnings {
		metrics.IngestWarnings.WithLabelValues(w.Field).Inc()
		if i < 3 {
			details = append(details, w.Error())
		}
	}
	r.log.WithFields(logrus.Fields{
		"source":   source,
		"warnings": len(warnings),
		"first":    strings.Join(details, "; "),
	}).Warn("Payload fields replaced by defaults")
}

func copyErrors(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
