package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/failover"
	"github.com/dreamware/rendermesh/internal/job"
	"github.com/dreamware/rendermesh/internal/metrics"
)

// Backend is the subset of the backend API a Session drives.
// *cluster.Client satisfies it.
type Backend interface {
	Status(ctx context.Context) (cluster.StatusResponse, error)
	Devices(ctx context.Context) (cluster.DeviceList, error)
	Start(ctx context.Context) (cluster.ActionResult, error)
	Stop(ctx context.Context) (cluster.ActionResult, error)
	ElectionStatus(ctx context.Context) (cluster.ElectionStatus, error)
	StartElection(ctx context.Context, excludeIP string) (cluster.ElectionStartResult, error)
	NodeDisconnected(ctx context.Context, ip string) (cluster.ActionResult, error)
	AnalyzeScene(ctx context.Context, fileName string, content []byte) (cluster.SceneAnalysis, error)
	SubmitJob(ctx context.Context, sub cluster.JobSubmission) error
	RenderProgress(ctx context.Context) (cluster.RenderProgress, error)
	WorkerProgress(ctx context.Context) (map[string]cluster.WorkerReport, error)
}

// Poll source names.
const (
	SourceStatus         = "status"
	SourceDevices        = "devices"
	SourceElection       = "election"
	SourceRenderProgress = "render_progress"
	SourceWorkerProgress = "worker_progress"
)

// Options configures a Session.
type Options struct {
	Interval    time.Duration
	AutoReelect bool
}

// Session owns the pollers of one node and routes operator actions to the
// backend, the reconciler and the job pipeline.
//
// The status poller runs for the whole session. The network pollers
// (devices, election, render and worker progress) run only while the
// backend reports discovery as running; they are stopped when the node
// leaves or is disconnected so no timer outlives the state it feeds.
type Session struct {
	backend Backend
	rec     *Reconciler
	job     *job.Pipeline
	log     logrus.FieldLogger
	ctx     context.Context
	status  *Poller
	network []*Poller
	opts    Options
	epoch   uint64 // bumped by Join and Leave; status polls spanning a bump are dropped
	mu      sync.Mutex
}

// NewSession wires a session. Call Run to start polling.
func NewSession(b Backend, rec *Reconciler, p *job.Pipeline, opts Options, log logrus.FieldLogger) *Session {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	return &Session{backend: b, rec: rec, job: p, opts: opts, log: log}
}

// Reconciler returns the session's reconciler.
func (s *Session) Reconciler() *Reconciler { return s.rec }

// Job returns the session's job pipeline.
func (s *Session) Job() *job.Pipeline { return s.job }

// Run polls until ctx is canceled, then stops every poller. It always
// returns nil once shut down; poll failures are soft.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.status = NewPoller(SourceStatus, s.opts.Interval, s.soft(SourceStatus, s.pollStatus), s.log)
	s.status.Start(ctx)
	s.mu.Unlock()

	s.log.WithField("interval", s.opts.Interval).Info("Session started")
	<-ctx.Done()

	s.mu.Lock()
	status := s.status
	s.stopNetworkLocked()
	s.mu.Unlock()
	status.Stop()
	s.log.Info("Session stopped")
	return nil
}

// soft wraps fn so its outcome is recorded as the source's soft error.
func (s *Session) soft(source string, fn PollFunc) PollFunc {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if ctx.Err() != nil && err != nil {
			return err
		}
		s.rec.SetSoftError(source, err)
		return err
	}
}

func (s *Session) pollStatus(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	st, err := s.backend.Status(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return nil
	}
	s.rec.ApplyStatus(st)
	switch {
	case st.Running && s.network == nil:
		s.startNetworkLocked()
	case !st.Running && s.network != nil:
		s.log.Warn("Backend reports discovery stopped, clearing network state")
		s.stopNetworkLocked()
		s.rec.ClearNetwork()
	}
	return nil
}

// startNetworkLocked starts the network pollers. s.mu must be held.
func (s *Session) startNetworkLocked() {
	if s.network != nil || s.ctx == nil {
		return
	}
	s.network = []*Poller{
		NewPoller(SourceDevices, s.opts.Interval, s.soft(SourceDevices, s.pollDevices), s.log),
		NewPoller(SourceElection, s.opts.Interval, s.soft(SourceElection, s.pollElection), s.log),
		NewPoller(SourceRenderProgress, s.opts.Interval, s.soft(SourceRenderProgress, s.pollRenderProgress), s.log),
		NewPoller(SourceWorkerProgress, s.opts.Interval, s.soft(SourceWorkerProgress, s.pollWorkerProgress), s.log),
	}
	for _, p := range s.network {
		p.Start(s.ctx)
	}
	s.log.Info("Network pollers started")
}

// stopNetworkLocked stops the network pollers and waits for in-flight polls,
// so nothing is applied after it returns. s.mu must be held; network polls
// never take it.
func (s *Session) stopNetworkLocked() {
	if s.network == nil {
		return
	}
	for _, p := range s.network {
		p.cancel()
	}
	for _, p := range s.network {
		p.Stop()
		s.rec.SetSoftError(p.Name(), nil)
	}
	s.network = nil
	s.log.Info("Network pollers stopped")
}

func (s *Session) pollDevices(ctx context.Context) error {
	list, err := s.backend.Devices(ctx)
	if err != nil {
		return err
	}
	events := s.rec.ApplyDevices(list)
	for _, ev := range events {
		s.handleEvent(ctx, ev)
	}
	return nil
}

// handleEvent reports a failed device to the backend or, for the leader,
// optionally requests a re-election right away.
func (s *Session) handleEvent(ctx context.Context, ev failover.Event) {
	entry := s.log.WithFields(logrus.Fields{"device": ev.Device.Name, "ip": ev.Device.IP})
	switch ev.Kind {
	case failover.NodeDown:
		if _, err := s.backend.NodeDisconnected(ctx, ev.Device.IP); err != nil {
			entry.WithError(err).Warn("Could not report disconnected device")
		}
	case failover.LeaderDown:
		if !s.opts.AutoReelect {
			return
		}
		if _, err := s.rec.ReelectAlert(ctx, ev.ID, s.backend); err != nil {
			entry.WithError(err).Error("Automatic re-election failed, alert left pending")
		}
	}
}

func (s *Session) pollElection(ctx context.Context) error {
	es, err := s.backend.ElectionStatus(ctx)
	if err != nil {
		return err
	}
	s.rec.ApplyElection(es)
	return nil
}

func (s *Session) pollRenderProgress(ctx context.Context) error {
	if s.job.Stage() != job.StageMonitoring {
		return nil
	}
	rp, err := s.backend.RenderProgress(ctx)
	if err != nil {
		return err
	}
	if _, err := s.job.ApplyProgress(rp); err != nil && !errors.Is(err, job.ErrInvalidTransition) {
		return err
	}
	s.publishJob()
	return nil
}

func (s *Session) pollWorkerProgress(ctx context.Context) error {
	if s.job.Stage() != job.StageMonitoring {
		return nil
	}
	wp, err := s.backend.WorkerProgress(ctx)
	if err != nil {
		return err
	}
	if err := s.job.ApplyWorkerProgress(wp); err != nil && !errors.Is(err, job.ErrInvalidTransition) {
		return err
	}
	return nil
}

// Join asks the backend to start discovery. The network pollers start
// immediately instead of waiting for the next status tick. s.mu is held
// across the backend call so no status poll can interleave with it.
func (s *Session) Join(ctx context.Context) (cluster.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	res, err := s.backend.Start(ctx)
	if err != nil {
		return res, fmt.Errorf("join network: %w", err)
	}
	s.startNetworkLocked()
	s.log.WithField("message", res.Message).Info("Joined network")
	return res, nil
}

// Leave stops the network pollers, asks the backend to stop discovery and
// clears device and election state. Local state is cleared even when the
// backend call fails, since leaving is an explicit operator action.
func (s *Session) Leave(ctx context.Context) (cluster.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.stopNetworkLocked()
	s.rec.ClearNetwork()

	res, err := s.backend.Stop(ctx)
	if err != nil {
		return res, fmt.Errorf("leave network: %w", err)
	}
	s.log.WithField("message", res.Message).Info("Left network")
	return res, nil
}

// StartElection triggers an election without excluding anyone.
func (s *Session) StartElection(ctx context.Context) (cluster.ElectionStartResult, error) {
	res, err := s.backend.StartElection(ctx, "")
	if err != nil {
		return res, fmt.Errorf("start election: %w", err)
	}
	if res.Data != nil {
		s.rec.ApplyRound(*res.Data)
	}
	s.log.WithField("status", res.Status).Info("Election started")
	return res, nil
}

// DismissAlert resolves a leader-down alert without action.
func (s *Session) DismissAlert(id string) (failover.Event, error) {
	return s.rec.DismissAlert(id)
}

// ReelectAlert resolves a leader-down alert by requesting a re-election
// that excludes the failed leader.
func (s *Session) ReelectAlert(ctx context.Context, id string) (cluster.ElectionStartResult, error) {
	return s.rec.ReelectAlert(ctx, id, s.backend)
}

// Analyze uploads a scene for analysis.
func (s *Session) Analyze(ctx context.Context, fileName string, content []byte) (job.SceneInfo, error) {
	defer s.publishJob()
	return s.job.Upload(ctx, s.backend, fileName, content)
}

// Configure confirms render parameters.
func (s *Session) Configure(req job.Settings) (job.RenderConfig, error) {
	defer s.publishJob()
	return s.job.Configure(req)
}

// Distribute submits the job when the local node is the resolved leader.
func (s *Session) Distribute(ctx context.Context) error {
	defer s.publishJob()
	local := s.rec.LocalRole()
	return s.job.Distribute(ctx, local.Role, s.backend)
}

// ResetJob discards the job.
func (s *Session) ResetJob() error {
	defer s.publishJob()
	return s.job.Reset()
}

func (s *Session) publishJob() {
	v := s.job.Snapshot()
	frames := map[string]int{
		string(job.FramePending):    v.Count(job.FramePending),
		string(job.FrameProcessing): v.Count(job.FrameProcessing),
		string(job.FrameCompleted):  v.CompletedFrames,
		string(job.FrameFailed):     v.FailedFrames,
	}
	metrics.SetJob(string(v.Stage), frames, v.Progress)
}
