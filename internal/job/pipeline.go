package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/rendermesh/internal/cluster"
	"github.com/dreamware/rendermesh/internal/snapshot"
)

// DefaultFPS is assumed when the analyzer reports no frame rate.
const DefaultFPS = 24

// Analyzer extracts scene metadata from an uploaded file.
type Analyzer interface {
	AnalyzeScene(ctx context.Context, fileName string, content []byte) (cluster.SceneAnalysis, error)
}

// Submitter hands a configured job to the render backend.
type Submitter interface {
	SubmitJob(ctx context.Context, sub cluster.JobSubmission) error
}

// Pipeline is the state machine of the one render job owned by the local
// node. Every transition is guarded; a rejected transition leaves the job
// exactly as it was. Thread-safe: all methods may be called concurrently.
type Pipeline struct {
	updated time.Time
	scene   *SceneInfo
	config  *RenderConfig
	workers map[string]WorkerProgress
	log     logrus.FieldLogger
	now     func() time.Time
	id      string
	file    string
	stage   Stage
	lastErr string
	content []byte
	frames  []FrameStatus
	mu      sync.Mutex
}

// NewPipeline returns an idle pipeline.
func NewPipeline(log logrus.FieldLogger) *Pipeline {
	return &Pipeline{stage: StageIdle, log: log, now: time.Now}
}

func (p *Pipeline) entry() logrus.FieldLogger {
	return p.log.WithFields(logrus.Fields{"job_id": p.id, "stage": p.stage})
}

// setStage must be called with p.mu held.
func (p *Pipeline) setStage(s Stage) {
	p.entry().WithField("next", s).Info("Job stage changed")
	p.stage = s
	p.updated = p.now()
}

// Upload sends a scene file to the analyzer and moves Idle → Uploaded when
// the analysis carries a render engine and a frame range. On any failure the
// job stays Idle and the error is returned.
//
// Parameters:
//   - ctx: bounds the analyzer call
//   - a: scene analyzer, normally *cluster.Client
//   - fileName: original file name, used when the scene has no name
//   - content: raw scene file
//
// Returns:
//   - SceneInfo: the extracted metadata
//   - error: *TransitionError, ErrMissingMetadata or the analyzer error
func (p *Pipeline) Upload(ctx context.Context, a Analyzer, fileName string, content []byte) (SceneInfo, error) {
	p.mu.Lock()
	stage := p.stage
	p.mu.Unlock()
	if stage != StageIdle {
		return SceneInfo{}, &TransitionError{Op: "upload", From: stage}
	}

	res, err := a.AnalyzeScene(ctx, fileName, content)
	if err != nil {
		p.fail(fmt.Errorf("analyze %s: %w", fileName, err))
		return SceneInfo{}, err
	}
	info, err := sceneFromAnalysis(res, fileName)
	if err != nil {
		p.fail(err)
		return SceneInfo{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != StageIdle {
		return SceneInfo{}, &TransitionError{Op: "upload", From: p.stage}
	}
	p.id = uuid.NewString()
	p.file = fileName
	p.content = content
	p.scene = &info
	p.lastErr = ""
	p.entry().WithFields(logrus.Fields{
		"scene":  info.SceneName,
		"engine": info.RenderEngine,
		"frames": info.TotalFrames(),
	}).Info("Scene analyzed")
	p.setStage(StageUploaded)
	return info, nil
}

func sceneFromAnalysis(res cluster.SceneAnalysis, fileName string) (SceneInfo, error) {
	start, end, ok := res.Range()
	if !ok {
		return SceneInfo{}, fmt.Errorf("%w: frame range", ErrMissingMetadata)
	}
	engine := strings.TrimSpace(res.RenderEngine())
	if engine == "" {
		return SceneInfo{}, fmt.Errorf("%w: render engine", ErrMissingMetadata)
	}
	if canonical, known := NormalizeEngine(engine); known {
		engine = canonical
	}

	info := SceneInfo{
		SceneName:    strings.TrimSpace(res.SceneName),
		RenderEngine: engine,
		OutputFormat: res.OutputFormat,
		FrameStart:   start,
		FrameEnd:     end,
		FPS:          DefaultFPS,
		ResolutionX:  res.ResX,
		ResolutionY:  res.ResY,
	}
	if info.SceneName == "" {
		info.SceneName = strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	}
	if res.FPS != nil && *res.FPS > 0 {
		info.FPS = *res.FPS
	}
	if res.Samples != nil {
		info.Samples = *res.Samples
	}
	info.DurationSeconds = info.Duration().Seconds()
	return info, nil
}

// Configure records the operator's render parameters and moves Uploaded →
// Configured. A configured job may be reconfigured until it is distributed.
// Unset fields in req are filled from the scene, so frame 0 alone is
// requested with StartFrame and EndFrame both pointing at 0.
func (p *Pipeline) Configure(req Settings) (RenderConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage != StageUploaded && p.stage != StageConfigured {
		return RenderConfig{}, &TransitionError{Op: "configure", From: p.stage}
	}
	s := p.scene
	cfg := RenderConfig{
		RenderEngine:        req.RenderEngine,
		OutputFormat:        req.OutputFormat,
		StartFrame:          s.FrameStart,
		EndFrame:            s.FrameEnd,
		Samples:             req.Samples,
		ResolutionX:         req.ResolutionX,
		ResolutionY:         req.ResolutionY,
		ParticipateAsWorker: req.ParticipateAsWorker,
	}
	if req.StartFrame != nil {
		cfg.StartFrame = *req.StartFrame
	}
	if req.EndFrame != nil {
		cfg.EndFrame = *req.EndFrame
	}
	if cfg.RenderEngine == "" {
		cfg.RenderEngine = s.RenderEngine
	}
	if cfg.Samples == 0 {
		cfg.Samples = s.Samples
	}
	if cfg.ResolutionX == 0 && cfg.ResolutionY == 0 {
		cfg.ResolutionX, cfg.ResolutionY = s.ResolutionX, s.ResolutionY
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = s.OutputFormat
	}

	if err := CheckFrameRange(cfg.StartFrame, cfg.EndFrame); err != nil {
		return RenderConfig{}, err
	}
	engine, ok := NormalizeEngine(cfg.RenderEngine)
	if !ok {
		return RenderConfig{}, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.RenderEngine)
	}
	cfg.RenderEngine = engine

	p.config = &cfg
	if p.stage != StageConfigured {
		p.setStage(StageConfigured)
	}
	return cfg, nil
}

// Distribute submits the configured job and moves Configured → Distributing
// → Monitoring, initializing every frame in range as pending. Only the
// elected leader may distribute. When the submission fails the job returns
// to Configured so the operator can retry.
func (p *Pipeline) Distribute(ctx context.Context, local snapshot.Role, s Submitter) error {
	sub, cfg, err := p.beginDistribute(local)
	if err != nil {
		return err
	}

	err = s.SubmitJob(ctx, sub)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err.Error()
		p.entry().WithError(err).Warn("Job distribution failed")
		p.setStage(StageConfigured)
		return fmt.Errorf("distribute job: %w", err)
	}

	p.frames = make([]FrameStatus, 0, cfg.TotalFrames())
	for f := cfg.StartFrame; f <= cfg.EndFrame; f++ {
		p.frames = append(p.frames, FrameStatus{Frame: f, Status: FramePending})
	}
	p.workers = make(map[string]WorkerProgress)
	p.lastErr = ""
	p.setStage(StageMonitoring)
	return nil
}

// beginDistribute checks the guards and enters Distributing.
func (p *Pipeline) beginDistribute(local snapshot.Role) (cluster.JobSubmission, RenderConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage != StageConfigured {
		return cluster.JobSubmission{}, RenderConfig{}, &TransitionError{Op: "distribute", From: p.stage}
	}
	if local != snapshot.RoleLeader {
		return cluster.JobSubmission{}, RenderConfig{}, fmt.Errorf("%w: local role is %s", ErrNotLeader, local)
	}
	cfg := *p.config
	if err := CheckFrameRange(cfg.StartFrame, cfg.EndFrame); err != nil {
		return cluster.JobSubmission{}, RenderConfig{}, err
	}
	sub := cluster.JobSubmission{
		FileName: p.file,
		Content:  p.content,
		Fields:   submissionFields(cfg, p.scene.FPS),
	}
	p.setStage(StageDistributing)
	return sub, cfg, nil
}

func submissionFields(cfg RenderConfig, fps float64) map[string]string {
	return map[string]string{
		"renderer":                 cfg.RenderEngine,
		"frame_start":              strconv.Itoa(cfg.StartFrame),
		"frame_end":                strconv.Itoa(cfg.EndFrame),
		"fps":                      strconv.FormatFloat(fps, 'f', -1, 64),
		"samples":                  strconv.Itoa(cfg.Samples),
		"resolution_x":             strconv.Itoa(cfg.ResolutionX),
		"resolution_y":             strconv.Itoa(cfg.ResolutionY),
		"output_format":            cfg.OutputFormat,
		"initiator_is_participant": strconv.FormatBool(cfg.ParticipateAsWorker),
	}
}

// ApplyProgress merges a frame progress report while Monitoring. Frames
// outside the configured range and unknown statuses are ignored. Any failed
// frame moves the job to Failed; all frames completed moves it to Completed.
// It returns the resulting stage.
func (p *Pipeline) ApplyProgress(report cluster.RenderProgress) (Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage != StageMonitoring {
		return p.stage, &TransitionError{Op: "apply progress", From: p.stage}
	}
	start := p.config.StartFrame
	for _, fr := range report.FrameStatus {
		n, ok := fr.Number()
		if !ok || n < start || n > p.config.EndFrame {
			continue
		}
		st, ok := ParseFrameState(fr.Status)
		if !ok {
			continue
		}
		p.frames[n-start].Status = st
	}
	p.updated = p.now()

	completed, failed := 0, 0
	for _, f := range p.frames {
		switch f.Status {
		case FrameCompleted:
			completed++
		case FrameFailed:
			failed++
		}
	}
	switch {
	case failed > 0:
		p.lastErr = fmt.Sprintf("%d frame(s) failed", failed)
		p.setStage(StageFailed)
	case completed == len(p.frames):
		p.setStage(StageCompleted)
	}
	return p.stage, nil
}

// ApplyWorkerProgress records per-worker counters while Monitoring. Counts
// are clamped so a worker never completes more than it was assigned.
func (p *Pipeline) ApplyWorkerProgress(reports map[string]cluster.WorkerReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage != StageMonitoring {
		return &TransitionError{Op: "apply worker progress", From: p.stage}
	}
	workers := make(map[string]WorkerProgress, len(reports))
	for id, r := range reports {
		wp := WorkerProgress{
			AssignedFrames:  max(r.AssignedFrames, 0),
			CompletedFrames: min(max(r.CompletedFrames, 0), max(r.AssignedFrames, 0)),
			Percentage:      r.Percentage,
		}
		if wp.AssignedFrames > 0 {
			wp.Percentage = float64(wp.CompletedFrames) / float64(wp.AssignedFrames) * 100
		}
		workers[id] = wp
	}
	p.workers = workers
	p.updated = p.now()
	return nil
}

// Reset discards the job and returns to Idle. A job cannot be reset while
// its submission is in flight.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage == StageDistributing {
		return &TransitionError{Op: "reset", From: p.stage}
	}
	if p.stage != StageIdle {
		p.setStage(StageIdle)
	}
	p.id, p.file, p.lastErr = "", "", ""
	p.content, p.scene, p.config, p.frames, p.workers = nil, nil, nil, nil, nil
	return nil
}

// Stage returns the current stage.
func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Snapshot returns a copy of the job's state. Progress is computed from the
// frame list alone; worker counters are reported next to it and flagged when
// they disagree.
func (p *Pipeline) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := View{
		ID:        p.id,
		Stage:     p.stage,
		FileName:  p.file,
		LastError: p.lastErr,
		UpdatedAt: p.updated,
	}
	if p.scene != nil {
		s := *p.scene
		v.Scene = &s
	}
	if p.config != nil {
		c := *p.config
		v.Config = &c
		v.TotalFrames = c.TotalFrames()
	}
	if p.frames != nil {
		v.Frames = append([]FrameStatus(nil), p.frames...)
		v.TotalFrames = len(p.frames)
	}
	v.CompletedFrames = v.Count(FrameCompleted)
	v.FailedFrames = v.Count(FrameFailed)
	if v.TotalFrames > 0 {
		v.Progress = float64(v.CompletedFrames) / float64(v.TotalFrames)
	}

	if len(p.workers) > 0 {
		v.Workers = make(map[string]WorkerProgress, len(p.workers))
		for id, w := range p.workers {
			v.Workers[id] = w
			v.WorkerCompleted += w.CompletedFrames
		}
		v.WorkersDivergent = v.WorkerCompleted != v.CompletedFrames
	}
	return v
}

// fail records an error without changing the stage.
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err.Error()
	p.entry().WithError(err).Warn("Job operation failed")
}
