package job

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Stage is a render job's position in its lifecycle.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageUploaded     Stage = "uploaded"
	StageConfigured   Stage = "configured"
	StageDistributing Stage = "distributing"
	StageMonitoring   Stage = "monitoring"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

var (
	ErrInvalidTransition  = errors.New("invalid job transition")
	ErrNotLeader          = errors.New("only the elected leader may distribute")
	ErrEmptyFrameRange    = errors.New("frame range is empty")
	ErrFrameRangeTooLarge = errors.New("frame range is too large")
	ErrUnknownEngine      = errors.New("unknown render engine")
	ErrMissingMetadata    = errors.New("scene analysis is missing metadata")
)

// TransitionError rejects an operation that is not allowed in the current
// stage. The job is left unchanged.
type TransitionError struct {
	Op   string
	From Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: cannot %s while %s", ErrInvalidTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Engines accepted by the render backend. Analyzer and operator input may use
// the short display names as well.
var engineAliases = map[string]string{
	"CYCLES":             "CYCLES",
	"EEVEE":              "BLENDER_EEVEE",
	"BLENDER_EEVEE":      "BLENDER_EEVEE",
	"EEVEE_NEXT":         "BLENDER_EEVEE_NEXT",
	"BLENDER_EEVEE_NEXT": "BLENDER_EEVEE_NEXT",
	"WORKBENCH":          "BLENDER_WORKBENCH",
	"BLENDER_WORKBENCH":  "BLENDER_WORKBENCH",
}

// NormalizeEngine maps an engine name onto the backend's identifier.
func NormalizeEngine(name string) (string, bool) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	v, ok := engineAliases[key]
	return v, ok
}

// MaxFrames bounds the number of frames one job may render.
const MaxFrames = 100_000

// frameCount is the inclusive size of start..end, saturating at math.MaxInt.
func frameCount(start, end int) int {
	if end < start {
		return 0
	}
	// The unsigned difference is exact for any end >= start.
	d := uint64(end) - uint64(start)
	if d >= math.MaxInt {
		return math.MaxInt
	}
	return int(d) + 1
}

// CheckFrameRange validates an inclusive frame range for rendering.
func CheckFrameRange(start, end int) error {
	if start < 0 || end < start {
		return fmt.Errorf("%w: %d..%d", ErrEmptyFrameRange, start, end)
	}
	if frameCount(start, end) > MaxFrames {
		return fmt.Errorf("%w: %d..%d exceeds %d frames", ErrFrameRangeTooLarge, start, end, MaxFrames)
	}
	return nil
}

// SceneInfo is the metadata extracted from an uploaded scene.
type SceneInfo struct {
	SceneName       string  `json:"scene_name"`
	RenderEngine    string  `json:"render_engine"`
	OutputFormat    string  `json:"output_format,omitempty"`
	FrameStart      int     `json:"frame_start"`
	FrameEnd        int     `json:"frame_end"`
	FPS             float64 `json:"fps"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples,omitempty"`
	ResolutionX     int     `json:"resolution_x,omitempty"`
	ResolutionY     int     `json:"resolution_y,omitempty"`
}

// TotalFrames is the inclusive frame count.
func (s SceneInfo) TotalFrames() int { return frameCount(s.FrameStart, s.FrameEnd) }

// Duration is the playback length of the frame range.
func (s SceneInfo) Duration() time.Duration {
	if s.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(s.TotalFrames()) / s.FPS * float64(time.Second))
}

// Settings is the operator's render request. Nil frame bounds and zero
// values fall back to the uploaded scene.
type Settings struct {
	StartFrame          *int   `json:"start_frame,omitempty"`
	EndFrame            *int   `json:"end_frame,omitempty"`
	RenderEngine        string `json:"render_engine,omitempty"`
	OutputFormat        string `json:"output_format,omitempty"`
	Samples             int    `json:"samples,omitempty"`
	ResolutionX         int    `json:"resolution_x,omitempty"`
	ResolutionY         int    `json:"resolution_y,omitempty"`
	ParticipateAsWorker bool   `json:"participate_as_worker"`
}

// Frame returns a pointer to v for the frame bounds of Settings.
func Frame(v int) *int { return &v }

// RenderConfig holds the parameters confirmed by the operator.
type RenderConfig struct {
	RenderEngine        string `json:"render_engine"`
	OutputFormat        string `json:"output_format"`
	StartFrame          int    `json:"start_frame"`
	EndFrame            int    `json:"end_frame"`
	Samples             int    `json:"samples"`
	ResolutionX         int    `json:"resolution_x"`
	ResolutionY         int    `json:"resolution_y"`
	ParticipateAsWorker bool   `json:"participate_as_worker"`
}

// TotalFrames is the inclusive frame count.
func (c RenderConfig) TotalFrames() int { return frameCount(c.StartFrame, c.EndFrame) }

// FrameState is the render state of one frame.
type FrameState string

const (
	FramePending    FrameState = "pending"
	FrameProcessing FrameState = "processing"
	FrameCompleted  FrameState = "completed"
	FrameFailed     FrameState = "failed"
)

// ParseFrameState maps a backend frame status. ok is false for anything
// unrecognized.
func ParseFrameState(s string) (FrameState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued":
		return FramePending, true
	case "processing", "rendering", "assigned", "in_progress":
		return FrameProcessing, true
	case "completed", "complete", "done":
		return FrameCompleted, true
	case "failed", "error":
		return FrameFailed, true
	}
	return "", false
}

// FrameStatus is the authoritative state of one frame.
type FrameStatus struct {
	Status FrameState `json:"status"`
	Frame  int        `json:"frame"`
}

// WorkerProgress is one worker's self-reported progress. It is advisory and
// is never used to compute overall progress.
type WorkerProgress struct {
	AssignedFrames  int     `json:"assigned_frames"`
	CompletedFrames int     `json:"completed_frames"`
	Percentage      float64 `json:"percentage"`
}

// View is a copy of a job's state at one instant.
type View struct {
	UpdatedAt        time.Time                 `json:"updated_at"`
	Scene            *SceneInfo                `json:"scene,omitempty"`
	Config           *RenderConfig             `json:"config,omitempty"`
	Workers          map[string]WorkerProgress `json:"workers,omitempty"`
	ID               string                    `json:"id,omitempty"`
	FileName         string                    `json:"file_name,omitempty"`
	Stage            Stage                     `json:"stage"`
	LastError        string                    `json:"last_error,omitempty"`
	Frames           []FrameStatus             `json:"frames,omitempty"`
	Progress         float64                   `json:"progress"`
	TotalFrames      int                       `json:"total_frames"`
	CompletedFrames  int                       `json:"completed_frames"`
	FailedFrames     int                       `json:"failed_frames"`
	WorkerCompleted  int                       `json:"worker_completed"`
	WorkersDivergent bool                      `json:"workers_divergent"`
}

// Count returns the number of frames in state s.
func (v View) Count(s FrameState) int {
	n := 0
	for _, f := range v.Frames {
		if f.Status == s {
			n++
		}
	}
	return n
}
