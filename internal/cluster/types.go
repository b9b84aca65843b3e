package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatusResponse is the body of GET /status: the local node identity and
// whether the node currently participates in discovery.
type StatusResponse struct {
	LocalPCName string `json:"local_pc_name"`
	LocalIP     string `json:"local_ip"`
	Running     bool   `json:"running"`
}

// DeviceWire is one raw entry of GET /devices.
//
// LastSeen and ResourceScore are kept raw because the backend has shipped
// epoch seconds, "HH:MM:SS" strings, nulls and missing fields over time.
// Interpretation happens in the snapshot package, never here.
type DeviceWire struct {
	Name          string          `json:"name"`
	IP            string          `json:"ip"`
	ResourceScore json.RawMessage `json:"resource_score,omitempty"`
	LastSeen      json.RawMessage `json:"last_seen,omitempty"`
}

// DeviceStats is the optional stats block that accompanies the enveloped
// form of GET /devices.
type DeviceStats struct {
	LocalPCName  string `json:"local_pc_name"`
	LocalIP      string `json:"local_ip"`
	TotalDevices int    `json:"total_devices"`
	OtherDevices int    `json:"other_devices"`
}

// DeviceList decodes either a bare JSON array of devices or the envelope
// {"devices": [...], "stats": {...}}.
type DeviceList struct {
	Stats   *DeviceStats
	Devices []DeviceWire
}

// UnmarshalJSON accepts both shapes of the device listing.
func (l *DeviceList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = DeviceList{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var devices []DeviceWire
		if err := json.Unmarshal(trimmed, &devices); err != nil {
			return err
		}
		*l = DeviceList{Devices: devices}
		return nil
	case '{':
		var env struct {
			Stats   *DeviceStats `json:"stats"`
			Devices []DeviceWire `json:"devices"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return err
		}
		*l = DeviceList{Devices: env.Devices, Stats: env.Stats}
		return nil
	default:
		return fmt.Errorf("device list: unexpected JSON token %q", trimmed[0])
	}
}

// RingNodeWire is one entry of election_results.ring_topology.
type RingNodeWire struct {
	IP            string          `json:"ip"`
	Name          string          `json:"name"`
	Role          string          `json:"role"`
	Successor     string          `json:"successor"`
	ResourceScore json.RawMessage `json:"resource_score,omitempty"`
	IsMe          bool            `json:"is_me"`
}

// ElectionResults carries the ring produced by the last election round.
type ElectionResults struct {
	ElectionMethod string         `json:"election_method"`
	RingTopology   []RingNodeWire `json:"ring_topology"`
}

// LeaderConsensus reports whether every node agrees on the current leader.
type LeaderConsensus struct {
	TotalNodes       int  `json:"total_nodes"`
	ConsensusReached bool `json:"consensus_reached"`
}

// ElectionStatus is the body of GET /election/status.
type ElectionStatus struct {
	CurrentLeader   *string          `json:"current_leader"`
	MyRole          *string          `json:"my_role"`
	ElectionResults *ElectionResults `json:"election_results"`
	LeaderConsensus *LeaderConsensus `json:"leader_consensus"`
	ElectionActive  bool             `json:"election_active"`
}

// ElectionRound is the data block some backends attach to POST /election/start.
type ElectionRound struct {
	LeaderIP       string         `json:"leader_ip"`
	InitiatorIP    string         `json:"initiator_ip"`
	ElectionMethod string         `json:"election_method"`
	RingTopology   []RingNodeWire `json:"ring_topology"`
}

// ElectionStartResult is the body of POST /election/start. Older backends
// only return Status/Message; newer ones complete the round synchronously
// and include Data.
type ElectionStartResult struct {
	Data    *ElectionRound `json:"data,omitempty"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
}

// ActionResult is the body of POST /start, /stop and /node_disconnected.
type ActionResult struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// SceneAnalysis is the body of POST /jobs/analyze. Two generations of the
// analyzer exist, so every field has an alias; use the accessor methods.
type SceneAnalysis struct {
	FrameStart   *int     `json:"frame_start,omitempty"`
	FrameEnd     *int     `json:"frame_end,omitempty"`
	StartFrame   *int     `json:"start_frame,omitempty"`
	EndFrame     *int     `json:"end_frame,omitempty"`
	FPS          *float64 `json:"fps,omitempty"`
	Samples      *int     `json:"samples,omitempty"`
	Renderer     string   `json:"renderer,omitempty"`
	Engine       string   `json:"engine,omitempty"`
	SceneName    string   `json:"scene_name,omitempty"`
	FileName     string   `json:"file_name,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	ResX         int      `json:"res_x,omitempty"`
	ResY         int      `json:"res_y,omitempty"`
}

// Range returns the analyzed frame range and whether both ends were present.
func (a SceneAnalysis) Range() (start, end int, ok bool) {
	s, e := a.FrameStart, a.FrameEnd
	if s == nil {
		s = a.StartFrame
	}
	if e == nil {
		e = a.EndFrame
	}
	if s == nil || e == nil {
		return 0, 0, false
	}
	return *s, *e, true
}

// RenderEngine returns the engine reported by either analyzer generation.
func (a SceneAnalysis) RenderEngine() string {
	if a.Renderer != "" {
		return a.Renderer
	}
	return a.Engine
}

// FrameReport is one entry of /render/progress frame_status.
type FrameReport struct {
	Frame       *int   `json:"frame,omitempty"`
	FrameNumber *int   `json:"frame_number,omitempty"`
	Status      string `json:"status"`
}

// Number returns the frame number regardless of which key carried it.
func (f FrameReport) Number() (int, bool) {
	if f.Frame != nil {
		return *f.Frame, true
	}
	if f.FrameNumber != nil {
		return *f.FrameNumber, true
	}
	return 0, false
}

// RenderProgress is the body of GET /render/progress.
type RenderProgress struct {
	FrameStatus     []FrameReport `json:"frame_status"`
	OverallProgress float64       `json:"overall_progress"`
	CompletedFrames int           `json:"completed_frames"`
}

// WorkerReport is one value of GET /render/worker-progress.
type WorkerReport struct {
	AssignedFrames  int     `json:"assignedFrames"`
	CompletedFrames int     `json:"completedFrames"`
	Percentage      float64 `json:"percentage"`
}

// JobSubmission holds the multipart fields of POST /jobs/upload.
type JobSubmission struct {
	Fields   map[string]string
	FileName string
	Content  []byte
}
