// Package clustertest provides an in-memory render backend for tests. It
// serves the same HTTP endpoints as a real node backend and records every
// action it receives.
package clustertest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/dreamware/rendermesh/internal/cluster"
)

// Upload is one multipart request received by the fake.
type Upload struct {
	Fields   map[string]string
	FileName string
	Content  []byte
}

// Backend is a scriptable fake backend. Set its exported state through the
// setter methods; they are safe to call while the server is in use.
type Backend struct {
	Server *httptest.Server

	status      cluster.StatusResponse
	devices     cluster.DeviceList
	election    cluster.ElectionStatus
	startResult cluster.ElectionStartResult
	analysis    cluster.SceneAnalysis
	progress    cluster.RenderProgress
	workers     map[string]cluster.WorkerReport
	failures    map[string]int

	excluded     []string
	disconnected []string
	uploads      []Upload
	analyzed     []Upload

	mu sync.Mutex
}

// NewBackend starts a fake backend for the local node name@ip. Discovery is
// initially stopped. Close it with b.Server.Close.
func NewBackend(name, ip string) *Backend {
	b := &Backend{
		status:      cluster.StatusResponse{LocalPCName: name, LocalIP: ip},
		startResult: cluster.ElectionStartResult{Status: "success", Message: "election started"},
		workers:     map[string]cluster.WorkerReport{},
		failures:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", b.get(func() any { return b.status }))
	mux.HandleFunc("/devices", b.get(func() any { return b.deviceEnvelope() }))
	mux.HandleFunc("/election/status", b.get(func() any { return b.election }))
	mux.HandleFunc("/render/progress", b.get(func() any { return b.progress }))
	mux.HandleFunc("/render/worker-progress", b.get(func() any { return b.workers }))
	mux.HandleFunc("/start", b.handleRunning(true))
	mux.HandleFunc("/stop", b.handleRunning(false))
	mux.HandleFunc("/election/start", b.handleElectionStart)
	mux.HandleFunc("/node_disconnected", b.handleDisconnected)
	mux.HandleFunc("/jobs/analyze", b.handleMultipart(false))
	mux.HandleFunc("/jobs/upload", b.handleMultipart(true))
	b.Server = httptest.NewServer(mux)
	return b
}

// URL returns the base URL to pass to cluster.NewClient.
func (b *Backend) URL() string { return b.Server.URL }

// Close shuts the server down.
func (b *Backend) Close() { b.Server.Close() }

// SetRunning sets the discovery flag reported by /status.
func (b *Backend) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Running = running
}

// SetDevices replaces the device listing.
func (b *Backend) SetDevices(devices ...cluster.DeviceWire) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = cluster.DeviceList{Devices: devices}
}

// SetElection replaces the election status.
func (b *Backend) SetElection(e cluster.ElectionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.election = e
}

// SetStartResult sets the body returned by POST /election/start.
func (b *Backend) SetStartResult(r cluster.ElectionStartResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startResult = r
}

// SetAnalysis sets the body returned by POST /jobs/analyze.
func (b *Backend) SetAnalysis(a cluster.SceneAnalysis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.analysis = a
}

// SetProgress sets the body returned by GET /render/progress.
func (b *Backend) SetProgress(p cluster.RenderProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = p
}

// SetWorkers sets the body returned by GET /render/worker-progress.
func (b *Backend) SetWorkers(w map[string]cluster.WorkerReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers = w
}

// Fail makes path answer with code until Fail(path, 0) is called.
func (b *Backend) Fail(path string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code == 0 {
		delete(b.failures, path)
		return
	}
	b.failures[path] = code
}

// Excluded returns the force_remove values of every election request, with
// "" for requests that excluded nobody.
func (b *Backend) Excluded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.excluded...)
}

// Disconnected returns the ips reported through /node_disconnected.
func (b *Backend) Disconnected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.disconnected...)
}

// Uploads returns the jobs submitted through /jobs/upload.
func (b *Backend) Uploads() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload(nil), b.uploads...)
}

// Analyzed returns the files sent to /jobs/analyze.
func (b *Backend) Analyzed() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload(nil), b.analyzed...)
}

func (b *Backend) deviceEnvelope() any {
	return map[string]any{
		"devices": b.devices.Devices,
		"stats": cluster.DeviceStats{
			LocalPCName:  b.status.LocalPCName,
			LocalIP:      b.status.LocalIP,
			TotalDevices: len(b.devices.Devices),
		},
	}
}

// failed writes the scripted failure for r, if any. b.mu must be held.
func (b *Backend) failed(w http.ResponseWriter, r *http.Request) bool {
	code, ok := b.failures[r.URL.Path]
	if !ok {
		return false
	}
	http.Error(w, http.StatusText(code), code)
	return true
}

func (b *Backend) get(body func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failed(w, r) {
			return
		}
		writeJSON(w, body())
	}
}

func (b *Backend) handleRunning(running bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failed(w, r) {
			return
		}
		b.status.Running = running
		if !running {
			b.devices = cluster.DeviceList{}
		}
		writeJSON(w, cluster.ActionResult{Success: true, Message: "ok"})
	}
}

func (b *Backend) handleElectionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed(w, r) {
		return
	}
	b.excluded = append(b.excluded, r.URL.Query().Get("force_remove"))
	writeJSON(w, b.startResult)
}

func (b *Backend) handleDisconnected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed(w, r) {
		return
	}
	b.disconnected = append(b.disconnected, req.IP)
	writeJSON(w, cluster.ActionResult{Success: true})
}

func (b *Backend) handleMultipart(submit bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		up := Upload{FileName: hdr.Filename, Content: content, Fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				up.Fields[k] = v[0]
			}
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failed(w, r) {
			return
		}
		if submit {
			b.uploads = append(b.uploads, up)
			writeJSON(w, map[string]string{"status": "accepted"})
			return
		}
		b.analyzed = append(b.analyzed, up)
		writeJSON(w, b.analysis)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
