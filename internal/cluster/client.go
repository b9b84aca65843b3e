package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBackendStatus is wrapped by every error produced from a non-2xx reply.
var ErrBackendStatus = errors.New("backend returned error status")

// StatusError describes a non-2xx reply from the backend.
type StatusError struct {
	URL  string
	Body string
	Code int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrBackendStatus }

// DefaultTimeout bounds a request when NewClient is given no timeout.
const DefaultTimeout = 5 * time.Second

// Client talks to the local backend service that owns discovery, election,
// scene analysis and render execution. Every method is a single request; the
// caller decides how often to poll and what to do on failure.
type Client struct {
	http *http.Client
	base string
}

// NewClient returns a client rooted at base, e.g. "http://localhost:5050/api".
// A zero timeout falls back to DefaultTimeout.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the root every request is resolved against.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do sends req and decodes a 2xx JSON reply into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.get(ctx, "/status", &out)
	return out, err
}

// Devices calls GET /devices.
func (c *Client) Devices(ctx context.Context) (DeviceList, error) {
	var out DeviceList
	err := c.get(ctx, "/devices", &out)
	return out, err
}

// Start calls POST /start to join discovery.
func (c *Client) Start(ctx context.Context) (ActionResult, error) {
	var out ActionResult
	err := c.post(ctx, "/start", nil, &out)
	return out, err
}

// Stop calls POST /stop to leave discovery.
func (c *Client) Stop(ctx context.Context) (ActionResult, error) {
	var out ActionResult
	err := c.post(ctx, "/stop", nil, &out)
	return out, err
}

// ElectionStatus calls GET /election/status.
func (c *Client) ElectionStatus(ctx context.Context) (ElectionStatus, error) {
	var out ElectionStatus
	err := c.get(ctx, "/election/status", &out)
	return out, err
}

// StartElection calls POST /election/start. When excludeIP is set it is sent
// as force_remove so the backend drops that device from the candidate set
// before the round begins.
func (c *Client) StartElection(ctx context.Context, excludeIP string) (ElectionStartResult, error) {
	path := "/election/start"
	if excludeIP != "" {
		path += "?" + url.Values{"force_remove": {excludeIP}}.Encode()
	}
	var out ElectionStartResult
	err := c.post(ctx, path, nil, &out)
	return out, err
}

// NodeDisconnected calls POST /node_disconnected so the backend can drop a
// device that stopped sending heartbeats.
func (c *Client) NodeDisconnected(ctx context.Context, ip string) (ActionResult, error) {
	var out ActionResult
	err := c.post(ctx, "/node_disconnected", map[string]string{"ip": ip}, &out)
	return out, err
}

// AnalyzeScene uploads a scene file to POST /jobs/analyze and returns the
// extracted metadata.
func (c *Client) AnalyzeScene(ctx context.Context, fileName string, content []byte) (SceneAnalysis, error) {
	var out SceneAnalysis
	err := c.multipart(ctx, "/jobs/analyze", JobSubmission{FileName: fileName, Content: content}, &out)
	return out, err
}

// SubmitJob uploads the configured job to POST /jobs/upload, which forwards
// it to the current leader.
func (c *Client) SubmitJob(ctx context.Context, sub JobSubmission) error {
	return c.multipart(ctx, "/jobs/upload", sub, nil)
}

// RenderProgress calls GET /render/progress.
func (c *Client) RenderProgress(ctx context.Context) (RenderProgress, error) {
	var out RenderProgress
	err := c.get(ctx, "/render/progress", &out)
	return out, err
}

// WorkerProgress calls GET /render/worker-progress.
func (c *Client) WorkerProgress(ctx context.Context) (map[string]WorkerReport, error) {
	out := make(map[string]WorkerReport)
	err := c.get(ctx, "/render/worker-progress", &out)
	return out, err
}

func (c *Client) multipart(ctx context.Context, path string, sub JobSubmission, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range sub.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("file", sub.FileName)
	if err != nil {
		return err
	}
	if _, err := fw.Write(sub.Content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}
