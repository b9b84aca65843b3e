// Package cluster is the boundary between rendermesh and the local backend
// service that owns discovery, leader election, scene analysis and render
// execution.
//
// # Overview
//
// The backend is treated as an oracle: every answer may be stale, partial or
// temporarily unavailable. This package only moves bytes. It decodes the
// backend's JSON into wire structs that mirror the payloads exactly, keeping
// ambiguous fields (timestamps, scores) raw so that the snapshot package can
// normalize them once, in one place.
//
// # Endpoints
//
//	GET  /status                 local identity, discovery flag
//	GET  /devices                device list (bare array or envelope)
//	POST /start, /stop           join or leave discovery
//	GET  /election/status        current election snapshot
//	POST /election/start         trigger an election (optional force_remove)
//	POST /node_disconnected      report a device that stopped heartbeating
//	POST /jobs/analyze           scene metadata extraction (multipart)
//	POST /jobs/upload            submit a configured job to the leader (multipart)
//	GET  /render/progress        frame-level progress
//	GET  /render/worker-progress per-worker progress
//
// # Failure Handling
//
// Every call is a single request bounded by the client timeout (default 5s)
// and the caller's context. Non-2xx replies become *StatusError, which wraps
// ErrBackendStatus. Nothing here retries; polling cadence and the decision to
// keep the previous snapshot belong to the coordinator package.
//
// # Usage Example
//
//	c := cluster.NewClient("http://localhost:5050/api", 5*time.Second)
//	devs, err := c.Devices(ctx)
//	if err != nil {
//	    log.Printf("device poll failed: %v", err)
//	}
package cluster
