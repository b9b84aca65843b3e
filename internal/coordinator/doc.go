// Package coordinator implements the reconciliation engine of a rendermesh
// node: it polls the local backend, merges device and election snapshots into
// one consistent view, detects a failed leader and gates the render job on
// the node's resolved role.
//
// # Overview
//
// The backend exposes two independent services, device discovery and leader
// election, that update on their own schedules and may briefly disagree.
// The coordinator is the only place that sees both. Presentation layers read
// its View and never re-derive liveness or roles themselves.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                   SESSION                     │
//	├───────────────────────────────────────────────┤
//	│                                               │
//	│  Pollers (one per source, fixed interval)     │
//	│    status ─────────────┐  always running      │
//	│    devices ────────┐   │                      │
//	│    election ─────┐ │   │  while discovery     │
//	│    render ─────┐ │ │   │  is running          │
//	│    workers ──┐ │ │ │   │                      │
//	│              ▼ ▼ ▼ ▼   ▼                      │
//	│  ┌─────────────────────────────────────────┐  │
//	│  │  Reconciler (one lock, atomic recompute)│  │
//	│  │   snapshot → liveness → role → ring     │  │
//	│  │   failure detector (falling edges)      │  │
//	│  └─────────────────────────────────────────┘  │
//	│              │                                │
//	│              ▼ LocalRole                      │
//	│  ┌─────────────────────────────────────────┐  │
//	│  │  Job pipeline (leader-only distribute)  │  │
//	│  └─────────────────────────────────────────┘  │
//	└───────────────────────────────────────────────┘
//
// # Core Components
//
// Reconciler: holds the latest device and election snapshots
//   - Each Apply call replaces one input wholesale
//   - Derived state is recomputed from both inputs under the same lock
//   - Observes liveness falling edges on every device snapshot
//
// Poller: one periodic task per data source
//   - First poll runs immediately, then every interval
//   - A failed poll keeps the previous snapshot and records a soft error
//   - Stop cancels any in-flight request and waits for the goroutine
//
// Session: lifecycle and operator actions
//   - Starts network pollers when discovery runs, stops them when it stops
//   - Reports non-leader failures to the backend
//   - Routes job actions through the pipeline with the resolved local role
//
// # Failure Handling
//
// Transport errors never clear state. Malformed fields are replaced with
// defaults during ingestion and counted. A ring that fails validation or a
// leader ip missing from the device list is reported as an inconsistency in
// the View while the partial picture stays available.
//
// When the resolved leader goes from online to offline, one alert is raised
// and kept pending until the operator dismisses it or requests re-election.
// With auto re-election enabled the session requests it immediately. The
// coordinator never chooses a new leader; it waits for the election service
// to report one.
//
// # Usage Example
//
//	rec := coordinator.NewReconciler(log)
//	sess := coordinator.NewSession(client, rec, job.NewPipeline(log),
//	    coordinator.Options{Interval: 2 * time.Second}, log)
//	go sess.Run(ctx)
//
//	view := rec.View()
//	for _, d := range view.Devices {
//	    fmt.Println(d.Name, d.Status, d.Role.Role)
//	}
package coordinator
