// Package job implements the lifecycle of the one render job a node owns.
//
// # Overview
//
// A job moves through a fixed sequence of stages:
//
//	Idle → Uploaded → Configured → Distributing → Monitoring → Completed
//	                                                         ↘ Failed
//
// Transitions are driven by explicit operator actions and by progress
// reports, never by the polling loop on its own. Every transition is guarded
// and a rejected one returns a specific error without touching the job:
//
//   - Upload requires Idle and a scene analysis with an engine and frame range
//   - Configure requires a known render engine and a frame range of 1 to
//     MaxFrames frames starting at frame 0 or later
//   - Distribute requires the local node to be the elected leader
//   - Reset is refused while a submission is in flight
//
// # Progress
//
// The per-frame status list is the only source of overall progress:
// completed frames divided by total frames. Workers also report their own
// assigned and completed counters. Those are shown next to the frame counts
// and flagged when they disagree, but never substituted for them.
//
// # Usage Example
//
//	p := job.NewPipeline(log)
//	if _, err := p.Upload(ctx, client, "shot.blend", data); err != nil {
//	    return err
//	}
//	if _, err := p.Configure(job.Settings{StartFrame: job.Frame(1), EndFrame: job.Frame(10)}); err != nil {
//	    return err
//	}
//	err := p.Distribute(ctx, localRole, client)
package job
