package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/rendermesh/internal/metrics"
)

// PollFunc fetches one snapshot and applies it. A returned error is a soft
// failure: the previous snapshot stays in place and the next tick retries.
type PollFunc func(ctx context.Context) error

// Poller runs one PollFunc at a fixed interval until it is stopped.
// Each data source gets its own Poller so a slow source never delays
// another. There is no backoff; a failed poll is retried on the next tick.
// Thread-safe: Start and Stop may be called from any goroutine.
type Poller struct {
	fn       PollFunc           // Poll to run every interval
	log      logrus.FieldLogger // Logger carrying the source field
	ctx      context.Context    // Internal context, canceled by Stop
	cancel   context.CancelFunc // Cancel function for shutdown
	name     string             // Source name used in logs and metrics
	interval time.Duration      // How often to poll
	timeout  time.Duration      // Bound on a single poll
	wg       sync.WaitGroup     // Wait group for graceful shutdown
	once     sync.Once          // Guards Start
}

// NewPoller creates a poller for source name.
//
// Parameters:
//   - name: source name, e.g. "devices"
//   - interval: how often to poll (default 2s)
//   - fn: fetch-and-apply function
//   - log: base logger
//
// Returns:
//   - *Poller: ready to Start
//
// Example:
//
//	p := NewPoller("devices", 2*time.Second, s.pollDevices, log)
//	p.Start(ctx)
//	defer p.Stop()
func NewPoller(name string, interval time.Duration, fn PollFunc, log logrus.FieldLogger) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		name:     name,
		interval: interval,
		timeout:  interval,
		fn:       fn,
		log:      log.WithField("source", name),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the polling goroutine. The first poll runs immediately.
// The loop exits when ctx is canceled or Stop is called. Calling Start more
// than once has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.once.Do(func() {
		p.wg.Add(1)
		go p.loop(ctx)
	})
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval).Debug("Poller started")
	p.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-ctx.Done():
			p.log.Debug("Poller stopping due to context cancellation")
			return
		case <-p.ctx.Done():
			p.log.Debug("Poller stopping due to internal cancellation")
			return
		}
	}
}

// runOnce performs one poll bounded by the interval, so a hung backend
// cannot stack polls. Canceling either context aborts the request.
func (p *Poller) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	start := time.Now()
	err := p.fn(ctx)
	metrics.RecordPoll(p.name, time.Since(start), err)
	if err != nil && parent.Err() == nil && p.ctx.Err() == nil {
		p.log.WithError(err).Warn("Poll failed, keeping previous snapshot")
	}
}

// Stop cancels the poller and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Name returns the source name.
func (p *Poller) Name() string { return p.name }
