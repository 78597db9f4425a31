package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stackdeck/stackdeck/internal/service"
)

// Poller runs the periodic indicator refresh and auto-update sweep. One
// instance exists per process; it is started once at startup and stopped at
// shutdown.
//
// The timer goroutine never runs a sweep itself. It feeds a capacity-one
// tick channel with a non-blocking send, and a single consumer drains it:
// a tick that fires while a sweep is still in flight is dropped, so sweeps
// never overlap.
type Poller struct {
	svc      *service.StackService
	interval time.Duration
	logger   *slog.Logger

	ticks  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller sweeping at the given interval.
func New(svc *service.StackService, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger,
		ticks:    make(chan struct{}, 1),
	}
}

// Start launches the timer and sweep goroutines. Calling Start twice is a
// programming error.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("starting background poller", "interval", p.interval)

	p.wg.Add(2)
	go p.tickLoop(ctx)
	go p.sweepLoop(ctx)
}

// Stop cancels the loops and waits for an in-flight sweep to wind down.
// A sweep interrupted mid-iteration leaves already-processed stacks
// persisted and the rest untouched.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("background poller stopped")
}

func (p *Poller) tickLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case p.ticks <- struct{}{}:
			default:
				// Previous sweep still in flight; skip this tick.
				p.logger.Debug("sweep in progress, skipping tick")
			}
		}
	}
}

func (p *Poller) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ticks:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	refresh, err := p.svc.RefreshAllIndicators(ctx, false)
	if err != nil {
		p.logger.Error("indicator refresh failed", "error", err)
	} else {
		p.logger.Debug("indicator refresh completed",
			"total", refresh.Total, "success", refresh.Success, "errors", refresh.Errors)
	}

	sweep, err := p.svc.Sweep(ctx, false)
	if err != nil {
		p.logger.Error("auto-update sweep failed", "error", err)
		return
	}
	if sweep.Total > 0 {
		p.logger.Info("auto-update sweep completed",
			"total", sweep.Total, "success", sweep.Success, "errors", sweep.Errors)
	}
}
