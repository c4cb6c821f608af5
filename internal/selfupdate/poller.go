package selfupdate

import (
	"context"
	"errors"
	"time"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
	"github.com/sony/gobreaker"
)

const DefaultPollInterval = 6 * time.Hour

// CheckFunc is what the poller calls on each tick; Checker.Check fits.
type CheckFunc func(ctx context.Context) (CheckResult, error)

// Poller checks for updates on a fixed interval. Repeated failures open a
// circuit breaker so an unreachable feed is not hammered.
type Poller struct {
	check    CheckFunc
	interval time.Duration
	breaker  *gobreaker.CircuitBreaker
	log      *logger.Logger
}

func NewPoller(check CheckFunc, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		check:    check,
		interval: interval,
		log:      logger.NewLogger("poller"),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "update-feed",
		Timeout: 4 * interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.log.Warnf("Circuit breaker %s state changed from %v to %v", name, from, to)
		},
	})
	return p
}

// Run checks once right away and then on every tick until ctx is done.
// onAvailable receives each result that reports a newer release; when it
// returns true the poller stops and Run returns nil.
func (p *Poller) Run(ctx context.Context, onAvailable func(CheckResult) bool) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if res, ok := p.poll(ctx); ok && res.UpdateAvailable() && onAvailable(res) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) (CheckResult, bool) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.check(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.log.Debug("update feed breaker open, skipping check")
		return CheckResult{}, false
	case err != nil:
		if ctx.Err() == nil {
			p.log.WithError(err).Warn("update check failed")
		}
		return CheckResult{}, false
	}
	return out.(CheckResult), true
}

// State reports the breaker state, mostly for logs and tests.
func (p *Poller) State() gobreaker.State {
	return p.breaker.State()
}
