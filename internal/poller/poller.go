// Package poller runs the refresh loop: fetch the next event, derive the
// light state, write it to the driver.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"busylight/internal/calendar"
	"busylight/internal/gpio"
	"busylight/internal/light"
	appLog "busylight/internal/log"
)

// Clock supplies the current wall-clock time.
type Clock func() time.Time

// Options bundles everything the loop needs. It is built once in main and
// never shared.
type Options struct {
	Client     calendar.Client
	Driver     gpio.Driver
	CalendarID string
	Interval   time.Duration

	// Location is the zone working hours are evaluated in. Nil means
	// time.Local.
	Location *time.Location
	// Clock defaults to time.Now.
	Clock Clock
	// TickTimeout bounds a single fetch. Zero means the interval, capped at
	// one minute.
	TickTimeout time.Duration
}

// Poller drives the light from the calendar. Ticks never overlap.
type Poller struct {
	opts Options

	tickMu sync.Mutex // serializes Tick

	mu      sync.RWMutex
	state   light.State
	applied bool
}

func New(opts Options) (*Poller, error) {
	if opts.Client == nil {
		return nil, errors.New("poller: calendar client is required")
	}
	if opts.Driver == nil {
		return nil, errors.New("poller: driver is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("poller: interval must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = min(opts.Interval, time.Minute)
	}
	return &Poller{opts: opts}, nil
}

// State returns the last state handed to the driver. It is light.Off until
// the first successful tick.
func (p *Poller) State() light.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Tick performs one fetch/derive/write cycle and returns the derived state.
//
// A fetch error is returned unchanged in meaning (wrapped) and the driver is
// not touched, so the light keeps showing the previous state. A driver error
// is returned as well, but the state still counts as applied.
func (p *Poller) Tick(ctx context.Context) (light.State, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.opts.TickTimeout)
	defer cancel()

	now := p.opts.Clock().In(p.opts.Location)
	next, err := p.opts.Client.Next(ctx, p.opts.CalendarID, now)
	if err != nil {
		return p.State(), fmt.Errorf("fetch next event: %w", err)
	}

	now = p.opts.Clock().In(p.opts.Location)
	state := light.Derive(now, next)

	p.mu.Lock()
	prev, applied := p.state, p.applied
	p.state, p.applied = state, true
	p.mu.Unlock()

	summary := ""
	if next != nil {
		summary = next.Summary
	}
	if !applied || prev != state {
		appLog.Info("light state changed", "from", prev, "to", state, "summary", summary)
	} else {
		appLog.Debug("light state unchanged", "state", state, "summary", summary)
	}

	if err := p.opts.Driver.Set(state); err != nil {
		return state, fmt.Errorf("set light %s: %w", state, err)
	}
	return state, nil
}

// Run ticks immediately and then every Interval until ctx is done. Errors
// from individual ticks are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	appLog.Info("poller starting", "calendar_id", p.opts.CalendarID, "interval", p.opts.Interval)

	p.runTick(ctx)

	c := cron.New(
		cron.WithLogger(appLog.CronLogger{}),
		cron.WithChain(
			cron.Recover(appLog.CronLogger{}),
			cron.SkipIfStillRunning(appLog.CronLogger{}),
		),
	)
	schedule := "@every " + p.opts.Interval.String()
	if _, err := c.AddFunc(schedule, func() { p.runTick(ctx) }); err != nil {
		return fmt.Errorf("poller: schedule %q: %w", schedule, err)
	}
	c.Start()

	<-ctx.Done()
	appLog.Info("poller stopping")
	<-c.Stop().Done()
	return nil
}

func (p *Poller) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.Tick(ctx); err != nil {
		appLog.Error("tick failed", err, "calendar_id", p.opts.CalendarID, "state", p.State())
	}
}
