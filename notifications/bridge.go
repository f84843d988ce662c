// Package notifications polls the notification list, raises a local alert for
// each unread item not seen before on this device, and keeps the badge equal
// to the server's unread count.
//
// An id is added to the seen set before its alert is emitted. A crash between
// the two loses that alert rather than repeating it; a failed alert is logged
// and not retried.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultForegroundInterval = 30 * time.Second
	DefaultBackgroundInterval = 15 * time.Minute

	checkTimeout = time.Minute
)

// Mode is the current scheduling mode.
type Mode int

const (
	Idle Mode = iota
	Foreground
	Background
)

func (m Mode) String() string {
	switch m {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "idle"
	}
}

// Result summarises one check.
type Result struct {
	Unread  int
	Alerted []uuid.UUID
}

type Bridge struct {
	api     API
	seen    SeenSet
	alerter Alerter
	badge   Badge
	onError func(error)
	logger  zerolog.Logger

	fgInterval time.Duration
	bgInterval time.Duration

	mu      sync.Mutex
	mode    Mode
	gen     uint64
	stop    chan struct{}
	bgTimer *time.Timer
}

type Option func(*Bridge)

func WithIntervals(foreground, background time.Duration) Option {
	return func(b *Bridge) {
		b.fgInterval = foreground
		b.bgInterval = background
	}
}

func WithBadge(badge Badge) Option {
	return func(b *Bridge) { b.badge = badge }
}

// WithErrorHandler receives the error of every failed scheduled check.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Bridge) { b.onError = fn }
}

func New(api API, seen SeenSet, alerter Alerter, opts ...Option) *Bridge {
	b := &Bridge{
		api:        api,
		seen:       seen,
		alerter:    alerter,
		badge:      noBadge{},
		onError:    func(error) {},
		logger:     log.With().Str("component", "notifications").Logger(),
		fgInterval: DefaultForegroundInterval,
		bgInterval: DefaultBackgroundInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CheckOnce fetches the list, alerts for unread items not yet seen, and sets
// the badge to the unread total. A seen-set failure stops alerting for this
// check, but the badge is still set. Safe to run concurrently with itself.
func (b *Bridge) CheckOnce(ctx context.Context) (Result, error) {
	list, err := b.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, n := range list {
		if !n.IsRead {
			res.Unread++
		}
	}
	defer b.badge.SetBadge(res.Unread)

	for _, n := range list {
		if n.IsRead {
			continue
		}
		added, err := b.claim(ctx, n.ID)
		if err != nil {
			b.logger.Err(err).Str("id", n.ID.String()).Msg("Seen set unavailable, skipping remaining alerts")
			return res, err
		}
		if !added {
			continue
		}

		if err := b.alerter.Alert(ctx, Alert{ID: n.ID, Title: n.Title, Body: n.Content}); err != nil {
			b.logger.Err(err).Str("id", n.ID.String()).Msg("Failed to emit alert")
			continue
		}
		res.Alerted = append(res.Alerted, n.ID)
	}

	b.logger.Debug().Int("unread", res.Unread).Int("alerted", len(res.Alerted)).Msg("Notification check complete")
	return res, nil
}

// claim marks id seen and reports whether this call was the one to do it.
// Overlapping checks race on Add, so only one of them alerts.
func (b *Bridge) claim(ctx context.Context, id uuid.UUID) (bool, error) {
	seen, err := b.seen.Contains(ctx, id)
	if err != nil || seen {
		return false, err
	}
	return b.seen.Add(ctx, id)
}

// StartPeriodic checks immediately and then every interval until
// StopPeriodic. It replaces any existing schedule.
func (b *Bridge) StartPeriodic(interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.mode = Foreground
	stop := make(chan struct{})
	b.stop = stop
	go b.loop(interval, stop)
}

// StopPeriodic cancels the schedule. A check already running completes.
func (b *Bridge) StopPeriodic() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.mode = Idle
}

// EnterForeground polls at the foreground cadence.
func (b *Bridge) EnterForeground() {
	b.StartPeriodic(b.fgInterval)
}

// EnterBackground stops the fixed cadence and arranges one check after the
// background interval, repeating until foregrounded or stopped.
func (b *Bridge) EnterBackground() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.mode = Background
	b.armBackgroundLocked(b.gen)
}

func (b *Bridge) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// ResetSeen forgets every surfaced id, e.g. on sign-out.
func (b *Bridge) ResetSeen(ctx context.Context) error {
	return b.seen.Reset(ctx)
}

// resetLocked must be called with mu held.
func (b *Bridge) resetLocked() {
	b.gen++
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	if b.bgTimer != nil {
		b.bgTimer.Stop()
		b.bgTimer = nil
	}
}

func (b *Bridge) armBackgroundLocked(gen uint64) {
	b.bgTimer = time.AfterFunc(b.bgInterval, func() {
		b.scheduledCheck()

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen == gen && b.mode == Background {
			b.armBackgroundLocked(gen)
		}
	})
}

func (b *Bridge) loop(interval time.Duration, stop <-chan struct{}) {
	b.scheduledCheck()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.scheduledCheck()
		}
	}
}

func (b *Bridge) scheduledCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if _, err := b.CheckOnce(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("Notification check failed")
		b.onError(err)
	}
}
