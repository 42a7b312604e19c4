// Package schedule delivers reminders for upcoming meetings.
//
// A [Reminder] periodically asks the [history.Store] for schedules starting
// within the reminder window and hands each one to the configured notify
// callback exactly once: delivered schedules are flagged in the store, so
// neither later ticks nor process restarts re-notify.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"talkwise/internal/history"
)

const (
	// defaultWindow is how far ahead of the start time a reminder fires.
	defaultWindow = 24 * time.Hour

	// defaultCheckInterval is the default period between store polls.
	defaultCheckInterval = time.Minute
)

// Reminder polls for due schedules and notifies about each once.
//
// All methods are safe for concurrent use.
type Reminder struct {
	store    history.Store
	notify   func(history.Schedule)
	window   time.Duration
	interval time.Duration

	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// Config configures a [Reminder].
type Config struct {
	// Store is the history store to poll for due schedules.
	Store history.Store

	// Notify is called once per due schedule. Must not be nil.
	Notify func(history.Schedule)

	// Window is how far ahead reminders fire. Defaults to 24 hours if zero.
	Window time.Duration

	// Interval is how often the store is polled. Defaults to 1 minute if
	// zero.
	Interval time.Duration
}

// New creates a [Reminder] with the given configuration.
func New(cfg Config) *Reminder {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Reminder{
		store:    cfg.Store,
		notify:   cfg.Notify,
		window:   window,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic checking in a background goroutine. The goroutine
// runs until [Reminder.Stop] is called or ctx is cancelled.
func (r *Reminder) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the reminder loop. Safe to call multiple times.
func (r *Reminder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// CheckNow performs an immediate check, notifying about every schedule that
// starts within the reminder window and has not been reminded yet.
func (r *Reminder) CheckNow(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.check(ctx)
}

// loop runs the periodic check ticker.
func (r *Reminder) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if err := r.check(ctx); err != nil {
				slog.Warn("schedule reminder check failed", "error", err)
			}
			r.mu.Unlock()
		}
	}
}

// check notifies about all currently due schedules. Must be called with
// r.mu held.
func (r *Reminder) check(ctx context.Context) error {
	due, err := r.store.DueSchedules(ctx, time.Now(), r.window)
	if err != nil {
		return fmt.Errorf("due schedules: %w", err)
	}

	var markErr error
	for _, sch := range due {
		// Flag first so a crashing notify callback cannot cause a
		// re-notification storm on the next tick.
		if err := r.store.MarkReminded(ctx, sch.ID); err != nil {
			markErr = fmt.Errorf("mark reminded %s: %w", sch.ID, err)
			slog.Warn("failed to mark schedule as reminded",
				"schedule_id", sch.ID,
				"error", err,
			)
			continue
		}

		slog.Info("meeting reminder",
			"schedule_id", sch.ID,
			"title", sch.Title,
			"starts_at", sch.StartsAt,
		)
		r.notify(sch)
	}
	return markErr
}
