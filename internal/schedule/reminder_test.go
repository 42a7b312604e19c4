package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"talkwise/internal/history"
	"talkwise/internal/history/mock"
	"talkwise/internal/schedule"
)

type notifyRecorder struct {
	mu        sync.Mutex
	schedules []history.Schedule
}

func (n *notifyRecorder) notify(sch history.Schedule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.schedules = append(n.schedules, sch)
}

func (n *notifyRecorder) got() []history.Schedule {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]history.Schedule, len(n.schedules))
	copy(out, n.schedules)
	return out
}

func TestCheckNowNotifiesDueSchedulesOnce(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	now := time.Now()
	for _, sch := range []history.Schedule{
		{ID: "sch-soon", Title: "standup", StartsAt: now.Add(2 * time.Hour), CreatedAt: now},
		{ID: "sch-far", Title: "next month", StartsAt: now.Add(40 * 24 * time.Hour), CreatedAt: now},
	} {
		if err := store.SaveSchedule(context.Background(), sch); err != nil {
			t.Fatalf("SaveSchedule() error = %v", err)
		}
	}

	rec := &notifyRecorder{}
	r := schedule.New(schedule.Config{Store: store, Notify: rec.notify})

	if err := r.CheckNow(context.Background()); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	got := rec.got()
	if len(got) != 1 || got[0].ID != "sch-soon" {
		t.Fatalf("notified = %+v, want only the schedule inside the window", got)
	}

	// A second check must not re-notify.
	if err := r.CheckNow(context.Background()); err != nil {
		t.Fatalf("second CheckNow() error = %v", err)
	}
	if len(rec.got()) != 1 {
		t.Errorf("notified %d times after second check, want 1", len(rec.got()))
	}
}

func TestCheckNowHonorsCustomWindow(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	now := time.Now()
	if err := store.SaveSchedule(context.Background(), history.Schedule{
		ID: "sch-1", Title: "sync", StartsAt: now.Add(3 * time.Hour), CreatedAt: now,
	}); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	rec := &notifyRecorder{}
	r := schedule.New(schedule.Config{Store: store, Notify: rec.notify, Window: time.Hour})

	if err := r.CheckNow(context.Background()); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if len(rec.got()) != 0 {
		t.Errorf("notified = %+v, want none outside a 1h window", rec.got())
	}
}

func TestCheckNowSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("store down")
	store := &mock.Store{Err: wantErr}
	r := schedule.New(schedule.Config{Store: store, Notify: func(history.Schedule) {}})

	if err := r.CheckNow(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("CheckNow() error = %v, want wrapped store error", err)
	}
}

func TestLoopDeliversAndStops(t *testing.T) {
	t.Parallel()

	store := &mock.Store{}
	now := time.Now()
	if err := store.SaveSchedule(context.Background(), history.Schedule{
		ID: "sch-1", Title: "standup", StartsAt: now.Add(time.Hour), CreatedAt: now,
	}); err != nil {
		t.Fatalf("SaveSchedule() error = %v", err)
	}

	notified := make(chan history.Schedule, 1)
	r := schedule.New(schedule.Config{
		Store:    store,
		Notify:   func(sch history.Schedule) { notified <- sch },
		Interval: 5 * time.Millisecond,
	})
	r.Start(context.Background())
	defer r.Stop()

	select {
	case sch := <-notified:
		if sch.ID != "sch-1" {
			t.Errorf("notified schedule = %+v, want sch-1", sch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reminder loop never delivered the notification")
	}

	r.Stop()
	r.Stop() // idempotent
}
