package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"talkwise/internal/history"
	"talkwise/internal/history/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func saveRecord(t *testing.T, store *sqlite.Store, rec history.Record) {
	t.Helper()
	if err := store.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("SaveRecord(%s) error = %v", rec.ID, err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	want := history.Record{
		ID:          "rec-1",
		Title:       "Sprint planning",
		Text:        "we planned the sprint",
		Summary:     "Planned the sprint.",
		KeyPoints:   []string{"scope agreed"},
		ActionItems: []string{"alice: write tickets"},
		Source:      "mixed",
		Language:    "en-US",
		Duration:    42 * time.Second,
		CreatedAt:   time.Now().Truncate(time.Millisecond),
	}
	saveRecord(t, store, want)

	got, err := store.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Title != want.Title || got.Text != want.Text || got.Summary != want.Summary {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if len(got.KeyPoints) != 1 || got.KeyPoints[0] != "scope agreed" {
		t.Errorf("key points = %v", got.KeyPoints)
	}
	if len(got.ActionItems) != 1 || got.ActionItems[0] != "alice: write tickets" {
		t.Errorf("action items = %v", got.ActionItems)
	}
	if got.Source != "mixed" || got.Language != "en-US" || got.Duration != 42*time.Second {
		t.Errorf("metadata = %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestListRecordsMostRecentFirst(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	base := time.Now()
	for i, id := range []string{"rec-old", "rec-mid", "rec-new"} {
		saveRecord(t, store, history.Record{
			ID:        id,
			Text:      "t",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := store.ListRecords(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "rec-new" || got[1].ID != "rec-mid" {
		t.Errorf("ListRecords(2, 0) = %v, want newest two", ids(got))
	}

	got, err = store.ListRecords(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec-old" {
		t.Errorf("ListRecords(2, 2) = %v, want the oldest", ids(got))
	}
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if _, err := store.GetRecord(context.Background(), "rec-nope"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRecord(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	created := time.Now().Truncate(time.Millisecond)
	saveRecord(t, store, history.Record{ID: "rec-1", Title: "Untitled", Text: "draft", CreatedAt: created})

	updated := history.Record{
		ID:          "rec-1",
		Title:       "Sprint planning",
		Text:        "we planned the sprint",
		Summary:     "Planned the sprint.",
		KeyPoints:   []string{"scope agreed"},
		ActionItems: []string{"alice: write tickets"},
	}
	if err := store.UpdateRecord(context.Background(), updated); err != nil {
		t.Fatalf("UpdateRecord() error = %v", err)
	}

	got, err := store.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.Title != "Sprint planning" || got.Summary != "Planned the sprint." {
		t.Errorf("record after update = %+v", got)
	}
	if len(got.KeyPoints) != 1 || got.KeyPoints[0] != "scope agreed" {
		t.Errorf("key points = %v", got.KeyPoints)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created at changed on update: %v, want %v", got.CreatedAt, created)
	}

	if err := store.UpdateRecord(context.Background(), history.Record{ID: "rec-nope"}); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("UpdateRecord(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	saveRecord(t, store, history.Record{ID: "rec-1", Text: "t", CreatedAt: time.Now()})

	if err := store.DeleteRecord(context.Background(), "rec-1"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if _, err := store.GetRecord(context.Background(), "rec-1"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("GetRecord() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteRecord(context.Background(), "rec-1"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("second DeleteRecord() error = %v, want ErrNotFound", err)
	}
}

func TestSearchRecordsSubstring(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	now := time.Now()
	saveRecord(t, store, history.Record{ID: "rec-1", Title: "Budget Review", Text: "numbers", CreatedAt: now})
	saveRecord(t, store, history.Record{ID: "rec-2", Title: "Standup", Text: "we went over the budget", CreatedAt: now.Add(time.Minute)})
	saveRecord(t, store, history.Record{ID: "rec-3", Title: "Retro", Text: "nothing relevant", CreatedAt: now.Add(2 * time.Minute)})

	got, err := store.SearchRecords(context.Background(), "BUDGET", 10)
	if err != nil {
		t.Fatalf("SearchRecords() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchRecords() = %v, want the two budget records", ids(got))
	}
}

func TestSearchRecordsFuzzyFallback(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	saveRecord(t, store, history.Record{ID: "rec-1", Title: "quarterly meeting", Text: "t", CreatedAt: time.Now()})

	got, err := store.SearchRecords(context.Background(), "meating", 10)
	if err != nil {
		t.Fatalf("SearchRecords() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec-1" {
		t.Errorf("SearchRecords(meating) = %v, want fuzzy hit on rec-1", ids(got))
	}
}

func TestSearchRecordsEmptyQueryListsRecent(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	now := time.Now()
	saveRecord(t, store, history.Record{ID: "rec-1", Text: "t", CreatedAt: now})
	saveRecord(t, store, history.Record{ID: "rec-2", Text: "t", CreatedAt: now.Add(time.Minute)})

	got, err := store.SearchRecords(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("SearchRecords() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "rec-2" {
		t.Errorf("SearchRecords(\"\") = %v, want recent records first", ids(got))
	}
}

func TestScheduleLifecycle(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	now := time.Now().Truncate(time.Millisecond)
	early := history.Schedule{ID: "sch-1", Title: "1:1", StartsAt: now.Add(2 * time.Hour), CreatedAt: now}
	late := history.Schedule{ID: "sch-2", Title: "all hands", Notes: "bring questions", StartsAt: now.Add(48 * time.Hour), CreatedAt: now}
	for _, sch := range []history.Schedule{late, early} {
		if err := store.SaveSchedule(context.Background(), sch); err != nil {
			t.Fatalf("SaveSchedule(%s) error = %v", sch.ID, err)
		}
	}

	got, err := store.ListSchedules(context.Background())
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "sch-1" || got[1].ID != "sch-2" {
		t.Fatalf("ListSchedules() order wrong: %+v", got)
	}
	if got[1].Notes != "bring questions" || !got[1].StartsAt.Equal(late.StartsAt) {
		t.Errorf("schedule = %+v, want %+v", got[1], late)
	}

	if err := store.DeleteSchedule(context.Background(), "sch-1"); err != nil {
		t.Fatalf("DeleteSchedule() error = %v", err)
	}
	if err := store.DeleteSchedule(context.Background(), "sch-1"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("second DeleteSchedule() error = %v, want ErrNotFound", err)
	}
}

func TestDueSchedulesWindowAndReminded(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	now := time.Now()
	schedules := []history.Schedule{
		{ID: "sch-past", Title: "already started", StartsAt: now.Add(-time.Hour), CreatedAt: now},
		{ID: "sch-soon", Title: "starts soon", StartsAt: now.Add(3 * time.Hour), CreatedAt: now},
		{ID: "sch-far", Title: "next week", StartsAt: now.Add(7 * 24 * time.Hour), CreatedAt: now},
	}
	for _, sch := range schedules {
		if err := store.SaveSchedule(context.Background(), sch); err != nil {
			t.Fatalf("SaveSchedule(%s) error = %v", sch.ID, err)
		}
	}

	due, err := store.DueSchedules(context.Background(), now, 24*time.Hour)
	if err != nil {
		t.Fatalf("DueSchedules() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "sch-soon" {
		t.Fatalf("DueSchedules() = %+v, want only the one inside the window", due)
	}

	if err := store.MarkReminded(context.Background(), "sch-soon"); err != nil {
		t.Fatalf("MarkReminded() error = %v", err)
	}
	due, err = store.DueSchedules(context.Background(), now, 24*time.Hour)
	if err != nil {
		t.Fatalf("DueSchedules() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("DueSchedules() after MarkReminded = %+v, want none", due)
	}

	if err := store.MarkReminded(context.Background(), "sch-nope"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("MarkReminded(unknown) error = %v, want ErrNotFound", err)
	}
}

func ids(records []history.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
