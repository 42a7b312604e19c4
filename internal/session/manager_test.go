package session_test

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	histmock "talkwise/internal/history/mock"
	"talkwise/internal/session"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
	audiomock "talkwise/pkg/audio/mock"
	"talkwise/pkg/provider/stt"
	sttmock "talkwise/pkg/provider/stt/mock"
)

type managerFixture struct {
	manager    *session.Manager
	audioCtx   *audiomock.Context
	sttProv    *sttmock.Provider
	store      *histmock.Store
	transcript *transcript.Store

	mu      sync.Mutex
	updates []transcript.Update
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		audioCtx: &audiomock.Context{
			DeviceList: []audio.DeviceInfo{{ID: "mic-a", Name: "Test Microphone"}},
		},
		sttProv:    &sttmock.Provider{},
		store:      &histmock.Store{},
		transcript: transcript.NewStore(),
	}
	f.manager = session.NewManager(session.ManagerConfig{
		Audio:      audio.NewManager(f.audioCtx),
		STT:        f.sttProv,
		History:    f.store,
		Transcript: f.transcript,
		OnUpdate: func(u transcript.Update) {
			f.mu.Lock()
			f.updates = append(f.updates, u)
			f.mu.Unlock()
		},
	})
	return f
}

func (f *managerFixture) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// sttSession waits for the recognizer to open its first session and returns it.
func (f *managerFixture) sttSession(t *testing.T) *sttmock.Session {
	t.Helper()
	waitFor(t, "recognition session", func() bool { return f.sttProv.StartCalls() >= 1 })
	return f.sttProv.Session(f.sttProv.StartCalls() - 1)
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	cfg := session.StartConfig{Source: audio.SourceMic, Language: "de-DE"}
	if err := f.manager.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.manager.Start(ctx, cfg); !errors.Is(err, session.ErrSessionActive) {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}

	info := f.manager.Status()
	if info.State != session.StateRecording {
		t.Errorf("state = %q, want recording", info.State)
	}
	if info.Source != audio.SourceMic || info.Language != "de-DE" {
		t.Errorf("status = %+v", info)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}

	sess := f.sttSession(t)
	sess.EmitFinal("let's begin")
	waitFor(t, "live transcript", func() bool { return f.transcript.Display() == "let's begin" })

	// Feed some PCM so the archived audio has content.
	f.audioCtx.Opened()[0].Push(make([]byte, 3200))

	rec, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Text != "let's begin" {
		t.Errorf("record text = %q", rec.Text)
	}
	if rec.Source != "mic" || rec.Language != "de-DE" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Duration <= 0 {
		t.Errorf("record duration = %v, want > 0", rec.Duration)
	}

	saved, err := f.store.ListRecords(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != rec.ID {
		t.Errorf("archived records = %+v, want the stopped recording", saved)
	}

	if got := f.manager.Status().State; got != session.StateIdle {
		t.Errorf("state after stop = %q, want idle", got)
	}
	if _, err := f.manager.Stop(ctx); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("second Stop error = %v, want ErrNoSession", err)
	}
}

func TestManagerStopWithoutRecording(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	if _, err := f.manager.Stop(context.Background()); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Stop error = %v, want ErrNoSession", err)
	}
}

func TestManagerRecordingBytes(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	if got := f.manager.Recording(); got != nil {
		t.Errorf("Recording before any session = %v, want nil", got)
	}

	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sttSession(t)
	f.audioCtx.Opened()[0].Push(make([]byte, 6400))

	if _, err := f.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data := f.manager.Recording()
	if !bytes.HasPrefix(data, []byte("fLaC")) {
		t.Errorf("Recording() does not start with a FLAC marker, got %d bytes", len(data))
	}
}

func TestManagerSkipsArchivingEmptyTranscript(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.sttSession(t)

	rec, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Text != "" {
		t.Errorf("record text = %q, want empty", rec.Text)
	}

	saved, err := f.store.ListRecords(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(saved) != 0 {
		t.Errorf("archived %d records, want none for a silent recording", len(saved))
	}
}

func TestManagerArchiveFailureStillReturnsRecord(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.sttSession(t)
	sess.EmitFinal("keep this")
	waitFor(t, "live transcript", func() bool { return f.transcript.Display() == "keep this" })

	f.store.Err = errors.New("disk full")
	rec, err := f.manager.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Text != "keep this" {
		t.Errorf("record text = %q, want transcript despite archive failure", rec.Text)
	}
}

func TestManagerAutoStopsOnFatalRecognitionError(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.sttSession(t)
	sess.End(stt.ErrPermissionDenied)

	waitFor(t, "auto-stop", func() bool {
		return f.manager.Status().State == session.StateIdle
	})
	if got := f.manager.Status().LastError; got == "" {
		t.Error("LastError empty after fatal recognition failure")
	}

	// A fresh recording clears the error.
	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	if got := f.manager.Status().LastError; got != "" {
		t.Errorf("LastError after restart = %q, want cleared", got)
	}
	if _, err := f.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestManagerReleasesFrameTeeAfterFatalRecognitionError(t *testing.T) {
	// Goroutine accounting needs a quiet runtime, so no t.Parallel here.
	f := newManagerFixture(t)
	f.sttProv.StartErr = stt.ErrNetwork
	ctx := context.Background()

	before := runtime.NumGoroutine()
	cfg := session.StartConfig{Source: audio.SourceMic, SliceInterval: time.Millisecond}
	if err := f.manager.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Far more audio than the frame buffers hold, fed while the recognizer
	// is still failing to open its session and consuming nothing.
	f.audioCtx.Opened()[0].Push(make([]byte, 3200))

	waitFor(t, "auto-stop", func() bool {
		return f.manager.Status().State == session.StateIdle
	})
	waitFor(t, "frame goroutines to exit", func() bool {
		return runtime.NumGoroutine() <= before
	})
}

func TestManagerBroadcastsUpdates(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()

	if err := f.manager.Start(ctx, session.StartConfig{Source: audio.SourceMic}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.sttSession(t)

	sess.EmitPartial("working on")
	waitFor(t, "interim broadcast", func() bool { return f.updateCount() >= 1 })
	if perm, interim := f.transcript.Text(); perm != "" || interim != "working on" {
		t.Errorf("live text = (%q, %q), want interim only", perm, interim)
	}

	sess.EmitFinal("working on it")
	waitFor(t, "final broadcast", func() bool {
		perm, _ := f.transcript.Text()
		return perm == "working on it"
	})

	if _, err := f.manager.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
