// Package app wires all TalkWise subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithAudioContext, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"talkwise/internal/config"
	"talkwise/internal/history"
	"talkwise/internal/history/postgres"
	"talkwise/internal/history/sqlite"
	"talkwise/internal/httpapi"
	"talkwise/internal/observe"
	"talkwise/internal/schedule"
	"talkwise/internal/session"
	"talkwise/internal/summary"
	"talkwise/internal/transcript"
	"talkwise/pkg/audio"
	"talkwise/pkg/provider/embeddings"
	"talkwise/pkg/provider/llm"
	"talkwise/pkg/provider/stt"
)

// shutdownGrace bounds the HTTP drain and recording stop during Run's exit.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store      history.Store
	audioCtx   audio.Context
	transcript *transcript.Store
	hub        *httpapi.Hub
	sessions   *session.Manager
	summarizer *summary.Summarizer
	reminder   *schedule.Reminder
	api        *httpapi.Server

	listener net.Listener
	metrics  *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudioContext injects an audio backend instead of opening the platform
// default.
func WithAudioContext(ctx audio.Context) Option {
	return func(a *App) { a.audioCtx = ctx }
}

// WithListener makes Run serve on ln instead of binding server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	a.initSessions()
	a.initSummarizer()
	a.initReminder()
	a.initAPI()

	return a, nil
}

// initHistory opens the configured history backend unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.History.Backend {
	case config.HistoryPostgres:
		var opts []postgres.Option
		if a.providers.Embeddings != nil {
			opts = append(opts, postgres.WithEmbedder(a.providers.Embeddings))
		}
		store, err := postgres.New(ctx, a.cfg.History.PostgresDSN, opts...)
		if err != nil {
			return err
		}
		a.store = store
	default:
		store, err := sqlite.New(ctx, a.cfg.History.SQLitePath)
		if err != nil {
			return err
		}
		a.store = store
	}

	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})
	slog.Info("history store ready", "backend", a.cfg.History.Backend)
	return nil
}

// initAudio opens the platform audio backend unless one was injected.
func (a *App) initAudio() error {
	if a.audioCtx == nil {
		actx, err := audio.NewContext()
		if err != nil {
			return err
		}
		a.audioCtx = actx
		a.closers = append(a.closers, func() error {
			actx.Close()
			return nil
		})
	}
	return nil
}

// initSessions builds the live transcript store, the websocket hub and the
// recording session manager.
func (a *App) initSessions() {
	a.transcript = transcript.NewStore()
	a.hub = httpapi.NewHub(a.metrics)

	sttProv := a.providers.STT
	if sttProv == nil {
		sttProv = noSTT{}
	}

	a.sessions = session.NewManager(session.ManagerConfig{
		Audio:      audio.NewManager(a.audioCtx),
		STT:        sttProv,
		STTName:    a.cfg.Providers.STT.Name,
		History:    a.store,
		Transcript: a.transcript,
		OnUpdate:   a.hub.BroadcastTranscript,
		Metrics:    a.metrics,
	})
}

// initSummarizer builds the summarizer when an LLM provider is configured.
func (a *App) initSummarizer() {
	if a.providers.LLM == nil {
		return
	}
	a.summarizer = summary.New(a.providers.LLM,
		summary.WithMetrics(a.metrics),
		summary.WithProviderName(a.cfg.Providers.LLM.Name),
	)
}

// initReminder builds the upcoming-meeting reminder loop.
func (a *App) initReminder() {
	a.reminder = schedule.New(schedule.Config{
		Store:    a.store,
		Notify:   a.hub.BroadcastReminder,
		Window:   a.cfg.Schedule.ReminderLead.Std(),
		Interval: a.cfg.Schedule.CheckInterval.Std(),
	})
}

// initAPI assembles the HTTP server around the subsystems.
func (a *App) initAPI() {
	a.api = httpapi.New(httpapi.Config{
		Session:    a.sessions,
		Summarizer: a.summarizer,
		History:    a.store,
		Transcript: a.transcript,
		Hub:        a.hub,
		Metrics:    a.metrics,
		Checkers: []httpapi.Checker{
			{
				Name: "history",
				Check: func(ctx context.Context) error {
					_, err := a.store.ListRecords(ctx, 1, 0)
					return err
				},
			},
		},
		Defaults: session.StartConfig{
			Source:     audio.Source(a.cfg.Recording.Source),
			DeviceID:   a.cfg.Recording.DeviceID,
			Language:   a.cfg.Recording.Language,
			SampleRate: a.cfg.Recording.SampleRate,
			MicGain:    a.cfg.Recording.MicGain,
		},
	})
}

// Handler returns the HTTP API handler. Useful for tests that mount the app
// into an httptest server.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Sessions returns the recording session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Run serves the HTTP API and runs the reminder loop until ctx is cancelled,
// then drains in-flight requests and stops any active recording. A clean
// shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.reminder.Start(ctx)
	slog.Info("talkwise running", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		a.reminder.Stop()
		if _, err := a.sessions.Stop(drainCtx); err != nil && !errors.Is(err, session.ErrNoSession) {
			slog.Warn("stopping active recording failed", "error", err)
		}
		return srv.Shutdown(drainCtx)
	})
	return g.Wait()
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// noSTT stands in when no speech provider is configured so that starting a
// recording fails with a clear error instead of a nil dereference.
type noSTT struct{}

func (noSTT) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, fmt.Errorf("no speech-to-text provider configured: %w", stt.ErrUnsupported)
}
