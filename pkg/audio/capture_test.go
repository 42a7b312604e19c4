package audio_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"talkwise/pkg/audio"
	"talkwise/pkg/audio/mock"
)

func testDevices() []audio.DeviceInfo {
	return []audio.DeviceInfo{
		{ID: "mic-a", Name: "Built-in Microphone"},
		{ID: "mic-b", Name: "USB Microphone"},
		{ID: "sink.monitor", Name: "Monitor of Built-in Output", Monitor: true},
	}
}

func testConfig(source audio.Source) audio.Config {
	// 1 kHz mono: a 20 ms slice is 40 bytes.
	return audio.Config{
		Source:        source,
		SampleRate:    1000,
		SliceInterval: 20 * time.Millisecond,
	}
}

// waitUntil polls cond until it returns true or the deadline expires.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitFrame(t *testing.T, frames <-chan audio.Frame) audio.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				t.Fatal("frame channel closed before a frame arrived")
			}
			if len(f.Data) > 0 {
				return f
			}
		case <-deadline:
			t.Fatal("timed out waiting for a frame")
		}
	}
}

func TestManagerMicCapture(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	frames, err := m.Start(testConfig(audio.SourceMic))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	opened := ctx.Opened()
	if len(opened) != 1 {
		t.Fatalf("opened %d devices, want 1", len(opened))
	}
	if got := opened[0].Config(); got.Channels != 1 || got.SampleRate != 1000 {
		t.Errorf("mic capture config = %+v, want mono at 1000 Hz", got)
	}

	opened[0].Push(samplesToBytes([]int16{100, 200, 300, 400}))
	f := waitFrame(t, frames)
	got := bytesToSamples(f.Data)
	if len(got) == 0 || got[0] != 100 {
		t.Errorf("first frame samples = %v, want to start with 100", got)
	}
	if f.SampleRate != 1000 {
		t.Errorf("frame sample rate = %d, want 1000", f.SampleRate)
	}
}

func TestManagerPrefersConfiguredDevice(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	cfg := testConfig(audio.SourceMic)
	cfg.DeviceID = "mic-b"
	if _, err := m.Start(cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	opened := ctx.Opened()
	if len(opened) != 1 || opened[0].Info().ID != "mic-b" {
		t.Errorf("opened device = %q, want mic-b", opened[0].Info().ID)
	}
}

func TestManagerFallsBackWhenDeviceGone(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	cfg := testConfig(audio.SourceMic)
	cfg.DeviceID = "mic-unplugged"
	if _, err := m.Start(cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	opened := ctx.Opened()
	if len(opened) != 1 || opened[0].Info().ID != "mic-a" {
		t.Errorf("opened device = %q, want first available mic-a", opened[0].Info().ID)
	}
}

func TestManagerMixedBoostsMic(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	frames, err := m.Start(testConfig(audio.SourceMixed))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	opened := ctx.Opened()
	if len(opened) != 2 {
		t.Fatalf("opened %d devices, want mic and monitor", len(opened))
	}
	if !opened[1].Info().Monitor {
		t.Errorf("second device = %+v, want the monitor source", opened[1].Info())
	}
	if got := opened[1].Config(); got.Channels != 2 {
		t.Errorf("monitor capture channels = %d, want stereo", got.Channels)
	}

	// Mic speaks at 1000 while the system is silent: default 1.5 gain
	// yields 1500 in the mix.
	opened[0].Push(samplesToBytes([]int16{1000, 1000}))
	f := waitFrame(t, frames)
	got := bytesToSamples(f.Data)
	if len(got) == 0 || got[0] != 1500 {
		t.Errorf("mixed samples = %v, want mic boosted to 1500", got)
	}
}

func TestManagerMixedDegradesToMicWithoutMonitor(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: []audio.DeviceInfo{{ID: "mic-a", Name: "Mic"}}}
	m := audio.NewManager(ctx)

	frames, err := m.Start(testConfig(audio.SourceMixed))
	if err != nil {
		t.Fatalf("Start(mixed) without a monitor source error = %v, want mic-only degradation", err)
	}
	defer m.Stop()

	opened := ctx.Opened()
	if len(opened) != 1 || opened[0].Info().Monitor {
		t.Fatalf("opened devices = %d, want the microphone only", len(opened))
	}

	// The surviving mic records as-is: no mixing, no gain boost.
	opened[0].Push(samplesToBytes([]int16{1000, 1000}))
	f := waitFrame(t, frames)
	got := bytesToSamples(f.Data)
	if len(got) == 0 || got[0] != 1000 {
		t.Errorf("samples = %v, want unmodified mic audio", got)
	}
}

func TestManagerMixedFailsWhenNoSourceAvailable(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{
		DeviceList: []audio.DeviceInfo{{ID: "mic-a", Name: "Mic"}},
		CaptureErr: errors.New("device busy"),
	}
	m := audio.NewManager(ctx)

	if _, err := m.Start(testConfig(audio.SourceMixed)); err == nil {
		t.Error("Start(mixed) with no usable source did not return an error")
	}
}

func TestManagerFallsBackWhenDeviceLostMidSession(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	cfg := testConfig(audio.SourceMic)
	cfg.DeviceID = "mic-a"
	frames, err := m.Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	first := ctx.Opened()[0]
	if first.Info().ID != "mic-a" {
		t.Fatalf("opened device = %q, want mic-a", first.Info().ID)
	}

	// mic-a is unplugged; mic-b is what remains.
	ctx.SetDevices([]audio.DeviceInfo{{ID: "mic-b", Name: "USB Microphone"}})
	first.Lose()

	waitUntil(t, "replacement device", func() bool {
		opened := ctx.Opened()
		return len(opened) == 2 && opened[1].Started()
	})
	second := ctx.Opened()[1]
	if second.Info().ID != "mic-b" {
		t.Errorf("replacement device = %q, want mic-b", second.Info().ID)
	}
	if !first.IsClosed() {
		t.Error("lost device not closed after replacement")
	}

	// The replacement feeds the same recording.
	second.Push(samplesToBytes([]int16{7, 8, 9, 10}))
	f := waitFrame(t, frames)
	if got := bytesToSamples(f.Data); len(got) == 0 || got[0] != 7 {
		t.Errorf("samples after fallback = %v, want audio from the replacement", got)
	}
}

func TestManagerFallsBackToDefaultDeviceWhenNoneEnumerable(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	frames, err := m.Start(testConfig(audio.SourceMic))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		m.Stop()
		audio.Drain(frames)
	}()

	// Every enumerable device vanishes; capture falls back to the platform
	// default.
	ctx.SetDevices(nil)
	ctx.Opened()[0].Lose()

	waitUntil(t, "default-device fallback", func() bool {
		opened := ctx.Opened()
		return len(opened) == 2 && opened[1].Started()
	})
	if got := ctx.Opened()[1].Info().ID; got != "" {
		t.Errorf("fallback device = %q, want the platform default", got)
	}
}

func TestManagerReportsDroppedFrames(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	var drops atomic.Int32
	cfg := testConfig(audio.SourceMic)
	cfg.OnDrop = func() { drops.Add(1) }

	// Never read frames: the channel fills and further slices are dropped.
	frames, err := m.Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// 50 slices worth of audio against a 32-slot frame buffer.
	ctx.Opened()[0].Push(samplesToBytes(make([]int16, 1000)))
	waitUntil(t, "dropped frames", func() bool { return drops.Load() > 0 })

	m.Stop()
	audio.Drain(frames)
}

func TestManagerSystemRequiresMonitor(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: []audio.DeviceInfo{{ID: "mic-a", Name: "Mic"}}}
	m := audio.NewManager(ctx)

	if _, err := m.Start(testConfig(audio.SourceSystem)); !errors.Is(err, audio.ErrSourceUnsupported) {
		t.Errorf("Start(system) error = %v, want ErrSourceUnsupported", err)
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	frames, err := m.Start(testConfig(audio.SourceMic))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	m.Stop()
	m.Stop()

	for range frames {
	}
	if !ctx.Opened()[0].IsClosed() {
		t.Error("device not closed after Stop")
	}

	// A new recording can start after Stop.
	if _, err := m.Start(testConfig(audio.SourceMic)); err != nil {
		t.Fatalf("Start() after Stop error = %v", err)
	}
	m.Stop()
}

func TestManagerRejectsConcurrentStart(t *testing.T) {
	t.Parallel()

	ctx := &mock.Context{DeviceList: testDevices()}
	m := audio.NewManager(ctx)

	if _, err := m.Start(testConfig(audio.SourceMic)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	if _, err := m.Start(testConfig(audio.SourceMic)); !errors.Is(err, audio.ErrAlreadyRecording) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRecording", err)
	}
}

func TestManagerRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	m := audio.NewManager(&mock.Context{})
	if _, err := m.Start(audio.Config{Source: audio.Source("radio")}); err == nil {
		t.Error("Start() with unknown source did not return an error")
	}
}
