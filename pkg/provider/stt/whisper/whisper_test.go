package whisper_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"talkwise/pkg/provider/stt"
	"talkwise/pkg/provider/stt/whisper"
)

func loudChunk(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], 10000)
	}
	return out
}

func TestNewRequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := whisper.New(""); err == nil {
		t.Error("New(\"\") did not return an error")
	}
}

func TestStartStreamTranscribes(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("request path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			header := make([]byte, 4)
			f.Read(header)
			if string(header) != "RIFF" {
				t.Errorf("file does not start with a RIFF header: %q", header)
			}
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" selamat pagi "}`))
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// 16 kHz mono: 1600 samples per 100 ms.
	s, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "id-ID"})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer s.Close()

	if err := s.SendAudio(loudChunk(1600)); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := s.SendAudio(make([]byte, 3200)); err != nil { // 100 ms silence
		t.Fatalf("SendAudio() error = %v", err)
	}

	select {
	case tr := <-s.Finals():
		if tr.Text != "selamat pagi" {
			t.Errorf("final text = %q, want %q", tr.Text, "selamat pagi")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a final transcript")
	}

	if gotLanguage != "id" {
		t.Errorf("language form field = %q, want %q (short code)", gotLanguage, "id")
	}
}

func TestStartStreamClassifiesAuthFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL, whisper.WithSilenceThresholdMs(100))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	s.SendAudio(loudChunk(1600))
	s.SendAudio(make([]byte, 3200))
	time.Sleep(100 * time.Millisecond)
	s.Close()
	for range s.Finals() {
	}

	if err := s.Err(); !errors.Is(err, stt.ErrPermissionDenied) {
		t.Errorf("Err() = %v, want ErrPermissionDenied", err)
	}
}
