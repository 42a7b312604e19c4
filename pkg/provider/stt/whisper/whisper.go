// Package whisper provides an stt.Provider backed by a whisper.cpp server.
//
// whisper.cpp transcribes one complete audio file per request (POST
// /inference), so the provider runs a [batch.Session] that segments the
// incoming audio into utterances and submits each one as its own request.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"talkwise/pkg/provider/stt"
	"talkwise/pkg/provider/stt/batch"
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g. "base",
// "small"). Empty means whichever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSilenceThresholdMs sets the consecutive-silence duration that triggers
// a flush of the accumulated speech buffer. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferMs caps how much audio may accumulate before a flush is forced
// regardless of silence. Defaults to 10 s.
func WithMaxBufferMs(ms int) Option {
	return func(p *Provider) { p.maxBufferMs = ms }
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
// Multiple sessions may be open at once; each keeps its own buffer and
// goroutine.
type Provider struct {
	serverURL          string
	model              string
	silenceThresholdMs int
	maxBufferMs        int
	httpClient         *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sampleRate := cfg.SampleRate
	channels := cfg.Channels
	language := shortLanguage(cfg.Language)
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	s := batch.NewSession(ctx, batch.Config{
		SampleRate:         sampleRate,
		Channels:           channels,
		SilenceThresholdMs: p.silenceThresholdMs,
		MaxBufferMs:        p.maxBufferMs,
	}, func(ctx context.Context, pcm []byte) (string, error) {
		return p.inference(ctx, pcm, sampleRate, channels, language)
	})
	return s, nil
}

// shortLanguage reduces a BCP-47 tag to the bare code whisper.cpp expects
// ("id-ID" → "id").
func shortLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}

// inferenceResponse is the JSON body returned by whisper.cpp.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// inference performs one POST /inference call with the PCM wrapped in a WAV
// container.
func (p *Provider) inference(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(batch.WAV(pcm, sampleRate, channels)); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if p.model != "" {
		_ = mw.WriteField("model", p.model)
	}
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: finalize multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", stt.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", stt.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: server returned %d", stt.ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: server returned %d", stt.ErrAborted, resp.StatusCode)
	}

	var ir inferenceResponse
	if err := json.Unmarshal(raw, &ir); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if ir.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", ir.Error)
	}
	return ir.Text, nil
}
