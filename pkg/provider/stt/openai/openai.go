// Package openai provides an stt.Provider backed by the OpenAI transcription
// API. Like whisper.cpp it is a batch engine, so sessions run through
// [batch.Session] for utterance segmentation.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"talkwise/pkg/provider/stt"
	"talkwise/pkg/provider/stt/batch"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// API-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sampleRate := cfg.SampleRate
	channels := cfg.Channels
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	language := shortLanguage(cfg.Language)

	s := batch.NewSession(ctx, batch.Config{
		SampleRate: sampleRate,
		Channels:   channels,
	}, func(ctx context.Context, pcm []byte) (string, error) {
		return p.transcribe(ctx, pcm, sampleRate, channels, language)
	})
	return s, nil
}

// transcribe submits one utterance to the transcription endpoint.
func (p *Provider) transcribe(ctx context.Context, pcm []byte, sampleRate, channels int, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(batch.WAV(pcm, sampleRate, channels)), "audio.wav", "audio/wav"),
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return "", fmt.Errorf("%w: openai returned %d", stt.ErrPermissionDenied, apiErr.StatusCode)
			default:
				return "", fmt.Errorf("%w: openai returned %d", stt.ErrAborted, apiErr.StatusCode)
			}
		}
		return "", fmt.Errorf("%w: %w", stt.ErrNetwork, err)
	}
	return resp.Text, nil
}

// shortLanguage reduces a BCP-47 tag to the ISO-639-1 code the API expects
// ("id-ID" → "id").
func shortLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
