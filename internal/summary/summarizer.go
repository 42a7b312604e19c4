// Package summary turns a finished meeting transcript into a structured
// summary using an [llm.Provider].
//
// The model is instructed to detect the transcript's language, reply in that
// same language, and return a single JSON object with the title, narrative
// summary, key points, and action items. Models do not always comply:
// responses wrapped in markdown fences or surrounded by prose are salvaged
// by slicing out the outermost JSON object, and a response with no parseable
// JSON at all degrades to a [Summary] whose Summary field carries the raw
// text — the caller always gets something to show.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talkwise/internal/observe"
	"talkwise/internal/resilience"
	"talkwise/pkg/provider/llm"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1500
	defaultTimeout     = 60 * time.Second
)

// ErrEmptyTranscript is returned when the transcript is empty or whitespace
// only. Checked before any model call is made.
var ErrEmptyTranscript = errors.New("summary: transcript is empty")

const systemPrompt = `You are an assistant that summarizes meeting transcripts.

First detect the language of the transcript, then write your entire response in that same language.

Respond with ONLY a JSON object in this exact format (no markdown, no code fences, no prose):
{
  "title": "<short descriptive meeting title>",
  "summary": "<concise narrative summary of the discussion>",
  "key_points": ["<key point>", ...],
  "action_items": ["<action item with owner if mentioned>", ...]
}

If the transcript contains no action items, return an empty action_items array.`

// Summary is the structured result of summarizing one transcript.
type Summary struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
}

// Option is a functional option for configuring a [Summarizer].
type Option func(*Summarizer)

// WithTemperature sets the LLM sampling temperature. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(s *Summarizer) {
		s.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 1500.
func WithMaxTokens(n int) Option {
	return func(s *Summarizer) {
		s.maxTokens = n
	}
}

// WithTimeout bounds the total time spent on one Summarize call, retries
// included. Default: 60 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Summarizer) {
		s.timeout = d
	}
}

// WithRetryPolicy overrides the retry policy for upstream calls.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(s *Summarizer) {
		s.retry = p
	}
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Summarizer) {
		s.metrics = m
	}
}

// WithProviderName labels provider metrics with the configured model
// provider, e.g. "openai".
func WithProviderName(name string) Option {
	return func(s *Summarizer) {
		s.providerName = name
	}
}

// Summarizer produces structured summaries from transcripts. Safe for
// concurrent use.
type Summarizer struct {
	llm          llm.Provider
	providerName string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	retry        resilience.Policy
	metrics      *observe.Metrics
}

// New returns a Summarizer backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Summarizer {
	s := &Summarizer{
		llm:          provider,
		providerName: "unknown",
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
		timeout:      defaultTimeout,
		retry:        resilience.Policy{MaxAttempts: 3},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Summarize sends the transcript to the model and returns the structured
// summary.
//
// An empty or whitespace-only transcript returns ErrEmptyTranscript without
// contacting the model. Upstream failures (after retries) are returned as
// errors. An upstream response that is not valid JSON is NOT an error: the
// raw text is returned in the Summary field.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: transcript},
		},
	}

	var resp *llm.CompletionResponse
	start := time.Now()
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		resp, err = s.llm.Complete(ctx, req)
		s.metrics.RecordProviderRequest(ctx, s.providerName, "llm", completionStatus(err))
		if err != nil {
			s.metrics.RecordProviderError(ctx, s.providerName, "llm")
		}
		return err
	})
	s.metrics.SummarizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("summary: complete: %w", err)
	}

	return parseResponse(resp.Content), nil
}

// completionStatus maps a model call outcome to a metrics status label.
func completionStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// parseResponse extracts the structured summary from the raw model output.
// It never fails: unparseable content becomes the Summary field verbatim.
func parseResponse(content string) *Summary {
	cleaned := extractJSON(stripMarkdown(content))

	var out Summary
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return &Summary{Summary: strings.TrimSpace(content)}
	}
	if out.Title == "" && out.Summary == "" && len(out.KeyPoints) == 0 && len(out.ActionItems) == 0 {
		return &Summary{Summary: strings.TrimSpace(content)}
	}
	return &out
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// extractJSON slices out the outermost JSON object, tolerating prose before
// or after it. Returns the input unchanged when no braces are found.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
