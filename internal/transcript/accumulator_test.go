package transcript_test

import (
	"sync"
	"testing"

	"talkwise/internal/transcript"
)

// recorder collects every update pushed by an accumulator.
type recorder struct {
	mu      sync.Mutex
	updates []transcript.Update
}

func (r *recorder) push(u transcript.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) last() transcript.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return transcript.Update{}
	}
	return r.updates[len(r.updates)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestApplyInterimReplacesPrevious(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := transcript.NewAccumulator(rec.push)

	a.Apply(transcript.Fragment{Text: "hel"})
	a.Apply(transcript.Fragment{Text: "hello wor"})

	got := a.Snapshot()
	if got.Permanent != "" {
		t.Errorf("permanent = %q, want empty before any final", got.Permanent)
	}
	if got.Interim != "hello wor" {
		t.Errorf("interim = %q, want latest fragment only", got.Interim)
	}
	if rec.last().Interim != "hello wor" {
		t.Errorf("pushed interim = %q, want %q", rec.last().Interim, "hello wor")
	}
}

func TestApplyFinalCommitsAndClearsInterim(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := transcript.NewAccumulator(rec.push)

	a.Apply(transcript.Fragment{Text: "hello wor"})
	a.Apply(transcript.Fragment{Text: "hello world", IsFinal: true})

	got := a.Snapshot()
	if got.Permanent != "hello world" {
		t.Errorf("permanent = %q, want %q", got.Permanent, "hello world")
	}
	if got.Interim != "" {
		t.Errorf("interim = %q, want cleared after a final", got.Interim)
	}
}

func TestApplyFinalIdempotentUnderReplay(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator(nil)

	a.Apply(transcript.Fragment{Text: "first sentence", IsFinal: true})
	// The engine restarts and replays its last final.
	a.Apply(transcript.Fragment{Text: "first sentence", IsFinal: true})
	a.Apply(transcript.Fragment{Text: "second sentence", IsFinal: true})

	got := a.Snapshot()
	if got.Permanent != "first sentence second sentence" {
		t.Errorf("permanent = %q, want replayed final committed once", got.Permanent)
	}
}

func TestApplyFinalIgnoresWhitespaceVariantReplay(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator(nil)

	a.Apply(transcript.Fragment{Text: "first sentence", IsFinal: true})
	// A restarted engine may replay its last final with different padding.
	a.Apply(transcript.Fragment{Text: "  first sentence \n", IsFinal: true})

	got := a.Snapshot()
	if got.Permanent != "first sentence" {
		t.Errorf("permanent = %q, want the padded replay suppressed", got.Permanent)
	}
}

func TestApplyFinalAllowsRepeatAfterIntervening(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator(nil)

	a.Apply(transcript.Fragment{Text: "yes", IsFinal: true})
	a.Apply(transcript.Fragment{Text: "okay", IsFinal: true})
	// Same words said again later is a genuine new utterance.
	a.Apply(transcript.Fragment{Text: "yes", IsFinal: true})

	got := a.Snapshot()
	if got.Permanent != "yes okay yes" {
		t.Errorf("permanent = %q, want %q", got.Permanent, "yes okay yes")
	}
}

func TestApplyFinalDropsWhitespaceOnly(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator(nil)

	a.Apply(transcript.Fragment{Text: "hello", IsFinal: true})
	a.Apply(transcript.Fragment{Text: "   ", IsFinal: true})

	got := a.Snapshot()
	if got.Permanent != "hello" {
		t.Errorf("permanent = %q, want whitespace-only final dropped", got.Permanent)
	}
}

func TestDiscardInterim(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := transcript.NewAccumulator(rec.push)

	a.Apply(transcript.Fragment{Text: "committed", IsFinal: true})
	a.Apply(transcript.Fragment{Text: "pending words"})
	before := rec.count()

	a.DiscardInterim()

	got := a.Snapshot()
	if got.Permanent != "committed" {
		t.Errorf("permanent = %q, want preserved across discard", got.Permanent)
	}
	if got.Interim != "" {
		t.Errorf("interim = %q, want discarded", got.Interim)
	}
	if rec.count() != before+1 {
		t.Errorf("updates pushed = %d, want one for the discard", rec.count()-before)
	}

	// A second discard with nothing pending pushes no update.
	a.DiscardInterim()
	if rec.count() != before+1 {
		t.Error("discard with empty interim pushed an update")
	}

	// The replay marker survives the discard.
	a.Apply(transcript.Fragment{Text: "committed", IsFinal: true})
	if got := a.Snapshot(); got.Permanent != "committed" {
		t.Errorf("permanent = %q, want replay still suppressed after discard", got.Permanent)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	a := transcript.NewAccumulator(nil)
	a.Apply(transcript.Fragment{Text: "old recording", IsFinal: true})
	a.Reset()

	if got := a.Snapshot(); got.Permanent != "" || got.Interim != "" {
		t.Errorf("state after Reset = %+v, want empty", got)
	}

	// The replay marker is cleared too: a fresh recording may legitimately
	// start with the same words.
	a.Apply(transcript.Fragment{Text: "old recording", IsFinal: true})
	if got := a.Snapshot(); got.Permanent != "old recording" {
		t.Errorf("permanent = %q, want marker cleared by Reset", got.Permanent)
	}
}
