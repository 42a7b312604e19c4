// Package transcript folds the stream of recognition results into the live
// transcript a user watches during a recording.
//
// Recognition engines emit two kinds of fragments: interim results that are
// revised as more audio arrives, and final results that will not change.
// The [Accumulator] keeps the two apart — finals are committed permanently,
// the single current interim merely replaces its predecessor — and pushes
// every change to a listener so the UI layer can render permanent and
// pending text differently.
//
// Engines restart mid-recording (network blips, one-shot session lifetimes)
// and tend to replay their last final result after a restart. Commits are
// therefore idempotent: a final identical to the most recently committed one
// is dropped.
package transcript

import (
	"strings"
	"sync"
)

// Fragment is one recognition result delivered to the accumulator.
type Fragment struct {
	// Text is the recognized content.
	Text string

	// IsFinal marks a result the engine will not revise.
	IsFinal bool
}

// Update is the folded transcript state pushed to the listener after every
// change.
type Update struct {
	// Permanent is the committed transcript text.
	Permanent string

	// Interim is the current revisable fragment. Never persisted.
	Interim string
}

// Accumulator folds fragments into permanent and interim text. Safe for
// concurrent use.
type Accumulator struct {
	mu            sync.Mutex
	permanent     strings.Builder
	lastCommitted string
	interim       string
	onUpdate      func(Update)
}

// NewAccumulator creates an Accumulator. onUpdate, when non-nil, is invoked
// after every state change with the new folded state; it is called with the
// internal lock released and must be safe for concurrent invocation.
func NewAccumulator(onUpdate func(Update)) *Accumulator {
	return &Accumulator{onUpdate: onUpdate}
}

// Apply folds one fragment into the transcript.
//
// A final fragment is committed unless it is empty after trimming or equals
// the most recently committed final (engine replay after a restart). Either
// way the interim text is cleared, since the engine has resolved it.
// An interim fragment replaces the previous interim.
func (a *Accumulator) Apply(frag Fragment) {
	a.mu.Lock()
	if frag.IsFinal {
		text := strings.TrimSpace(frag.Text)
		if text != "" && text != a.lastCommitted {
			if a.permanent.Len() > 0 {
				a.permanent.WriteByte(' ')
			}
			a.permanent.WriteString(text)
			a.lastCommitted = text
		}
		a.interim = ""
	} else {
		a.interim = frag.Text
	}
	update := a.snapshotLocked()
	cb := a.onUpdate
	a.mu.Unlock()

	if cb != nil {
		cb(update)
	}
}

// DiscardInterim drops the pending interim fragment. Called when the
// recognition engine ends: whatever it had not finalized is gone, while the
// replay marker survives so the restarted engine cannot double-commit.
func (a *Accumulator) DiscardInterim() {
	a.mu.Lock()
	changed := a.interim != ""
	a.interim = ""
	update := a.snapshotLocked()
	cb := a.onUpdate
	a.mu.Unlock()

	if changed && cb != nil {
		cb(update)
	}
}

// Reset clears all state for a fresh recording.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.permanent.Reset()
	a.lastCommitted = ""
	a.interim = ""
	a.mu.Unlock()
}

// Snapshot returns the current folded state.
func (a *Accumulator) Snapshot() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accumulator) snapshotLocked() Update {
	return Update{Permanent: a.permanent.String(), Interim: a.interim}
}
