// Package transcript reconstructs a turn-taking conversation view from
// streaming speech-to-text segments.
package transcript

import (
	"sync"
	"time"
)

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Segment is one unit of streaming STT output. Partial segments revise the
// live turn; final segments are immutable and enter the transcript.
type Segment struct {
	ID             string
	Text           string
	SpeakerIsAgent bool
	Final          bool
}

// Turn is the live, possibly-partial utterance of each side. At most one
// field is non-empty at a time.
type Turn struct {
	Input  string `json:"input"`  // user side
	Output string `json:"output"` // agent side
}

// Entry is one finalized transcript row.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Complete  bool      `json:"complete"`
}

// Reconstructor consumes segment batches and maintains the live turn plus
// the append-only finalized transcript. Finalized segments are
// deduplicated by (side, id) for the life of one session.
type Reconstructor struct {
	mu      sync.RWMutex
	turn    Turn
	entries []Entry
	seen    map[string]struct{}

	onUserSpeech func()
	onChange     func(Turn)
	onFinalized  func(Entry)

	now func() time.Time
}

// New creates an empty Reconstructor.
func New() *Reconstructor {
	return &Reconstructor{
		seen: make(map[string]struct{}),
		now:  time.Now,
	}
}

// OnUserSpeech registers a callback fired whenever any user-side segment
// arrives, partial or final. The session uses it to clear stale search
// sources the moment the user starts talking again.
func (r *Reconstructor) OnUserSpeech(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUserSpeech = fn
}

// OnTurnChange registers a callback fired after the live turn changes.
func (r *Reconstructor) OnTurnChange(fn func(Turn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// OnFinalized registers a callback fired for each new transcript entry.
func (r *Reconstructor) OnFinalized(fn func(Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinalized = fn
}

// ProcessBatch applies one atomically-delivered batch of segments in
// order. Within a batch no other state mutation interleaves.
func (r *Reconstructor) ProcessBatch(segments []Segment) {
	r.mu.Lock()

	var finalized []Entry
	userSpoke := false
	changed := false

	for _, seg := range segments {
		if seg.Text != "" {
			// Turn-taking exclusivity: the speaking side's live text is
			// set and the other side's cleared. The finalized transcript
			// is untouched by this.
			if seg.SpeakerIsAgent {
				r.turn.Output = seg.Text
				r.turn.Input = ""
			} else {
				r.turn.Input = seg.Text
				r.turn.Output = ""
				userSpoke = true
			}
			changed = true
		} else if !seg.SpeakerIsAgent {
			userSpoke = true
		}

		if !seg.Final {
			continue
		}

		key := dedupKey(seg)
		if _, dup := r.seen[key]; dup {
			continue
		}
		r.seen[key] = struct{}{}

		if seg.Text == "" {
			continue
		}

		entry := Entry{
			Speaker:   speakerOf(seg),
			Text:      seg.Text,
			Timestamp: r.now(),
			Complete:  true,
		}
		r.entries = append(r.entries, entry)
		finalized = append(finalized, entry)
		// The live turn deliberately keeps the final text on screen until
		// the other speaker's next segment arrives; clearing here would
		// flicker between "final" and "next utterance".
	}

	turn := r.turn
	onUser := r.onUserSpeech
	onChange := r.onChange
	onFinal := r.onFinalized
	r.mu.Unlock()

	if userSpoke && onUser != nil {
		onUser()
	}
	if changed && onChange != nil {
		onChange(turn)
	}
	if onFinal != nil {
		for _, e := range finalized {
			onFinal(e)
		}
	}
}

// CurrentTurn returns the live turn view.
func (r *Reconstructor) CurrentTurn() Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.turn
}

// Entries returns a copy of the finalized transcript.
func (r *Reconstructor) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of finalized entries.
func (r *Reconstructor) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset clears the live turn, the transcript, and the dedup set. Called
// only on session teardown; the dedup set must survive for the whole
// connection to absorb retransmitted finals.
func (r *Reconstructor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turn = Turn{}
	r.entries = nil
	r.seen = make(map[string]struct{})
}

func speakerOf(seg Segment) Speaker {
	if seg.SpeakerIsAgent {
		return SpeakerAgent
	}
	return SpeakerUser
}

func dedupKey(seg Segment) string {
	return string(speakerOf(seg)) + ":" + seg.ID
}
