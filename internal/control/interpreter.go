// Package control decodes the agent's side-channel message protocol and
// dispatches typed effects. The same data channel may carry frames from
// other protocol users, so anything that fails to decode is ignored.
package control

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message types recognized on the side channel.
const (
	TypeRequestEmailInput = "request_email_input"
	TypeCloseEmailPopup   = "close_email_popup"
	TypeSearchSources     = "search_sources"
	TypeAction            = "action"
	TypeToolUse           = "tool_use"
	TypeEmailResponse     = "email_response" // outbound only
)

// DefaultActionDwell is how long an action cue stays set before it
// auto-clears.
const DefaultActionDwell = 2000 * time.Millisecond

// SourceLink is one search result shown alongside the agent's answer.
type SourceLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// message is the closed tagged union carried on the side channel. Unknown
// tags resolve to a no-op.
type message struct {
	Type    string       `json:"type"`
	Sources []SourceLink `json:"sources,omitempty"`
	Action  string       `json:"action,omitempty"`
	Tool    string       `json:"tool,omitempty"`
	Email   string       `json:"email,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ErrInvalidEmail is returned when an outbound email response fails
// validation.
var ErrInvalidEmail = errors.New("invalid email address")

// Publisher sends an outbound payload on the side channel reliably.
type Publisher func(payload []byte) error

// Interpreter decodes inbound side-channel buffers and owns the action
// cue's dwell timer.
type Interpreter struct {
	mu  sync.Mutex
	log zerolog.Logger

	dwell   time.Duration
	action  string
	dwellID uint64
	timer   *time.Timer

	publish Publisher

	onPopup   func(visible bool)
	onSources func([]SourceLink)
	onAction  func(name string)
	onToolUse func(tool string)
}

// New creates an Interpreter publishing outbound messages through pub.
func New(pub Publisher, log zerolog.Logger) *Interpreter {
	return &Interpreter{
		log:     log.With().Str("component", "control").Logger(),
		dwell:   DefaultActionDwell,
		publish: pub,
	}
}

// SetActionDwell overrides the cue dwell time. Zero or negative keeps the
// default.
func (i *Interpreter) SetActionDwell(d time.Duration) {
	if d <= 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dwell = d
}

// OnEmailPopup registers the popup visibility effect.
func (i *Interpreter) OnEmailPopup(fn func(visible bool)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onPopup = fn
}

// OnSearchSources registers the source-list replacement effect.
func (i *Interpreter) OnSearchSources(fn func([]SourceLink)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onSources = fn
}

// OnAction registers the cue effect, fired with the cue name and again
// with "" when the dwell elapses.
func (i *Interpreter) OnAction(fn func(name string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onAction = fn
}

// OnToolUse registers the notification effect fired when the agent
// announces a tool invocation.
func (i *Interpreter) OnToolUse(fn func(tool string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onToolUse = fn
}

// HandleData decodes one inbound buffer. Non-JSON frames and unknown
// types are silently ignored.
func (i *Interpreter) HandleData(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	switch msg.Type {
	case TypeRequestEmailInput:
		i.firePopup(true)

	case TypeCloseEmailPopup:
		i.firePopup(false)

	case TypeSearchSources:
		sources := msg.Sources
		if sources == nil {
			sources = []SourceLink{}
		}
		i.mu.Lock()
		fn := i.onSources
		notify := i.onToolUse
		i.mu.Unlock()
		if fn != nil {
			fn(sources)
		}
		// Search results carry the notification sound even when no
		// tool_use preceded them.
		if notify != nil {
			notify("search_web")
		}
		i.log.Debug().Int("count", len(sources)).Msg("Search sources updated")

	case TypeAction:
		i.setAction(msg.Action)

	case TypeToolUse:
		i.mu.Lock()
		fn := i.onToolUse
		i.mu.Unlock()
		if fn != nil {
			fn(msg.Tool)
		}

	default:
		// Unknown tag: no-op.
	}
}

func (i *Interpreter) firePopup(visible bool) {
	i.mu.Lock()
	fn := i.onPopup
	i.mu.Unlock()
	if fn != nil {
		fn(visible)
	}
	i.log.Debug().Bool("visible", visible).Msg("Email popup toggled")
}

// setAction sets the cue and (re)schedules the auto-clear. A newer cue
// invalidates the pending clear so an earlier cue's timer can never null
// out its successor.
func (i *Interpreter) setAction(name string) {
	i.mu.Lock()
	i.action = name
	i.dwellID++
	id := i.dwellID
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.dwell, func() {
		i.clearAction(id)
	})
	fn := i.onAction
	i.mu.Unlock()

	if fn != nil {
		fn(name)
	}
}

func (i *Interpreter) clearAction(id uint64) {
	i.mu.Lock()
	if i.dwellID != id {
		i.mu.Unlock()
		return
	}
	i.action = ""
	fn := i.onAction
	i.mu.Unlock()

	if fn != nil {
		fn("")
	}
}

// Action returns the currently active cue, or "".
func (i *Interpreter) Action() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.action
}

// SendEmail publishes the typed-in email address as a reliable
// email_response message. Empty or invalid input is rejected without
// publishing.
func (i *Interpreter) SendEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}

	payload, err := json.Marshal(message{Type: TypeEmailResponse, Email: email})
	if err != nil {
		return err
	}

	i.mu.Lock()
	pub := i.publish
	i.mu.Unlock()
	if pub == nil {
		return errors.New("no publisher configured")
	}
	if err := pub(payload); err != nil {
		return err
	}
	i.log.Info().Msg("Email response published")
	return nil
}

// Reset cancels any pending dwell timer and clears the cue. Called on
// session teardown.
func (i *Interpreter) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dwellID++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.action = ""
}
