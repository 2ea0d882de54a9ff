package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalize-labs/vocalize-go/internal/analyzer"
	"github.com/vocalize-labs/vocalize-go/internal/avatar"
	"github.com/vocalize-labs/vocalize-go/internal/bus"
	"github.com/vocalize-labs/vocalize-go/internal/control"
	"github.com/vocalize-labs/vocalize-go/internal/room"
	"github.com/vocalize-labs/vocalize-go/internal/transcript"
)

// Participant attribute keys that may carry the agent's state broadcast.
// The SFU convention prefixes framework attributes with "lk.".
var agentStateAttrKeys = []string{"lk.agent.state", "agent.state"}

// AvatarDriver is the session-facing surface of the animation driver.
type AvatarDriver interface {
	Start()
	Stop()
	SetAgentState(s avatar.State)
	UpdateBands(b analyzer.Bands)
	TriggerCue(cue string)
}

// Manager owns one connect attempt's worth of session state. All shared
// mutable state (live turn, dedup set, sources, popup flag) lives behind
// its mutex; the other components only receive inputs and return derived
// outputs.
type Manager struct {
	mu  sync.Mutex
	log zerolog.Logger
	bus *bus.EventBus

	issuer       room.Issuer
	newTransport func() room.Transport
	analyzer     *analyzer.Analyzer
	recon        *transcript.Reconstructor
	interp       *control.Interpreter
	driver       AvatarDriver

	info room.ConnectInfo

	gen        uint64
	status     Status
	agentState AgentState
	transport  room.Transport
	sessionID  string
	startedAt  time.Time

	sources      []control.SourceLink
	popupVisible bool
	closed       bool
}

// Options bundles the manager's collaborators.
type Options struct {
	Issuer       room.Issuer
	NewTransport func() room.Transport
	Analyzer     *analyzer.Analyzer
	Driver       AvatarDriver
	Bus          *bus.EventBus
	Info         room.ConnectInfo
	ActionDwell  time.Duration
	Log          zerolog.Logger
}

// New creates a manager and wires the component callbacks together:
// bands feed the driver and the bus, transcript changes and control
// effects feed the bus, user speech clears the search sources, and
// action cues trigger avatar motions.
func New(opts Options) *Manager {
	m := &Manager{
		log:          opts.Log.With().Str("component", "session").Logger(),
		bus:          opts.Bus,
		issuer:       opts.Issuer,
		newTransport: opts.NewTransport,
		analyzer:     opts.Analyzer,
		recon:        transcript.New(),
		driver:       opts.Driver,
		info:         opts.Info,
		status:       StatusDisconnected,
		agentState:   AgentDisconnected,
		sources:      []control.SourceLink{},
	}
	m.interp = control.New(m.publishData, opts.Log)
	if opts.ActionDwell > 0 {
		m.interp.SetActionDwell(opts.ActionDwell)
	}

	m.analyzer.OnBands(func(b analyzer.Bands) {
		m.driver.UpdateBands(b)
		m.bus.Publish(bus.Event{Type: bus.EventTypeBands, Data: map[string]any{
			"low": b.Low, "mid": b.Mid, "high": b.High, "volume": b.Volume,
		}})
	})

	m.recon.OnTurnChange(func(t transcript.Turn) {
		m.bus.Publish(bus.Event{Type: bus.EventTypeTurnUpdated, Data: map[string]any{
			"input": t.Input, "output": t.Output,
		}})
	})
	m.recon.OnFinalized(func(e transcript.Entry) {
		m.bus.Publish(bus.Event{Type: bus.EventTypeTurnFinalized, Data: map[string]any{
			"speaker": string(e.Speaker), "text": e.Text, "timestamp": e.Timestamp,
		}})
	})
	// Displaying sources is only valid while the agent's last answer is
	// the most recent turn.
	m.recon.OnUserSpeech(func() {
		m.setSources([]control.SourceLink{})
	})

	m.interp.OnEmailPopup(func(visible bool) {
		m.mu.Lock()
		m.popupVisible = visible
		m.mu.Unlock()
		m.bus.Publish(bus.Event{Type: bus.EventTypeEmailPopup, Data: map[string]any{"visible": visible}})
	})
	m.interp.OnSearchSources(func(s []control.SourceLink) {
		m.setSources(s)
	})
	m.interp.OnAction(func(name string) {
		if name != "" {
			m.driver.TriggerCue(name)
		}
		m.bus.Publish(bus.Event{Type: bus.EventTypeActionCue, Data: map[string]any{"action": name}})
	})
	m.interp.OnToolUse(func(tool string) {
		m.bus.Publish(bus.Event{Type: bus.EventTypeToolUse, Data: map[string]any{"tool": tool}})
	})

	return m
}

// Connect runs one connect attempt: credential, transport, microphone,
// then the analyzer and driver loops. A failure at any awaited step moves
// the session to error and runs full teardown. A newer attempt or a
// disconnect started mid-sequence makes the remainder of this one discard
// itself via the generation token.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if m.status == StatusConnecting || m.status == StatusConnected {
		s := m.status
		m.mu.Unlock()
		return fmt.Errorf("already %s", s)
	}
	m.gen++
	gen := m.gen
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	m.setAgentState(AgentConnecting)

	cred, err := m.issuer.Issue(ctx, m.info)
	if err != nil {
		return m.failConnect(gen, fmt.Errorf("issue credential: %w", err))
	}
	if m.stale(gen) {
		return nil
	}

	t := m.newTransport()
	if err := t.Connect(ctx, cred, m.info, m.handlers(gen)); err != nil {
		return m.failConnect(gen, fmt.Errorf("open transport: %w", err))
	}
	if m.stale(gen) {
		t.Close()
		return nil
	}

	m.mu.Lock()
	m.transport = t
	m.sessionID = cred.SessionID
	m.mu.Unlock()

	if err := t.EnableMicrophone(ctx); err != nil {
		return m.failConnect(gen, fmt.Errorf("enable microphone: %w", err))
	}
	if m.stale(gen) {
		return nil
	}

	m.analyzer.Start()
	m.driver.Start()

	m.log.Info().
		Str("session_id", cred.SessionID).
		Str("participant", m.info.ParticipantName).
		Msg("Session started")
	return nil
}

// Disconnect is the user-initiated teardown: all session data resets to
// its initial empty values.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	started := m.startedAt
	m.mu.Unlock()

	m.teardown()
	m.setStatus(StatusDisconnected)

	if !started.IsZero() {
		m.log.Info().
			Dur("duration", time.Since(started)).
			Msg("Session ended")
	}
}

// Close is the unmount path. Idempotent; after Close the manager refuses
// new connect attempts.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
}

// SendEmail validates and publishes the email_response control message.
func (m *Manager) SendEmail(email string) error {
	return m.interp.SendEmail(email)
}

// Snapshot returns the aggregate state surface.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:            m.status,
		AgentState:        m.agentState,
		SessionID:         m.sessionID,
		CurrentTurn:       m.recon.CurrentTurn(),
		Transcript:        m.recon.Entries(),
		Bands:             m.analyzer.Last(),
		Action:            m.interp.Action(),
		SearchSources:     append([]control.SourceLink(nil), m.sources...),
		EmailPopupVisible: m.popupVisible,
	}
}

// Status returns the connection-level state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// handlers builds the transport event surface for one attempt. Every
// callback checks the generation first so events from a superseded
// connection never mutate current state.
func (m *Manager) handlers(gen uint64) room.Handlers {
	return room.Handlers{
		OnConnected: func() {
			if m.stale(gen) {
				return
			}
			// agentState intentionally stays put until the remote agent
			// broadcasts its first real state.
			m.setStatus(StatusConnected)
		},
		OnDisconnected: func(err error) {
			if m.stale(gen) {
				return
			}
			if err != nil {
				m.log.Warn().Err(err).Msg("Transport disconnected")
				m.bus.Publish(bus.Event{Type: bus.EventTypeError, Data: map[string]any{"error": err.Error()}})
			}
			m.mu.Lock()
			m.gen++
			m.mu.Unlock()
			m.teardown()
			m.setStatus(StatusDisconnected)
		},
		OnAudioFrame: func(samples []int16, sampleRate int) {
			if m.stale(gen) {
				return
			}
			m.analyzer.WritePCM(samples)
		},
		OnData: func(payload []byte) {
			if m.stale(gen) {
				return
			}
			m.interp.HandleData(payload)
		},
		OnAttributesChanged: func(changed map[string]string) {
			if m.stale(gen) {
				return
			}
			for _, key := range agentStateAttrKeys {
				if v, ok := changed[key]; ok {
					if s, ok := parseAgentState(v); ok {
						m.setAgentState(s)
					}
					return
				}
			}
		},
		OnTranscription: func(segments []room.TranscriptionSegment) {
			if m.stale(gen) {
				return
			}
			batch := make([]transcript.Segment, 0, len(segments))
			for _, s := range segments {
				batch = append(batch, transcript.Segment{
					ID:             s.ID,
					Text:           s.Text,
					SpeakerIsAgent: s.SpeakerIsAgent,
					Final:          s.Final,
				})
			}
			m.recon.ProcessBatch(batch)
		},
	}
}

// teardown releases every per-attempt resource in order: analyzer loop
// and sinks, driver loop, transport, transcript state including the
// dedup set, sources, action cue, email popup. Safe when some resources
// were never created.
func (m *Manager) teardown() {
	m.analyzer.Stop()
	m.driver.Stop()

	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.sessionID = ""
	popupWasVisible := m.popupVisible
	m.popupVisible = false
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.log.Debug().Err(err).Msg("Transport close")
		}
	}

	m.recon.Reset()
	m.interp.Reset()
	m.setSources([]control.SourceLink{})
	if popupWasVisible {
		m.bus.Publish(bus.Event{Type: bus.EventTypeEmailPopup, Data: map[string]any{"visible": false}})
	}

	m.setAgentState(AgentDisconnected)
	m.bus.Publish(bus.Event{Type: bus.EventTypeBands, Data: map[string]any{
		"low": 0.0, "mid": 0.0, "high": 0.0, "volume": 0.0,
	}})
}

// failConnect aborts the connect sequence. A stale generation means a
// newer attempt already owns the state; the failure is discarded.
func (m *Manager) failConnect(gen uint64, err error) error {
	if m.stale(gen) {
		m.log.Debug().Err(err).Msg("Stale connect attempt failed, discarding")
		return nil
	}
	m.log.Error().Err(err).Msg("Connect failed")
	m.setStatus(StatusError)
	m.bus.Publish(bus.Event{Type: bus.EventTypeError, Data: map[string]any{"error": err.Error()}})
	m.teardown()
	return err
}

func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()
	m.bus.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"status": string(s)}})
}

func (m *Manager) setAgentState(s AgentState) {
	m.mu.Lock()
	if m.agentState == s {
		m.mu.Unlock()
		return
	}
	m.agentState = s
	m.mu.Unlock()
	m.driver.SetAgentState(avatarState(s))
	m.bus.Publish(bus.Event{Type: bus.EventTypeAgentState, Data: map[string]any{"state": string(s)}})
}

func (m *Manager) setSources(s []control.SourceLink) {
	m.mu.Lock()
	m.sources = s
	m.mu.Unlock()
	m.bus.Publish(bus.Event{Type: bus.EventTypeSourcesUpdated, Data: map[string]any{"count": len(s)}})
}

// publishData routes outbound control messages to the live transport.
func (m *Manager) publishData(payload []byte) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return fmt.Errorf("not connected")
	}
	return t.PublishData(payload)
}
