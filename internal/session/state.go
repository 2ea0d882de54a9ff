// Package session owns the connection state machine and the session-scoped
// mutable state. It wires the analyzer, transcript reconstructor, and
// control interpreter to the room transport's event stream, and publishes
// every state change on the event bus for UI renderers.
package session

import (
	"github.com/vocalize-labs/vocalize-go/internal/analyzer"
	"github.com/vocalize-labs/vocalize-go/internal/avatar"
	"github.com/vocalize-labs/vocalize-go/internal/control"
	"github.com/vocalize-labs/vocalize-go/internal/transcript"
)

// Status is the connection-level state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// AgentState is the semantic conversational state, independent of Status.
// A session can be connected while the agent is still starting up; the
// state only advances when the remote agent broadcasts it.
type AgentState string

const (
	AgentDisconnected AgentState = "disconnected"
	AgentConnecting   AgentState = "connecting"
	AgentListening    AgentState = "listening"
	AgentThinking     AgentState = "thinking"
	AgentSpeaking     AgentState = "speaking"
)

// parseAgentState maps a broadcast attribute value onto an AgentState.
// Unrecognized values are ignored by the caller.
func parseAgentState(v string) (AgentState, bool) {
	switch AgentState(v) {
	case AgentListening, AgentThinking, AgentSpeaking:
		return AgentState(v), true
	}
	return "", false
}

// avatarState converts the session-level agent state into the driver's
// vocabulary. The enums share spellings; the conversion keeps the
// packages decoupled.
func avatarState(s AgentState) avatar.State {
	return avatar.State(s)
}

// Snapshot is the aggregate state surface served to UI renderers.
type Snapshot struct {
	Status            Status
	AgentState        AgentState
	SessionID         string
	CurrentTurn       transcript.Turn
	Transcript        []transcript.Entry
	Bands             analyzer.Bands
	Action            string
	SearchSources     []control.SourceLink
	EmailPopupVisible bool
}
