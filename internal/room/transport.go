// Package room abstracts the real-time media room behind a typed
// transport interface. The session manager subscribes once per connect
// attempt and never touches transport internals.
package room

import (
	"context"
	"encoding/json"
)

// Credential is the result of one issuance request, consumed by exactly
// one connect attempt.
type Credential struct {
	Token     string `json:"credential"`
	SessionID string `json:"sessionId"`
	Endpoint  string `json:"endpoint"`
}

// ConnectInfo carries the user identity and agent persona settings sent
// as participant metadata.
type ConnectInfo struct {
	ParticipantName string `json:"participantName"`
	Persona         string `json:"persona"`
	BusinessContext string `json:"businessContext"`
}

// MetadataJSON renders the metadata blob the agent parses on join.
func (ci ConnectInfo) MetadataJSON() string {
	b, _ := json.Marshal(map[string]string{
		"userName":        ci.ParticipantName,
		"persona":         ci.Persona,
		"businessDetails": ci.BusinessContext,
	})
	return string(b)
}

// TranscriptionSegment is one STT segment delivered by the transport.
type TranscriptionSegment struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	SpeakerIsAgent bool   `json:"speakerIsAgent"`
	Final          bool   `json:"final"`
}

// Handlers is the typed event surface a transport feeds. All callbacks
// are optional; the transport must tolerate nil fields.
type Handlers struct {
	OnConnected         func()
	OnDisconnected      func(reason error)
	OnAudioFrame        func(samples []int16, sampleRate int)
	OnData              func(payload []byte)
	OnAttributesChanged func(attrs map[string]string)
	OnTranscription     func(segments []TranscriptionSegment)
}

// Transport is the room connection consumed by the session manager.
type Transport interface {
	// Connect opens the room with the given credential and registers the
	// event handlers for the life of the connection.
	Connect(ctx context.Context, cred Credential, info ConnectInfo, h Handlers) error
	// EnableMicrophone publishes the local microphone track.
	EnableMicrophone(ctx context.Context) error
	// PublishData sends a reliable message on the side channel.
	PublishData(payload []byte) error
	// Close tears the connection down. Idempotent.
	Close() error
}

// Issuer requests a session credential for one connect attempt.
type Issuer interface {
	Issue(ctx context.Context, info ConnectInfo) (Credential, error)
}
