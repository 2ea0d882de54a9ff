package room

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// bridgeEnvelope is the JSON frame exchanged with the room simulator.
type bridgeEnvelope struct {
	Type       string                 `json:"type"`
	Token      string                 `json:"token,omitempty"`
	Metadata   string                 `json:"metadata,omitempty"`
	Payload    string                 `json:"payload,omitempty"` // base64
	SampleRate int                    `json:"sampleRate,omitempty"`
	Attributes map[string]string      `json:"attributes,omitempty"`
	Segments   []TranscriptionSegment `json:"segments,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

const (
	bridgeJoin          = "join"
	bridgeConnected     = "connected"
	bridgeDisconnected  = "disconnected"
	bridgeAudio         = "audio"
	bridgeData          = "data"
	bridgeAttributes    = "attributes"
	bridgeTranscription = "transcription"
)

// WSBridgeTransport implements Transport over a plain websocket against
// the room simulator. Used for development and integration tests where a
// full SFU is overkill.
type WSBridgeTransport struct {
	log zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSBridge creates an unconnected bridge transport.
func NewWSBridge(log zerolog.Logger) *WSBridgeTransport {
	return &WSBridgeTransport{
		log: log.With().Str("component", "wsbridge").Logger(),
	}
}

// Connect dials the simulator, sends the join frame, and starts the read
// loop. Unlike the SFU transport there is no reconnection: one attempt,
// one connection.
func (t *WSBridgeTransport) Connect(ctx context.Context, cred Credential, info ConnectInfo, h Handlers) error {
	u, err := url.Parse(cred.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	join := bridgeEnvelope{Type: bridgeJoin, Token: cred.Token, Metadata: info.MetadataJSON()}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return fmt.Errorf("join: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	go t.readLoop(conn, h)
	return nil
}

func (t *WSBridgeTransport) readLoop(conn *websocket.Conn, h Handlers) {
	for {
		var env bridgeEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.mu.Unlock()
			if !wasClosed && h.OnDisconnected != nil {
				h.OnDisconnected(err)
			}
			return
		}
		t.dispatch(env, h)
	}
}

func (t *WSBridgeTransport) dispatch(env bridgeEnvelope, h Handlers) {
	switch env.Type {
	case bridgeConnected:
		if h.OnConnected != nil {
			h.OnConnected()
		}

	case bridgeDisconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected(fmt.Errorf("remote: %s", env.Reason))
		}

	case bridgeAudio:
		if h.OnAudioFrame == nil {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil || len(raw)%2 != 0 {
			return
		}
		samples := make([]int16, len(raw)/2)
		for i := range samples {
			samples[i] = int16(raw[2*i]) | int16(raw[2*i+1])<<8
		}
		rate := env.SampleRate
		if rate == 0 {
			rate = 48000
		}
		h.OnAudioFrame(samples, rate)

	case bridgeData:
		if h.OnData == nil {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return
		}
		h.OnData(raw)

	case bridgeAttributes:
		if h.OnAttributesChanged != nil {
			h.OnAttributesChanged(env.Attributes)
		}

	case bridgeTranscription:
		if h.OnTranscription != nil {
			h.OnTranscription(env.Segments)
		}

	default:
		t.log.Debug().Str("type", env.Type).Msg("Unknown bridge frame")
	}
}

// EnableMicrophone is a no-op on the bridge; the simulator drives audio
// itself.
func (t *WSBridgeTransport) EnableMicrophone(ctx context.Context) error {
	return nil
}

// PublishData sends a data frame to the simulator.
func (t *WSBridgeTransport) PublishData(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(bridgeEnvelope{
		Type:    bridgeData,
		Payload: base64.StdEncoding.EncodeToString(payload),
	})
}

// Close shuts the connection down. Idempotent.
func (t *WSBridgeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
