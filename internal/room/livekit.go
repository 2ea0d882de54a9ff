package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1
	// 60ms at 48kHz mono covers the largest opus frame
	maxOpusFrame = 2880
)

// LiveKitTransport implements Transport on the LiveKit SFU.
type LiveKitTransport struct {
	log zerolog.Logger

	mu       sync.Mutex
	room     *lksdk.Room
	micTrack *lksdk.LocalSampleTrack
	identity string
	closed   bool
}

// NewLiveKit creates an unconnected LiveKit transport.
func NewLiveKit(log zerolog.Logger) *LiveKitTransport {
	return &LiveKitTransport{
		log: log.With().Str("component", "livekit").Logger(),
	}
}

// Connect joins the room named by the credential and maps room callbacks
// onto the typed handler surface.
func (t *LiveKitTransport) Connect(ctx context.Context, cred Credential, info ConnectInfo, h Handlers) error {
	cb := &lksdk.RoomCallback{
		OnDisconnected: func() {
			if h.OnDisconnected != nil {
				h.OnDisconnected(nil)
			}
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				t.log.Info().Str("participant", rp.Identity()).Msg("Remote audio track subscribed")
				go t.pumpAudio(track, h)
			},
			OnAttributesChanged: func(changed map[string]string, p lksdk.Participant) {
				if h.OnAttributesChanged != nil {
					h.OnAttributesChanged(changed)
				}
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				user, ok := data.(*lksdk.UserDataPacket)
				if !ok {
					return
				}
				if h.OnData != nil {
					h.OnData(user.Payload)
				}
			},
			OnTranscriptionReceived: func(segments []*lksdk.TranscriptionSegment, p lksdk.Participant, pub lksdk.TrackPublication) {
				if h.OnTranscription == nil || len(segments) == 0 {
					return
				}
				t.mu.Lock()
				local := t.identity
				t.mu.Unlock()

				batch := make([]TranscriptionSegment, 0, len(segments))
				for _, s := range segments {
					batch = append(batch, TranscriptionSegment{
						ID:             s.ID,
						Text:           s.Text,
						SpeakerIsAgent: p.Identity() != local,
						Final:          s.Final,
					})
				}
				h.OnTranscription(batch)
			},
		},
	}

	r, err := lksdk.ConnectToRoomWithToken(cred.Endpoint, cred.Token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}

	t.mu.Lock()
	t.room = r
	t.identity = r.LocalParticipant.Identity()
	t.closed = false
	t.mu.Unlock()

	if h.OnConnected != nil {
		h.OnConnected()
	}
	t.log.Info().Str("room", r.Name()).Msg("Connected to room")
	return nil
}

// pumpAudio decodes the remote opus track to PCM16 frames.
func (t *LiveKitTransport) pumpAudio(track *webrtc.TrackRemote, h Handlers) {
	dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to create opus decoder")
		return
	}

	pcm := make([]int16, maxOpusFrame)
	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			t.log.Debug().Err(err).Msg("Audio track read ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		if h.OnAudioFrame != nil {
			frame := make([]int16, n)
			copy(frame, pcm[:n])
			h.OnAudioFrame(frame, opusSampleRate)
		}
	}
}

// EnableMicrophone publishes the local microphone track. The capture
// device feeds it through WriteMicSample.
func (t *LiveKitTransport) EnableMicrophone(ctx context.Context) error {
	t.mu.Lock()
	r := t.room
	t.mu.Unlock()
	if r == nil {
		return fmt.Errorf("not connected")
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	})
	if err != nil {
		return fmt.Errorf("create mic track: %w", err)
	}

	if _, err := r.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return fmt.Errorf("publish mic track: %w", err)
	}

	t.mu.Lock()
	t.micTrack = track
	t.mu.Unlock()
	return nil
}

// WriteMicSample pushes one encoded microphone sample onto the published
// track.
func (t *LiveKitTransport) WriteMicSample(data []byte, duration time.Duration) error {
	t.mu.Lock()
	track := t.micTrack
	t.mu.Unlock()
	if track == nil {
		return fmt.Errorf("microphone not enabled")
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration}, nil)
}

// PublishData sends a reliable side-channel message.
func (t *LiveKitTransport) PublishData(payload []byte) error {
	t.mu.Lock()
	r := t.room
	t.mu.Unlock()
	if r == nil {
		return fmt.Errorf("not connected")
	}
	return r.LocalParticipant.PublishData(payload, lksdk.WithDataPublishReliable(true))
}

// Close disconnects from the room. Idempotent.
func (t *LiveKitTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	r := t.room
	t.room = nil
	t.micTrack = nil
	t.mu.Unlock()

	if r != nil {
		r.Disconnect()
	}
	return nil
}
