package room

import (
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
)

func TestBridgeDispatchAudio(t *testing.T) {
	tr := NewWSBridge(zerolog.Nop())

	// Two little-endian samples: 0x0102 and -1.
	payload := base64.StdEncoding.EncodeToString([]byte{0x02, 0x01, 0xff, 0xff})

	var got []int16
	var rate int
	tr.dispatch(bridgeEnvelope{Type: bridgeAudio, Payload: payload, SampleRate: 16000}, Handlers{
		OnAudioFrame: func(samples []int16, sampleRate int) {
			got = samples
			rate = sampleRate
		},
	})

	if len(got) != 2 || got[0] != 0x0102 || got[1] != -1 {
		t.Fatalf("decoded samples: %v", got)
	}
	if rate != 16000 {
		t.Errorf("sample rate: %d", rate)
	}
}

func TestBridgeDispatchAudioDefaultsRate(t *testing.T) {
	tr := NewWSBridge(zerolog.Nop())
	payload := base64.StdEncoding.EncodeToString([]byte{0x00, 0x00})

	var rate int
	tr.dispatch(bridgeEnvelope{Type: bridgeAudio, Payload: payload}, Handlers{
		OnAudioFrame: func(_ []int16, sampleRate int) { rate = sampleRate },
	})
	if rate != 48000 {
		t.Errorf("expected default 48000, got %d", rate)
	}
}

func TestBridgeDispatchMalformedAudioIgnored(t *testing.T) {
	tr := NewWSBridge(zerolog.Nop())

	var called bool
	h := Handlers{OnAudioFrame: func([]int16, int) { called = true }}

	tr.dispatch(bridgeEnvelope{Type: bridgeAudio, Payload: "not base64!!"}, h)
	// Odd byte count cannot split into int16 samples.
	tr.dispatch(bridgeEnvelope{Type: bridgeAudio, Payload: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}, h)

	if called {
		t.Error("malformed audio frames must be dropped")
	}
}

func TestBridgeDispatchUnknownType(t *testing.T) {
	tr := NewWSBridge(zerolog.Nop())
	tr.dispatch(bridgeEnvelope{Type: "future"}, Handlers{})
}

func TestBridgeDispatchTranscription(t *testing.T) {
	tr := NewWSBridge(zerolog.Nop())

	var got []TranscriptionSegment
	tr.dispatch(bridgeEnvelope{
		Type: bridgeTranscription,
		Segments: []TranscriptionSegment{
			{ID: "a", Text: "hi", SpeakerIsAgent: true, Final: true},
		},
	}, Handlers{OnTranscription: func(s []TranscriptionSegment) { got = s }})

	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("segments: %+v", got)
	}
}

func TestMetadataJSON(t *testing.T) {
	info := ConnectInfo{ParticipantName: "Ada", Persona: "helpful", BusinessContext: "bakery"}
	want := `{"businessDetails":"bakery","persona":"helpful","userName":"Ada"}`
	if got := info.MetadataJSON(); got != want {
		t.Errorf("metadata = %s", got)
	}
}
