package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

// TestMessageRoundTrip verifies that both arms of the tagged variant survive
// encoding and come back as the same concrete type.
func TestMessageRoundTrip(t *testing.T) {
	mid := "0"
	index := uint16(0)

	testCases := []struct {
		name string
		msg  Message
	}{
		{
			name: "offer description",
			msg: Description{SDP: webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer,
				SDP:  "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n",
			}},
		},
		{
			name: "answer description",
			msg: Description{SDP: webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer,
				SDP:  "v=0\r\n",
			}},
		},
		{
			name: "candidate",
			msg: Candidate{Init: webrtc.ICECandidateInit{
				Candidate:     "candidate:1 1 udp 2130706431 192.168.1.2 50000 typ host",
				SDPMid:        &mid,
				SDPMLineIndex: &index,
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeMessage(tc.msg)
			if err != nil {
				t.Fatalf("EncodeMessage failed: %v", err)
			}

			decoded, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}

			switch want := tc.msg.(type) {
			case Description:
				got, ok := decoded.(Description)
				if !ok {
					t.Fatalf("decoded %T, want Description", decoded)
				}
				if got.SDP.Type != want.SDP.Type || got.SDP.SDP != want.SDP.SDP {
					t.Errorf("description mismatch: got %+v, want %+v", got.SDP, want.SDP)
				}
			case Candidate:
				got, ok := decoded.(Candidate)
				if !ok {
					t.Fatalf("decoded %T, want Candidate", decoded)
				}
				if got.Init.Candidate != want.Init.Candidate {
					t.Errorf("candidate mismatch: got %q, want %q", got.Init.Candidate, want.Init.Candidate)
				}
				if got.Init.SDPMid == nil || *got.Init.SDPMid != mid {
					t.Errorf("sdpMid lost in round trip")
				}
			}
		})
	}
}

// TestDescriptionWireShape pins the JSON shape used by browser peers:
// {"description":{"type":"offer","sdp":...}}.
func TestDescriptionWireShape(t *testing.T) {
	data, err := EncodeMessage(Description{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}})
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"description"`) || !strings.Contains(s, `"offer"`) {
		t.Errorf("unexpected wire form: %s", s)
	}
	if strings.Contains(s, `"candidate"`) {
		t.Errorf("candidate field must be omitted: %s", s)
	}
}

// TestDecodeMessageRejectsAmbiguous verifies that a payload must carry
// exactly one arm of the variant.
func TestDecodeMessageRejectsAmbiguous(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"empty object", `{}`},
		{"both arms", `{"description":{"type":"offer","sdp":"x"},"candidate":{"candidate":"c"}}`},
		{"not json", `hello`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tc.data))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

// TestDecodeEnvelopeInfersSignal verifies that legacy records carrying a
// nonce without a type are treated as signals.
func TestDecodeEnvelopeInfersSignal(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"id":"a","timestamp":1700000000000,"nonce":"n1","src":"alice","data":"{}"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Type != TypeSignal {
		t.Errorf("Type = %q, want %q", env.Type, TypeSignal)
	}
	if env.SentAt().UnixMilli() != 1700000000000 {
		t.Errorf("SentAt = %v", env.SentAt())
	}

	if _, err := DecodeEnvelope([]byte(`{"id":"b","timestamp":1}`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope for untyped record, got %v", err)
	}
}

// TestSignalMessageRequiresSignalType verifies that control envelopes do not
// decode as signaling messages.
func TestSignalMessageRequiresSignalType(t *testing.T) {
	env := &Envelope{Type: TypeCaption, Data: "hello"}
	if _, err := env.SignalMessage(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
