package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/videoboard/internal/util"
)

// DefaultICEServers are the public STUN servers used when the configuration
// names none. No TURN: calls rely on direct connectivity.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// keepaliveLabel names the liveness data channel.
const keepaliveLabel = "keepalive"

// newAPI builds a pion API with the default codecs registered and pion's
// logging routed through the application logger.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = util.PionLoggerFactory{}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// newPeerConnection creates a PeerConnection using the given STUN/TURN urls.
// An empty list gathers host candidates only.
func newPeerConnection(api *webrtc.API, iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return api.NewPeerConnection(config)
}

// newKeepaliveChannel creates the pre-negotiated, unordered liveness channel.
// Both sides create it with ID 0, so neither depends on OnDataChannel and
// either side's connection has something to negotiate on its own.
func newKeepaliveChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel(keepaliveLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}

// mediaKinds are the media slots every connection starts with.
var mediaKinds = []webrtc.RTPCodecType{
	webrtc.RTPCodecTypeAudio,
	webrtc.RTPCodecTypeVideo,
}

// addMediaSlots adds one send-receive transceiver per media kind. pion gives
// each a silent placeholder track until real media replaces it.
func addMediaSlots(pc *webrtc.PeerConnection) ([]*webrtc.RTPSender, error) {
	senders := make([]*webrtc.RTPSender, 0, len(mediaKinds))
	for _, kind := range mediaKinds {
		tr, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
		senders = append(senders, tr.Sender())
	}
	return senders, nil
}
