package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/videoboard/internal/util"
)

const (
	audioFrameDuration = 20 * time.Millisecond
	videoFrameDuration = 33 * time.Millisecond
)

var (
	// opusSilence is a single 20 ms Opus silence frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}

	// vp8Filler is a tiny VP8 key-frame header followed by padding. The far
	// end only needs RTP to flow; it is never decoded for display here.
	vp8Filler = append([]byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}, make([]byte, 32)...)
)

// SyntheticProvider produces Opus and VP8 tracks fed with filler samples.
// A kiosk without capture hardware still sends RTP, so the far end sees its
// tracks unmute.
type SyntheticProvider struct{}

// Acquire creates the requested tracks and starts their sample pumps.
func (SyntheticProvider) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", ErrMediaUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := gonanoid.Nanoid()
	if err != nil {
		return nil, fmt.Errorf("failed to generate stream id: %w", err)
	}

	type pump struct {
		track    *webrtc.TrackLocalStaticSample
		payload  []byte
		interval time.Duration
	}
	var pumps []pump

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		pumps = append(pumps, pump{track, opusSilence, audioFrameDuration})
	}

	if c.Video {
		trackID := "video"
		if c.FacingMode != "" {
			trackID += "-" + c.FacingMode
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			trackID, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		pumps = append(pumps, pump{track, vp8Filler, videoFrameDuration})
	}

	pctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	tracks := make([]webrtc.TrackLocal, 0, len(pumps))

	for _, p := range pumps {
		tracks = append(tracks, p.track)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPump(pctx, p.track, p.payload, p.interval)
		}()
	}

	return NewStream(id, tracks, func() {
		cancel()
		wg.Wait()
	}), nil
}

// runPump writes one sample per interval until ctx is cancelled.
func runPump(ctx context.Context, track *webrtc.TrackLocalStaticSample, payload []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := track.WriteSample(pionmedia.Sample{Data: payload, Duration: interval}); err != nil {
				util.LogDebug("media: %s track write failed: %v", track.Kind(), err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
