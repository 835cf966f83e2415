package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call/signaling counter.
var Stats = &stats{}

type stats struct {
	SessionsOpened atomic.Int64 // cumulative sessions created since process start
	SessionsClosed atomic.Int64 // cumulative sessions torn down since process start
	SignalsSent    atomic.Int64 // signaling messages pushed to the relay
	SignalsRecv    atomic.Int64 // signaling messages handed to a negotiator
	DroppedStale   atomic.Int64 // inbox messages older than the staleness window
	DroppedDup     atomic.Int64 // inbox messages already seen (redelivery)
	DroppedBind    atomic.Int64 // signals not matching the active session
	Collisions     atomic.Int64 // offer collisions (glare) observed
	Heartbeats     atomic.Int64 // keepalive pings received
	MediaBytes     atomic.Int64 // cumulative bytes read from remote tracks
}

func (s *stats) AddSessionOpened()   { s.SessionsOpened.Add(1) }
func (s *stats) AddSessionClosed()   { s.SessionsClosed.Add(1) }
func (s *stats) AddSignalSent()      { s.SignalsSent.Add(1) }
func (s *stats) AddSignalRecv()      { s.SignalsRecv.Add(1) }
func (s *stats) AddDroppedStale()    { s.DroppedStale.Add(1) }
func (s *stats) AddDroppedDup()      { s.DroppedDup.Add(1) }
func (s *stats) AddDroppedBind()     { s.DroppedBind.Add(1) }
func (s *stats) AddCollision()       { s.Collisions.Add(1) }
func (s *stats) AddHeartbeat()       { s.Heartbeats.Add(1) }
func (s *stats) AddMediaBytes(n int) { s.MediaBytes.Add(int64(n)) }

// ActiveSessions returns the number of sessions currently open.
func (s *stats) ActiveSessions() int64 {
	return s.SessionsOpened.Load() - s.SessionsClosed.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevMedia, prevSent, prevRecv, prevDropped int64
		for {
			select {
			case <-ticker.C:
				media := Stats.MediaBytes.Load()
				sent := Stats.SignalsSent.Load()
				recv := Stats.SignalsRecv.Load()
				dropped := Stats.DroppedStale.Load() + Stats.DroppedDup.Load() + Stats.DroppedBind.Load()

				rate := float64(media-prevMedia) / 10.0
				if sent != prevSent || recv != prevRecv || dropped != prevDropped || rate > 10 {
					pterm.DefaultLogger.Info(formatStats(rate, sent-prevSent, recv-prevRecv, dropped-prevDropped))
				}

				prevMedia = media
				prevSent = sent
				prevRecv = recv
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(mediaRate float64, sent, recv, dropped int64) string {
	return fmt.Sprintf("Media: %s/s | Signals: %2d↑ %2d↓ | Dropped: %2d | Sessions: %d",
		formatBytes(mediaRate),
		sent,
		recv,
		dropped,
		Stats.ActiveSessions(),
	)
}
