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

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	OffersSent     atomic.Int64 // offers emitted to the room
	AnswersSent    atomic.Int64 // answers emitted to the room
	CandidatesSent atomic.Int64 // local ICE candidates emitted
	CandidatesRecv atomic.Int64 // remote ICE candidates accepted (deduplicated)
	Dropped        atomic.Int64 // malformed or out-of-state messages dropped
	BytesRecv      atomic.Int64 // cumulative RTP payload bytes read from remote tracks
}

func (s *stats) AddOffer()         { s.OffersSent.Add(1) }
func (s *stats) AddAnswer()        { s.AnswersSent.Add(1) }
func (s *stats) AddCandidateSent() { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateRecv() { s.CandidatesRecv.Add(1) }
func (s *stats) AddDropped()       { s.Dropped.Add(1) }
func (s *stats) AddRecv(n int)     { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevRecv, prevCand, prevDropped int64
		for {
			select {
			case <-ticker.C:
				recv := Stats.BytesRecv.Load()
				cand := Stats.CandidatesSent.Load() + Stats.CandidatesRecv.Load()
				dropped := Stats.Dropped.Load()

				inS := float64(recv-prevRecv) / 10.0

				if inS > 10 || cand != prevCand || dropped != prevDropped {
					pterm.DefaultLogger.Info(formatStats(inS, cand, dropped))
				}

				prevRecv = recv
				prevCand = cand
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
func formatStats(inS float64, candidates, dropped int64) string {
	return fmt.Sprintf("Media in: %s/s | Offers: %d | Answers: %d | Candidates: %d | Dropped: %d",
		formatBytes(inS),
		Stats.OffersSent.Load(),
		Stats.AnswersSent.Load(),
		candidates,
		dropped,
	)
}
