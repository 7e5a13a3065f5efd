package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

// candidateBook tracks remote candidates for the current handle: every
// candidate seen (for deduplication) and those not yet applied because no
// remote description exists.
type candidateBook struct {
	seen    map[uint64]struct{}
	pending []webrtc.ICECandidateInit
}

func newCandidateBook() *candidateBook {
	return &candidateBook{seen: make(map[uint64]struct{})}
}

// add queues c and reports whether it was new.
func (b *candidateBook) add(c webrtc.ICECandidateInit) bool {
	key := util.CandidateKey(c)
	if _, ok := b.seen[key]; ok {
		return false
	}
	b.seen[key] = struct{}{}
	b.pending = append(b.pending, c)
	return true
}

// take returns and clears the pending queue, preserving arrival order.
func (b *candidateBook) take() []webrtc.ICECandidateInit {
	p := b.pending
	b.pending = nil
	return p
}

func (b *candidateBook) buffered() int {
	return len(b.pending)
}

func (b *candidateBook) reset() {
	b.seen = make(map[uint64]struct{})
	b.pending = nil
}
