// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"strconv"

	"github.com/pion/webrtc/v4"
)

// CandidateKey computes a 64-bit fingerprint of an ICE candidate from its
// candidate line, media id and m-line index. Two candidates with the same
// key describe the same network path for the same media section.
func CandidateKey(c webrtc.ICECandidateInit) uint64 {
	h := fnv.New64a()
	h.Write([]byte(c.Candidate))
	h.Write([]byte{0})
	if c.SDPMid != nil {
		h.Write([]byte(*c.SDPMid))
	}
	h.Write([]byte{0})
	if c.SDPMLineIndex != nil {
		h.Write([]byte(strconv.FormatUint(uint64(*c.SDPMLineIndex), 10)))
	}
	return h.Sum64()
}
