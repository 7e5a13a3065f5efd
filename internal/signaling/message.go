// Package signaling defines the offer/answer/candidate messages two peers
// exchange through the relay, and their mapping onto relay envelopes.
package signaling

import "github.com/pion/webrtc/v4"

// Type identifies the kind of signaling message on the wire.
type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
)

// Identity is the unauthenticated participant identity attached to every
// outgoing envelope.
type Identity struct {
	Username string
	Room     string
}

// Message is one of Offer, Answer or Candidate. The set is closed: the
// unexported marker keeps other packages from adding variants, so a type
// switch over the three cases plus a default is exhaustive.
type Message interface {
	Type() Type
	isMessage()
}

// Offer carries the offerer's session description.
type Offer struct {
	SDP string
}

// Answer carries the answerer's session description.
type Answer struct {
	SDP string
}

// Candidate carries one ICE candidate discovered by the sender.
type Candidate struct {
	Init webrtc.ICECandidateInit
}

func (Offer) Type() Type     { return TypeOffer }
func (Answer) Type() Type    { return TypeAnswer }
func (Candidate) Type() Type { return TypeCandidate }

func (Offer) isMessage()     {}
func (Answer) isMessage()    {}
func (Candidate) isMessage() {}

// SessionDescription converts an offer or answer into pion's description
// type. It returns false for candidates.
func SessionDescription(msg Message) (webrtc.SessionDescription, bool) {
	switch m := msg.(type) {
	case Offer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}, true
	case Answer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}, true
	default:
		return webrtc.SessionDescription{}, false
	}
}
