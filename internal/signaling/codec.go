package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/protocol"
)

// ErrMalformedMessage is returned by Decode when an envelope does not hold a
// recognizable signaling message. Callers log and drop it.
var ErrMalformedMessage = errors.New("malformed signaling message")

// wireMessage is the JSON shape of a message inside an envelope. It mirrors
// the browser's RTCSessionDescription and RTCIceCandidate JSON.
type wireMessage struct {
	Type      Type                     `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Encode wraps msg in an envelope addressed from id.
func Encode(id Identity, msg Message) (protocol.Envelope, error) {
	var w wireMessage

	switch m := msg.(type) {
	case Offer:
		w = wireMessage{Type: TypeOffer, SDP: m.SDP}
	case Answer:
		w = wireMessage{Type: TypeAnswer, SDP: m.SDP}
	case Candidate:
		init := m.Init
		w = wireMessage{Type: TypeCandidate, Candidate: &init}
	default:
		return protocol.Envelope{}, fmt.Errorf("encode: unsupported message %T", msg)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("encode %s: %w", w.Type, err)
	}

	return protocol.Envelope{
		Username: id.Username,
		Room:     id.Room,
		Data:     data,
	}, nil
}

// Decode extracts the message carried by env.
func Decode(env protocol.Envelope) (Message, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	var w wireMessage
	if err := json.Unmarshal(env.Data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch w.Type {
	case TypeOffer:
		if w.SDP == "" {
			return nil, fmt.Errorf("%w: offer without sdp", ErrMalformedMessage)
		}
		return Offer{SDP: w.SDP}, nil

	case TypeAnswer:
		if w.SDP == "" {
			return nil, fmt.Errorf("%w: answer without sdp", ErrMalformedMessage)
		}
		return Answer{SDP: w.SDP}, nil

	case TypeCandidate:
		if w.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate without payload", ErrMalformedMessage)
		}
		return Candidate{Init: *w.Candidate}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}
}
