package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingEvent is returned by Decode for frames without an event name.
var ErrMissingEvent = errors.New("frame has no event")

// Encode serializes an event and its payload into a frame for transmission.
// A nil payload produces a frame without data.
func Encode(event Event, payload any) ([]byte, error) {
	f := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

// Decode deserializes a frame. The payload stays raw; use Frame.Unmarshal.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return nil, ErrMissingEvent
	}
	return &f, nil
}

// Unmarshal decodes the frame payload into v.
func (f *Frame) Unmarshal(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}
