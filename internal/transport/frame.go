package transport

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON text message delivered to clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame builds a frame for event, encoding data as its payload.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s frame: %w", event, err)
		}
		raw = b
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodeFrame parses a frame received by a client.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decoding frame: missing event name")
	}
	return f, nil
}
