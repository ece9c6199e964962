package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Reserved envelope types consumed by the channel itself. Every other type
// is forwarded to the application handler.
const (
	typeAuth        = "auth"
	typeAuthSuccess = "auth_success"
	typePing        = "ping"
	typePong        = "pong"
)

// Envelope is one wire frame: a JSON object tagged by "type" plus an
// arbitrary payload, forwarded verbatim.
type Envelope struct {
	Type string
	Data []byte
}

// Decode unmarshals the full frame into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

// parseEnvelope peeks at the type tag without decoding the payload.
func parseEnvelope(raw []byte) (Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, errors.New("invalid envelope: not JSON")
	}
	t := gjson.GetBytes(raw, "type")
	if !t.Exists() || t.Type != gjson.String {
		return Envelope{}, errors.New("invalid envelope: missing type tag")
	}
	return Envelope{Type: t.String(), Data: raw}, nil
}

func authFrame(token string) []byte {
	frame, _ := json.Marshal(map[string]string{
		"type":         typeAuth,
		"access_token": token,
	})
	return frame
}

func pingFrame() []byte {
	return []byte(`{"type":"ping"}`)
}

func pongFrame() []byte {
	return []byte(`{"type":"pong"}`)
}

// marshalFrame turns an outgoing value into wire bytes. Envelopes and raw
// byte slices pass through; everything else is marshaled as JSON.
func marshalFrame(v any) ([]byte, error) {
	switch m := v.(type) {
	case Envelope:
		return m.Data, nil
	case []byte:
		return m, nil
	default:
		frame, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal frame: %w", err)
		}
		return frame, nil
	}
}
