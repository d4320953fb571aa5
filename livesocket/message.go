package livesocket

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is one Phoenix channel frame. On the wire it is the V2 array
// [join_ref, ref, topic, event, payload]; empty refs encode as null.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarshalJSON ...
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

// UnmarshalJSON ...
func (m *Message) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("decode message: expected 5 elements, got %d", len(parts))
	}

	var joinRef, ref *string
	if err := json.Unmarshal(parts[0], &joinRef); err != nil {
		return fmt.Errorf("decode join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ref); err != nil {
		return fmt.Errorf("decode ref: %w", err)
	}

	var out Message
	if err := json.Unmarshal(parts[2], &out.Topic); err != nil {
		return fmt.Errorf("decode topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &out.Event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if joinRef != nil {
		out.JoinRef = *joinRef
	}
	if ref != nil {
		out.Ref = *ref
	}
	if !bytes.Equal(bytes.TrimSpace(parts[4]), []byte("null")) {
		out.Payload = parts[4]
	}

	*m = out
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
