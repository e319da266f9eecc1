package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/relay"
)

// Client event names.
const (
	eventJoin    = "join"
	eventMessage = "message"
	eventTyping  = "typing"
)

// envelope is the JSON frame exchanged in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	DisplayName *string `json:"displayName"`
	// Username is accepted from older clients.
	Username *string `json:"username"`
}

type messagePayload struct {
	Text *string `json:"text"`
}

type typingPayload struct {
	IsTyping *bool `json:"isTyping"`
}

// encodeEvent renders an outbound relay event as a wire frame.
func encodeEvent(evt relay.Outbound) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", evt.Name(), err)
	}
	return json.Marshal(envelope{Event: evt.Name(), Data: data})
}

// decodeEvent turns a client frame into a relay event. Frames that cannot be
// understood become relay.Malformed so the engine can report them.
func decodeEvent(from presence.ConnID, raw []byte) relay.Event {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return relay.Malformed{From: from, Reason: "Invalid message format"}
	}

	switch env.Event {
	case eventJoin:
		var p joinPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return relay.Malformed{From: from, Kind: relay.KindJoin, Reason: "Invalid join payload"}
		}
		name := ""
		switch {
		case p.DisplayName != nil:
			name = *p.DisplayName
		case p.Username != nil:
			name = *p.Username
		}
		return relay.Join{From: from, DisplayName: name}

	case eventMessage:
		var p messagePayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return relay.Malformed{From: from, Kind: relay.KindChat, Reason: "Invalid message payload"}
		}
		if p.Text == nil {
			return relay.Malformed{From: from, Kind: relay.KindChat, Reason: "Message text is required"}
		}
		return relay.Chat{From: from, Text: *p.Text}

	case eventTyping:
		var p typingPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return relay.Malformed{From: from, Kind: relay.KindTyping, Reason: "Invalid typing payload"}
		}
		if p.IsTyping == nil {
			return relay.Malformed{From: from, Kind: relay.KindTyping, Reason: "isTyping is required"}
		}
		return relay.Typing{From: from, IsTyping: *p.IsTyping}

	case "":
		return relay.Malformed{From: from, Reason: "Event name is required"}
	}
	return relay.Malformed{From: from, Reason: fmt.Sprintf("Unknown event %q", env.Event)}
}

// unmarshalData treats a missing or null data field as an empty object.
func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
