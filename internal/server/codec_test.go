package server

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/presencechat/internal/relay"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want relay.Event
	}{
		{
			name: "join with display name",
			raw:  `{"event":"join","data":{"displayName":"alice"}}`,
			want: relay.Join{From: "c1", DisplayName: "alice"},
		},
		{
			name: "join with legacy username",
			raw:  `{"event":"join","data":{"username":"bob"}}`,
			want: relay.Join{From: "c1", DisplayName: "bob"},
		},
		{
			name: "join without data is a blank name",
			raw:  `{"event":"join"}`,
			want: relay.Join{From: "c1", DisplayName: ""},
		},
		{
			name: "message",
			raw:  `{"event":"message","data":{"text":" hi "}}`,
			want: relay.Chat{From: "c1", Text: " hi "},
		},
		{
			name: "message with empty text is still a message",
			raw:  `{"event":"message","data":{"text":""}}`,
			want: relay.Chat{From: "c1", Text: ""},
		},
		{
			name: "message without text",
			raw:  `{"event":"message","data":{}}`,
			want: relay.Malformed{From: "c1", Kind: relay.KindChat, Reason: "Message text is required"},
		},
		{
			name: "typing",
			raw:  `{"event":"typing","data":{"isTyping":true}}`,
			want: relay.Typing{From: "c1", IsTyping: true},
		},
		{
			name: "typing without flag",
			raw:  `{"event":"typing","data":null}`,
			want: relay.Malformed{From: "c1", Kind: relay.KindTyping, Reason: "isTyping is required"},
		},
		{
			name: "typing with wrong type",
			raw:  `{"event":"typing","data":{"isTyping":"yes"}}`,
			want: relay.Malformed{From: "c1", Kind: relay.KindTyping, Reason: "Invalid typing payload"},
		},
		{
			name: "not json",
			raw:  `hello`,
			want: relay.Malformed{From: "c1", Reason: "Invalid message format"},
		},
		{
			name: "missing event name",
			raw:  `{"data":{"text":"hi"}}`,
			want: relay.Malformed{From: "c1", Reason: "Event name is required"},
		},
		{
			name: "unknown event",
			raw:  `{"event":"leave"}`,
			want: relay.Malformed{From: "c1", Reason: `Unknown event "leave"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, decodeEvent("c1", []byte(tt.raw)))
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw, err := encodeEvent(relay.ChatMessage{ID: "1-2", DisplayName: "alice", Text: "hi", Timestamp: at})
	req.NoError(err)

	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	req.NoError(json.Unmarshal(raw, &frame))
	req.Equal("message", frame.Event)
	req.Equal(map[string]any{
		"id":          "1-2",
		"displayName": "alice",
		"text":        "hi",
		"timestamp":   "2026-01-02T03:04:05Z",
	}, frame.Data)
}

func TestEncodeEvent_Roster(t *testing.T) {
	req := require.New(t)

	raw, err := encodeEvent(relay.RosterUpdate{Count: 1, Users: []relay.RosterUser{{ID: "a", DisplayName: "alice"}}})

	req.NoError(err)
	req.JSONEq(`{"event":"users","data":{"count":1,"users":[{"id":"a","displayName":"alice"}]}}`, string(raw))
}

func TestIsExpectedCloseError(t *testing.T) {
	req := require.New(t)
	req.True(isExpectedCloseError(nil))
	req.True(isExpectedCloseError(errors.New("write tcp: use of closed network connection")))
	req.True(isExpectedCloseError(errors.New("websocket: close sent")))
	req.True(isExpectedCloseError(errors.New("write: broken pipe")))
	req.False(isExpectedCloseError(errors.New("something else")))
}
