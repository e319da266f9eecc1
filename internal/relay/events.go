package relay

import (
	"time"

	"github.com/Tyrowin/presencechat/internal/presence"
)

// Event is a notification handed to the engine by the transport. The set of
// implementations is closed; Engine.Handle switches over all of them.
type Event interface {
	Origin() presence.ConnID
	isEvent()
}

// Connected reports a freshly opened transport connection.
type Connected struct {
	From presence.ConnID
}

// Join asks to register the connection under a display name.
type Join struct {
	From        presence.ConnID
	DisplayName string
}

// Chat carries message text to relay to everyone.
type Chat struct {
	From presence.ConnID
	Text string
}

// Typing toggles the typing indicator shown to the other participants.
type Typing struct {
	From     presence.ConnID
	IsTyping bool
}

// Disconnected reports that the transport connection is gone, for whatever reason.
type Disconnected struct {
	From presence.ConnID
}

// Kind names the client event a frame claimed to be.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoin
	KindChat
	KindTyping
)

// Malformed is produced when the transport could not decode a client frame.
// Kind is KindUnknown unless the frame named a known event.
type Malformed struct {
	From   presence.ConnID
	Kind   Kind
	Reason string
}

func (e Connected) Origin() presence.ConnID    { return e.From }
func (e Join) Origin() presence.ConnID         { return e.From }
func (e Chat) Origin() presence.ConnID         { return e.From }
func (e Typing) Origin() presence.ConnID       { return e.From }
func (e Disconnected) Origin() presence.ConnID { return e.From }
func (e Malformed) Origin() presence.ConnID    { return e.From }

func (Connected) isEvent()    {}
func (Join) isEvent()         {}
func (Chat) isEvent()         {}
func (Typing) isEvent()       {}
func (Disconnected) isEvent() {}
func (Malformed) isEvent()    {}

// Outbound event names as seen on the wire.
const (
	NameSystem  = "system"
	NameUsers   = "users"
	NameMessage = "message"
	NameTyping  = "typing"
	NameError   = "error"
)

// Outbound is an event the engine sends to one or more connections.
type Outbound interface {
	Name() string
}

type SystemNotice struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RosterUpdate is the full list of joined users, in join order.
type RosterUpdate struct {
	Count int          `json:"count"`
	Users []RosterUser `json:"users"`
}

type RosterUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type ChatMessage struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

type TypingNotice struct {
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func (SystemNotice) Name() string { return NameSystem }
func (RosterUpdate) Name() string { return NameUsers }
func (ChatMessage) Name() string  { return NameMessage }
func (TypingNotice) Name() string { return NameTyping }
func (ErrorNotice) Name() string  { return NameError }

// Scope selects which open connections receive an outbound event.
type Scope int

const (
	// ScopeSender delivers only to the originating connection.
	ScopeSender Scope = iota
	// ScopeOthers delivers to every open connection except the origin.
	ScopeOthers
	// ScopeEveryone delivers to every open connection, origin included.
	ScopeEveryone
)

func (s Scope) String() string {
	switch s {
	case ScopeSender:
		return "sender"
	case ScopeOthers:
		return "others"
	case ScopeEveryone:
		return "everyone"
	}
	return "unknown"
}

// Emitter delivers outbound events. Implementations must not block and must
// not call back into the engine.
type Emitter interface {
	Emit(scope Scope, origin presence.ConnID, evt Outbound)
}
