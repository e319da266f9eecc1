// Package relay implements the presence-tracking broadcast relay: it owns the
// session registry, reacts to connection lifecycle and client events, and
// decides who receives each resulting outbound event.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	reasonNameRequired  = "Username is required"
	reasonNameTooLong   = "Username is too long"
	reasonAlreadyJoined = "You have already joined"
	reasonJoinFirst     = "Please join with a username first"
	reasonTextTooLong   = "Message is too long"
)

// Limits bounds user supplied strings, counted in runes.
type Limits struct {
	MaxNameLength int
	MaxTextLength int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxNameLength: 32, MaxTextLength: 1000}
}

// Engine processes events one at a time. Every call to Handle runs the
// registry mutation, the roster snapshot and all emits under one lock, so a
// roster update always matches the membership change that produced it.
type Engine struct {
	mu       sync.Mutex
	log      *slog.Logger
	registry *presence.Registry
	emitter  Emitter
	open     map[presence.ConnID]struct{}
	limits   Limits
	validate *validator.Validate

	now          func() time.Time
	newMessageID func(time.Time) string
}

func NewEngine(log *slog.Logger, emitter Emitter, limits Limits) *Engine {
	def := DefaultLimits()
	if limits.MaxNameLength <= 0 {
		limits.MaxNameLength = def.MaxNameLength
	}
	if limits.MaxTextLength <= 0 {
		limits.MaxTextLength = def.MaxTextLength
	}
	return &Engine{
		log:          log,
		registry:     presence.NewRegistry(),
		emitter:      emitter,
		open:         make(map[presence.ConnID]struct{}),
		limits:       limits,
		validate:     validator.New(),
		now:          func() time.Time { return time.Now().UTC() },
		newMessageID: messageID,
	}
}

// Handle applies a single event. A non-nil error means the event was refused;
// if the refusal concerns the client it has already been reported to it.
func (e *Engine) Handle(evt Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := evt.Origin()
	if _, ok := evt.(Connected); !ok {
		if _, open := e.open[from]; !open {
			e.log.Debug("Dropping event from unknown connection", "conn_id", from, "event", fmt.Sprintf("%T", evt))
			return ErrUnknownConnection
		}
	}

	var err error
	switch ev := evt.(type) {
	case Connected:
		e.onConnected(ev)
	case Join:
		err = e.onJoin(ev)
	case Chat:
		err = e.onChat(ev)
	case Typing:
		e.onTyping(ev)
	case Disconnected:
		e.onDisconnected(ev)
	case Malformed:
		err = e.onMalformed(ev)
	default:
		err = fmt.Errorf("unsupported event %T", evt)
	}

	var rej *Rejection
	if errors.As(err, &rej) {
		e.log.Debug("Event rejected", "conn_id", from, "reason", rej.Reason)
		e.emitter.Emit(ScopeSender, from, ErrorNotice{Message: rej.Reason})
	}
	return err
}

// OnlineCount returns the number of joined sessions. Safe to call from any goroutine.
func (e *Engine) OnlineCount() int {
	return e.registry.Size()
}

// Roster builds the current roster from a fresh registry snapshot.
func (e *Engine) Roster() RosterUpdate {
	sessions := e.registry.All()
	return RosterUpdate{
		Count: len(sessions),
		Users: lo.Map(sessions, func(s presence.Session, _ int) RosterUser {
			return RosterUser{ID: string(s.ConnectionID), DisplayName: s.DisplayName}
		}),
	}
}

func (e *Engine) onConnected(ev Connected) {
	if _, ok := e.open[ev.From]; ok {
		e.log.Warn("Connection opened twice", "conn_id", ev.From)
		return
	}
	e.open[ev.From] = struct{}{}
	e.log.Info("New client connected", "conn_id", ev.From)
}

func (e *Engine) onJoin(ev Join) error {
	if _, joined := e.registry.Get(ev.From); joined {
		return reject(presence.ErrAlreadyJoined, reasonAlreadyJoined)
	}

	name := strings.TrimSpace(ev.DisplayName)
	if err := e.validate.Var(name, fmt.Sprintf("required,max=%d", e.limits.MaxNameLength)); err != nil {
		return reject(ErrInvalidInput, nameReason(err))
	}

	now := e.now()
	if _, err := e.registry.Put(ev.From, name, now); err != nil {
		return reject(err, reasonAlreadyJoined)
	}
	e.log.Info("User joined", "conn_id", ev.From, "display_name", name)

	e.emitter.Emit(ScopeSender, ev.From, SystemNotice{
		Text:      fmt.Sprintf("Welcome to the chat, %s!", name),
		Timestamp: now,
	})
	e.emitter.Emit(ScopeOthers, ev.From, SystemNotice{
		Text:      fmt.Sprintf("%s joined the chat", name),
		Timestamp: now,
	})
	e.emitter.Emit(ScopeEveryone, ev.From, e.Roster())
	return nil
}

func (e *Engine) onChat(ev Chat) error {
	session, joined := e.registry.Get(ev.From)
	if !joined {
		return reject(ErrNotJoined, reasonJoinFirst)
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}
	if err := e.validate.Var(text, fmt.Sprintf("max=%d", e.limits.MaxTextLength)); err != nil {
		return reject(ErrInvalidInput, reasonTextTooLong)
	}

	now := e.now()
	msg := ChatMessage{
		ID:          e.newMessageID(now),
		DisplayName: session.DisplayName,
		Text:        text,
		Timestamp:   now,
	}
	e.log.Debug("Message relayed", "conn_id", ev.From, "display_name", session.DisplayName, "message_id", msg.ID)
	e.emitter.Emit(ScopeEveryone, ev.From, msg)
	return nil
}

func (e *Engine) onTyping(ev Typing) {
	session, joined := e.registry.Get(ev.From)
	if !joined {
		return
	}
	e.emitter.Emit(ScopeOthers, ev.From, TypingNotice{
		DisplayName: session.DisplayName,
		IsTyping:    ev.IsTyping,
	})
}

// onMalformed applies the session rules of the claimed event before the
// payload is judged: typing from a non-joined connection is ignored and a
// message from one asks it to join.
func (e *Engine) onMalformed(ev Malformed) error {
	if ev.Kind == KindChat || ev.Kind == KindTyping {
		if _, joined := e.registry.Get(ev.From); !joined {
			if ev.Kind == KindTyping {
				return nil
			}
			return reject(ErrNotJoined, reasonJoinFirst)
		}
	}
	return reject(ErrInvalidInput, ev.Reason)
}

func (e *Engine) onDisconnected(ev Disconnected) {
	delete(e.open, ev.From)

	session, joined := e.registry.Remove(ev.From)
	if !joined {
		e.log.Info("Client disconnected", "conn_id", ev.From)
		return
	}
	e.log.Info("User disconnected", "conn_id", ev.From, "display_name", session.DisplayName)

	e.emitter.Emit(ScopeEveryone, ev.From, SystemNotice{
		Text:      fmt.Sprintf("%s left the chat", session.DisplayName),
		Timestamp: e.now(),
	})
	e.emitter.Emit(ScopeEveryone, ev.From, e.Roster())
}

func nameReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
		return reasonNameTooLong
	}
	return reasonNameRequired
}

// messageID is unique enough within one process run; it makes no claim
// beyond that.
func messageID(t time.Time) string {
	return fmt.Sprintf("%d-%06d", t.UnixMilli(), rand.IntN(1_000_000))
}
