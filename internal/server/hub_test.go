package server

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/Tyrowin/presencechat/internal/relay"
	"github.com/Tyrowin/presencechat/internal/testhelpers"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, mutate func(*Config)) *Hub {
	t.Helper()
	cfg := NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), cfg)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

// newDetachedClient registers a client without a socket; its frames stay in
// the send queue for the test to inspect.
func newDetachedClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(nil, hub, "127.0.0.1:0")
	require.True(t, hub.Register(client))
	return client
}

func nextFrame(t *testing.T, client *Client) testhelpers.Frame {
	t.Helper()
	select {
	case raw, ok := <-client.GetSendChan():
		require.True(t, ok, "send queue closed")
		var f testhelpers.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return testhelpers.Frame{}
}

func expectEmpty(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.GetSendChan():
		t.Fatalf("unexpected frame %s", string(raw))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	req := require.New(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	req.Zero(hub.ClientCount())
	req.Zero(hub.OnlineCount())
}

func TestNewClient(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, func(cfg *Config) { cfg.SendBufferSize = 7 })

	a := NewClient(nil, hub, "127.0.0.1:1")
	b := NewClient(nil, hub, "127.0.0.1:2")

	req.NotEmpty(a.ID())
	req.NotEqual(a.ID(), b.ID())
	req.Equal(7, cap(a.send))
	expectEmpty(t, a)
}

func TestHub_Join_Routes_By_Scope(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, nil)
	alice := newDetachedClient(t, hub)
	bob := newDetachedClient(t, hub)

	// When alice joins
	req.True(hub.deliver(relay.Join{From: alice.ID(), DisplayName: "alice"}))

	// Then alice gets the welcome and the roster
	f := nextFrame(t, alice)
	req.Equal("system", f.Event)
	req.Equal("Welcome to the chat, alice!", testhelpers.Decode[relay.SystemNotice](t, f).Text)
	f = nextFrame(t, alice)
	req.Equal("users", f.Event)
	req.Equal(1, testhelpers.Decode[relay.RosterUpdate](t, f).Count)
	expectEmpty(t, alice)

	// And bob, not joined yet, gets the social message and the roster
	f = nextFrame(t, bob)
	req.Equal("system", f.Event)
	req.Equal("alice joined the chat", testhelpers.Decode[relay.SystemNotice](t, f).Text)
	f = nextFrame(t, bob)
	req.Equal("users", f.Event)
	expectEmpty(t, bob)

	req.Equal(1, hub.OnlineCount())
	req.Equal(2, hub.ClientCount())
}

func TestHub_Unregister_Broadcasts_Leave(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, nil)
	alice := newDetachedClient(t, hub)
	bob := newDetachedClient(t, hub)
	req.True(hub.deliver(relay.Join{From: alice.ID(), DisplayName: "alice"}))
	req.True(hub.deliver(relay.Join{From: bob.ID(), DisplayName: "bob"}))
	for range 4 {
		nextFrame(t, alice)
	}
	for range 4 {
		nextFrame(t, bob)
	}

	// When bob's connection goes away
	hub.leave(bob)

	// Then alice hears about it and bob's queue is closed
	f := nextFrame(t, alice)
	req.Equal("bob left the chat", testhelpers.Decode[relay.SystemNotice](t, f).Text)
	f = nextFrame(t, alice)
	roster := testhelpers.Decode[relay.RosterUpdate](t, f)
	req.Equal(1, roster.Count)
	req.Equal("alice", roster.Users[0].DisplayName)

	_, ok := <-bob.GetSendChan()
	req.False(ok)
	req.Equal(1, hub.ClientCount())
}

func TestHub_Drops_Slow_Client(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, func(cfg *Config) { cfg.SendBufferSize = 1 })
	client := newDetachedClient(t, hub)

	// When the client joins, the welcome fills its queue and the roster overflows it
	req.True(hub.deliver(relay.Join{From: client.ID(), DisplayName: "sloth"}))

	// Then it is dropped like any other leave
	req.Eventually(func() bool {
		return hub.ClientCount() == 0 && hub.OnlineCount() == 0
	}, time.Second, 10*time.Millisecond)

	raw, ok := <-client.GetSendChan()
	req.True(ok)
	req.Contains(string(raw), "Welcome to the chat")
	_, ok = <-client.GetSendChan()
	req.False(ok)
}

func TestHub_Incomplete_Frames_Before_Join(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, nil)
	anon := newDetachedClient(t, hub)

	// A typing frame without isTyping from a connection that has not joined is ignored
	req.True(hub.deliver(decodeEvent(anon.ID(), []byte(`{"event":"typing"}`))))
	expectEmpty(t, anon)

	// A message frame without text asks the sender to join first
	req.True(hub.deliver(decodeEvent(anon.ID(), []byte(`{"event":"message","data":{}}`))))
	f := nextFrame(t, anon)
	req.Equal("error", f.Event)
	req.Equal("Please join with a username first", testhelpers.Decode[relay.ErrorNotice](t, f).Message)
	expectEmpty(t, anon)
}

func TestHub_Nil_Registration_Is_Ignored(t *testing.T) {
	hub := newTestHub(t, nil)

	require.True(t, hub.Register(nil))
	require.Zero(t, hub.ClientCount())
}

func TestHub_Shutdown(t *testing.T) {
	req := require.New(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), nil)
	go hub.Run()
	newDetachedClient(t, hub)

	req.NoError(hub.Shutdown(time.Second))

	// After shutdown the hub refuses new work instead of blocking
	req.False(hub.Register(NewClient(nil, hub, "127.0.0.1:0")))
	req.False(hub.deliver(relay.Connected{From: "late"}))
}
