package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	assert.Equal(t, 1*time.Second, backoffDelay(1, base, max))
	assert.Equal(t, 2*time.Second, backoffDelay(2, base, max))
	assert.Equal(t, 4*time.Second, backoffDelay(3, base, max))
	assert.Equal(t, 8*time.Second, backoffDelay(4, base, max))
	assert.Equal(t, max, backoffDelay(5, base, max), "capped at max")
	assert.Equal(t, max, backoffDelay(50, base, max), "stays capped")
	assert.Equal(t, base, backoffDelay(0, base, max), "attempt floor is 1")
}

func TestDeliver_TerminalEventClosesChannel(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	ch := make(chan Event, eventBuffer)
	c.pending["req-1"] = ch

	c.handleFrame(protocol.NewRequestAccepted("req-1", "task-1", ""))
	c.handleFrame(protocol.NewData("req-1", protocol.Batch{TotalItems: 2, ProcessedItems: 2, Progress: 100, IsFinal: true}))

	ev := <-ch
	assert.Equal(t, EventAccepted, ev.Kind)
	assert.Equal(t, "task-1", ev.TaskID)

	ev = <-ch
	assert.Equal(t, EventData, ev.Kind)
	assert.True(t, ev.Batch.IsFinal)

	_, open := <-ch
	assert.False(t, open, "channel closes after terminal event")
	assert.Empty(t, c.pending)
}

func TestDeliver_ErrorIsTerminal(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	ch := make(chan Event, eventBuffer)
	c.pending["req-2"] = ch

	c.handleFrame(protocol.NewError("req-2", "unknown data type"))

	ev := <-ch
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "unknown data type", ev.Message)

	_, open := <-ch
	assert.False(t, open)
}

func TestHandleFrame_UnknownRequestIsDropped(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	assert.NotPanics(t, func() {
		c.handleFrame(protocol.NewData("never-sent", protocol.Batch{IsFinal: true}))
	})
}

func TestFailAllPending(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	chA := make(chan Event, eventBuffer)
	chB := make(chan Event, eventBuffer)
	c.pending["req-a"] = chA
	c.pending["req-b"] = chB

	c.failAllPending("connection lost")

	for _, ch := range []chan Event{chA, chB} {
		ev := <-ch
		assert.Equal(t, EventError, ev.Kind)
		assert.Equal(t, "connection lost", ev.Message)
		_, open := <-ch
		assert.False(t, open)
	}
	assert.Empty(t, c.pending)
}

func TestDeliver_ConcurrentDisconnectDoesNotPanic(t *testing.T) {
	// deliver racing failAllPending must never send on a channel the other
	// side has already closed.
	for i := 0; i < 500; i++ {
		c := New(Config{URL: "ws://unused"}, nil)
		c.pending["req-1"] = make(chan Event, eventBuffer)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.deliver("req-1", Event{Kind: EventData, RequestID: "req-1"}, false)
		}()
		go func() {
			defer wg.Done()
			c.failAllPending("connection lost")
		}()
		wg.Wait()

		assert.Empty(t, c.pending)
	}
}

func TestCancel_AbandonsPendingRequest(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	ch := make(chan Event, eventBuffer)
	c.pending["req-1"] = ch

	c.Cancel("req-1")

	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, c.pending)

	c.deliver("req-1", Event{Kind: EventData, RequestID: "req-1"}, false)
	c.Cancel("req-1") // unknown id is a no-op
}

// fakeServer speaks just enough of the protocol for a handshake plus one
// request/response exchange.
func fakeServer(t *testing.T, expectToken string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		write := func(f protocol.Frame) {
			_ = ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(f))
		}

		write(protocol.NewWelcome("conn-test"))

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.Decode(data)
			if err != nil {
				continue
			}

			switch f := frame.(type) {
			case protocol.Auth:
				if f.Token == expectToken {
					write(protocol.NewAuthSuccess("1"))
				} else {
					write(protocol.NewAuthFailure("invalid token"))
				}
			case protocol.Ping:
				write(protocol.NewPong(time.Now().UnixMilli(), f.Timestamp))
			case protocol.RequestData:
				write(protocol.NewRequestAccepted(f.RequestID, "task-test", ""))
				write(protocol.NewData(f.RequestID, protocol.Batch{
					TotalItems: 1, ProcessedItems: 1, Progress: 100, IsFinal: true,
					Results: []map[string]any{{"value": 1}},
				}))
			}
		}
	}))
}

func TestClient_EndToEndRequest(t *testing.T) {
	ts := fakeServer(t, "good-token")
	defer ts.Close()

	c := New(Config{
		URL:   "ws" + strings.TrimPrefix(ts.URL, "http"),
		Token: "good-token",
	}, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.connected
	}, 2*time.Second, 10*time.Millisecond, "client should finish the handshake")

	ch, err := c.Request("req-e2e", "analysis", nil)
	require.NoError(t, err)

	var kinds []EventKind
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				require.Equal(t, []EventKind{EventAccepted, EventData}, kinds)
				assert.Equal(t, "1", c.UserID())
				return
			}
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestClient_DuplicateRequestIDRefusedLocally(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	c.connected = true
	c.pending["req-dup"] = make(chan Event, eventBuffer)

	_, err := c.Request("req-dup", "analysis", nil)
	assert.ErrorIs(t, err, ErrRequestInFlight)
}

func TestClient_RequestWhileDisconnected(t *testing.T) {
	c := New(Config{URL: "ws://unused"}, nil)
	_, err := c.Request("req-x", "analysis", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	c.Close()
	_, err = c.Request("req-y", "analysis", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
