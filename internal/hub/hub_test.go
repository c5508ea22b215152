package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

// testHub sets up a Hub behind a test HTTP server whose handler attaches
// connections and runs a minimal read pump (touch on every frame).
func testHub(t *testing.T, clock clockwork.Clock, onDisconnect func(uuid.UUID)) (*Hub, func() (*ws.Conn, *Connection)) {
	t.Helper()

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := New(Config{HeartbeatInterval: 30 * time.Second, HeartbeatTimeout: 60 * time.Second}, clock, onDisconnect)
	t.Cleanup(h.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	connCh := make(chan *Connection, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		c := h.Attach(conn)
		require.NotNil(t, c)
		connCh <- c

		go func() {
			defer h.Detach(c.ID())
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				c.Touch(clock.Now())
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func() (*ws.Conn, *Connection) {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		return client, <-connCh
	}

	return h, dial
}

func waitForClientCount(h *Hub, userID string, expected int) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount(userID) == expected {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestHub_AuthenticateAndCount(t *testing.T) {
	h, dial := testHub(t, nil, nil)
	_, c1 := dial()
	_, c2 := dial()

	require.NoError(t, h.Authenticate(c1.ID(), "1"))
	require.NoError(t, h.Authenticate(c2.ID(), "1"))

	assert.Equal(t, 2, h.ClientCount("1"))
	assert.Equal(t, 0, h.ClientCount("2"))

	stats := h.Stats()
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Users)
}

func TestHub_AuthenticateUnknownConnection(t *testing.T) {
	h, _ := testHub(t, nil, nil)
	err := h.Authenticate(uuid.New(), "1")
	assert.Error(t, err)
}

func TestHub_SendToUser_FanoutToAllConnections(t *testing.T) {
	h, dial := testHub(t, nil, nil)
	clientA, cA := dial()
	clientB, cB := dial()

	require.NoError(t, h.Authenticate(cA.ID(), "1"))
	require.NoError(t, h.Authenticate(cB.ID(), "1"))

	frame := protocol.MustEncode(protocol.NewData("req-1", protocol.Batch{IsFinal: true}))
	delivered := h.SendToUser("1", frame)
	assert.Equal(t, 2, delivered)

	for _, client := range []*ws.Conn{clientA, clientB} {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)

		decoded, err := protocol.Decode(msg)
		require.NoError(t, err)
		data, ok := decoded.(protocol.Data)
		require.True(t, ok)
		assert.Equal(t, "req-1", data.Payload.RequestID)
	}
}

func TestHub_SendToUser_NoConnections(t *testing.T) {
	h, _ := testHub(t, nil, nil)
	assert.Equal(t, 0, h.SendToUser("nobody", []byte(`{}`)))
}

// One dead connection must not abort delivery to the remaining ones, and the
// returned count reflects only successful writes.
func TestHub_SendToUser_PartialFailure(t *testing.T) {
	h, dial := testHub(t, nil, nil)
	_, cA := dial()
	clientB, cB := dial()

	require.NoError(t, h.Authenticate(cA.ID(), "1"))
	require.NoError(t, h.Authenticate(cB.ID(), "1"))

	// Simulate a dead peer: A's writer has already failed.
	cA.writer.failed.Store(true)

	frame := protocol.MustEncode(protocol.NewData("req-1", protocol.Batch{IsFinal: true}))
	delivered := h.SendToUser("1", frame)
	assert.Equal(t, 1, delivered)

	clientB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clientB.ReadMessage()
	require.NoError(t, err)

	// The failed connection is evicted.
	assert.True(t, waitForClientCount(h, "1", 1))
}

func TestHub_SendToConnection(t *testing.T) {
	h, dial := testHub(t, nil, nil)
	client, c := dial()

	frame := protocol.MustEncode(protocol.NewWelcome(c.ID().String()))
	assert.True(t, h.SendToConnection(c.ID(), frame))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), c.ID().String())

	assert.False(t, h.SendToConnection(uuid.New(), frame))
}

func TestHub_OnDisconnectFires(t *testing.T) {
	var mu sync.Mutex
	var gone []uuid.UUID
	h, dial := testHub(t, nil, func(id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		gone = append(gone, id)
	})

	client, c := dial()
	require.NoError(t, h.Authenticate(c.ID(), "1"))

	client.Close()
	require.True(t, waitForClientCount(h, "1", 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gone) == 1 && gone[0] == c.ID()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsSecondUserForSameConnection(t *testing.T) {
	h, dial := testHub(t, nil, nil)
	_, c := dial()

	require.NoError(t, h.Authenticate(c.ID(), "1"))
	assert.Error(t, h.Authenticate(c.ID(), "2"))
	assert.Equal(t, 1, h.ClientCount("1"))
	assert.Equal(t, 0, h.ClientCount("2"))
}

func TestHub_HeartbeatTerminatesStaleConnection(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	h, dial := testHub(t, clock, nil)
	client, c := dial()
	require.NoError(t, h.Authenticate(c.ID(), "1"))

	// No traffic for more than the 60s timeout: two sweep ticks past it.
	clock.Advance(61 * time.Second)
	clock.Advance(30 * time.Second)

	assert.True(t, waitForClientCount(h, "1", 0))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_TrafficKeepsConnectionAlive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	h, dial := testHub(t, clock, nil)
	client, c := dial()
	require.NoError(t, h.Authenticate(c.ID(), "1"))

	// Traffic at 1.5x the heartbeat interval keeps the connection alive
	// through multiple sweeps.
	for i := 0; i < 3; i++ {
		clock.Advance(45 * time.Second)
		require.NoError(t, client.WriteMessage(ws.TextMessage, protocol.MustEncode(protocol.NewPing(clock.Now().UnixMilli()))))
		// Let the read pump record the activity before advancing again.
		require.Eventually(t, func() bool {
			return c.idleSince(clock.Now()) < 45*time.Second
		}, 2*time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, 1, h.ClientCount("1"))
}
