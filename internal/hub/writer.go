package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/dcstrange/websocket-push-system/internal/protocol"
)

const (
	writeDeadline     = 5 * time.Second
	messageBufferSize = 16
)

// writer owns all writes to one WebSocket connection. Frames are enqueued on
// a buffered channel; the run goroutine is the only writer, which keeps
// gorilla's single-writer requirement without locking.
type writer struct {
	conn         *websocket.Conn
	clock        clockwork.Clock
	pingInterval time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	failed       atomic.Bool
}

func newWriter(conn *websocket.Conn, clock clockwork.Clock, pingInterval time.Duration) *writer {
	w := &writer{
		conn:         conn,
		clock:        clock,
		pingInterval: pingInterval,
		sendChannel:  make(chan []byte, messageBufferSize),
		doneChannel:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *writer) run() {
	ticker := w.clock.NewTicker(w.pingInterval)
	defer ticker.Stop()
	defer w.wg.Done()

	for {
		select {
		case msg, ok := <-w.sendChannel:
			if !ok {
				return
			}
			if err := w.write(msg); err != nil {
				w.failed.Store(true)
				return
			}
		case <-ticker.Chan():
			// Server-side liveness probe. Clients answer with pong, but any
			// traffic keeps them alive; the probe just provokes some.
			probe := protocol.MustEncode(protocol.NewPing(w.clock.Now().UnixMilli()))
			if err := w.write(probe); err != nil {
				w.failed.Store(true)
				return
			}
		case <-w.doneChannel:
			return
		}
	}
}

func (w *writer) write(msg []byte) error {
	_ = w.conn.SetWriteDeadline(w.clock.Now().Add(writeDeadline))
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

// trySend enqueues a frame without blocking. Returns false if the writer has
// already failed or its buffer is full (slow client).
func (w *writer) trySend(msg []byte) bool {
	if w.failed.Load() {
		return false
	}
	select {
	case w.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (w *writer) stop() {
	w.stopOnce.Do(func() {
		close(w.doneChannel)
		_ = w.conn.Close()
	})
	w.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing.
func (w *writer) stopGraceful(reason string) {
	w.stopOnce.Do(func() {
		// The run goroutine must exit before the close frame is written, so
		// the two never write concurrently.
		close(w.doneChannel)
		w.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = w.conn.SetWriteDeadline(w.clock.Now().Add(writeDeadline))
		_ = w.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = w.conn.Close()
	})
	w.wg.Wait()
}
