package relay

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// subscriberQueueSize bounds the per-subscriber outbound queue. A stalled
	// peer loses its oldest queued messages instead of blocking the room.
	subscriberQueueSize = 32

	// subscriberWriteTimeout bounds a single write to a subscriber socket.
	subscriberWriteTimeout = 5 * time.Second
)

// subscriber wraps one transcript sink socket with a bounded outbound queue
// and a dedicated writer goroutine, so broadcasts never block on a single
// slow peer.
type subscriber struct {
	conn Conn

	mu    sync.Mutex
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newSubscriber(conn Conn) *subscriber {
	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, subscriberQueueSize),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// enqueue queues a serialized message for delivery, evicting the oldest
// queued message when full. It reports how many messages were dropped.
func (s *subscriber) enqueue(msg []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return 0
	default:
	}

	dropped := 0
	for {
		select {
		case s.queue <- msg:
			return dropped
		default:
		}
		select {
		case <-s.queue:
			dropped++
		default:
		}
	}
}

// stop terminates the writer goroutine. Queued messages are discarded; the
// socket itself is closed by the caller.
func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// writeLoop delivers queued messages in FIFO order until stopped. A write
// failure ends delivery; the socket's own read loop observes the failure and
// drives removal.
func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), subscriberWriteTimeout)
			err := s.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
