package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSinkClosed is returned when writing to a sink that has been closed.
var ErrSinkClosed = errors.New("sink is closed")

// Sink is a writable destination for outbound lines. Implementations must be
// safe for concurrent use.
type Sink interface {
	// Write delivers one complete line.
	Write(p []byte) error
	// Close ends the sink. It is idempotent.
	Close() error
	// Closed reports whether the sink can no longer be written to.
	Closed() bool
	// Done is closed once the sink is closed.
	Done() <-chan struct{}
}

// streamSink pushes lines over a chunked HTTP response.
type streamSink struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	closed       bool
	done         chan struct{}
}

func newStreamSink(w http.ResponseWriter, writeTimeout time.Duration) *streamSink {
	return &streamSink{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *streamSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines; ignore ErrNotSupported.
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	}

	if _, err := s.w.Write(p); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("stream flush: %w", err)
	}
	return nil
}

func (s *streamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *streamSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *streamSink) Done() <-chan struct{} {
	return s.done
}

// wsSink pushes lines as WebSocket text frames.
type wsSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool
	done         chan struct{}
}

func newWSSink(conn *websocket.Conn, writeTimeout time.Duration) *wsSink {
	return &wsSink{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *wsSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("websocket deadline: %w", err)
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "transport closed"),
		deadline,
	)
	return s.conn.Close()
}

func (s *wsSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *wsSink) Done() <-chan struct{} {
	return s.done
}
