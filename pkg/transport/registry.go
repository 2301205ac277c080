package transport

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/memstream/internal/observability"
	"github.com/harun/memstream/pkg/faults"
	"github.com/harun/memstream/pkg/framing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Carrier names.
const (
	CarrierStream    = "http-stream"
	CarrierWebSocket = "websocket"
	CarrierPost      = "http-post"
)

// ConnectionAck is the first line written to every newly attached sink.
type ConnectionAck struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

// Connection is one attached client: its sink and its inbound frame buffer.
type Connection struct {
	ID          string
	Carrier     string
	RemoteAddr  string
	ConnectedAt time.Time

	sink Sink

	// inMu serializes inbound processing so lines are delivered in order.
	inMu   sync.Mutex
	buffer *framing.Buffer
}

// Sink returns the connection's output sink.
func (c *Connection) Sink() Sink {
	return c.sink
}

// Open reports whether the connection's sink still accepts writes.
func (c *Connection) Open() bool {
	return !c.sink.Closed()
}

// ConnectionInfo is a snapshot of a connection for status reporting.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Carrier     string    `json:"carrier"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Open        bool      `json:"open"`
}

// BroadcastResult summarizes one broadcast.
type BroadcastResult struct {
	// Targeted counts open sinks a write was attempted on.
	Targeted int
	// Delivered counts successful writes.
	Delivered int
	// Pruned counts closed sinks removed instead of written.
	Pruned int
	// Failures holds one TransportError per failed write.
	Failures []*faults.Record
}

// ClientRegistry tracks the connections attached to one transport session.
type ClientRegistry struct {
	mu          sync.RWMutex
	clients     map[string]*Connection
	maxLine     int
	logger      zerolog.Logger
	idGenerator func() (string, error)
}

// NewClientRegistry creates a registry whose connections buffer lines of at
// most maxLine bytes (unbounded when maxLine <= 0).
func NewClientRegistry(maxLine int, logger zerolog.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients:     make(map[string]*Connection),
		maxLine:     maxLine,
		logger:      logger,
		idGenerator: func() (string, error) { return gonanoid.New() },
	}
}

// Register attaches sink under a new connection id and writes the
// connection-established acknowledgement to it.
func (r *ClientRegistry) Register(sink Sink, carrier, remoteAddr string) (*Connection, error) {
	id, err := r.idGenerator()
	if err != nil {
		return nil, faults.New(faults.InternalError, faults.OpAccept, "failed to generate connection id", err)
	}

	conn := &Connection{
		ID:          id,
		Carrier:     carrier,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		sink:        sink,
		buffer:      framing.New(r.maxLine),
	}

	// The acknowledgement goes out before the connection becomes visible to
	// Broadcast so it is always the first line on the sink.
	ack, err := json.Marshal(ConnectionAck{Type: "connection", Status: "established", ClientID: id})
	if err != nil {
		return nil, faults.New(faults.InternalError, faults.OpAccept, "failed to encode acknowledgement", err)
	}
	if err := sink.Write(append(ack, '\n')); err != nil {
		_ = sink.Close()
		return nil, faults.New(faults.TransportError, faults.OpAccept, "failed to acknowledge connection", err).
			WithConnection(id)
	}

	r.mu.Lock()
	r.clients[id] = conn
	r.mu.Unlock()

	observability.RecordConnectionOpened(carrier)

	r.logger.Info().
		Str("clientId", id).
		Str("carrier", carrier).
		Str("ip", remoteAddr).
		Msg("Client connected")

	return conn, nil
}

// Remove detaches and closes a connection. It is a no-op for unknown ids.
func (r *ClientRegistry) Remove(id string) bool {
	r.mu.Lock()
	conn, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}

	r.release(conn)
	r.logger.Info().Str("clientId", id).Msg("Client disconnected")
	return true
}

// Get retrieves a connection by id.
func (r *ClientRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.clients[id]
	return conn, exists
}

// Count returns the number of attached connections.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// Snapshot returns info for every connection, oldest first.
func (r *ClientRegistry) Snapshot() []ConnectionInfo {
	conns := r.all()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		infos = append(infos, ConnectionInfo{
			ID:          conn.ID,
			Carrier:     conn.Carrier,
			RemoteAddr:  conn.RemoteAddr,
			ConnectedAt: conn.ConnectedAt,
			Open:        conn.Open(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Broadcast writes payload to every open sink. Closed sinks are pruned. A
// failed write is recorded, its connection is dropped, and delivery to the
// remaining sinks continues.
func (r *ClientRegistry) Broadcast(payload []byte) BroadcastResult {
	var result BroadcastResult

	for _, conn := range r.all() {
		if conn.sink.Closed() {
			if r.Remove(conn.ID) {
				result.Pruned++
			}
			continue
		}

		result.Targeted++
		if err := conn.sink.Write(payload); err != nil {
			rec := faults.New(faults.TransportError, faults.OpSend,
				fmt.Sprintf("failed to deliver to %s client", conn.Carrier), err).
				WithConnection(conn.ID)
			result.Failures = append(result.Failures, rec)
			r.Remove(conn.ID)
			continue
		}
		result.Delivered++
	}

	return result
}

// Prune removes every connection whose sink has closed.
func (r *ClientRegistry) Prune() int {
	pruned := 0
	for _, conn := range r.all() {
		if conn.sink.Closed() && r.Remove(conn.ID) {
			pruned++
		}
	}
	return pruned
}

// CloseAll closes every sink and empties the registry.
func (r *ClientRegistry) CloseAll() int {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range clients {
		r.release(conn)
	}

	if len(clients) > 0 {
		r.logger.Info().Int("count", len(clients)).Msg("Closed all client connections")
	}
	return len(clients)
}

func (r *ClientRegistry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.clients))
	for _, conn := range r.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (r *ClientRegistry) release(conn *Connection) {
	if err := conn.sink.Close(); err != nil {
		r.logger.Debug().Err(err).Str("clientId", conn.ID).Msg("Error closing sink")
	}
	observability.RecordConnectionClosed(conn.Carrier)
}
