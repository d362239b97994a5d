package websocket

import (
	"log/slog"
	"sync"
)

// Conn is the write side of a registered connection. *Client implements it;
// tests substitute in-memory fakes.
type Conn interface {
	// Send enqueues a payload for delivery. Returns an error if the
	// connection is already closed.
	Send(data []byte) error
}

// Broadcaster is the fan-out capability the registry exposes to the rest of
// the system (the chat service and the HTTP delete/report path use it to
// notify live viewers without going through the frame protocol).
type Broadcaster interface {
	Broadcast(streamID uint, payload []byte)
}

// StreamRegistry is the full stream membership contract the session protocol
// drives. Registry is the in-process implementation; RedisRegistry decorates
// it with cross-instance pub/sub.
type StreamRegistry interface {
	Broadcaster
	Join(streamID uint, conn Conn)
	Leave(streamID uint, conn Conn)
}

// room holds the member set for a single stream behind its own lock, so a
// busy stream never serializes joins or broadcasts on other streams. closed
// marks a room that has been pruned from the stream map; a joiner that raced
// the prune must not insert into it.
type room struct {
	mu      sync.RWMutex
	members map[Conn]struct{}
	closed  bool
}

// Registry maintains the stream -> connections index and performs fan-out.
// It indexes connections but never owns their lifecycle; teardown belongs to
// the gateway that accepted the connection.
type Registry struct {
	mu      sync.RWMutex
	streams map[uint]*room
}

// NewRegistry creates an empty registry. One instance is constructed at
// server start and shared by the gateway, sessions and HTTP handlers.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[uint]*room),
	}
}

// Join adds conn to the member set for streamID, creating the set if absent.
// Re-joining with the same connection is a no-op. If the room was pruned
// between the map lookup and the member insert, the lookup is retried, so a
// join never lands in an orphaned room.
func (r *Registry) Join(streamID uint, conn Conn) {
	for {
		r.mu.Lock()
		rm, ok := r.streams[streamID]
		if !ok {
			rm = &room{members: make(map[Conn]struct{})}
			r.streams[streamID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		rm.members[conn] = struct{}{}
		rm.mu.Unlock()
		return
	}
}

// Leave removes conn from the member set for streamID. It is a no-op if the
// connection is not registered, which makes late or duplicate close events
// safe. The stream entry is pruned once its last member leaves.
func (r *Registry) Leave(streamID uint, conn Conn) {
	r.mu.RLock()
	rm, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	delete(rm.members, conn)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if !empty {
		return
	}

	r.mu.Lock()
	// Re-check under both write locks; a concurrent Join may have
	// repopulated the room. Marking the room closed before dropping the
	// locks keeps a joiner holding a stale pointer from inserting into it.
	rm.mu.Lock()
	if len(rm.members) == 0 && r.streams[streamID] == rm {
		rm.closed = true
		delete(r.streams, streamID)
	}
	rm.mu.Unlock()
	r.mu.Unlock()
}

// Broadcast sends payload to every connection registered under streamID at
// the moment the member snapshot is taken. Sends to connections that already
// closed are skipped; their own close handlers prune them shortly after.
func (r *Registry) Broadcast(streamID uint, payload []byte) {
	r.mu.RLock()
	rm, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.RLock()
	snapshot := make([]Conn, 0, len(rm.members))
	for conn := range rm.members {
		snapshot = append(snapshot, conn)
	}
	rm.mu.RUnlock()

	for _, conn := range snapshot {
		if err := conn.Send(payload); err != nil {
			slog.Debug("Skipping closed connection during broadcast", "streamID", streamID, "error", err)
		}
	}
}

// Count returns the number of connections registered under streamID.
func (r *Registry) Count(streamID uint) int {
	r.mu.RLock()
	rm, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// StreamCount returns the number of streams with at least one viewer.
func (r *Registry) StreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
