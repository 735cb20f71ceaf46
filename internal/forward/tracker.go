package forward

import (
	"net"
	"sync/atomic"

	libatm "github.com/nabbar/golib/atomic"
)

// ConnectionId is a monotonically increasing identifier minted from a
// process-wide counter, stable for a connection's lifetime and never
// reused within the process lifetime.
type ConnectionId uint64

var connectionIdSeq atomic.Uint64

func nextConnectionId() ConnectionId {
	return ConnectionId(connectionIdSeq.Add(1))
}

// ActiveConnections is the process-wide mapping from ConnectionId to peer
// socket address (C6). It is independent of ListenerStats and is used by
// the admin surface to enumerate live connections.
type ActiveConnections struct {
	m libatm.MapTyped[ConnectionId, net.Addr]
}

func NewActiveConnections() *ActiveConnections {
	return &ActiveConnections{m: libatm.NewMapTyped[ConnectionId, net.Addr]()}
}

func (a *ActiveConnections) Put(id ConnectionId, addr net.Addr) {
	a.m.Store(id, addr)
}

func (a *ActiveConnections) Remove(id ConnectionId) {
	a.m.Delete(id)
}

// List returns a point-in-time snapshot of id -> peer address.
func (a *ActiveConnections) List() map[ConnectionId]net.Addr {
	out := make(map[ConnectionId]net.Addr)
	a.m.Range(func(key ConnectionId, value net.Addr) bool {
		out[key] = value
		return true
	})
	return out
}

// Reset clears every tracked connection, used by manager.stop().
func (a *ActiveConnections) Reset() {
	for id := range a.List() {
		a.m.Delete(id)
	}
}
