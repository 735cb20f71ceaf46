package forward

import (
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ConnectionView is the serializable form of an ActiveConnections entry.
type ConnectionView struct {
	ID   uint64 `json:"id" cbor:"id"`
	Peer string `json:"peer" cbor:"peer"`
}

// Snapshot is a point-in-time view of the running data plane: every
// listener's stats plus the active-connection list passed to
// BuildSnapshot. The admin plane's stats endpoint uses it only for its
// CBOR variant (`?format=cbor`); the default JSON response is the plain
// per-listener stats map.
type Snapshot struct {
	TakenAt     time.Time                    `json:"taken_at" cbor:"taken_at"`
	Listeners   map[string]ListenerStatsView `json:"listeners" cbor:"listeners"`
	Connections []ConnectionView             `json:"connections" cbor:"connections"`
}

// BuildSnapshot assembles a Snapshot from the manager's current stats
// registry and active-connection tracker.
func BuildSnapshot(stats map[string]ListenerStatsView, conns map[ConnectionId]net.Addr) Snapshot {
	s := Snapshot{
		TakenAt:     time.Now(),
		Listeners:   stats,
		Connections: make([]ConnectionView, 0, len(conns)),
	}

	for id, addr := range conns {
		s.Connections = append(s.Connections, ConnectionView{
			ID:   uint64(id),
			Peer: addr.String(),
		})
	}

	return s
}

// EncodeCBOR serializes the snapshot in CBOR for the admin plane's compact
// stats variant.
func (s Snapshot) EncodeCBOR() ([]byte, error) {
	return cbor.Marshal(s)
}
