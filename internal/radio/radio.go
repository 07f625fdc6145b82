// Package radio is the boundary to the broadcast transport. The node
// core never touches sockets directly; it consumes received frames from
// a bounded channel and sends through the Radio interface, so the
// asynchronous receive path and the main loop never share mutable state.
package radio

// FallbackRSSI is used when the transport cannot supply per-frame signal
// strength. A fixed sentinel keeps the estimator path alive instead of
// failing.
const FallbackRSSI = -70

// Frame is one received datagram plus its per-frame signal strength.
type Frame struct {
	Source string
	RSSI   int
	Data   []byte
}

// Radio is the transport collaborator contract. Sends are fire-and-forget;
// a send error is logged by the caller and never gates subsequent logic.
type Radio interface {
	// Send delivers bytes to a single registered peer address.
	Send(addr string, data []byte) error
	// Broadcast delivers bytes to every reachable node.
	Broadcast(data []byte) error
	// AddPeer registers an address so unicast Send can reach it.
	AddPeer(addr string) error
	// Frames is the single-consumer channel of received frames.
	Frames() <-chan Frame
	// LocalAddr is this node's reachable transport address.
	LocalAddr() string
	Close() error
}
