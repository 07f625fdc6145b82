package registry

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the peer table. Once full, new peers are
	// dropped until a slot frees up.
	DefaultCapacity = 10
	// HistoryCapacity bounds each peer's RSSI ring.
	HistoryCapacity = 10
)

// Position is the coarse relative estimate attached to a peer.
type Position struct {
	Distance   float64
	Direction  string
	Confidence float64
	Valid      bool
	UpdatedAt  time.Time
}

// Peer is a copied-out view of one registry record. Mutation happens only
// through registry operations; callers never hold live state.
type Peer struct {
	ID                    string
	Owner                 string
	Addr                  string
	RSSI                  int
	History               []int
	FirstSeen             time.Time
	LastSeen              time.Time
	Active                bool
	HandshakeComplete     bool
	Validated             bool
	SupportsTriangulation bool
	PubKey                string
	Position              Position
}

// AverageRSSI is the arithmetic mean of the peer's RSSI history.
func (p Peer) AverageRSSI() float64 {
	if len(p.History) == 0 {
		return float64(p.RSSI)
	}
	sum := 0
	for _, r := range p.History {
		sum += r
	}
	return float64(sum) / float64(len(p.History))
}

type record struct {
	id, owner, addr       string
	rssi                  int
	history               rssiRing
	firstSeen, lastSeen   time.Time
	active                bool
	handshakeComplete     bool
	validated             bool
	supportsTriangulation bool
	pubKey                string
	position              Position
}

// AddPeerFunc is the radio-layer side effect run on every insert and
// address change so unicast replies stay possible.
type AddPeerFunc func(addr string) error

// Registry is the bounded table of known peers and the single source of
// truth for "who do we know". One mutex guards it; the receive path and
// the main loop both go through these operations.
type Registry struct {
	mu       sync.Mutex
	capacity int
	peers    map[string]*record
	addPeer  AddPeerFunc
	clock    func() time.Time
}

func New(capacity int, addPeer AddPeerFunc) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		peers:    make(map[string]*record, capacity),
		addPeer:  addPeer,
		clock:    time.Now,
	}
}

// Upsert records a sighting of a peer. For a known peer it pushes the
// RSSI sample and refreshes last_seen; for a new peer it inserts a record
// unless the table is full, in which case the insert is dropped. The
// second return reports whether the peer is tracked after the call.
func (r *Registry) Upsert(id, owner, addr string, rssi int) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rec, ok := r.peers[id]
	if !ok {
		if len(r.peers) >= r.capacity {
			slog.Warn("Peer table full, dropping new peer", "id", id)
			return Peer{}, false
		}
		rec = &record{
			id:        id,
			firstSeen: now,
		}
		r.peers[id] = rec
	}

	addrChanged := rec.addr != addr
	rec.owner = owner
	rec.addr = addr
	rec.rssi = rssi
	rec.history.push(rssi)
	rec.lastSeen = now
	rec.active = true

	if r.addPeer != nil && (addrChanged || !ok) {
		if err := r.addPeer(addr); err != nil {
			slog.Warn("Failed to register peer address with radio", "addr", addr, "error", err)
		}
	}
	return rec.view(), true
}

// Find returns a copy of the peer record, if tracked.
func (r *Registry) Find(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return rec.view(), true
}

// MarkValidated flips the peer to validated. Only the Trust Gate's caller
// does this, after the shared key checked out.
func (r *Registry) MarkValidated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.validated = true
	}
}

// MarkHandshakeComplete records a finished ping/response exchange.
func (r *Registry) MarkHandshakeComplete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.handshakeComplete = true
	}
}

// SetTriangulationSupport records the capability advertised in a ping.
func (r *Registry) SetTriangulationSupport(id string, supported bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.supportsTriangulation = supported
	}
}

// SetPubKey stores the peer's handshake public key for sealed payloads.
func (r *Registry) SetPubKey(id, pubKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.pubKey = pubKey
	}
}

// SetPosition attaches a fresh relative-position estimate.
func (r *Registry) SetPosition(id string, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.peers[id]; ok {
		rec.position = pos
	}
}

// CountValidated returns the number of validated peers.
func (r *Registry) CountValidated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.peers {
		if rec.validated {
			n++
		}
	}
	return n
}

// CountTriangulationCapable returns validated peers that advertise
// triangulation support.
func (r *Registry) CountTriangulationCapable() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.peers {
		if rec.validated && rec.supportsTriangulation {
			n++
		}
	}
	return n
}

// Len returns the current table size.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot copies out every record for iteration outside the lock.
func (r *Registry) Snapshot() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec.view())
	}
	return out
}

// Reap marks peers unseen within maxAge as inactive and returns how many
// flipped. Records are never destroyed; the table is bounded, not LRU.
func (r *Registry) Reap(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	threshold := r.clock().Add(-maxAge)
	n := 0
	for _, rec := range r.peers {
		if rec.active && rec.lastSeen.Before(threshold) {
			rec.active = false
			n++
		}
	}
	return n
}

func (rec *record) view() Peer {
	return Peer{
		ID:                    rec.id,
		Owner:                 rec.owner,
		Addr:                  rec.addr,
		RSSI:                  rec.rssi,
		History:               rec.history.values(),
		FirstSeen:             rec.firstSeen,
		LastSeen:              rec.lastSeen,
		Active:                rec.active,
		HandshakeComplete:     rec.handshakeComplete,
		Validated:             rec.validated,
		SupportsTriangulation: rec.supportsTriangulation,
		PubKey:                rec.pubKey,
		Position:              rec.position,
	}
}
