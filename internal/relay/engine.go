package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rangemesh/rangemesh/internal/registry"
)

const (
	// DefaultCapacity bounds the stored-message table; eviction is
	// oldest-first when full.
	DefaultCapacity = 20
	// DefaultExpiry is the store-and-forward window per message.
	DefaultExpiry = 5 * time.Minute
	// DefaultCooldown spaces relay attempts to the same candidate.
	DefaultCooldown = 30 * time.Second
	// MaxHops bounds propagation; beyond it a message expires in place.
	MaxHops = 5
)

var (
	ErrNotFound     = errors.New("stored message not found")
	ErrHopLimit     = errors.New("hop limit exceeded")
	ErrLoopDetected = errors.New("relayer already present in chain")
)

// ChainEntry is one forwarding hop in a stored message's relay chain.
type ChainEntry struct {
	RelayerID    string
	RelayerOwner string
	Timestamp    time.Time
	RSSI         int
}

// StoredMessage is a message held for store-and-forward delivery.
type StoredMessage struct {
	ID           string
	Payload      []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Chain        []ChainEntry
	HopCount     int
	Delivered    bool
	NonRelayable bool
}

type entry struct {
	msg         StoredMessage
	lastAttempt map[string]time.Time
}

// Engine owns the bounded store-and-forward table. Loop prevention is
// structural: chain membership, never probabilistic.
type Engine struct {
	mu       sync.Mutex
	capacity int
	expiry   time.Duration
	cooldown time.Duration
	entries  map[string]*entry
	order    []string
	clock    func() time.Time
}

func NewEngine(capacity int, expiry, cooldown time.Duration) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{
		capacity: capacity,
		expiry:   expiry,
		cooldown: cooldown,
		entries:  make(map[string]*entry, capacity),
		clock:    time.Now,
	}
}

// Store inserts a message under the given ID, evicting the oldest entry
// when the table is full. Eviction is silent; there is no delivery
// guarantee to violate. Storing an already-known ID is a no-op, which is
// what deduplicates re-received relays.
func (e *Engine) Store(id string, payload []byte, chain []ChainEntry, hops int) StoredMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ent, ok := e.entries[id]; ok {
		return ent.msg
	}
	if len(e.entries) >= e.capacity {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.entries, oldest)
		slog.Info("Relay storage full, evicted oldest", "evicted", oldest)
	}
	now := e.clock()
	msg := StoredMessage{
		ID:        id,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(e.expiry),
		Chain:     append([]ChainEntry(nil), chain...),
		HopCount:  hops,
	}
	e.entries[id] = &entry{msg: msg, lastAttempt: make(map[string]time.Time)}
	e.order = append(e.order, id)
	return msg
}

// Find returns a copy of a stored message.
func (e *Engine) Find(id string) (StoredMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return StoredMessage{}, false
	}
	return copyMessage(ent.msg), true
}

// Pending returns copies of undelivered, unexpired, still-relayable
// messages for the relay service pass.
func (e *Engine) Pending() []StoredMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	out := make([]StoredMessage, 0, len(e.entries))
	for _, id := range e.order {
		ent := e.entries[id]
		if ent.msg.Delivered || ent.msg.NonRelayable || now.After(ent.msg.ExpiresAt) {
			continue
		}
		out = append(out, copyMessage(ent.msg))
	}
	return out
}

// MarkDelivered records successful delivery and drops the entry.
func (e *Engine) MarkDelivered(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[id]; !ok {
		return
	}
	delete(e.entries, id)
	e.removeFromOrder(id)
}

// ContainsRelayer reports whether the node ID already appears in the
// message's chain. A node refuses to re-relay such a message.
func (e *Engine) ContainsRelayer(id, nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return false
	}
	return chainContains(ent.msg.Chain, nodeID)
}

// FindRelayCandidate picks a validated peer that is not in the message's
// chain, advertises relay capability, and has not been attempted within
// the cooldown window for this message.
func (e *Engine) FindRelayCandidate(id string, peers []registry.Peer) (registry.Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok || ent.msg.NonRelayable {
		return registry.Peer{}, false
	}
	now := e.clock()
	for _, p := range peers {
		if !p.Validated || !p.SupportsTriangulation || !p.Active {
			continue
		}
		if chainContains(ent.msg.Chain, p.ID) {
			continue
		}
		if last, attempted := ent.lastAttempt[p.ID]; attempted && now.Sub(last) < e.cooldown {
			continue
		}
		ent.lastAttempt[p.ID] = now
		return p, true
	}
	return registry.Peer{}, false
}

// Relay appends the via-peer to the chain and increments the hop count.
// Offering a message back to a peer already in its chain is a no-op
// error; crossing MaxHops marks the message non-relayable so it expires
// in place instead of propagating further.
func (e *Engine) Relay(id string, via registry.Peer) (StoredMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return StoredMessage{}, ErrNotFound
	}
	if chainContains(ent.msg.Chain, via.ID) {
		return StoredMessage{}, ErrLoopDetected
	}
	if ent.msg.HopCount >= MaxHops {
		ent.msg.NonRelayable = true
		return StoredMessage{}, ErrHopLimit
	}
	ent.msg.Chain = append(ent.msg.Chain, ChainEntry{
		RelayerID:    via.ID,
		RelayerOwner: via.Owner,
		Timestamp:    e.clock(),
		RSSI:         via.RSSI,
	})
	ent.msg.HopCount++
	return copyMessage(ent.msg), nil
}

// Cleanup sweeps expired entries regardless of delivery state and
// returns how many were removed.
func (e *Engine) Cleanup() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	removed := 0
	kept := e.order[:0]
	for _, id := range e.order {
		if now.After(e.entries[id].msg.ExpiresAt) {
			delete(e.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
	return removed
}

// Len returns the number of stored messages.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) removeFromOrder(id string) {
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

func chainContains(chain []ChainEntry, nodeID string) bool {
	for _, c := range chain {
		if c.RelayerID == nodeID {
			return true
		}
	}
	return false
}

func copyMessage(m StoredMessage) StoredMessage {
	out := m
	out.Chain = append([]ChainEntry(nil), m.Chain...)
	out.Payload = append([]byte(nil), m.Payload...)
	return out
}
