package radio

import (
	"fmt"
	"sync"
)

// Hub is an in-memory radio medium for tests. It routes frames between
// member radios and lets tests script per-link RSSI, which UDP cannot
// supply.
type Hub struct {
	mu      sync.Mutex
	members map[string]*MemRadio
	rssi    map[string]int // "from->to"
}

func NewHub() *Hub {
	return &Hub{
		members: make(map[string]*MemRadio),
		rssi:    make(map[string]int),
	}
}

// Join adds a node at the given address and returns its radio.
func (h *Hub) Join(addr string) *MemRadio {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := &MemRadio{
		hub:    h,
		addr:   addr,
		peers:  make(map[string]bool),
		frames: make(chan Frame, frameBacklog),
	}
	h.members[addr] = m
	return m
}

// SetRSSI scripts the signal strength for frames sent from -> to.
func (h *Hub) SetRSSI(from, to string, rssi int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rssi[from+"->"+to] = rssi
}

func (h *Hub) linkRSSI(from, to string) int {
	if v, ok := h.rssi[from+"->"+to]; ok {
		return v
	}
	return FallbackRSSI
}

func (h *Hub) deliver(from, to string, data []byte) error {
	h.mu.Lock()
	dst, ok := h.members[to]
	rssi := h.linkRSSI(from, to)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no radio at %s", to)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case dst.frames <- Frame{Source: from, RSSI: rssi, Data: payload}:
	default:
	}
	return nil
}

// MemRadio is one node's endpoint on a Hub.
type MemRadio struct {
	hub  *Hub
	addr string

	mu     sync.Mutex
	peers  map[string]bool
	closed bool

	frames chan Frame
}

func (m *MemRadio) Send(addr string, data []byte) error {
	m.mu.Lock()
	known := m.peers[addr]
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("peer %s not registered", addr)
	}
	return m.hub.deliver(m.addr, addr, data)
}

func (m *MemRadio) Broadcast(data []byte) error {
	m.hub.mu.Lock()
	targets := make([]string, 0, len(m.hub.members))
	for addr := range m.hub.members {
		if addr != m.addr {
			targets = append(targets, addr)
		}
	}
	m.hub.mu.Unlock()
	for _, addr := range targets {
		m.hub.deliver(m.addr, addr, data)
	}
	return nil
}

func (m *MemRadio) AddPeer(addr string) error {
	m.mu.Lock()
	m.peers[addr] = true
	m.mu.Unlock()
	return nil
}

func (m *MemRadio) Frames() <-chan Frame { return m.frames }

func (m *MemRadio) LocalAddr() string { return m.addr }

func (m *MemRadio) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return nil
}
