package radio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const (
	// Broadcast fans out over a small port range so nodes on different
	// ports of the same host still see each other.
	portRangeStart = 9000
	portRangeEnd   = 9005

	maxFrameSize = 4096
	frameBacklog = 64
)

// UDPRadio implements Radio over UDP broadcast plus unicast. UDP carries
// no signal strength, so every frame gets the fallback sentinel.
type UDPRadio struct {
	conn  *net.UDPConn
	port  int
	local string

	mu    sync.Mutex
	peers map[string]*net.UDPAddr

	bcast  []*net.UDPConn
	frames chan Frame
}

// NewUDPRadio binds the given port and starts the receive pump. Frames
// arriving after Close or context cancellation are discarded.
func NewUDPRadio(ctx context.Context, port int) (*UDPRadio, error) {
	laddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	r := &UDPRadio{
		conn:   conn,
		port:   port,
		local:  fmt.Sprintf("127.0.0.1:%d", port),
		peers:  make(map[string]*net.UDPAddr),
		frames: make(chan Frame, frameBacklog),
	}

	for _, host := range []string{"255.255.255.255", "127.0.0.1"} {
		for p := portRangeStart; p <= portRangeEnd; p++ {
			if host == "127.0.0.1" && p == port {
				continue
			}
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, p))
			if err != nil {
				continue
			}
			c, err := net.DialUDP("udp", nil, addr)
			if err == nil {
				r.bcast = append(r.bcast, c)
			}
		}
	}
	if len(r.bcast) == 0 {
		conn.Close()
		return nil, fmt.Errorf("failed to dial any UDP broadcast addresses")
	}

	go func() {
		<-ctx.Done()
		r.Close()
	}()
	go r.readLoop(ctx)

	slog.Info("UDP radio up", "port", port, "broadcastTargets", len(r.bcast))
	return r, nil
}

func (r *UDPRadio) readLoop(ctx context.Context) {
	defer close(r.frames)
	buf := make([]byte, maxFrameSize)
	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				slog.Warn("UDP read error, radio stopping", "error", err)
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		frame := Frame{Source: remote.String(), RSSI: FallbackRSSI, Data: data}
		select {
		case r.frames <- frame:
		default:
			// Backlog full: shed the frame rather than block the pump.
			slog.Warn("Frame backlog full, dropping frame", "source", frame.Source)
		}
	}
}

func (r *UDPRadio) Send(addr string, data []byte) error {
	r.mu.Lock()
	dst, ok := r.peers[addr]
	r.mu.Unlock()
	// Unicast requires prior AddPeer registration; that mirrors the
	// underlying radio contract and keeps sends deterministic.
	if !ok {
		return fmt.Errorf("peer %s not registered", addr)
	}
	if _, err := r.conn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

func (r *UDPRadio) Broadcast(data []byte) error {
	var lastErr error
	sent := 0
	for _, c := range r.bcast {
		if _, err := c.Write(data); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("broadcast reached no targets: %w", lastErr)
	}
	return nil
}

func (r *UDPRadio) AddPeer(addr string) error {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve peer address %s: %w", addr, err)
	}
	r.mu.Lock()
	r.peers[addr] = resolved
	r.mu.Unlock()
	return nil
}

func (r *UDPRadio) Frames() <-chan Frame { return r.frames }

func (r *UDPRadio) LocalAddr() string { return r.local }

func (r *UDPRadio) Close() error {
	for _, c := range r.bcast {
		c.Close()
	}
	return r.conn.Close()
}
