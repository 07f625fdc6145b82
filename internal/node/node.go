// Package node is the shared protocol core. One loop per node drains the
// radio's frame channel and the periodic tickers; the three deployment
// roles are capability presets over the same core, not separate
// implementations.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rangemesh/rangemesh/internal/core"
	"github.com/rangemesh/rangemesh/internal/envelope"
	"github.com/rangemesh/rangemesh/internal/estimate"
	"github.com/rangemesh/rangemesh/internal/radio"
	"github.com/rangemesh/rangemesh/internal/registry"
	"github.com/rangemesh/rangemesh/internal/relay"
	"github.com/rangemesh/rangemesh/internal/report"
	"github.com/rangemesh/rangemesh/internal/trust"
)

const (
	// DefaultHeartbeatPeriod spaces presence pings.
	DefaultHeartbeatPeriod = 5 * time.Second
	// DefaultDiscoveryPeriod spaces a peer's discovery rounds.
	DefaultDiscoveryPeriod = 30 * time.Second
	// DefaultDiscoveryWindow is the tower-response collection window.
	DefaultDiscoveryWindow = 5 * time.Second
	// DefaultTriangulationPeriod is the slower estimator tick.
	DefaultTriangulationPeriod = 60 * time.Second
	// DefaultRelayPeriod services pending stored messages.
	DefaultRelayPeriod = 10 * time.Second
	// DefaultCleanupPeriod sweeps expired messages and stale peers.
	DefaultCleanupPeriod = 30 * time.Second

	// deadlinePollPeriod is how often the loop polls elapsed-time
	// thresholds like the collection window. Nothing sleeps on it.
	deadlinePollPeriod = 250 * time.Millisecond
)

// Sink is the gateway's reporting collaborator.
type Sink interface {
	Accept(rec report.Record) error
}

// Options wire a Node together. Zero durations take the defaults.
type Options struct {
	Role     Role
	Identity *core.Identity
	Owner    string
	Name     string

	Radio    radio.Radio
	Gate     *trust.Gate
	Registry *registry.Registry
	Relays   *relay.Engine
	Model    estimate.DistanceModel
	Sink     Sink

	// Outbound copies of the secrets; the Gate only checks inbound.
	SharedKey string
	Passkey   string

	HeartbeatPeriod     time.Duration
	DiscoveryPeriod     time.Duration
	DiscoveryWindow     time.Duration
	TriangulationPeriod time.Duration
	RelayPeriod         time.Duration
	CleanupPeriod       time.Duration
}

// Node runs one mesh participant.
type Node struct {
	opts     Options
	caps     Capabilities
	ids      envelope.IDSource
	counters Counters
	relayNum atomic.Int64

	// Discovery round state. Owned by the run loop; the receive path
	// reaches it only through the same loop, so no lock is needed.
	collecting    bool
	roundID       string
	roundDeadline time.Time
	observations  []envelope.TowerObservation
}

func New(opts Options) (*Node, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("node requires an identity")
	}
	if opts.Radio == nil || opts.Gate == nil || opts.Registry == nil {
		return nil, fmt.Errorf("node requires radio, gate and registry")
	}
	caps := opts.Role.Capabilities()
	if caps == (Capabilities{}) {
		return nil, fmt.Errorf("role %q has no capabilities", opts.Role)
	}
	if (caps.Relay || caps.Sink) && opts.Relays == nil {
		return nil, fmt.Errorf("role %q requires a relay engine", opts.Role)
	}
	if caps.Sink && opts.Sink == nil {
		return nil, fmt.Errorf("role %q requires a report sink", opts.Role)
	}
	applyDefaults(&opts)
	return &Node{opts: opts, caps: caps}, nil
}

func applyDefaults(o *Options) {
	if o.HeartbeatPeriod <= 0 {
		o.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if o.DiscoveryPeriod <= 0 {
		o.DiscoveryPeriod = DefaultDiscoveryPeriod
	}
	if o.DiscoveryWindow <= 0 {
		o.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if o.TriangulationPeriod <= 0 {
		o.TriangulationPeriod = DefaultTriangulationPeriod
	}
	if o.RelayPeriod <= 0 {
		o.RelayPeriod = DefaultRelayPeriod
	}
	if o.CleanupPeriod <= 0 {
		o.CleanupPeriod = DefaultCleanupPeriod
	}
}

// ID returns this node's device ID.
func (n *Node) ID() string { return n.opts.Identity.NodeID }

// Counters exposes the drop counters for logging.
func (n *Node) Counters() CounterSnapshot { return n.counters.Snapshot() }

// Run drives the node until the context is cancelled or the radio's
// frame channel closes. All protocol state is mutated from this single
// goroutine; the radio pushes frames through a bounded channel, which is
// what keeps the asynchronous receive path out of our critical sections.
func (n *Node) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(n.opts.HeartbeatPeriod)
	defer heartbeat.Stop()
	poll := time.NewTicker(deadlinePollPeriod)
	defer poll.Stop()
	cleanup := time.NewTicker(n.opts.CleanupPeriod)
	defer cleanup.Stop()

	// Capability-gated tickers; a nil channel never fires.
	var discoveryC, triangulationC, relayC <-chan time.Time
	if n.caps.Discover {
		t := time.NewTicker(n.opts.DiscoveryPeriod)
		defer t.Stop()
		discoveryC = t.C
		tt := time.NewTicker(n.opts.TriangulationPeriod)
		defer tt.Stop()
		triangulationC = tt.C
	}
	if n.caps.Relay {
		t := time.NewTicker(n.opts.RelayPeriod)
		defer t.Stop()
		relayC = t.C
	}

	slog.Info("Node running", "role", n.opts.Role, "id", n.ID(), "addr", n.opts.Radio.LocalAddr())

	// Gateways are receive-only; everyone else announces itself once at
	// startup rather than waiting a full heartbeat.
	if !n.caps.Sink {
		n.broadcastPing()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-n.opts.Radio.Frames():
			if !ok {
				return nil
			}
			n.handleFrame(f)
		case <-heartbeat.C:
			if !n.caps.Sink {
				n.broadcastPing()
			}
		case <-discoveryC:
			n.startDiscoveryRound()
		case <-poll.C:
			n.checkRoundDeadline()
		case <-triangulationC:
			n.runTriangulation()
		case <-relayC:
			n.serviceRelays()
		case <-cleanup.C:
			n.runCleanup()
		}
	}
}

func (n *Node) broadcastPing() {
	payload := envelope.PingPayload{
		SharedKey:             n.opts.SharedKey,
		SupportsTriangulation: !n.caps.Sink,
		PubKey:                n.opts.Identity.PubKey,
	}
	n.broadcast(envelope.TypePing, payload)
}

// startDiscoveryRound clears the previous round's tower observations,
// broadcasts a discovery ping and opens the collection window.
func (n *Node) startDiscoveryRound() {
	n.observations = n.observations[:0]
	n.roundID = n.ids.Next(n.ID(), envelope.TypeDiscoveryPing)
	n.collecting = true
	n.roundDeadline = time.Now().Add(n.opts.DiscoveryWindow)

	payload := envelope.PingPayload{
		SharedKey:             n.opts.SharedKey,
		SupportsTriangulation: true,
	}
	n.broadcastWithID(n.roundID, envelope.TypeDiscoveryPing, payload)
	slog.Info("Discovery round started", "round", n.roundID)
}

// checkRoundDeadline polls the collection window. When it elapses the
// gathered observations become an aggregate report carrying the passkey.
func (n *Node) checkRoundDeadline() {
	if !n.collecting || time.Now().Before(n.roundDeadline) {
		return
	}
	n.collecting = false
	if len(n.observations) == 0 {
		slog.Info("Discovery round ended with no tower responses", "round", n.roundID)
		return
	}
	payload := envelope.AggregateReportPayload{
		SharedKey: n.opts.SharedKey,
		Auth:      envelope.Auth{Passkey: n.opts.Passkey},
		Towers:    append([]envelope.TowerObservation(nil), n.observations...),
	}
	reportID := n.ids.Next(n.ID(), envelope.TypeAggregateReport)
	raw := n.broadcastWithID(reportID, envelope.TypeAggregateReport, payload)

	// No delivery guarantee exists: keep a copy for store-and-forward in
	// case no tower was in range to pick the broadcast up.
	if n.caps.Relay && raw != nil {
		n.opts.Relays.Store(reportID, raw, nil, 0)
	}
	slog.Info("Aggregate report sent", "round", n.roundID, "towers", len(n.observations))
}

func (n *Node) runTriangulation() {
	// Announce our own triangulation capability on the same slow tick so
	// peers keep fresh RSSI history for us.
	n.broadcast(envelope.TypeTriangulationPing, envelope.PingPayload{
		SharedKey:             n.opts.SharedKey,
		SupportsTriangulation: true,
	})

	snapshot := n.opts.Registry.Snapshot()
	positions := estimate.Triangulate(snapshot, n.opts.Model, time.Now())
	if len(positions) == 0 {
		if n.opts.Registry.CountValidated() > 0 {
			slog.Info("Triangulation skipped, not enough capable peers",
				"capable", n.opts.Registry.CountTriangulationCapable(),
				"needed", estimate.MinPeersForTriangulation)
		}
		return
	}
	for id, pos := range positions {
		n.opts.Registry.SetPosition(id, pos)
	}
	slog.Info("Triangulation pass complete", "positioned", len(positions))
}

// serviceRelays walks pending stored messages, attempting one forward
// hop each through an eligible validated peer.
func (n *Node) serviceRelays() {
	peers := n.opts.Registry.Snapshot()
	for _, msg := range n.opts.Relays.Pending() {
		cand, ok := n.opts.Relays.FindRelayCandidate(msg.ID, peers)
		if !ok {
			continue
		}
		relayed, err := n.opts.Relays.Relay(msg.ID, cand)
		if err != nil {
			if err == relay.ErrLoopDetected {
				n.counters.LoopsDetected.Add(1)
			}
			slog.Info("Relay attempt not possible", "msg", msg.ID, "via", cand.ID, "reason", err)
			continue
		}
		payload := envelope.RelayPayload{
			SharedKey: n.opts.SharedKey,
			MessageID: relayed.ID,
			HopCount:  relayed.HopCount,
			Chain:     toWireChain(relayed.Chain),
			Inner:     relayed.Payload,
		}
		n.send(cand.Addr, envelope.TypeRelay, payload)
		slog.Info("Message relayed", "msg", relayed.ID, "via", cand.ID, "hops", relayed.HopCount)
	}
}

func (n *Node) runCleanup() {
	if n.opts.Relays != nil {
		if removed := n.opts.Relays.Cleanup(); removed > 0 {
			slog.Info("Expired stored messages removed", "count", removed)
		}
	}
	n.opts.Registry.Reap(3 * n.opts.HeartbeatPeriod)
}

// PublishData sends application content to a validated peer. When the
// peer's handshake carried a public key the content goes out sealed;
// otherwise it is sent in the clear.
func (n *Node) PublishData(recipientID, content string) error {
	peer, ok := n.opts.Registry.Find(recipientID)
	if !ok || !peer.Validated {
		return fmt.Errorf("no validated peer %s", recipientID)
	}
	payload := envelope.DataPayload{
		SharedKey:   n.opts.SharedKey,
		RecipientID: recipientID,
		Content:     content,
	}
	if peer.PubKey != "" {
		sealed, err := core.SealTo(peer.PubKey, content)
		if err != nil {
			return fmt.Errorf("failed to seal data payload: %w", err)
		}
		payload.Content = sealed
		payload.Encrypted = true
	}
	return n.send(peer.Addr, envelope.TypeData, payload)
}
