package node

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rangemesh/rangemesh/internal/envelope"
	"github.com/rangemesh/rangemesh/internal/radio"
	"github.com/rangemesh/rangemesh/internal/relay"
	"github.com/rangemesh/rangemesh/internal/report"
)

// handleFrame is the single entry point for received frames: codec, then
// trust gate, then per-type handling. Every failure is a local drop.
func (n *Node) handleFrame(f radio.Frame) {
	env, err := envelope.Parse(f.Data)
	if err != nil {
		if errors.Is(err, envelope.ErrMalformed) {
			n.counters.Malformed.Add(1)
			return
		}
		n.counters.InvalidEnv.Add(1)
		slog.Warn("Invalid envelope dropped", "source", f.Source, "error", err)
		return
	}
	if env.SenderID == n.ID() {
		return
	}

	switch envelope.ParseType(env.Type) {
	case envelope.TypePing:
		n.handlePing(f, env, false)
	case envelope.TypeTriangulationPing:
		n.handlePing(f, env, true)
	case envelope.TypeHandshakeResponse:
		n.handleHandshakeResponse(f, env)
	case envelope.TypeDiscoveryPing:
		n.handleDiscoveryPing(f, env)
	case envelope.TypeTowerResponse:
		n.handleTowerResponse(f, env)
	case envelope.TypeData:
		n.handleData(f, env)
	case envelope.TypeAggregateReport:
		n.handleAggregateReport(f, env)
	case envelope.TypeGatewayRelay:
		n.handleGatewayRelay(f, env)
	case envelope.TypeRelay:
		n.handleRelay(f, env)
	default:
		n.counters.Unrecognized.Add(1)
		slog.Warn("Unrecognized message type dropped", "type", env.Type, "source", f.Source)
	}
}

// authenticate runs the trust gate over a payload-level shared key.
func (n *Node) authenticate(key, senderID string) bool {
	if !n.opts.Gate.Authenticate(key) {
		n.counters.AuthFailures.Add(1)
		slog.Warn("Shared key rejected", "sender", senderID)
		return false
	}
	return true
}

// handlePing covers PING and TRIANGULATION_PING. Both record a sighting;
// a plain PING additionally gets a handshake response from nodes that
// are allowed to transmit.
func (n *Node) handlePing(f radio.Frame, env envelope.Envelope, triangulation bool) {
	var p envelope.PingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	if _, ok := n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI); !ok {
		n.counters.RegistryFull.Add(1)
		return
	}
	n.opts.Registry.MarkValidated(env.SenderID)
	n.opts.Registry.SetTriangulationSupport(env.SenderID, p.SupportsTriangulation || triangulation)
	if p.PubKey != "" {
		n.opts.Registry.SetPubKey(env.SenderID, p.PubKey)
	}
	if triangulation || n.caps.Sink {
		return
	}
	n.send(f.Source, envelope.TypeHandshakeResponse, envelope.HandshakeResponsePayload{
		SharedKey:             n.opts.SharedKey,
		SupportsTriangulation: true,
		PubKey:                n.opts.Identity.PubKey,
		Echo:                  env.MessageID,
	})
}

func (n *Node) handleHandshakeResponse(f radio.Frame, env envelope.Envelope) {
	var p envelope.HandshakeResponsePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	if _, ok := n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI); !ok {
		n.counters.RegistryFull.Add(1)
		return
	}
	n.opts.Registry.MarkValidated(env.SenderID)
	n.opts.Registry.MarkHandshakeComplete(env.SenderID)
	n.opts.Registry.SetTriangulationSupport(env.SenderID, p.SupportsTriangulation)
	if p.PubKey != "" {
		n.opts.Registry.SetPubKey(env.SenderID, p.PubKey)
	}
	slog.Info("Handshake complete", "peer", env.SenderID)
}

// handleDiscoveryPing is the tower half of a discovery round: estimate
// distance from the averaged RSSI history and answer, echoing the ping's
// message ID so the peer can key the response to the right round.
func (n *Node) handleDiscoveryPing(f radio.Frame, env envelope.Envelope) {
	var p envelope.PingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	peer, ok := n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI)
	if !ok {
		n.counters.RegistryFull.Add(1)
		return
	}
	n.opts.Registry.MarkValidated(env.SenderID)
	if !n.caps.Respond {
		return
	}
	distance := n.opts.Model.Distance(peer.AverageRSSI())
	n.send(f.Source, envelope.TypeTowerResponse, envelope.TowerResponsePayload{
		SharedKey: n.opts.SharedKey,
		Echo:      env.MessageID,
		TowerName: n.opts.Name,
		Distance:  distance,
	})
}

// handleTowerResponse collects a tower sighting into the current round.
// Responses outside the window or keyed to another round are discarded.
func (n *Node) handleTowerResponse(f radio.Frame, env envelope.Envelope) {
	var p envelope.TowerResponsePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI)
	n.opts.Registry.MarkValidated(env.SenderID)
	if !n.collecting || p.Echo != n.roundID {
		slog.Info("Tower response outside collection window discarded",
			"tower", p.TowerName, "echo", p.Echo)
		return
	}
	n.observations = append(n.observations, envelope.TowerObservation{
		Name:     p.TowerName,
		Distance: p.Distance,
	})
}

func (n *Node) handleData(f radio.Frame, env envelope.Envelope) {
	var p envelope.DataPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI)

	content := p.Content
	if p.Encrypted {
		if p.RecipientID != n.ID() {
			// Sealed for someone else; nothing to do with it here.
			return
		}
		plain, ok := n.opts.Identity.Open(p.Content)
		if !ok {
			slog.Error("Failed to open sealed data payload", "msg", env.MessageID)
			return
		}
		content = plain
	}
	slog.Info("Data received", "from", env.SenderID, "msg", env.MessageID, "bytes", len(content))
}

// handleAggregateReport is the tower path: the shared key admits the
// peer, but only the passkey opens the relay-aggregation privilege. A
// report without it is dropped even when the shared key is valid. An
// accepted report is forwarded to the gateway unconditionally; towers
// never store and never retry.
func (n *Node) handleAggregateReport(f radio.Frame, env envelope.Envelope) {
	if !n.caps.Respond {
		return
	}
	var p envelope.AggregateReportPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	if !n.opts.Gate.AuthorizeRelay(p.Auth.Passkey) {
		n.counters.AuthFailures.Add(1)
		slog.Warn("Aggregate report refused, relay passkey rejected", "sender", env.SenderID)
		return
	}
	n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI)
	n.opts.Registry.MarkValidated(env.SenderID)

	n.broadcast(envelope.TypeGatewayRelay, envelope.GatewayRelayPayload{
		SharedKey:       n.opts.SharedKey,
		RelayTower:      n.opts.Name,
		SenderAddress:   f.Source,
		SignalStrength:  f.RSSI,
		Owner:           env.SenderOwner,
		OriginMessageID: env.MessageID,
		Towers:          p.Towers,
	})
	slog.Info("Aggregate report relayed to gateway", "sender", env.SenderID, "towers", len(p.Towers))
}

// handleGatewayRelay terminates at a sink; a relay-capable node that
// overhears one without a path stores it for store-and-forward instead.
func (n *Node) handleGatewayRelay(f radio.Frame, env envelope.Envelope) {
	var p envelope.GatewayRelayPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	if n.caps.Sink {
		n.acceptGatewayRelay(env, p)
		return
	}
	if n.caps.Relay {
		// No path to the collection point from here; hold the original
		// envelope and let the relay service walk it through the mesh.
		// The chain starts with the tower we overheard, so the message
		// is never offered straight back to it.
		seed := []relay.ChainEntry{{
			RelayerID:    env.SenderID,
			RelayerOwner: env.SenderOwner,
			Timestamp:    time.Now(),
			RSSI:         f.RSSI,
		}}
		n.opts.Relays.Store(env.MessageID, f.Data, seed, 0)
	}
}

func (n *Node) acceptGatewayRelay(env envelope.Envelope, p envelope.GatewayRelayPayload) {
	towers := make([]report.Tower, 0, len(p.Towers))
	for _, t := range p.Towers {
		towers = append(towers, report.Tower{Name: t.Name, Distance: t.Distance})
	}
	rec := report.Record{
		GatewayID:      n.ID(),
		Timestamp:      time.Now().Unix(),
		RelayNumber:    n.relayNum.Add(1),
		RelayTower:     p.RelayTower,
		SenderAddress:  p.SenderAddress,
		SignalStrength: p.SignalStrength,
		Owner:          p.Owner,
		MessageID:      p.OriginMessageID,
		Towers:         towers,
	}
	if err := n.opts.Sink.Accept(rec); err != nil {
		slog.Error("Report sink rejected record", "msg", rec.MessageID, "error", err)
		return
	}
	slog.Info("Gateway relay accepted", "msg", rec.MessageID, "tower", rec.RelayTower, "relayNumber", rec.RelayNumber)
}

// handleRelay processes a store-and-forward hop. The sender appends the
// chosen next hop to the chain before transmitting, so the final chain
// entry names the designated recipient. Loop prevention is structural:
// finding our own ID anywhere earlier in the chain means we already
// forwarded this message once, and it is refused outright.
func (n *Node) handleRelay(f radio.Frame, env envelope.Envelope) {
	var p envelope.RelayPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return
	}
	n.opts.Registry.Upsert(env.SenderID, env.SenderOwner, f.Source, f.RSSI)

	for i, c := range p.Chain {
		if c.RelayerID == n.ID() && i != len(p.Chain)-1 {
			n.counters.LoopsDetected.Add(1)
			slog.Warn("Relay loop refused, own id in chain", "msg", p.MessageID)
			return
		}
	}
	if p.HopCount > relay.MaxHops {
		slog.Warn("Relay over hop limit left to expire", "msg", p.MessageID, "hops", p.HopCount)
		return
	}

	// A node with a path to the collection point delivers the inner
	// message directly instead of forwarding it further.
	if n.caps.Sink || n.caps.Respond {
		inner, err := envelope.Parse(p.Inner)
		if err != nil {
			n.counters.InvalidEnv.Add(1)
			return
		}
		if n.caps.Sink {
			// Hold the entry while delivery runs; confirmation destroys
			// it, and a re-received copy dedups against the live entry.
			n.opts.Relays.Store(p.MessageID, p.Inner, fromWireChain(p.Chain), p.HopCount)
			if n.deliverRelayedInner(f, inner) {
				n.opts.Relays.MarkDelivered(p.MessageID)
			}
			return
		}
		n.deliverRelayedInner(f, inner)
		return
	}
	if n.caps.Relay {
		n.opts.Relays.Store(p.MessageID, p.Inner, fromWireChain(p.Chain), p.HopCount)
	}
}

// deliverRelayedInner completes delivery of a relayed message on a node
// with a direct path: a gateway sinks it, a tower forwards it onward.
// It reports whether the inner message was handed off.
func (n *Node) deliverRelayedInner(f radio.Frame, inner envelope.Envelope) bool {
	switch envelope.ParseType(inner.Type) {
	case envelope.TypeAggregateReport:
		if n.caps.Sink {
			return n.sinkAggregateReport(f, inner)
		}
		n.handleAggregateReport(f, inner)
	case envelope.TypeGatewayRelay:
		n.handleGatewayRelay(f, inner)
	default:
		slog.Warn("Relayed inner message of unexpected type dropped", "type", inner.Type)
		return false
	}
	return true
}

// sinkAggregateReport terminates a relayed report at the gateway when no
// tower took part in the path. The passkey check is the same one a tower
// would have applied.
func (n *Node) sinkAggregateReport(f radio.Frame, env envelope.Envelope) bool {
	var p envelope.AggregateReportPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		n.counters.Malformed.Add(1)
		return false
	}
	if !n.authenticate(p.SharedKey, env.SenderID) {
		return false
	}
	if !n.opts.Gate.AuthorizeRelay(p.Auth.Passkey) {
		n.counters.AuthFailures.Add(1)
		slog.Warn("Relayed report refused, relay passkey rejected", "sender", env.SenderID)
		return false
	}
	n.acceptGatewayRelay(env, envelope.GatewayRelayPayload{
		RelayTower:      n.opts.Name,
		SenderAddress:   f.Source,
		SignalStrength:  f.RSSI,
		Owner:           env.SenderOwner,
		OriginMessageID: env.MessageID,
		Towers:          p.Towers,
	})
	return true
}

func (n *Node) newEnvelope(id string, t envelope.Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := envelope.Envelope{
		Version:     envelope.Version,
		MessageID:   id,
		Type:        string(t),
		Timestamp:   time.Now().Unix(),
		SenderID:    n.ID(),
		SenderOwner: n.opts.Owner,
		Payload:     raw,
	}
	return env.Encode()
}

// broadcast sends fire-and-forget; failures are logged, never retried.
func (n *Node) broadcast(t envelope.Type, payload any) []byte {
	return n.broadcastWithID(n.ids.Next(n.ID(), t), t, payload)
}

func (n *Node) broadcastWithID(id string, t envelope.Type, payload any) []byte {
	data, err := n.newEnvelope(id, t, payload)
	if err != nil {
		slog.Error("Failed to encode envelope", "type", t, "error", err)
		return nil
	}
	if err := n.opts.Radio.Broadcast(data); err != nil {
		slog.Warn("Broadcast failed", "type", t, "error", err)
	}
	return data
}

func (n *Node) send(addr string, t envelope.Type, payload any) error {
	data, err := n.newEnvelope(n.ids.Next(n.ID(), t), t, payload)
	if err != nil {
		slog.Error("Failed to encode envelope", "type", t, "error", err)
		return err
	}
	if err := n.opts.Radio.Send(addr, data); err != nil {
		slog.Warn("Send failed", "addr", addr, "type", t, "error", err)
		return err
	}
	return nil
}

func toWireChain(chain []relay.ChainEntry) []envelope.ChainEntry {
	out := make([]envelope.ChainEntry, len(chain))
	for i, c := range chain {
		out[i] = envelope.ChainEntry{
			RelayerID:    c.RelayerID,
			RelayerOwner: c.RelayerOwner,
			Timestamp:    c.Timestamp.Unix(),
			RSSI:         c.RSSI,
		}
	}
	return out
}

func fromWireChain(chain []envelope.ChainEntry) []relay.ChainEntry {
	out := make([]relay.ChainEntry, len(chain))
	for i, c := range chain {
		out[i] = relay.ChainEntry{
			RelayerID:    c.RelayerID,
			RelayerOwner: c.RelayerOwner,
			Timestamp:    time.Unix(c.Timestamp, 0),
			RSSI:         c.RSSI,
		}
	}
	return out
}
