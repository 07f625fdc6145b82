package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/rangemesh/rangemesh/internal/registry"
)

func relayPeer(id string) registry.Peer {
	return registry.Peer{
		ID:                    id,
		Owner:                 "owner-" + id,
		Addr:                  id + ":9000",
		RSSI:                  -55,
		Validated:             true,
		SupportsTriangulation: true,
		Active:                true,
	}
}

func TestStoreAndFind(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	msg := e.Store("m1", []byte("payload"), nil, 0)
	if msg.ID != "m1" || msg.HopCount != 0 {
		t.Fatalf("Unexpected stored message: %+v", msg)
	}
	got, ok := e.Find("m1")
	if !ok {
		t.Fatal("Stored message not found")
	}
	if string(got.Payload) != "payload" {
		t.Errorf("Payload mismatch: %q", got.Payload)
	}
	if !got.ExpiresAt.After(got.CreatedAt) {
		t.Error("Expiry must be after creation")
	}
}

func TestStoreDeduplicates(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("first"), nil, 0)
	e.Store("m1", []byte("second"), nil, 3)
	got, _ := e.Find("m1")
	if string(got.Payload) != "first" || got.HopCount != 0 {
		t.Errorf("Re-store must be a no-op, got %+v", got)
	}
	if e.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", e.Len())
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	e := NewEngine(3, DefaultExpiry, DefaultCooldown)
	for i := 0; i < 4; i++ {
		e.Store(fmt.Sprintf("m%d", i), []byte("x"), nil, 0)
	}
	if e.Len() != 3 {
		t.Fatalf("Expected table bounded at 3, got %d", e.Len())
	}
	if _, ok := e.Find("m0"); ok {
		t.Error("Oldest entry should have been evicted")
	}
	if _, ok := e.Find("m3"); !ok {
		t.Error("Newest entry should be present")
	}
}

func TestRelayChainNoDuplicates(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("x"), nil, 0)

	a := relayPeer("A")
	if _, err := e.Relay("m1", a); err != nil {
		t.Fatalf("First relay via A failed: %v", err)
	}
	if _, err := e.Relay("m1", relayPeer("B")); err != nil {
		t.Fatalf("Relay via B failed: %v", err)
	}
	if _, err := e.Relay("m1", relayPeer("C")); err != nil {
		t.Fatalf("Relay via C failed: %v", err)
	}
	// Offering back to A is a no-op.
	if _, err := e.Relay("m1", a); err != ErrLoopDetected {
		t.Fatalf("Expected ErrLoopDetected re-relaying via A, got %v", err)
	}
	got, _ := e.Find("m1")
	seen := make(map[string]bool)
	for _, c := range got.Chain {
		if seen[c.RelayerID] {
			t.Fatalf("Duplicate relayer %s in chain", c.RelayerID)
		}
		seen[c.RelayerID] = true
	}
	if got.HopCount != 3 {
		t.Errorf("Expected hop count 3, got %d", got.HopCount)
	}
}

func TestHopLimit(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("x"), nil, 0)
	for i := 0; i < MaxHops; i++ {
		if _, err := e.Relay("m1", relayPeer(fmt.Sprintf("P%d", i))); err != nil {
			t.Fatalf("Relay %d failed: %v", i, err)
		}
	}
	if _, err := e.Relay("m1", relayPeer("P9")); err != ErrHopLimit {
		t.Fatalf("Expected ErrHopLimit after %d hops, got %v", MaxHops, err)
	}
	got, _ := e.Find("m1")
	if got.HopCount > MaxHops {
		t.Errorf("Hop count exceeded limit: %d", got.HopCount)
	}
	if !got.NonRelayable {
		t.Error("Message over the hop limit must be marked non-relayable")
	}
	// Non-relayable messages are also excluded from the pending pass.
	for _, m := range e.Pending() {
		if m.ID == "m1" {
			t.Error("Non-relayable message must not be pending")
		}
	}
}

func TestFindRelayCandidateSkipsChainMembers(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("x"), nil, 0)
	e.Relay("m1", relayPeer("A"))

	peers := []registry.Peer{relayPeer("A"), relayPeer("B")}
	cand, ok := e.FindRelayCandidate("m1", peers)
	if !ok {
		t.Fatal("Expected a relay candidate")
	}
	if cand.ID != "B" {
		t.Errorf("Expected candidate B (A is in chain), got %s", cand.ID)
	}
}

func TestFindRelayCandidateHonorsCooldown(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, 30*time.Second)
	now := time.Now()
	e.clock = func() time.Time { return now }
	e.Store("m1", []byte("x"), nil, 0)

	peers := []registry.Peer{relayPeer("A")}
	if _, ok := e.FindRelayCandidate("m1", peers); !ok {
		t.Fatal("Expected first candidate lookup to succeed")
	}
	if _, ok := e.FindRelayCandidate("m1", peers); ok {
		t.Error("Expected candidate to be in cooldown")
	}
	now = now.Add(31 * time.Second)
	if _, ok := e.FindRelayCandidate("m1", peers); !ok {
		t.Error("Expected candidate again after cooldown elapsed")
	}
}

func TestFindRelayCandidateRequiresCapability(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("x"), nil, 0)

	unvalidated := relayPeer("U")
	unvalidated.Validated = false
	noRelay := relayPeer("N")
	noRelay.SupportsTriangulation = false
	inactive := relayPeer("I")
	inactive.Active = false

	if _, ok := e.FindRelayCandidate("m1", []registry.Peer{unvalidated, noRelay, inactive}); ok {
		t.Error("Expected no eligible relay candidate")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	e := NewEngine(DefaultCapacity, time.Minute, DefaultCooldown)
	now := time.Now()
	e.clock = func() time.Time { return now }

	e.Store("old", []byte("x"), nil, 0)
	now = now.Add(2 * time.Minute)
	e.Store("fresh", []byte("y"), nil, 0)

	if removed := e.Cleanup(); removed != 1 {
		t.Fatalf("Expected 1 expired entry removed, got %d", removed)
	}
	if _, ok := e.Find("old"); ok {
		t.Error("Expired message must be unreachable after cleanup")
	}
	if _, ok := e.Find("fresh"); !ok {
		t.Error("Unexpired message must survive cleanup")
	}
}

func TestMarkDelivered(t *testing.T) {
	e := NewEngine(DefaultCapacity, DefaultExpiry, DefaultCooldown)
	e.Store("m1", []byte("x"), nil, 0)
	e.MarkDelivered("m1")
	if _, ok := e.Find("m1"); ok {
		t.Error("Delivered message must be dropped from the store")
	}
	if e.Len() != 0 {
		t.Errorf("Expected empty store, got %d", e.Len())
	}
}
