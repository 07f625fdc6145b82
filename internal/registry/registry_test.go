package registry

import (
	"fmt"
	"testing"
	"time"
)

func TestUpsertIdempotence(t *testing.T) {
	r := New(DefaultCapacity, nil)
	for i := 0; i < 50; i++ {
		if _, ok := r.Upsert("peer-1", "alice", "10.0.0.1:9000", -50); !ok {
			t.Fatalf("Upsert %d unexpectedly dropped", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Expected table size 1 after repeated upserts, got %d", r.Len())
	}
	p, ok := r.Find("peer-1")
	if !ok {
		t.Fatal("Peer not found after upsert")
	}
	if len(p.History) != HistoryCapacity {
		t.Errorf("Expected history capped at %d, got %d", HistoryCapacity, len(p.History))
	}
}

func TestCapacityRejectsEleventhPeer(t *testing.T) {
	r := New(10, nil)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("peer-%d", i)
		if _, ok := r.Upsert(id, "owner", fmt.Sprintf("10.0.0.%d:9000", i), -60); !ok {
			t.Fatalf("Peer %s unexpectedly dropped", id)
		}
	}
	if _, ok := r.Upsert("peer-10", "owner", "10.0.0.10:9000", -60); ok {
		t.Error("Expected 11th peer insert to be dropped")
	}
	if r.Len() != 10 {
		t.Errorf("Expected table size 10, got %d", r.Len())
	}
	if _, ok := r.Find("peer-10"); ok {
		t.Error("11th peer must not be registered")
	}
	// Existing peers are unaffected.
	if _, ok := r.Upsert("peer-3", "owner", "10.0.0.3:9000", -61); !ok {
		t.Error("Existing peer update must still succeed at capacity")
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	r := New(DefaultCapacity, nil)
	for i := 0; i < HistoryCapacity+3; i++ {
		r.Upsert("peer-1", "alice", "addr", -40-i)
	}
	p, _ := r.Find("peer-1")
	if len(p.History) != HistoryCapacity {
		t.Fatalf("Expected %d samples, got %d", HistoryCapacity, len(p.History))
	}
	// Oldest surviving sample is the 4th pushed: -43.
	if p.History[0] != -43 {
		t.Errorf("Expected oldest sample -43, got %d", p.History[0])
	}
	if p.History[len(p.History)-1] != -52 {
		t.Errorf("Expected newest sample -52, got %d", p.History[len(p.History)-1])
	}
}

func TestAverageRSSI(t *testing.T) {
	r := New(DefaultCapacity, nil)
	for _, v := range []int{-40, -42, -41} {
		r.Upsert("peer-1", "alice", "addr", v)
	}
	p, _ := r.Find("peer-1")
	if avg := p.AverageRSSI(); avg != -41 {
		t.Errorf("Expected average -41, got %v", avg)
	}
}

func TestAddPeerHookRunsOnInsertAndAddrChange(t *testing.T) {
	var calls []string
	hook := func(addr string) error {
		calls = append(calls, addr)
		return nil
	}
	r := New(DefaultCapacity, hook)
	r.Upsert("peer-1", "alice", "10.0.0.1:9000", -50)
	r.Upsert("peer-1", "alice", "10.0.0.1:9000", -51) // same addr, no call
	r.Upsert("peer-1", "alice", "10.0.0.2:9000", -52) // addr changed
	if len(calls) != 2 {
		t.Fatalf("Expected 2 radio registrations, got %d (%v)", len(calls), calls)
	}
	if calls[0] != "10.0.0.1:9000" || calls[1] != "10.0.0.2:9000" {
		t.Errorf("Unexpected registration order: %v", calls)
	}
}

func TestValidationCounts(t *testing.T) {
	r := New(DefaultCapacity, nil)
	r.Upsert("a", "o", "addr-a", -50)
	r.Upsert("b", "o", "addr-b", -50)
	r.Upsert("c", "o", "addr-c", -50)

	r.MarkValidated("a")
	r.MarkValidated("b")
	r.SetTriangulationSupport("a", true)
	r.SetTriangulationSupport("c", true) // not validated, must not count

	if got := r.CountValidated(); got != 2 {
		t.Errorf("Expected 2 validated peers, got %d", got)
	}
	if got := r.CountTriangulationCapable(); got != 1 {
		t.Errorf("Expected 1 triangulation-capable peer, got %d", got)
	}
}

func TestReapMarksStalePeersInactive(t *testing.T) {
	r := New(DefaultCapacity, nil)
	now := time.Now()
	r.clock = func() time.Time { return now }
	r.Upsert("stale", "o", "addr-1", -50)

	now = now.Add(30 * time.Second)
	r.Upsert("fresh", "o", "addr-2", -50)

	if n := r.Reap(15 * time.Second); n != 1 {
		t.Fatalf("Expected 1 peer reaped, got %d", n)
	}
	stale, _ := r.Find("stale")
	if stale.Active {
		t.Error("Stale peer should be inactive")
	}
	fresh, _ := r.Find("fresh")
	if !fresh.Active {
		t.Error("Fresh peer should stay active")
	}
	// Reaped peers are not destroyed.
	if r.Len() != 2 {
		t.Errorf("Expected both records retained, got %d", r.Len())
	}
}
