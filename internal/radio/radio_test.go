package radio

import (
	"context"
	"testing"
	"time"
)

func TestUDPBroadcastReachesOtherPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewUDPRadio(ctx, 9004)
	if err != nil {
		t.Fatalf("Failed to bring up radio A: %v", err)
	}
	b, err := NewUDPRadio(ctx, 9005)
	if err != nil {
		t.Fatalf("Failed to bring up radio B: %v", err)
	}

	if err := a.Broadcast([]byte("hello mesh")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case f := <-b.Frames():
		if string(f.Data) != "hello mesh" {
			t.Errorf("Unexpected frame data: %q", f.Data)
		}
		if f.RSSI != FallbackRSSI {
			t.Errorf("Expected fallback RSSI %d, got %d", FallbackRSSI, f.RSSI)
		}
		if f.Source == "" {
			t.Error("Frame source must carry the sender address")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for broadcast frame")
	}
}

func TestUDPUnicastRequiresRegistration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewUDPRadio(ctx, 9003)
	if err != nil {
		t.Fatalf("Failed to bring up radio: %v", err)
	}
	if err := a.Send("127.0.0.1:9002", []byte("x")); err == nil {
		t.Error("Expected unicast to unregistered peer to fail")
	}
	if err := a.AddPeer("127.0.0.1:9002"); err != nil {
		t.Fatalf("AddPeer failed: %v", err)
	}
	if err := a.Send("127.0.0.1:9002", []byte("x")); err != nil {
		t.Errorf("Unicast after registration failed: %v", err)
	}
}

func TestHubScriptedRSSI(t *testing.T) {
	hub := NewHub()
	a := hub.Join("a:1")
	b := hub.Join("b:2")
	hub.SetRSSI("a:1", "b:2", -42)

	if err := a.Broadcast([]byte("ping")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	select {
	case f := <-b.Frames():
		if f.RSSI != -42 {
			t.Errorf("Expected scripted RSSI -42, got %d", f.RSSI)
		}
		if f.Source != "a:1" {
			t.Errorf("Expected source a:1, got %s", f.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for hub frame")
	}
}
