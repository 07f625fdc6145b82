package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRelayRecordPersistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	db, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	rec := &RelayRecord{
		MessageID:      "peer-1_PEER_AGGREGATE_REPORT_3",
		GatewayID:      "gw-1",
		RelayNumber:    1,
		RelayTower:     "tower-east",
		SenderAddress:  "10.0.0.4:9001",
		SignalStrength: -58,
		Owner:          "alice",
		Towers:         `[{"name":"tower-east","distance":3.2}]`,
		Timestamp:      time.Now().Unix(),
	}
	if err := SaveRelayRecord(db, rec); err != nil {
		t.Fatalf("Failed to save relay record: %v", err)
	}
	// Re-saving the same message_id must not error or duplicate.
	if err := SaveRelayRecord(db, rec); err != nil {
		t.Fatalf("Duplicate save errored: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying sql.DB: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("Failed to close db: %v", err)
	}

	db2, err := Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to re-open db: %v", err)
	}
	recs, err := RecentRelayRecords(db2, 10)
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].RelayTower != "tower-east" {
		t.Errorf("Expected relay tower tower-east, got %q", recs[0].RelayTower)
	}
}

func TestPeerSnapshotUpsert(t *testing.T) {
	db, err := Init(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	snap := PeerSnapshot{
		ID:        "peer-1",
		Owner:     "alice",
		Addr:      "10.0.0.4:9001",
		RSSI:      -60,
		Validated: true,
		LastSeen:  time.Now().Add(-time.Hour),
		Active:    true,
	}
	if err := UpsertPeerSnapshot(db, snap); err != nil {
		t.Fatalf("Failed to insert snapshot: %v", err)
	}
	snap.RSSI = -52
	snap.LastSeen = time.Now()
	if err := UpsertPeerSnapshot(db, snap); err != nil {
		t.Fatalf("Failed to update snapshot: %v", err)
	}

	snaps, err := ActivePeerSnapshots(db)
	if err != nil {
		t.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].RSSI != -52 {
		t.Errorf("Expected updated RSSI -52, got %d", snaps[0].RSSI)
	}
}
