package store

import (
	"time"
)

// RelayRecord archives one accepted gateway relay. Towers are stored as
// the JSON array from the report record.
type RelayRecord struct {
	MessageID      string `gorm:"primaryKey"`
	GatewayID      string
	RelayNumber    int64
	RelayTower     string
	SenderAddress  string
	SignalStrength int
	Owner          string
	Towers         string
	Timestamp      int64
}

// PeerSnapshot is the last-known state of a peer, kept for post-hoc
// inspection; the live table is in-memory and bounded.
type PeerSnapshot struct {
	ID        string `gorm:"primaryKey"`
	Owner     string
	Addr      string
	RSSI      int
	Distance  float64
	Direction string
	Validated bool
	LastSeen  time.Time
	Active    bool
}
