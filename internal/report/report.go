// Package report is the gateway's output boundary: one flattened JSON
// line per accepted relay, written to a text channel for an external
// monitor process, with an optional webhook uplink.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Tower is one tower sighting inside a record.
type Tower struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Record is the flattened per-relay output record.
type Record struct {
	GatewayID      string  `json:"gateway_id"`
	Timestamp      int64   `json:"timestamp"`
	RelayNumber    int64   `json:"relay_number"`
	RelayTower     string  `json:"relay_tower"`
	SenderAddress  string  `json:"sender_address"`
	SignalStrength int     `json:"signal_strength"`
	Owner          string  `json:"owner"`
	MessageID      string  `json:"message_id"`
	Towers         []Tower `json:"towers"`
}

// Writer emits records as single JSON lines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit writes one record as a JSON line.
func (w *Writer) Emit(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal report record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report record: %w", err)
	}
	return nil
}
