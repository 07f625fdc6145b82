package report

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sampleRecord() Record {
	return Record{
		GatewayID:      "gw-1",
		Timestamp:      1724630400,
		RelayNumber:    7,
		RelayTower:     "tower-east",
		SenderAddress:  "10.0.0.4:9001",
		SignalStrength: -58,
		Owner:          "alice",
		MessageID:      "peer-1_PEER_AGGREGATE_REPORT_12",
		Towers: []Tower{
			{Name: "tower-east", Distance: 3.2},
			{Name: "tower-west", Distance: 11.9},
		},
	}
}

func TestWriterEmitsOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Emit(sampleRecord()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := w.Emit(sampleRecord()); err != nil {
		t.Fatalf("Second emit failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var rec Record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("Line is not valid JSON: %v", err)
	}
	if rec.RelayTower != "tower-east" || len(rec.Towers) != 2 {
		t.Errorf("Unexpected record content: %+v", rec)
	}
}

func TestUplinkPostsRecord(t *testing.T) {
	received := make(chan Record, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Errorf("Bad uplink body: %v", err)
		}
		received <- rec
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := make(chan Record, 1)
	NewUplink(srv.URL).Start(ch)
	ch <- sampleRecord()
	close(ch)

	select {
	case rec := <-received:
		if rec.GatewayID != "gw-1" {
			t.Errorf("Unexpected gateway_id: %s", rec.GatewayID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for uplink POST")
	}
}
