package main

import (
	"encoding/json"
	"log/slog"

	"github.com/rangemesh/rangemesh/internal/report"
	"github.com/rangemesh/rangemesh/internal/store"
	"gorm.io/gorm"
)

// gatewaySink fans each accepted relay record out to the line writer,
// the sqlite archive and, when configured, the webhook uplink.
type gatewaySink struct {
	writer *report.Writer
	db     *gorm.DB
	uplink chan report.Record
}

func (s *gatewaySink) Accept(rec report.Record) error {
	if err := s.writer.Emit(rec); err != nil {
		return err
	}
	towers, err := json.Marshal(rec.Towers)
	if err != nil {
		towers = []byte("[]")
	}
	archived := &store.RelayRecord{
		MessageID:      rec.MessageID,
		GatewayID:      rec.GatewayID,
		RelayNumber:    rec.RelayNumber,
		RelayTower:     rec.RelayTower,
		SenderAddress:  rec.SenderAddress,
		SignalStrength: rec.SignalStrength,
		Owner:          rec.Owner,
		Towers:         string(towers),
		Timestamp:      rec.Timestamp,
	}
	if err := store.SaveRelayRecord(s.db, archived); err != nil {
		slog.Error("Failed to archive relay record", "msg", rec.MessageID, "error", err)
	}
	if s.uplink != nil {
		select {
		case s.uplink <- rec:
		default:
		}
	}
	return nil
}
