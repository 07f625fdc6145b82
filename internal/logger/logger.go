package logger

import (
	"log/slog"
	"os"
)

// Init routes the default slog logger to an append-only log file so the
// interactive console stays clean for report output.
func Init(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(file, nil))
	slog.SetDefault(logger)
	return nil
}
