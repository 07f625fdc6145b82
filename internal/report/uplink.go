package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Uplink POSTs accepted records to a webhook for off-mesh monitoring.
type Uplink struct {
	URL    string
	client *http.Client
}

func NewUplink(url string) *Uplink {
	return &Uplink{
		URL: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start consumes records from the channel until it closes. Failures are
// logged and dropped; the uplink never blocks the gateway.
func (u *Uplink) Start(recs <-chan Record) {
	go func() {
		for rec := range recs {
			payload, err := json.Marshal(rec)
			if err != nil {
				slog.Error("Failed to marshal uplink record", "error", err)
				continue
			}
			resp, err := u.client.Post(u.URL, "application/json", bytes.NewBuffer(payload))
			if err != nil {
				slog.Error("Failed to send uplink request", "error", err)
				continue
			}
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				fmt.Println("[UPLINK] Relay record forwarded")
			} else {
				slog.Error("Uplink returned non-200 status", "status", resp.Status)
			}
		}
	}()
}
