package config

// Config carries the flag-backed settings for one node.
type Config struct {
	Role       string
	Port       int
	Name       string
	Owner      string
	SharedKey  string
	Passkey    string
	WebhookURL string
	DBPath     string

	// Distance model calibration.
	RSSIRef     float64
	PathLossExp float64
	MaxDistance float64
}
