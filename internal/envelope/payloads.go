package envelope

import "encoding/json"

// Payload structs for each recognized message type. Every peer-originated
// payload carries the shared key; only the aggregate report additionally
// carries the relay passkey under auth.

// Auth holds the second-tier secret gating the relay-aggregation path.
type Auth struct {
	Passkey string `json:"passkey"`
}

// PingPayload announces presence and opens a handshake.
type PingPayload struct {
	SharedKey             string `json:"shared_key"`
	SupportsTriangulation bool   `json:"supports_triangulation"`
	PubKey                string `json:"pub_key,omitempty"`
}

// HandshakeResponsePayload answers a PING and promotes the sender to
// validated on the receiving side once the shared key checks out.
type HandshakeResponsePayload struct {
	SharedKey             string `json:"shared_key"`
	SupportsTriangulation bool   `json:"supports_triangulation"`
	PubKey                string `json:"pub_key,omitempty"`
	Echo                  string `json:"echo_message_id"`
}

// DataPayload carries application content. Encrypted content is a hex
// nacl box sealed to the recipient's public key.
type DataPayload struct {
	SharedKey   string `json:"shared_key"`
	RecipientID string `json:"recipient_id,omitempty"`
	Content     string `json:"content"`
	Encrypted   bool   `json:"encrypted"`
}

// TowerResponsePayload is a tower's reply to a discovery ping, echoing
// the ping's message ID so the peer can key it to the right round.
type TowerResponsePayload struct {
	SharedKey string  `json:"shared_key"`
	Echo      string  `json:"echo_message_id"`
	TowerName string  `json:"tower_name"`
	Distance  float64 `json:"distance"`
}

// TowerObservation is one tower sighting inside an aggregate report.
type TowerObservation struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// AggregateReportPayload is the peer's end-of-round report. It needs the
// passkey on top of the shared key; a tower refuses it otherwise.
type AggregateReportPayload struct {
	SharedKey string             `json:"shared_key"`
	Auth      Auth               `json:"auth"`
	Towers    []TowerObservation `json:"towers"`
}

// GatewayRelayPayload is what a tower forwards to the gateway on behalf
// of a reporting peer.
type GatewayRelayPayload struct {
	SharedKey       string             `json:"shared_key"`
	RelayTower      string             `json:"relay_tower"`
	SenderAddress   string             `json:"sender_address"`
	SignalStrength  int                `json:"signal_strength"`
	Owner           string             `json:"owner"`
	OriginMessageID string             `json:"origin_message_id"`
	Towers          []TowerObservation `json:"towers"`
}

// ChainEntry records one forwarding hop of a stored message.
type ChainEntry struct {
	RelayerID    string `json:"relayer_id"`
	RelayerOwner string `json:"relayer_owner"`
	Timestamp    int64  `json:"timestamp"`
	RSSI         int    `json:"rssi"`
}

// RelayPayload moves a stored message one hop through the mesh. The chain
// is the loop-prevention record: a node already listed never sees the
// message again.
type RelayPayload struct {
	SharedKey string          `json:"shared_key"`
	MessageID string          `json:"relayed_message_id"`
	HopCount  int             `json:"hop_count"`
	Chain     []ChainEntry    `json:"relay_chain"`
	Inner     json.RawMessage `json:"inner"`
}
