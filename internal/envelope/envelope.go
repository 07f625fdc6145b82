package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrMalformed marks bytes that do not parse at all.
	ErrMalformed = errors.New("malformed envelope")
	// ErrInvalid marks a parsed envelope missing a required field.
	ErrInvalid = errors.New("invalid envelope")
)

// Version is the envelope wire version this node speaks.
const Version = 1

// Type identifies a protocol message. The set is closed: anything not
// listed parses to TypeUnrecognized and is dropped by the dispatcher.
type Type string

const (
	TypePing              Type = "PING"
	TypeHandshakeResponse Type = "HANDSHAKE_RESPONSE"
	TypeData              Type = "DATA"
	TypeTriangulationPing Type = "TRIANGULATION_PING"
	TypeDiscoveryPing     Type = "DISCOVERY_PING"
	TypeTowerResponse     Type = "TOWER_RESPONSE"
	TypeAggregateReport   Type = "PEER_AGGREGATE_REPORT"
	TypeGatewayRelay      Type = "GATEWAY_RELAY"
	TypeRelay             Type = "RELAY"
	TypeUnrecognized      Type = ""
)

// ParseType maps a wire string onto the closed message-type set.
func ParseType(s string) Type {
	switch Type(s) {
	case TypePing, TypeHandshakeResponse, TypeData, TypeTriangulationPing,
		TypeDiscoveryPing, TypeTowerResponse, TypeAggregateReport,
		TypeGatewayRelay, TypeRelay:
		return Type(s)
	default:
		return TypeUnrecognized
	}
}

// Envelope is the common wrapper on every protocol message. All seven
// fields are required; a missing field fails validation outright.
type Envelope struct {
	Version     int             `json:"envelope_version"`
	MessageID   string          `json:"message_id"`
	Type        string          `json:"message_type"`
	Timestamp   int64           `json:"timestamp"`
	SenderID    string          `json:"sender_device_id"`
	SenderOwner string          `json:"sender_owner"`
	Payload     json.RawMessage `json:"payload"`
}

// Parse unmarshals raw bytes into an Envelope and validates it.
// It is a pure transform; callers own all mutation.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that every envelope field is present and non-empty.
// Absence of any field is a hard rejection; there is no partial trust.
func (e Envelope) Validate() error {
	switch {
	case e.Version == 0:
		return fmt.Errorf("%w: missing envelope_version", ErrInvalid)
	case e.MessageID == "":
		return fmt.Errorf("%w: missing message_id", ErrInvalid)
	case e.Type == "":
		return fmt.Errorf("%w: missing message_type", ErrInvalid)
	case e.Timestamp == 0:
		return fmt.Errorf("%w: missing timestamp", ErrInvalid)
	case e.SenderID == "":
		return fmt.Errorf("%w: missing sender_device_id", ErrInvalid)
	case e.SenderOwner == "":
		return fmt.Errorf("%w: missing sender_owner", ErrInvalid)
	case len(e.Payload) == 0 || string(e.Payload) == "null":
		return fmt.Errorf("%w: missing payload", ErrInvalid)
	}
	return nil
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// IDSource issues per-sender unique message IDs of the form
// {sender_id}_{message_type}_{counter}. Uniqueness holds as long as the
// counter does not wrap within the observation window.
type IDSource struct {
	counter atomic.Uint64
}

// Next returns a fresh message ID for the given sender and type.
func (s *IDSource) Next(senderID string, t Type) string {
	n := s.counter.Add(1)
	return fmt.Sprintf("%s_%s_%d", senderID, t, n)
}
