package core

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/box"
)

// Identity is a node's persistent identity: a uuid device ID plus a nacl
// box keypair used for sealed unicast payloads.
type Identity struct {
	NodeID  string `json:"node_id"`
	PubKey  string `json:"pub_key"`
	PrivKey string `json:"priv_key"`
}

// GenerateIdentity creates a fresh identity with a new keypair.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Identity{
		NodeID:  uuid.New().String(),
		PubKey:  hex.EncodeToString(pub[:]),
		PrivKey: hex.EncodeToString(priv[:]),
	}, nil
}

// LoadOrGenerateIdentity reads the identity file at path, or creates and
// persists a new identity when none exists.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read identity file: %w", err)
		}
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		if id.NodeID != "" && id.PubKey != "" && id.PrivKey != "" {
			return &id, nil
		}
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write identity file: %w", err)
	}
	return id, nil
}

// SealTo encrypts plaintext for the holder of the given hex public key
// using an anonymous box. Output is hex for embedding in JSON payloads.
func SealTo(pubKeyHex, plaintext string) (string, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("invalid recipient public key")
	}
	var pub [32]byte
	copy(pub[:], raw)
	sealed, err := box.SealAnonymous(nil, []byte(plaintext), &pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to seal payload: %w", err)
	}
	return hex.EncodeToString(sealed), nil
}

// Open decrypts a hex sealed box addressed to this identity.
func (id *Identity) Open(sealedHex string) (string, bool) {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", false
	}
	pubRaw, err := hex.DecodeString(id.PubKey)
	if err != nil || len(pubRaw) != 32 {
		return "", false
	}
	privRaw, err := hex.DecodeString(id.PrivKey)
	if err != nil || len(privRaw) != 32 {
		return "", false
	}
	var pub, priv [32]byte
	copy(pub[:], pubRaw)
	copy(priv[:], privRaw)
	plain, ok := box.OpenAnonymous(nil, sealed, &pub, &priv)
	if !ok {
		return "", false
	}
	return string(plain), true
}
