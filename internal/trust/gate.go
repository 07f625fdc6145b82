package trust

import "crypto/subtle"

// Gate holds the two pre-shared secrets. The shared key admits a node as
// an ordinary peer; the passkey additionally permits the privileged
// relay-aggregation path. The two are independent: a peer can pass the
// first check and still be refused the second.
type Gate struct {
	sharedKey []byte
	passkey   []byte
}

func NewGate(sharedKey, passkey string) *Gate {
	return &Gate{
		sharedKey: []byte(sharedKey),
		passkey:   []byte(passkey),
	}
}

// Authenticate checks the payload-level shared key. Callers drop the
// message silently on failure; no partial state is ever raised.
func (g *Gate) Authenticate(key string) bool {
	return equal(g.sharedKey, []byte(key))
}

// AuthorizeRelay checks the second-tier passkey gating aggregate-report
// relaying toward the gateway.
func (g *Gate) AuthorizeRelay(passkey string) bool {
	return equal(g.passkey, []byte(passkey))
}

func equal(want, got []byte) bool {
	if len(want) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}
