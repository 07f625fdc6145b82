package node

import "fmt"

// Role is a deployment role. Roles are presets over a small capability
// set; the protocol core itself is role-agnostic.
type Role string

const (
	RolePeer    Role = "peer"
	RoleTower   Role = "tower"
	RoleGateway Role = "gateway"
)

// Capabilities parameterize the shared protocol core.
type Capabilities struct {
	// Discover runs the ping/collect/report discovery rounds.
	Discover bool
	// Respond answers discovery pings with distance estimates and
	// forwards validated aggregate reports toward the gateway.
	Respond bool
	// Relay stores undeliverable messages and forwards them through
	// validated peers.
	Relay bool
	// Sink accepts gateway relays and surfaces them to the reporting
	// collaborator. A sink never originates protocol traffic.
	Sink bool
}

// ParseRole maps a CLI string onto a role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePeer, RoleTower, RoleGateway:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q (want peer, tower or gateway)", s)
	}
}

// Capabilities returns the preset for the role.
func (r Role) Capabilities() Capabilities {
	switch r {
	case RolePeer:
		return Capabilities{Discover: true, Relay: true}
	case RoleTower:
		return Capabilities{Respond: true}
	case RoleGateway:
		return Capabilities{Sink: true}
	default:
		return Capabilities{}
	}
}
