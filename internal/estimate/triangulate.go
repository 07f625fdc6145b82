package estimate

import (
	"sort"
	"time"

	"github.com/rangemesh/rangemesh/internal/registry"
)

// MinPeersForTriangulation is the threshold below which the system falls
// back to distance-only reporting without direction.
const MinPeersForTriangulation = 3

// DirectionUnknown is assigned when a peer cannot be placed.
const DirectionUnknown = "unknown"

var compass = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Triangulate assigns a coarse compass label to every validated,
// triangulation-capable peer by pairwise RSSI comparison: each peer
// accumulates one "stronger" vote per peer it outranks, and the vote
// totals spread the peers around the compass, strongest first. This is a
// relative ranking heuristic, not a geometric solve; it needs no
// coordinate system and degrades gracefully with partial data.
//
// The returned map is keyed by peer ID and is empty when fewer than
// MinPeersForTriangulation candidates exist.
func Triangulate(peers []registry.Peer, model DistanceModel, now time.Time) map[string]registry.Position {
	candidates := make([]registry.Peer, 0, len(peers))
	for _, p := range peers {
		if p.Validated && p.SupportsTriangulation {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) < MinPeersForTriangulation {
		return map[string]registry.Position{}
	}

	type ranked struct {
		peer  registry.Peer
		avg   float64
		votes int
	}
	rankedPeers := make([]ranked, len(candidates))
	for i, p := range candidates {
		rankedPeers[i] = ranked{peer: p, avg: p.AverageRSSI()}
	}
	for i := range rankedPeers {
		for j := range rankedPeers {
			if i != j && rankedPeers[i].avg > rankedPeers[j].avg {
				rankedPeers[i].votes++
			}
		}
	}
	sort.SliceStable(rankedPeers, func(i, j int) bool {
		if rankedPeers[i].votes != rankedPeers[j].votes {
			return rankedPeers[i].votes > rankedPeers[j].votes
		}
		return rankedPeers[i].peer.ID < rankedPeers[j].peer.ID
	})

	out := make(map[string]registry.Position, len(rankedPeers))
	n := len(rankedPeers)
	for rank, r := range rankedPeers {
		dir := compass[rank*len(compass)/n%len(compass)]
		// A peer with no history at all cannot be compared meaningfully.
		if len(r.peer.History) == 0 {
			dir = DirectionUnknown
		}
		out[r.peer.ID] = registry.Position{
			Distance:   model.Distance(r.avg),
			Direction:  dir,
			Confidence: model.Confidence(len(r.peer.History), registry.HistoryCapacity),
			Valid:      true,
			UpdatedAt:  now,
		}
	}
	return out
}
