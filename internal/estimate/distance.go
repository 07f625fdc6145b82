package estimate

import "math"

// DistanceModel is the log-distance path-loss model converting averaged
// RSSI into meters.
type DistanceModel struct {
	// RSSIRef is the calibrated RSSI at 1 meter, device specific.
	RSSIRef float64
	// PathLossExp is the environment exponent; 2.0 is free space.
	PathLossExp float64
	// MaxDistance clamps the output.
	MaxDistance float64
}

// DefaultModel returns the free-space defaults.
func DefaultModel() DistanceModel {
	return DistanceModel{
		RSSIRef:     -40,
		PathLossExp: 2.0,
		MaxDistance: 100,
	}
}

// Distance evaluates 10^((rssi_ref - rssi_avg) / (10*n)), clamped to
// [0, MaxDistance]. Non-negative RSSI is physically invalid and maps to
// distance 0 rather than a formula evaluation.
func (m DistanceModel) Distance(rssiAvg float64) float64 {
	if rssiAvg >= 0 {
		return 0
	}
	d := math.Pow(10, (m.RSSIRef-rssiAvg)/(10*m.PathLossExp))
	if d < 0 {
		return 0
	}
	if d > m.MaxDistance {
		return m.MaxDistance
	}
	return d
}

// Confidence is a linear ramp over the RSSI averaging window: 1.0 once
// the history is full. Advisory only, not a statistical interval.
func (m DistanceModel) Confidence(historyLen, historyCap int) float64 {
	if historyCap <= 0 || historyLen <= 0 {
		return 0
	}
	c := float64(historyLen) / float64(historyCap)
	if c > 1 {
		return 1
	}
	return c
}
