// Package quality classifies a peer connection's RTT/jitter/loss samples
// into a good/moderate/poor verdict (A2). It is diagnostic only: nothing
// here ever changes simulation behavior.
package quality

import (
	"time"

	"github.com/nethercore-systems/nethercore/internal/wire"
)

// Level is a connection quality verdict.
type Level uint8

const (
	LevelGood Level = iota
	LevelModerate
	LevelPoor
)

func (l Level) String() string {
	switch l {
	case LevelGood:
		return "good"
	case LevelModerate:
		return "moderate"
	default:
		return "poor"
	}
}

// lossSmoothing is the EWMA weight applied to each new loss sample.
const lossSmoothing = 0.3

// Tracker maintains a rolling estimate of one peer's connection quality.
type Tracker struct {
	rtt          time.Duration
	jitter       time.Duration
	smoothedLoss float64
	sampled      bool

	consecutivePoor int
}

// NewTracker returns a Tracker with no samples yet (classifies as good
// until the first Sample call).
func NewTracker() *Tracker {
	return &Tracker{}
}

// Sample records a fresh RTT/jitter/loss-fraction measurement.
func (t *Tracker) Sample(rtt, jitter time.Duration, lossFraction float64) {
	t.rtt = rtt
	t.jitter = jitter
	if !t.sampled {
		t.smoothedLoss = lossFraction
	} else {
		t.smoothedLoss = lossSmoothing*lossFraction + (1-lossSmoothing)*t.smoothedLoss
	}
	t.sampled = true

	if t.Verdict() == LevelPoor {
		t.consecutivePoor++
	} else {
		t.consecutivePoor = 0
	}
}

// Verdict classifies the last-sampled RTT and jitter together with the
// EWMA-smoothed loss fraction: loss >= 10%
// or RTT >= 300ms or jitter >= 50ms is poor; loss >= 2% or RTT >= 100ms or
// jitter >= 20ms is moderate; otherwise good.
func (t *Tracker) Verdict() Level {
	switch {
	case t.smoothedLoss >= 0.10 || t.rtt >= 300*time.Millisecond || t.jitter >= 50*time.Millisecond:
		return LevelPoor
	case t.smoothedLoss >= 0.02 || t.rtt >= 100*time.Millisecond || t.jitter >= 20*time.Millisecond:
		return LevelModerate
	default:
		return LevelGood
	}
}

// StallingEarly reports whether this peer has reported poor quality for
// three consecutive samples, a signal higher layers can use to raise a
// PeerStalling warning ahead of the hard disconnect-notify timeout.
func (t *Tracker) StallingEarly() bool {
	return t.consecutivePoor >= 3
}

// Report builds the wire.QualityReport to send to the peer at ~1 Hz.
func (t *Tracker) Report() wire.QualityReport {
	lossPercent := t.smoothedLoss * 100
	if lossPercent < 0 {
		lossPercent = 0
	}
	if lossPercent > 100 {
		lossPercent = 100
	}
	return wire.QualityReport{
		RTTMillis:    uint32(t.rtt.Milliseconds()),
		JitterMillis: uint32(t.jitter.Milliseconds()),
		LossPercent:  uint8(lossPercent),
	}
}
