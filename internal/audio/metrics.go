package audio

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// lowBufferThreshold is the ring fill level below which a generation pass
// counts as an underrun warning sign, expressed in stereo samples.
const lowBufferThreshold = ringCapacity / 4

// logInterval bounds how often Metrics.MaybeLog actually emits a log line.
const logInterval = 5 * time.Second

// Metrics tracks the audio generation thread's health for the debug
// surface (A5). All fields are updated from the single audio thread and
// read from arbitrary goroutines via the atomic accessors, so a snapshot
// export never needs to synchronize with the generation loop.
type Metrics struct {
	SnapshotsReceived  atomic.Uint64
	RollbacksProcessed atomic.Uint64
	BufferUnderruns    atomic.Uint64
	BufferOverruns     atomic.Uint64
	FramesGenerated    atomic.Uint64
	SamplesGenerated   atomic.Uint64
	Discontinuities    atomic.Uint64

	avgGenerationTimeUsBits atomic.Uint64
	lastLog                 atomic.Int64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordGenerationTime folds a new generation-time sample into a running
// exponential moving average (alpha = 0.1, matching the reference engine's
// own smoothing constant).
func (m *Metrics) RecordGenerationTime(d time.Duration) {
	elapsedUs := float64(d.Microseconds())
	for {
		oldBits := m.avgGenerationTimeUsBits.Load()
		old := math.Float64frombits(oldBits)
		next := 0.1*elapsedUs + 0.9*old
		if m.avgGenerationTimeUsBits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// AvgGenerationTimeUs returns the current smoothed generation time.
func (m *Metrics) AvgGenerationTimeUs() float64 {
	return math.Float64frombits(m.avgGenerationTimeUsBits.Load())
}

// UpdateBufferFill records whether the ring buffer's current fill level
// counts as a near-underrun, per lowBufferThreshold.
func (m *Metrics) UpdateBufferFill(filled int) {
	if filled < lowBufferThreshold {
		m.BufferUnderruns.Add(1)
	}
}

// MaybeLog emits a summary log line at most once per logInterval.
func (m *Metrics) MaybeLog(log *slog.Logger) {
	now := time.Now().UnixNano()
	last := m.lastLog.Load()
	if now-last < int64(logInterval) {
		return
	}
	if !m.lastLog.CompareAndSwap(last, now) {
		return
	}
	log.Debug("audio generation metrics",
		"frames_generated", m.FramesGenerated.Load(),
		"samples_generated", m.SamplesGenerated.Load(),
		"buffer_underruns", m.BufferUnderruns.Load(),
		"buffer_overruns", m.BufferOverruns.Load(),
		"discontinuities", m.Discontinuities.Load(),
		"rollbacks_processed", m.RollbacksProcessed.Load(),
		"avg_generation_time_us", m.AvgGenerationTimeUs(),
	)
}
