package audio

import (
	"math"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
)

// TrackerEngine holds the tracker synthesiser's internal state. Actual
// module/instrument playback is asset-authoring territory (an explicit
// non-goal here); it exists so the snapshot-merge machinery in C8 has a
// real verbatim-apply target to exercise.
type TrackerEngine struct {
	snapshot simtypes.TrackerEngineSnapshot
}

// NewTrackerEngine returns an empty tracker engine.
func NewTrackerEngine() *TrackerEngine {
	return &TrackerEngine{}
}

// ApplySnapshot verbatim-replaces the engine's internal state, used on
// rollback and on tracker module changes.
func (e *TrackerEngine) ApplySnapshot(snapshot simtypes.TrackerEngineSnapshot) {
	e.snapshot = append(simtypes.TrackerEngineSnapshot(nil), snapshot...)
}

// channelFrequency maps a SoundID to a procedural tone frequency. There is
// no sample-asset table in this module (asset authoring is out of scope);
// every sound is a deterministic sine tone so the predictive generation
// pipeline (positions, crossfades, discontinuity telemetry) can be
// exercised end to end without real audio assets.
func channelFrequency(soundID uint32) float64 {
	return 110.0 * float64(soundID)
}

func clampPanGain(pan float32) (left, right float32) {
	left = 1 - max(pan, 0)
	right = 1 + min(pan, 0)
	return
}

// generateFrame renders framePairs stereo pairs into out (len == framePairs*2)
// from the current channel and music state, advancing each playing
// channel's Position in place. This is the audio thread's sole source of
// truth for playback timing (§4.8.2).
func generateFrame(channels []simtypes.AudioChannelState, music *simtypes.AudioChannelState, sampleRate uint32, framePairs int, out []float32) {
	for i := range out {
		out[i] = 0
	}
	mix := func(ch *simtypes.AudioChannelState) {
		if ch.SoundID == 0 {
			return
		}
		freq := channelFrequency(ch.SoundID)
		left, right := clampPanGain(ch.Pan)
		for i := 0; i < framePairs; i++ {
			tSamples := ch.Position + uint64(i)
			phase := 2 * math.Pi * freq * float64(tSamples) / float64(sampleRate)
			sample := float32(math.Sin(phase)) * ch.Volume * 0.2
			out[i*2] += sample * left
			out[i*2+1] += sample * right
		}
		ch.Position += uint64(framePairs)
	}
	for i := range channels {
		mix(&channels[i])
	}
	mix(music)
}
