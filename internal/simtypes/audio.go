// Package simtypes holds the small data types passed between the
// simulator wrapper (C6), the rollback session (C5), and the audio
// pipeline (C7/C8) — kept dependency-free so none of those packages needs
// to import another to share a struct.
package simtypes

// AudioChannelState is one channel's authoritative playback intent as
// reported by the simulator for a single tick. SoundID 0 means silent.
type AudioChannelState struct {
	SoundID  uint32
	Position uint64
	Volume   float32
	Pan      float32
}

// TrackerState is the tracker engine's coarse per-tick position, used to
// detect module changes and merge playback parameters.
type TrackerState struct {
	Handle        uint32
	OrderPosition uint16
	Row           uint8
	Tick          uint8
	BPM           uint8
	Speed         uint8
	Volume        uint8
	Flags         uint8
}

// TrackerEngineSnapshot is the tracker engine's full internal state, opaque
// to everything but the tracker synthesiser itself.
type TrackerEngineSnapshot []byte

// AudioSnapshot is materialised once per simulated tick, including each
// tick re-simulated during a rollback, by the audio snapshot builder (C7)
// and handed to the audio generation thread (C8).
// IsRollback is set exactly on the first snapshot emitted after a rollback
// window begins.
type AudioSnapshot struct {
	IsRollback  bool
	SampleRate  uint32
	TickRateHz  uint32
	Channels    []AudioChannelState
	Music       AudioChannelState
	Tracker     TrackerState
	TrackerFull TrackerEngineSnapshot
}

// TickResult is what a simulator's Advance call reports back to the
// rollback session: the audio intent for the tick just simulated, used to
// build the next AudioSnapshot.
type TickResult struct {
	Channels    []AudioChannelState
	Music       AudioChannelState
	Tracker     TrackerState
	TrackerFull TrackerEngineSnapshot
}
