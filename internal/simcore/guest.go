// Package simcore implements the deterministic simulator wrapper (C6): the
// adapter between the rollback session's generic Sim interface and a
// concrete guest/interpreter collaborator.
package simcore

import "github.com/nethercore-systems/nethercore/internal/simtypes"

// DrawList is the guest's transient per-tick draw output. The core never
// interprets it; it is handed to an external renderer and discarded for
// every re-simulated frame except the final one of a rollback window.
type DrawList []byte

// AudioIntents is the guest's transient per-tick audio output, borrowed by
// the simulator wrapper and copied into a simtypes.TickResult.
type AudioIntents struct {
	Channels    []simtypes.AudioChannelState
	Music       simtypes.AudioChannelState
	Tracker     simtypes.TrackerState
	TrackerFull simtypes.TrackerEngineSnapshot
}

// Guest is the interpreter collaborator a SimWrapper drives. Implementations
// need not be safe for concurrent use; the wrapper only ever calls it from
// the simulation thread.
type Guest interface {
	// BeginTick stages inputs and the frame number into the guest's input
	// registers ahead of RunUpdateAndRender.
	BeginTick(frame uint32, inputs [][]byte)
	// RunUpdateAndRender executes one guest cycle, refreshing the
	// transient draw list and audio intent list.
	RunUpdateAndRender()
	// SaveImage captures a deterministic byte image of sandbox memory.
	SaveImage() []byte
	// LoadImage restores sandbox memory from an image produced by SaveImage.
	LoadImage(image []byte)
	// LastAudioIntents borrows the most recent tick's audio output.
	LastAudioIntents() AudioIntents
	// LastDrawList borrows the most recent tick's draw output.
	LastDrawList() DrawList
}
