package simcore

import (
	"hash/fnv"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
)

// SimWrapper adapts a Guest to rollback.Sim. It does not import the
// rollback package itself — it only needs to satisfy the interface shape,
// keeping simcore free of any dependency on the session's own types.
type SimWrapper struct {
	guest Guest
}

// NewSimWrapper wraps guest for use as a rollback session's Sim.
func NewSimWrapper(guest Guest) *SimWrapper {
	return &SimWrapper{guest: guest}
}

// Advance runs exactly one guest tick and reports its audio intent. The
// draw list is intentionally not surfaced here: this module has no
// renderer, so every tick's draws are implicitly discarded, which already
// matches the rollback requirement that re-simulated frames (other than
// the final one of a rollback window) never reach presentation.
func (w *SimWrapper) Advance(frame uint32, inputs [][]byte) simtypes.TickResult {
	w.guest.BeginTick(frame, inputs)
	w.guest.RunUpdateAndRender()
	intents := w.guest.LastAudioIntents()
	return simtypes.TickResult{
		Channels:    intents.Channels,
		Music:       intents.Music,
		Tracker:     intents.Tracker,
		TrackerFull: intents.TrackerFull,
	}
}

// Save returns the guest's sandbox memory image.
func (w *SimWrapper) Save() []byte {
	return w.guest.SaveImage()
}

// Load restores the guest's sandbox memory from a prior Save image.
func (w *SimWrapper) Load(snapshot []byte) {
	w.guest.LoadImage(snapshot)
}

// Checksum derives a 64-bit digest of a snapshot image for desync
// detection. FNV-1a is used rather than a cryptographic hash: snapshots
// are compared between trusted peers, not verified against tampering, and
// FNV needs no allocation beyond the running state.
func (w *SimWrapper) Checksum(snapshot []byte) uint64 {
	h := fnv.New64a()
	h.Write(snapshot)
	return h.Sum64()
}
