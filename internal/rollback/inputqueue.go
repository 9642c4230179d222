package rollback

// remoteInputRingSize bounds how many distinct frames of history a single
// peer's remote input queue tracks at once; must comfortably exceed any
// configured max_prediction_frames plus loss-recovery history depth.
const remoteInputRingSize = 64

type remoteSlot struct {
	input         []byte
	frame         uint32
	authoritative bool
	set           bool
}

// remoteInputQueue tracks one remote peer's per-frame input, distinguishing
// authoritative (actually received) input from predicted input (reuse of
// the peer's last known input while nothing newer has arrived). Adapted
// from the same ring-by-sequence-number shape as a jitter buffer, keyed by
// frame number instead of packet sequence number.
type remoteInputQueue struct {
	ring           [remoteInputRingSize]remoteSlot
	lastKnown      []byte
	lastKnownFrame uint32
	haveKnown      bool
}

func newRemoteInputQueue() *remoteInputQueue {
	return &remoteInputQueue{}
}

// Put records an authoritative input for frame, reporting whether it
// contradicts a prediction previously returned by Get for the same frame
// (i.e. a rollback-triggering mismatch).
func (q *remoteInputQueue) Put(frame uint32, input []byte) (contradictsPrediction bool) {
	idx := int(frame) % remoteInputRingSize
	slot := q.ring[idx]

	contradicts := false
	if slot.set && slot.frame == frame && !slot.authoritative {
		contradicts = !bytesEqual(slot.input, input)
	}

	q.ring[idx] = remoteSlot{input: input, frame: frame, authoritative: true, set: true}

	if !q.haveKnown || frame >= q.lastKnownFrame {
		q.lastKnown = input
		q.lastKnownFrame = frame
		q.haveKnown = true
	}
	return contradicts
}

// Get returns the input for frame: authoritative if actually received,
// otherwise a prediction built from the most recent known input.
func (q *remoteInputQueue) Get(frame uint32) (input []byte, authoritative bool) {
	idx := int(frame) % remoteInputRingSize
	slot := q.ring[idx]
	if slot.set && slot.frame == frame {
		if !slot.authoritative {
			return slot.input, false
		}
		return slot.input, true
	}

	predicted := q.lastKnown
	q.ring[idx] = remoteSlot{input: predicted, frame: frame, authoritative: false, set: true}
	return predicted, false
}

// HasAuthoritative reports whether frame's slot currently holds a received
// (not predicted) input.
func (q *remoteInputQueue) HasAuthoritative(frame uint32) bool {
	idx := int(frame) % remoteInputRingSize
	slot := q.ring[idx]
	return slot.set && slot.frame == frame && slot.authoritative
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
