package rollback

// savedFrameRing retains a contiguous window of SavedFrames bounded to
// maxLen entries (I1: len ≤ max_prediction_frames + 1), oldest evicted
// first as confirmed_frame advances.
type savedFrameRing struct {
	frames []SavedFrame
	maxLen int
}

func newSavedFrameRing(maxLen int) *savedFrameRing {
	return &savedFrameRing{frames: make([]SavedFrame, 0, maxLen), maxLen: maxLen}
}

// Push appends a newly-simulated frame, evicting the oldest entry if the
// ring has grown past its bound.
func (r *savedFrameRing) Push(f SavedFrame) {
	r.frames = append(r.frames, f)
	if len(r.frames) > r.maxLen {
		r.frames = r.frames[1:]
	}
}

// Get returns the saved frame for the given frame number, if retained.
func (r *savedFrameRing) Get(frame uint32) (SavedFrame, bool) {
	for _, f := range r.frames {
		if f.Frame == frame {
			return f, true
		}
	}
	return SavedFrame{}, false
}

// EvictBefore drops every retained frame older than the given boundary.
func (r *savedFrameRing) EvictBefore(frame uint32) {
	i := 0
	for i < len(r.frames) && r.frames[i].Frame < frame {
		i++
	}
	r.frames = r.frames[i:]
}

// TruncateFrom drops every retained frame at or after the given frame
// number, in preparation for re-simulating from that point on rollback.
func (r *savedFrameRing) TruncateFrom(frame uint32) {
	i := 0
	for i < len(r.frames) && r.frames[i].Frame < frame {
		i++
	}
	r.frames = r.frames[:i]
}

// Len reports how many frames are currently retained.
func (r *savedFrameRing) Len() int { return len(r.frames) }

// Oldest returns the earliest retained frame, if any.
func (r *savedFrameRing) Oldest() (SavedFrame, bool) {
	if len(r.frames) == 0 {
		return SavedFrame{}, false
	}
	return r.frames[0], true
}

// Newest returns the most recently retained frame, if any.
func (r *savedFrameRing) Newest() (SavedFrame, bool) {
	if len(r.frames) == 0 {
		return SavedFrame{}, false
	}
	return r.frames[len(r.frames)-1], true
}
