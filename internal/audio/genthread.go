package audio

import (
	"log/slog"
	"time"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
)

// crossfadeSamples is the crossfade window in stereo pairs, ~1ms at 44.1kHz.
const crossfadeSamples = 44

// wakeTimeout is the safety-floor poll interval between scheduler
// wake-ups, per §4.8.1.
const wakeTimeout = 1 * time.Millisecond

// discontinuityThreshold is the absolute sample delta, past which a
// frame-boundary jump is counted as an audible discontinuity (telemetry
// only — never corrected, per §4.8.4 step 4).
const discontinuityThreshold = 0.3

// thread is the audio generation thread's private state (C8). It owns the
// predictive audio/tracker state and the ring buffer's producer side;
// everything here runs on a single dedicated goroutine.
type thread struct {
	input <-chan simtypes.AudioSnapshot
	wake  <-chan struct{}
	ring  *Ring
	log   *slog.Logger

	sampleRate uint32
	tickRate   uint32

	engine *TrackerEngine

	genChannels []simtypes.AudioChannelState
	genMusic    simtypes.AudioChannelState
	genTracker  simtypes.TrackerState

	hasState bool

	prevFrameLastL, prevFrameLastR float32
	crossfadeActive                bool
	crossfadeFromL, crossfadeFromR float32

	outputBuf []float32

	metrics *Metrics
}

func newThread(input <-chan simtypes.AudioSnapshot, wake <-chan struct{}, ring *Ring, metrics *Metrics, sampleRate, tickRate uint32) *thread {
	return &thread{
		input:      input,
		wake:       wake,
		ring:       ring,
		log:        slog.With("component", "audio.genthread"),
		sampleRate: sampleRate,
		tickRate:   tickRate,
		engine:     NewTrackerEngine(),
		metrics:    metrics,
	}
}

func (t *thread) run() {
	t.log.Debug("audio generation thread started")
	for {
		drained := t.drainSnapshots()
		if !drained {
			t.log.Debug("audio generation thread exiting, channel closed")
			return
		}

		t.metrics.UpdateBufferFill(t.ring.Len())

		framePairs := t.framePairsPerTick()
		frameSamples := framePairs * 2
		if t.ring.VacantLen() >= frameSamples {
			if t.ring.Len() < lowBufferThreshold {
				t.metrics.BufferUnderruns.Add(1)
			}
			if t.hasState {
				t.generateOneFrame(framePairs)
			} else {
				t.generateSilence(framePairs)
			}
		}

		select {
		case <-t.wake:
		case <-time.After(wakeTimeout):
		}
		t.metrics.MaybeLog(t.log)
	}
}

func (t *thread) framePairsPerTick() int {
	rate := t.tickRate
	if rate == 0 {
		rate = 60
	}
	return int(t.sampleRate) / int(rate)
}

// drainSnapshots processes every snapshot currently queued without
// blocking, returning false once the sender side has been closed.
func (t *thread) drainSnapshots() bool {
	for {
		select {
		case snap, ok := <-t.input:
			if !ok {
				return false
			}
			t.handleSnapshot(snap)
		default:
			return true
		}
	}
}

func (t *thread) handleSnapshot(snap simtypes.AudioSnapshot) {
	t.metrics.SnapshotsReceived.Add(1)

	if snap.IsRollback {
		t.handleRollback(snap)
		return
	}

	if !t.hasState {
		t.genChannels = append([]simtypes.AudioChannelState(nil), snap.Channels...)
		t.genMusic = snap.Music
		t.genTracker = snap.Tracker
		t.engine.ApplySnapshot(snap.TrackerFull)
		t.hasState = true
		return
	}

	t.mergeSnapshot(snap)
}

// mergeSnapshot validates the audio thread's prediction and merges new
// game intent without rewinding playback position, per §4.8.2/§4.8.3.
func (t *thread) mergeSnapshot(snap simtypes.AudioSnapshot) {
	if len(snap.Channels) > len(t.genChannels) {
		grown := make([]simtypes.AudioChannelState, len(snap.Channels))
		copy(grown, t.genChannels)
		t.genChannels = grown
	}

	for i := range snap.Channels {
		incoming := snap.Channels[i]
		current := &t.genChannels[i]
		soundChanged := incoming.SoundID != current.SoundID

		switch {
		case incoming.SoundID != 0 && (incoming.Position == 0 || soundChanged):
			if soundChanged && current.SoundID != 0 {
				t.scheduleCrossfade()
			}
			*current = incoming
		case incoming.SoundID == 0 && current.SoundID != 0:
			current.SoundID = 0
		case incoming.SoundID != 0:
			current.Volume = incoming.Volume
			current.Pan = incoming.Pan
		}
	}

	musicChanged := snap.Music.SoundID != t.genMusic.SoundID
	switch {
	case snap.Music.SoundID != 0 && (snap.Music.Position == 0 || musicChanged):
		if musicChanged && t.genMusic.SoundID != 0 {
			t.scheduleCrossfade()
		}
		t.genMusic = snap.Music
	case snap.Music.SoundID == 0 && t.genMusic.SoundID != 0:
		t.genMusic.SoundID = 0
	case snap.Music.SoundID != 0:
		t.genMusic.Volume = snap.Music.Volume
		t.genMusic.Pan = snap.Music.Pan
	}

	trackerChanged := snap.Tracker.Handle != t.genTracker.Handle
	switch {
	case trackerChanged && snap.Tracker.Handle != 0:
		if t.genTracker.Handle != 0 {
			t.scheduleCrossfade()
		}
		t.genTracker = snap.Tracker
		t.engine.ApplySnapshot(snap.TrackerFull)
	case snap.Tracker.Handle == 0 && t.genTracker.Handle != 0:
		t.genTracker.Handle = 0
		t.genTracker.Flags = 0
	case snap.Tracker.Handle != 0:
		t.genTracker.Volume = snap.Tracker.Volume
		t.genTracker.Flags = snap.Tracker.Flags
		t.genTracker.BPM = snap.Tracker.BPM
		t.genTracker.Speed = snap.Tracker.Speed
	}
}

func (t *thread) handleRollback(snap simtypes.AudioSnapshot) {
	t.metrics.RollbacksProcessed.Add(1)
	t.drainSnapshots() // remaining queued snapshots predate the rollback

	t.scheduleCrossfade()

	t.genChannels = append([]simtypes.AudioChannelState(nil), snap.Channels...)
	t.genMusic = snap.Music
	t.genTracker = snap.Tracker
	t.engine.ApplySnapshot(snap.TrackerFull)
	t.hasState = true
}

func (t *thread) scheduleCrossfade() {
	t.crossfadeActive = true
	t.crossfadeFromL = t.prevFrameLastL
	t.crossfadeFromR = t.prevFrameLastR
}

func (t *thread) generateOneFrame(framePairs int) {
	start := time.Now()

	frameSamples := framePairs * 2
	if cap(t.outputBuf) < frameSamples {
		t.outputBuf = make([]float32, frameSamples)
	}
	t.outputBuf = t.outputBuf[:frameSamples]

	generateFrame(t.genChannels, &t.genMusic, t.sampleRate, framePairs, t.outputBuf)

	if t.crossfadeActive {
		t.applyCrossfade()
	}

	t.metrics.RecordGenerationTime(time.Since(start))

	if len(t.outputBuf) >= 2 {
		currL, currR := t.outputBuf[0], t.outputBuf[1]
		jumpL := abs32(currL - t.prevFrameLastL)
		jumpR := abs32(currR - t.prevFrameLastR)
		if max(jumpL, jumpR) > discontinuityThreshold {
			t.metrics.Discontinuities.Add(1)
		}
		t.prevFrameLastL = t.outputBuf[len(t.outputBuf)-2]
		t.prevFrameLastR = t.outputBuf[len(t.outputBuf)-1]
	}

	pushed := t.ring.Push(t.outputBuf)
	if pushed < len(t.outputBuf) {
		t.metrics.BufferOverruns.Add(1)
	}
	t.metrics.FramesGenerated.Add(1)
	t.metrics.SamplesGenerated.Add(uint64(pushed))
}

func (t *thread) applyCrossfade() {
	if len(t.outputBuf) < 2 {
		t.crossfadeActive = false
		return
	}
	fadeLen := crossfadeSamples
	if fadeLen > len(t.outputBuf)/2 {
		fadeLen = len(t.outputBuf) / 2
	}
	for i := 0; i < fadeLen; i++ {
		frac := float32(i) / float32(fadeLen)
		l := i * 2
		r := i*2 + 1
		t.outputBuf[l] = t.crossfadeFromL*(1-frac) + t.outputBuf[l]*frac
		t.outputBuf[r] = t.crossfadeFromR*(1-frac) + t.outputBuf[r]*frac
	}
	t.crossfadeActive = false
}

func (t *thread) generateSilence(framePairs int) {
	frameSamples := framePairs * 2
	if cap(t.outputBuf) < frameSamples {
		t.outputBuf = make([]float32, frameSamples)
	}
	t.outputBuf = t.outputBuf[:frameSamples]
	for i := range t.outputBuf {
		t.outputBuf[i] = 0
	}
	t.ring.Push(t.outputBuf)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
