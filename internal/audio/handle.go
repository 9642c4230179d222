// Package audio implements the audio snapshot sink (C7), the predictive
// audio generation thread (C8), and the lock-free output ring buffer (C9).
package audio

import "github.com/nethercore-systems/nethercore/internal/simtypes"

// snapshotChannelCapacity bounds how many pending AudioSnapshots the
// generation thread may lag behind by before the sender starts dropping
// the oldest rather than blocking the simulation thread.
const snapshotChannelCapacity = 8

// Handle is what the rollback session holds to talk to the audio
// generation thread: it satisfies rollback.AudioSink without importing
// the rollback package, and owns the thread's lifetime.
type Handle struct {
	sendCh chan simtypes.AudioSnapshot
	wake   chan struct{}
	done   chan struct{}

	metrics *Metrics
	ring    *Ring
}

// Spawn starts the audio generation thread on its own goroutine, rendering
// into ring at sampleRate/tickRate, and returns a Handle for feeding it
// snapshots and waking it after the consumer drains samples.
func Spawn(ring *Ring, sampleRate, tickRate uint32) *Handle {
	sendCh := make(chan simtypes.AudioSnapshot, snapshotChannelCapacity)
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	metrics := NewMetrics()

	th := newThread(sendCh, wake, ring, metrics, sampleRate, tickRate)
	go func() {
		th.run()
		close(done)
	}()

	return &Handle{sendCh: sendCh, wake: wake, done: done, metrics: metrics, ring: ring}
}

// Send hands a snapshot to the generation thread. If the thread is lagging
// and the channel is full, the oldest pending snapshot is dropped so the
// simulation thread is never blocked (§4.7).
func (h *Handle) Send(snap simtypes.AudioSnapshot) {
	select {
	case h.sendCh <- snap:
		return
	default:
	}
	select {
	case <-h.sendCh:
	default:
	}
	select {
	case h.sendCh <- snap:
	default:
	}
}

// Notify wakes the generation thread, e.g. after the platform callback has
// consumed samples from the ring buffer and created vacancy.
func (h *Handle) Notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Metrics returns the generation thread's live metrics.
func (h *Handle) Metrics() *Metrics { return h.metrics }

// Stop closes the snapshot channel, signalling the generation thread to
// terminate (§4.8.5), and blocks until it has exited.
func (h *Handle) Stop() {
	close(h.sendCh)
	<-h.done
}
