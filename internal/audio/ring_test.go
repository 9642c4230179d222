package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingPushPopRoundTrip(t *testing.T) {
	r := NewRing()
	in := []float32{1, 2, 3, 4}
	n := r.Push(in)
	require.Equal(t, 4, n)
	require.Equal(t, 4, r.Len())

	out := make([]float32, 4)
	got := r.Pop(out)
	require.Equal(t, 4, got)
	require.Equal(t, in, out)
	require.Equal(t, 0, r.Len())
}

func TestRingPopUnderrunReturnsShort(t *testing.T) {
	r := NewRing()
	r.Push([]float32{1, 2})

	out := make([]float32, 10)
	got := r.Pop(out)
	require.Equal(t, 2, got)
}

func TestRingPushOverflowReturnsShort(t *testing.T) {
	r := NewRing()
	big := make([]float32, r.Capacity()+100)
	n := r.Push(big)
	require.Equal(t, r.Capacity(), n)
	require.Equal(t, r.Capacity(), r.Len())

	// further pushes find no vacancy until something is popped.
	require.Equal(t, 0, r.Push([]float32{1}))
}

func TestRingVacantLenTracksFill(t *testing.T) {
	r := NewRing()
	require.Equal(t, r.Capacity(), r.VacantLen())
	r.Push(make([]float32, 100))
	require.Equal(t, r.Capacity()-100, r.VacantLen())
}
