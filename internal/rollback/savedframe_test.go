package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSavedFrameRingBoundedLength(t *testing.T) {
	r := newSavedFrameRing(4)
	for i := uint32(0); i < 10; i++ {
		r.Push(SavedFrame{Frame: i, Checksum: uint64(i)})
		require.LessOrEqual(t, r.Len(), 4)
	}
	require.Equal(t, 4, r.Len())

	oldest, ok := r.Oldest()
	require.True(t, ok)
	require.EqualValues(t, 6, oldest.Frame)

	newest, ok := r.Newest()
	require.True(t, ok)
	require.EqualValues(t, 9, newest.Frame)
}

func TestSavedFrameRingGetMissingFrame(t *testing.T) {
	r := newSavedFrameRing(4)
	r.Push(SavedFrame{Frame: 1})
	_, ok := r.Get(99)
	require.False(t, ok)
}

func TestSavedFrameRingEvictBefore(t *testing.T) {
	r := newSavedFrameRing(8)
	for i := uint32(0); i < 5; i++ {
		r.Push(SavedFrame{Frame: i})
	}
	r.EvictBefore(3)
	require.Equal(t, 2, r.Len())
	_, ok := r.Get(2)
	require.False(t, ok)
	_, ok = r.Get(3)
	require.True(t, ok)
}

func TestSavedFrameRingTruncateFrom(t *testing.T) {
	r := newSavedFrameRing(8)
	for i := uint32(0); i < 5; i++ {
		r.Push(SavedFrame{Frame: i})
	}
	r.TruncateFrom(2)
	require.Equal(t, 2, r.Len())
	_, ok := r.Get(1)
	require.True(t, ok)
	_, ok = r.Get(2)
	require.False(t, ok)
}
