package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoteInputQueuePredictsBeforeAuthoritative(t *testing.T) {
	q := newRemoteInputQueue()
	_, auth := q.Get(5)
	require.False(t, auth)

	q.Put(5, []byte{1, 2, 3})
	in, auth := q.Get(5)
	require.True(t, auth)
	require.Equal(t, []byte{1, 2, 3}, in)
}

func TestRemoteInputQueuePredictsFromLastKnown(t *testing.T) {
	q := newRemoteInputQueue()
	q.Put(10, []byte{9})

	predicted, auth := q.Get(11)
	require.False(t, auth)
	require.Equal(t, []byte{9}, predicted)

	predicted, auth = q.Get(12)
	require.False(t, auth)
	require.Equal(t, []byte{9}, predicted)
}

func TestRemoteInputQueueDetectsContradiction(t *testing.T) {
	q := newRemoteInputQueue()
	q.Put(10, []byte{9})

	// frame 11 gets predicted as {9} once queried.
	predicted, auth := q.Get(11)
	require.False(t, auth)
	require.Equal(t, []byte{9}, predicted)

	// the real input for frame 11 turns out to differ: contradiction.
	contradicts := q.Put(11, []byte{42})
	require.True(t, contradicts)

	// a second Put with the same value as the (now overwritten) slot is not
	// a contradiction since the slot is already authoritative.
	contradicts = q.Put(11, []byte{42})
	require.False(t, contradicts)
}

func TestRemoteInputQueueNoContradictionWhenPredictionMatches(t *testing.T) {
	q := newRemoteInputQueue()
	q.Put(10, []byte{7})

	_, auth := q.Get(11)
	require.False(t, auth)

	contradicts := q.Put(11, []byte{7})
	require.False(t, contradicts)
}

func TestRemoteInputQueueHasAuthoritative(t *testing.T) {
	q := newRemoteInputQueue()
	require.False(t, q.HasAuthoritative(3))
	q.Put(3, []byte{1})
	require.True(t, q.HasAuthoritative(3))

	q.Get(4) // predicted, not authoritative
	require.False(t, q.HasAuthoritative(4))
}
