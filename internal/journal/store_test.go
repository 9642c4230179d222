package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrationsIdempotently(t *testing.T) {
	s := openMemStore(t)
	require.NoError(t, s.migrate())
}

func TestRecordDesyncThenRecentDesyncsRoundTrips(t *testing.T) {
	s := openMemStore(t)

	s.RecordSessionStart(SessionRecord{ID: "sess-1", PlayerCount: 2, TickRate: 60, RandomSeed: 99})
	s.RecordDesync(DesyncRecord{SessionID: "sess-1", Frame: 120, LocalChecksum: 1, RemoteChecksum: 2, Peer: 1, RecordedAt: time.Now()})
	s.RecordDesync(DesyncRecord{SessionID: "sess-1", Frame: 121, LocalChecksum: 3, RemoteChecksum: 3, Peer: 1, RecordedAt: time.Now()})

	recs := s.RecentDesyncs("sess-1")
	require.Len(t, recs, 2)
	require.EqualValues(t, 120, recs[0].Frame)
	require.EqualValues(t, 121, recs[1].Frame)
}

func TestRecentDesyncsEmptyForUnknownSession(t *testing.T) {
	s := openMemStore(t)
	require.Empty(t, s.RecentDesyncs("nope"))
}

func TestRecordDisconnectDoesNotPanic(t *testing.T) {
	s := openMemStore(t)
	s.RecordDisconnect("sess-1", 1, "timeout")
}

func TestNilStoreRecordCallsAreNoOps(t *testing.T) {
	var s *Store
	s.RecordSessionStart(SessionRecord{ID: "x"})
	s.RecordDesync(DesyncRecord{SessionID: "x"})
	s.RecordDisconnect("x", 0, "")
	require.Nil(t, s.RecentDesyncs("x"))
}

func TestNewSessionIDIsUniquePerCall(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
