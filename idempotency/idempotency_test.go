package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frozenStore returns a store with no janitor whose clock only moves when
// the test advances it.
func frozenStore(t *testing.T, ttl time.Duration) (*InMemoryStore, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	s := NewInMemoryStore(0)
	s.ttl = ttl
	s.now = func() time.Time { return now }
	t.Cleanup(s.Stop)
	return s, &now
}

func TestCreateAndGet(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	created, err := s.Create("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, "transfer-1", created.Key)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)
	assert.Equal(t, created.Status, got.Status)
}

func TestCreateDuplicateReturnsExisting(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	first, err := s.Create("transfer-1")
	require.NoError(t, err)
	first.RecordID = "rec-abc"
	first.Status = StatusSubmitted
	require.NoError(t, s.Update(first))

	again, err := s.Create("transfer-1")
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.NotNil(t, again, "the existing record accompanies the error")
	assert.Equal(t, "rec-abc", again.RecordID)
	assert.Equal(t, StatusSubmitted, again.Status)

	assert.Equal(t, 1, s.Len())
}

func TestGetUnknownKey(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	_, err := s.Get("never-created")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestUpdateRoundTrip(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	rec, err := s.Create("transfer-1")
	require.NoError(t, err)

	rec.Status = StatusFailed
	rec.TxHash = common.HexToHash("0x01")
	rec.Error = errors.New("nonce too low")
	require.NoError(t, s.Update(rec))

	got, err := s.Get("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, common.HexToHash("0x01"), got.TxHash)
	assert.EqualError(t, got.Error, "nonce too low")
}

func TestUpdateUnknownKey(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	err := s.Update(&Record{Key: "never-created"})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	s, now := frozenStore(t, 0)

	rec, err := s.Create("transfer-1")
	require.NoError(t, err)
	created := rec.CreatedAt

	*now = now.Add(time.Minute)
	rec.Status = StatusSubmitted
	require.NoError(t, s.Update(rec))

	got, err := s.Get("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, created.Add(time.Minute), got.UpdatedAt)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	rec, err := s.Create("transfer-1")
	require.NoError(t, err)
	rec.Status = StatusConfirmed // never written back

	got, err := s.Get("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestDelete(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	_, err := s.Create("transfer-1")
	require.NoError(t, err)

	require.NoError(t, s.Delete("transfer-1"))
	_, err = s.Get("transfer-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	assert.NoError(t, s.Delete("transfer-1"), "deleting an absent key is a no-op")
}

func TestExpiredRecordsAreAbsent(t *testing.T) {
	s, now := frozenStore(t, time.Hour)

	_, err := s.Create("transfer-1")
	require.NoError(t, err)

	*now = now.Add(30 * time.Minute)
	_, err = s.Get("transfer-1")
	require.NoError(t, err, "half the TTL in, the record is still live")

	*now = now.Add(31 * time.Minute)
	_, err = s.Get("transfer-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	err = s.Update(&Record{Key: "transfer-1"})
	assert.ErrorIs(t, err, ErrKeyNotFound, "updates cannot revive an expired record")
}

func TestExpiredKeyCanBeReclaimed(t *testing.T) {
	s, now := frozenStore(t, time.Hour)

	first, err := s.Create("transfer-1")
	require.NoError(t, err)
	first.RecordID = "rec-old"
	require.NoError(t, s.Update(first))

	*now = now.Add(2 * time.Hour)

	fresh, err := s.Create("transfer-1")
	require.NoError(t, err, "an expired record does not block its key")
	assert.Empty(t, fresh.RecordID)
	assert.Equal(t, StatusPending, fresh.Status)
}

func TestSweepRemovesExpired(t *testing.T) {
	s, now := frozenStore(t, time.Hour)

	for i := 0; i < 3; i++ {
		_, err := s.Create(fmt.Sprintf("transfer-%d", i))
		require.NoError(t, err)
	}
	*now = now.Add(2 * time.Hour)
	_, err := s.Create("transfer-late")
	require.NoError(t, err)

	s.sweep()

	assert.Equal(t, 1, s.Len())
	_, err = s.Get("transfer-late")
	assert.NoError(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewInMemoryStore(time.Hour)

	s.Stop()
	s.Stop()
}

func TestConcurrentCreateClaimsKeyOnce(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	const workers = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create("transfer-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.Equal(t, 1, s.Len())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "submitted", StatusSubmitted.String())
	assert.Equal(t, "confirmed", StatusConfirmed.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestRecordLinkage(t *testing.T) {
	s := NewInMemoryStore(0)
	defer s.Stop()

	rec, err := s.Create("transfer-1")
	require.NoError(t, err)

	rec.RecordID = "f3b1a7e0-1111-2222-3333-444455556666"
	rec.Status = StatusSubmitted
	rec.TxHash = common.HexToHash("0xbeef")
	require.NoError(t, s.Update(rec))

	got, err := s.Get("transfer-1")
	require.NoError(t, err)
	assert.Equal(t, "f3b1a7e0-1111-2222-3333-444455556666", got.RecordID)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, common.HexToHash("0xbeef"), got.TxHash)
}
