package txnid

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*TransactionIdStore, *engine_util.Engines) {
	engines := engine_util.NewTestEngines()
	store, err := Open(NewBadgerMetaStorage(engines.Log))
	require.Nil(t, err)
	return store, engines
}

func commit(t *testing.T, s *TransactionIdStore, id uint64) {
	require.Nil(t, s.TransactionCommitted(id, id, txnlog.LatestKernelVersion, uint32(id), int64(id)*10, txnlog.NoConsensusIndex))
}

func closeTx(s *TransactionIdStore, id uint64) error {
	return s.TransactionClosed(id, id, txnlog.LatestKernelVersion, 0, id*100, uint32(id), int64(id)*10, txnlog.NoConsensusIndex)
}

func allocate(s *TransactionIdStore, n int) {
	for i := 0; i < n; i++ {
		s.NextID()
	}
}

func TestOpenEmptyStore(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	assert.Equal(t, BaseTransactionID, store.LastCommittedTransactionID())
	assert.Equal(t, BaseTransactionID, store.LastClosedTransactionID())
	assert.Equal(t, uint64(0), store.LastAppendIndex())
	assert.Equal(t, txnlog.StartPosition(0), store.LastClosedTransaction().Position)
	assert.Equal(t, BaseTransactionID+1, store.NextID())
	assert.Equal(t, BaseTransactionID+2, store.NextID())
	assert.True(t, store.Health().Healthy())
}

func TestInOrderCloseAdvancesToMax(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	const n = 20
	allocate(store, n)
	for id := uint64(1); id <= n; id++ {
		commit(t, store, id)
		require.Nil(t, closeTx(store, id))
		assert.Equal(t, id, store.LastCommittedTransactionID())
		assert.Equal(t, id, store.LastClosedTransactionID())
	}
	closed := store.LastClosedTransaction()
	assert.Equal(t, uint64(n), closed.TransactionID)
	assert.Equal(t, txnlog.NewLogPosition(0, n*100), closed.Position)
	assert.Equal(t, int64(n)*10, closed.CommitTimestamp)
}

func TestOutOfOrderCloseProgression(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	allocate(store, 3)
	for id := uint64(1); id <= 3; id++ {
		commit(t, store, id)
	}
	assert.Equal(t, uint64(0), store.LastClosedTransactionID())

	var progression []uint64
	for _, id := range []uint64{1, 3, 2} {
		require.Nil(t, closeTx(store, id))
		progression = append(progression, store.LastClosedTransactionID())
	}
	assert.Equal(t, []uint64{1, 1, 3}, progression)
	assert.Equal(t, uint64(3), store.HighestEverClosed())
	assert.Equal(t, 0, store.PendingClosed())
	// The floor record is the one of the highest contiguous id.
	assert.Equal(t, txnlog.NewLogPosition(0, 300), store.LastClosedTransaction().Position)
}

func TestCommitAboveGap(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	allocate(store, 3)
	commit(t, store, 2)
	commit(t, store, 3)
	assert.Equal(t, uint64(0), store.LastCommittedTransactionID())
	commit(t, store, 1)
	assert.Equal(t, uint64(3), store.LastCommittedTransactionID())
	assert.Equal(t, uint64(3), store.LastCommittedTransaction().TransactionID)
}

func TestOrderingViolations(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	allocate(store, 3)
	commit(t, store, 1)

	// Never allocated.
	err := store.TransactionCommitted(9, 9, txnlog.LatestKernelVersion, 0, 0, txnlog.NoConsensusIndex)
	assert.True(t, IsOrderingViolation(err))
	// Committed twice.
	err = store.TransactionCommitted(1, 1, txnlog.LatestKernelVersion, 0, 0, txnlog.NoConsensusIndex)
	assert.True(t, IsOrderingViolation(err))
	// Closed before it committed.
	assert.True(t, IsOrderingViolation(closeTx(store, 2)))
	assert.Equal(t, uint64(0), store.LastClosedTransactionID())

	require.Nil(t, closeTx(store, 1))
	// Closed twice, below and above the floor.
	assert.True(t, IsOrderingViolation(closeTx(store, 1)))
	commit(t, store, 2)
	commit(t, store, 3)
	require.Nil(t, closeTx(store, 3))
	assert.True(t, IsOrderingViolation(closeTx(store, 3)))
	assert.Equal(t, uint64(1), store.LastClosedTransactionID())

	require.Nil(t, store.AppendBatch(5, txnlog.NewLogPosition(0, 10)))
	err = store.AppendBatch(5, txnlog.NewLogPosition(0, 20))
	assert.True(t, IsOrderingViolation(err))
	assert.Equal(t, txnlog.NewLogPosition(0, 10), store.AppendedPosition())
}

func TestConcurrentOutOfOrderClose(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	const n = 200
	allocate(store, n)
	for id := uint64(1); id <= n; id++ {
		commit(t, store, id)
	}
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	var wg sync.WaitGroup
	work := make(chan uint64)
	errCh := make(chan error, n)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				if err := closeTx(store, id); err != nil {
					errCh <- err
				}
				// The watermark must never pass the committed one.
				if store.LastClosedTransactionID() > store.LastCommittedTransactionID() {
					errCh <- errors.New("closed watermark passed committed watermark")
				}
			}
		}()
	}
	for _, id := range ids {
		work <- id
	}
	close(work)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
	assert.Equal(t, uint64(n), store.LastClosedTransactionID())
	assert.Equal(t, 0, store.PendingClosed())
}

func TestRestoreAfterReopen(t *testing.T) {
	store, engines := newTestStore(t)
	allocate(store, 5)
	require.Nil(t, store.AppendBatch(4, txnlog.NewLogPosition(1, 64)))
	for id := uint64(1); id <= 4; id++ {
		commit(t, store, id)
	}
	for _, id := range []uint64{1, 2, 4} {
		require.Nil(t, closeTx(store, id))
	}
	require.Nil(t, store.Close())

	engines = engine_util.ReopenTestEngines(engines)
	defer engines.Destroy()
	store, err := Open(NewBadgerMetaStorage(engines.Log))
	require.Nil(t, err)
	assert.Equal(t, uint64(4), store.LastCommittedTransactionID())
	// 4 was waiting above the gap at 3, only the floor is durable.
	assert.Equal(t, uint64(2), store.LastClosedTransactionID())
	assert.Equal(t, txnlog.NewLogPosition(0, 200), store.LastClosedTransaction().Position)
	assert.Equal(t, uint64(4), store.LastAppendIndex())
	assert.Equal(t, txnlog.NewLogPosition(1, 64), store.AppendedPosition())
	assert.Equal(t, uint64(6), store.NextID())
}

type failingMetaStorage struct {
	MetaStorage
	fail bool
}

func (s *failingMetaStorage) Save(state *txnlogpb.TransactionIdState) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MetaStorage.Save(state)
}

func TestDurabilityFailurePanicsStore(t *testing.T) {
	engines := engine_util.NewTestEngines()
	defer engines.Destroy()
	storage := &failingMetaStorage{MetaStorage: NewBadgerMetaStorage(engines.Log)}
	store, err := Open(storage)
	require.Nil(t, err)

	allocate(store, 3)
	commit(t, store, 1)
	require.Nil(t, closeTx(store, 1))

	storage.fail = true
	err = store.TransactionCommitted(2, 2, txnlog.LatestKernelVersion, 0, 0, txnlog.NoConsensusIndex)
	require.NotNil(t, err)
	assert.Equal(t, ErrStoreUnhealthy, errors.Cause(err))
	// The watermark did not move past the failed write.
	assert.Equal(t, uint64(1), store.LastCommittedTransactionID())
	assert.False(t, store.Health().Healthy())

	// Everything after is refused, even once the disk is back.
	storage.fail = false
	err = store.TransactionCommitted(2, 2, txnlog.LatestKernelVersion, 0, 0, txnlog.NoConsensusIndex)
	assert.Equal(t, ErrStoreUnhealthy, errors.Cause(err))
	assert.Equal(t, ErrStoreUnhealthy, errors.Cause(closeTx(store, 1)))
	assert.Equal(t, ErrStoreUnhealthy, errors.Cause(store.AppendBatch(9, txnlog.NewLogPosition(0, 1))))
	assert.Equal(t, uint64(1), store.LastClosedTransactionID())
	assert.NotNil(t, store.Close())
}

func TestSetLastCommittedAndClosed(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	allocate(store, 2)
	commit(t, store, 2)

	rec := ClosedTransactionRecord{
		TransactionRecord: TransactionRecord{
			TransactionID:   7,
			AppendIndex:     9,
			KernelVersion:   txnlog.LatestKernelVersion,
			Checksum:        77,
			CommitTimestamp: 700,
			ConsensusIndex:  3,
		},
		Position: txnlog.NewLogPosition(2, 512),
	}
	require.Nil(t, store.SetLastCommittedAndClosed(rec, txnlog.NewLogPosition(2, 400)))
	assert.Equal(t, uint64(7), store.LastCommittedTransactionID())
	assert.Equal(t, uint64(7), store.LastClosedTransactionID())
	assert.Equal(t, rec, store.LastClosedTransaction())
	assert.Equal(t, rec.TransactionRecord, store.LastCommittedTransaction())
	assert.Equal(t, uint64(9), store.LastAppendIndex())
	assert.Equal(t, uint64(8), store.NextID())

	// The pending commit of 2 was dropped with the rest of the old state.
	commit(t, store, 8)
	assert.Equal(t, uint64(8), store.LastCommittedTransactionID())
}

func TestCloseRejectedInCommitGap(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()

	allocate(store, 3)
	commit(t, store, 1)
	// 3 waits above the gap left by 2.
	commit(t, store, 3)
	assert.Equal(t, uint64(1), store.LastCommittedTransactionID())

	require.Nil(t, closeTx(store, 1))
	assert.True(t, IsOrderingViolation(closeTx(store, 2)))
	require.Nil(t, closeTx(store, 3))
	assert.Equal(t, uint64(1), store.LastClosedTransactionID())
	assert.True(t, store.LastClosedTransactionID() <= store.LastCommittedTransactionID())

	commit(t, store, 2)
	require.Nil(t, closeTx(store, 2))
	assert.Equal(t, uint64(3), store.LastCommittedTransactionID())
	assert.Equal(t, uint64(3), store.LastClosedTransactionID())
}
