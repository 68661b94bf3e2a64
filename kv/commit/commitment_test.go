package commit

import (
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*txnid.TransactionIdStore, *engine_util.Engines) {
	engines := engine_util.NewTestEngines()
	store, err := txnid.Open(txnid.NewBadgerMetaStorage(engines.Log))
	require.Nil(t, err)
	return store, engines
}

func pos(offset uint64) txnlog.LogPosition {
	return txnlog.NewLogPosition(0, offset)
}

// committed drives a fresh commitment for the next id up to published.
func committed(t *testing.T, cache *txnlog.TransactionMetadataCache, store *txnid.TransactionIdStore) (Commitment, uint64) {
	id := store.NextID()
	c := NewCommitment(cache, store)
	require.Nil(t, c.Commit(id, id, txnlog.LatestKernelVersion, pos(id*100), pos(id*100+100), uint32(id), txnlog.NoConsensusIndex))
	require.Nil(t, c.PublishAsCommitted(int64(id), id, pos(id*100)))
	return c, id
}

func TestCommitmentLifecycle(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()
	cache := txnlog.NewTransactionMetadataCache(16)

	id := store.NextID()
	c := NewCommitment(cache, store)
	require.Nil(t, c.Commit(id, 1, txnlog.LatestKernelVersion, pos(0), pos(64), 7, 3))
	assert.Equal(t, uint64(1), store.LastAppendIndex())
	assert.Equal(t, pos(0), store.AppendedPosition())
	assert.Equal(t, uint64(0), store.LastCommittedTransactionID())

	require.Nil(t, c.PublishAsCommitted(1234, 1, pos(0)))
	cached, ok := cache.Get(id)
	require.True(t, ok)
	assert.Equal(t, pos(0), cached)
	assert.Equal(t, id, store.LastCommittedTransactionID())
	rec := store.LastCommittedTransaction()
	assert.Equal(t, uint32(7), rec.Checksum)
	assert.Equal(t, int64(1234), rec.CommitTimestamp)
	assert.Equal(t, int64(3), rec.ConsensusIndex)
	assert.Equal(t, uint64(0), store.LastClosedTransactionID())

	require.Nil(t, c.PublishAsClosed())
	closed := store.LastClosedTransaction()
	assert.Equal(t, id, closed.TransactionID)
	assert.Equal(t, pos(64), closed.Position)
	assert.Equal(t, int64(1234), closed.CommitTimestamp)
}

func TestCloseWithoutCommitChangesNothing(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()
	cache := txnlog.NewTransactionMetadataCache(16)

	_, _ = committed(t, cache, store)
	beforeCommitted, beforeClosed := store.LastCommittedTransactionID(), store.LastClosedTransactionID()
	beforeAppend := store.LastAppendIndex()

	c := NewCommitment(cache, store)
	require.Nil(t, c.PublishAsClosed())
	assert.Equal(t, beforeCommitted, store.LastCommittedTransactionID())
	assert.Equal(t, beforeClosed, store.LastClosedTransactionID())
	assert.Equal(t, beforeAppend, store.LastAppendIndex())

	// Appended but never published as committed.
	id := store.NextID()
	c = NewCommitment(cache, store)
	require.Nil(t, c.Commit(id, id, txnlog.LatestKernelVersion, pos(500), pos(600), 0, txnlog.NoConsensusIndex))
	require.Nil(t, c.PublishAsClosed())
	assert.Equal(t, beforeClosed, store.LastClosedTransactionID())
	assert.Equal(t, 0, store.PendingClosed())
}

func TestIllegalTransitions(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()
	cache := txnlog.NewTransactionMetadataCache(16)

	c := NewCommitment(cache, store)
	err := c.PublishAsCommitted(1, 1, pos(0))
	_, ok := err.(*ErrIllegalTransition)
	assert.True(t, ok)

	c, id := committed(t, cache, store)
	err = c.Commit(id, id, txnlog.LatestKernelVersion, pos(0), pos(1), 0, 0)
	_, ok = err.(*ErrIllegalTransition)
	assert.True(t, ok)
	err = c.PublishAsCommitted(1, id, pos(0))
	_, ok = err.(*ErrIllegalTransition)
	assert.True(t, ok)

	require.Nil(t, c.PublishAsClosed())
	err = c.PublishAsClosed()
	_, ok = err.(*ErrIllegalTransition)
	assert.True(t, ok)
	assert.Equal(t, id, store.LastClosedTransactionID())
}

func TestInOrderCommitments(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()
	cache := txnlog.NewTransactionMetadataCache(16)

	const n = 10
	for i := 0; i < n; i++ {
		c, _ := committed(t, cache, store)
		require.Nil(t, c.PublishAsClosed())
	}
	assert.Equal(t, uint64(n), store.LastCommittedTransactionID())
	assert.Equal(t, uint64(n), store.LastClosedTransactionID())
}

func TestOutOfOrderCommitmentClose(t *testing.T) {
	store, engines := newTestStore(t)
	defer engines.Destroy()
	cache := txnlog.NewTransactionMetadataCache(16)

	commitments := make(map[uint64]Commitment)
	for i := 0; i < 3; i++ {
		c, id := committed(t, cache, store)
		commitments[id] = c
	}
	progression := []uint64{store.LastClosedTransactionID()}
	for _, id := range []uint64{1, 3, 2} {
		require.Nil(t, commitments[id].PublishAsClosed())
		progression = append(progression, store.LastClosedTransactionID())
	}
	assert.Equal(t, []uint64{0, 1, 1, 3}, progression)
	assert.Equal(t, pos(400), store.LastClosedTransaction().Position)
}

func TestNoCommitment(t *testing.T) {
	require.Nil(t, NoCommitment.Commit(1, 1, txnlog.LatestKernelVersion, pos(0), pos(1), 0, 0))
	require.Nil(t, NoCommitment.PublishAsCommitted(0, 1, pos(0)))
	require.Nil(t, NoCommitment.PublishAsClosed())
	require.Nil(t, NoCommitment.PublishAsClosed())
}
