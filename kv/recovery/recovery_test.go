package recovery

import (
	"context"
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMetaStorage struct {
	state *txnlogpb.TransactionIdState
}

func (s *memMetaStorage) Load() (*txnlogpb.TransactionIdState, error) {
	return s.state, nil
}

func (s *memMetaStorage) Save(state *txnlogpb.TransactionIdState) error {
	s.state = state
	return nil
}

type recoveryEnv struct {
	engines *engine_util.Engines
	log     *txnlog.Log
	cfg     *config.Config
}

func newRecoveryEnv(t *testing.T) *recoveryEnv {
	engines := engine_util.NewTestEngines()
	l, err := txnlog.OpenLog(engines.Log, 1<<20)
	require.Nil(t, err)
	return &recoveryEnv{engines: engines, log: l, cfg: config.NewTestConfig()}
}

func (env *recoveryEnv) append(t *testing.T, batches ...*txnlog.CommittedCommandBatch) {
	for _, b := range batches {
		_, _, err := env.log.Append(b)
		require.Nil(t, err)
	}
}

func (env *recoveryEnv) newStore(t *testing.T) *txnid.TransactionIdStore {
	store, err := txnid.Open(&memMetaStorage{})
	require.Nil(t, err)
	return store
}

func TestRecoverReplaysLog(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	for id := uint64(1); id <= 5; id++ {
		env.append(t, whole(id, "k", string(rune('a'+id))))
	}
	store := env.newStore(t)
	engine, err := storage.NewBadgerEngine(env.engines.Kv)
	require.Nil(t, err)

	required, err := RecoveryRequired(env.log, store)
	require.Nil(t, err)
	assert.True(t, required)

	result, err := Recover(context.Background(), env.log, store, engine, env.cfg)
	require.Nil(t, err)
	assert.Equal(t, 5, result.RecoveredTransactions)
	assert.Equal(t, uint64(5), store.LastCommittedTransactionID())
	assert.Equal(t, uint64(5), store.LastClosedTransactionID())
	assert.Equal(t, uint64(5), store.LastAppendIndex())
	assert.Equal(t, env.log.AppendedPosition(), store.LastClosedTransaction().Position)
	assert.Equal(t, uint64(6), store.NextID())

	val, err := engine.Get(engine_util.CfDefault, []byte("f"))
	require.Nil(t, err)
	assert.Equal(t, []byte("v"), val)
	// Markers up to the installed watermark are gone.
	applied, err := engine.IsApplied(5)
	require.Nil(t, err)
	assert.False(t, applied)

	required, err = RecoveryRequired(env.log, store)
	require.Nil(t, err)
	assert.False(t, required)
}

func TestRecoverStartsAtClosedPosition(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	store := env.newStore(t)

	var afters []txnlog.LogPosition
	for id := uint64(1); id <= 4; id++ {
		b := whole(id, "k")
		_, after, err := env.log.Append(b)
		require.Nil(t, err)
		afters = append(afters, after)
		store.NextID()
		require.Nil(t, store.TransactionCommitted(id, id, b.KernelVersion, b.Checksum, b.CommitTimestamp, b.ConsensusIndex))
	}
	// Only 1 and 2 were closed before the crash.
	for id := uint64(1); id <= 2; id++ {
		require.Nil(t, store.TransactionClosed(id, id, txnlog.LatestKernelVersion,
			afters[id-1].LogVersion(), afters[id-1].ByteOffset(), 0, int64(id), txnlog.NoConsensusIndex))
	}

	engine := newRecordingEngine()
	result, err := Recover(context.Background(), env.log, store, engine, env.cfg)
	require.Nil(t, err)
	assert.Equal(t, afters[1], result.Start)
	assert.Equal(t, []uint64{3, 4}, engine.appliedIDs())
	assert.Equal(t, uint64(4), store.LastClosedTransactionID())
}

func TestRecoverStopsAtFailedApply(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	for id := uint64(1); id <= 5; id++ {
		env.append(t, whole(id, "k"))
	}
	store := env.newStore(t)
	engine := storage.NewMemEngine()
	engine.FailOn(3, errors.New("io error"))

	_, err := Recover(context.Background(), env.log, store, engine, env.cfg)
	require.NotNil(t, err)
	assert.Equal(t, "io error", errors.Cause(err).Error())
	assert.Equal(t, []uint64{1, 2}, engine.AppliedOrder())
	// Nothing is installed after a failed pass.
	assert.Equal(t, uint64(0), store.LastClosedTransactionID())
}

func TestRecoverIsIdempotent(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	for id := uint64(1); id <= 5; id++ {
		env.append(t, whole(id, "k"))
	}
	engine := storage.NewMemEngine()

	for pass := 0; pass < 2; pass++ {
		// Each pass starts from an empty id store, as after losing its state.
		result, err := Recover(context.Background(), env.log, env.newStore(t), engine, env.cfg)
		require.Nil(t, err)
		assert.Equal(t, 5, result.RecoveredTransactions)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, engine.AppliedOrder())
}

func TestRecoverCorruptTail(t *testing.T) {
	for _, truncate := range []bool{false, true} {
		env := newRecoveryEnv(t)
		for id := uint64(1); id <= 3; id++ {
			env.append(t, whole(id, "k"))
		}
		torn := env.log.AppendedPosition()
		wb := new(engine_util.WriteBatch)
		wb.SetRaw(txnlog.RecordKey(torn), []byte{0xba, 0xad, 0xf0, 0x0d, 0x02})
		require.Nil(t, wb.WriteToDB(env.engines.Log))

		env.cfg.TruncateCorruptTail = truncate
		store := env.newStore(t)
		engine := storage.NewMemEngine()
		result, err := Recover(context.Background(), env.log, store, engine, env.cfg)
		if truncate {
			require.Nil(t, err)
			require.NotNil(t, result.CorruptTail)
			assert.Equal(t, torn, result.CorruptTail.Position)
			assert.Equal(t, uint64(3), store.LastClosedTransactionID())
			assert.Equal(t, torn, env.log.AppendedPosition())
		} else {
			require.NotNil(t, err)
			_, ok := errors.Cause(err).(*txnlog.CorruptRecordError)
			assert.True(t, ok)
			assert.Equal(t, uint64(0), store.LastClosedTransactionID())
		}
		// Records before the corrupt one were replayed either way.
		assert.Equal(t, []uint64{1, 2, 3}, engine.AppliedOrder())
		env.engines.Destroy()
	}
}

func TestRecoverDropsIncompleteChunkedTail(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	env.append(t, whole(1, "a"))
	env.append(t, chunks(2, 2, "b", "c", "d")...)
	tail := env.log.AppendedPosition()
	env.append(t, chunks(3, 5, "e", "f", "g")[:2]...)

	store := env.newStore(t)
	engine := storage.NewMemEngine()
	result, err := Recover(context.Background(), env.log, store, engine, env.cfg)
	require.Nil(t, err)
	assert.Equal(t, 2, result.RecoveredTransactions)
	assert.Equal(t, []uint64{3}, result.IncompleteChunkedTransactions)
	assert.Equal(t, []uint64{1, 2}, engine.AppliedOrder())
	assert.Equal(t, []byte("v"), engine.Get(engine_util.CfDefault, []byte("d")))
	assert.Nil(t, engine.Get(engine_util.CfDefault, []byte("e")))
	assert.Equal(t, tail, env.log.AppendedPosition())
	assert.Equal(t, uint64(2), store.LastClosedTransactionID())
	assert.Equal(t, uint64(4), store.LastAppendIndex())
}

func TestRecoverCancelled(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	env.append(t, whole(1, "a"), whole(2, "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := env.newStore(t)
	engine := storage.NewMemEngine()
	result, err := Recover(ctx, env.log, store, engine, env.cfg)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 0, result.RecoveredTransactions)
	assert.Empty(t, engine.AppliedOrder())
}

func TestRecoverRefusesNewerKernel(t *testing.T) {
	env := newRecoveryEnv(t)
	defer env.engines.Destroy()
	env.append(t, whole(1, "a"))

	env.cfg.KernelVersion = "5.0.0"
	_, err := Recover(context.Background(), env.log, env.newStore(t), storage.NewMemEngine(), env.cfg)
	assert.NotNil(t, err)
}
