package recovery

import (
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap/errors"
)

// RecoveryApplier replays log batches against a storage engine. It holds one
// cursor context and one set of store cursors for the whole pass; Close
// releases them.
//
// Batches must be visited in log order, or in reverse log order for
// ModeReverse. A chunked transaction is buffered until all its chunks were
// visited and then applied as one unit.
type RecoveryApplier struct {
	engine  storage.Engine
	mode    storage.ApplicationMode
	ctx     *storage.CursorContext
	cursors storage.StoreCursors

	chunked map[uint64]*storage.ChunkedTransaction
	// Chunks seen in reverse order, last chunk first.
	reversed map[uint64][]*txnlog.CommittedCommandBatch

	applied   int
	closeOnce sync.Once
	closeErr  error
}

func NewRecoveryApplier(engine storage.Engine, mode storage.ApplicationMode, factory *storage.CursorContextFactory, tag string) *RecoveryApplier {
	ctx := factory.Create(tag)
	return &RecoveryApplier{
		engine:   engine,
		mode:     mode,
		ctx:      ctx,
		cursors:  engine.CreateStorageCursors(ctx),
		chunked:  make(map[uint64]*storage.ChunkedTransaction),
		reversed: make(map[uint64][]*txnlog.CommittedCommandBatch),
	}
}

// Visit applies batch, or buffers it when it is not the final chunk of its
// transaction. It never asks to stop; an apply error is returned and ends
// the pass.
func (a *RecoveryApplier) Visit(batch *txnlog.CommittedCommandBatch) (stop bool, err error) {
	var unit storage.CommandBatchToApply
	switch batch.Kind {
	case txnlog.WholeTransaction:
		unit = storage.NewTransactionToApply(batch, a.ctx, a.cursors)
	case txnlog.ChunkedTransaction:
		if a.mode.IsReverse() {
			unit, err = a.visitChunkReversed(batch)
		} else {
			unit, err = a.visitChunk(batch)
		}
		if err != nil || unit == nil {
			return false, err
		}
	default:
		return false, errors.Errorf("transaction %d: unknown batch kind %s", batch.TransactionID, batch.Kind)
	}

	a.ctx.VersionContext().InitWrite(unit.TransactionID())
	if err = a.engine.Apply(unit, a.mode); err != nil {
		return false, errors.Annotatef(err, "recover transaction %d", unit.TransactionID())
	}
	a.applied++
	return false, nil
}

func (a *RecoveryApplier) visitChunk(batch *txnlog.CommittedCommandBatch) (storage.CommandBatchToApply, error) {
	txID := batch.TransactionID
	chunked, ok := a.chunked[txID]
	if !ok {
		chunked = storage.NewChunkedTransaction(txID, a.ctx, a.cursors)
		a.chunked[txID] = chunked
	}
	if err := chunked.Add(batch); err != nil {
		return nil, err
	}
	if !chunked.Complete() {
		return nil, nil
	}
	delete(a.chunked, txID)
	return chunked, nil
}

func (a *RecoveryApplier) visitChunkReversed(batch *txnlog.CommittedCommandBatch) (storage.CommandBatchToApply, error) {
	txID := batch.TransactionID
	seen := append(a.reversed[txID], batch)
	if !batch.Chunk.First {
		a.reversed[txID] = seen
		return nil, nil
	}
	delete(a.reversed, txID)
	chunked := storage.NewChunkedTransaction(txID, a.ctx, a.cursors)
	for i := len(seen) - 1; i >= 0; i-- {
		if err := chunked.Add(seen[i]); err != nil {
			return nil, err
		}
	}
	if !chunked.Complete() {
		return nil, errors.Errorf("transaction %d: reverse pass reached the first chunk without the last", txID)
	}
	return chunked, nil
}

// Applied is the number of units handed to the engine.
func (a *RecoveryApplier) Applied() int {
	return a.applied
}

// Incomplete lists the transactions with chunks visited but not all of
// them, in id order. They were never applied.
func (a *RecoveryApplier) Incomplete() []uint64 {
	ids := make([]uint64, 0, len(a.chunked)+len(a.reversed))
	for id := range a.chunked {
		ids = append(ids, id)
	}
	for id := range a.reversed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases the cursors and the context. Only the first call does
// anything.
func (a *RecoveryApplier) Close() error {
	a.closeOnce.Do(func() {
		a.cursors.Close()
		a.closeErr = a.ctx.Close()
	})
	return a.closeErr
}
