package recovery

import (
	"context"
	"time"

	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recoveredCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "recovery",
			Name:      "recovered_transactions_total",
			Help:      "Counter of transactions replayed by recovery.",
		})

	recoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinytxn",
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Bucketed histogram of recovery pass duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 20),
		})
)

func init() {
	prometheus.MustRegister(recoveredCounter)
	prometheus.MustRegister(recoveryDuration)
}

// Pruner is implemented by engines that keep per-transaction applied
// markers, such as storage.BadgerEngine.
type Pruner interface {
	PruneApplied(upTo uint64) (int, error)
}

// Result describes a recovery pass.
type Result struct {
	// Where the scan started, the closed position of the id store.
	Start txnlog.LogPosition
	// Transactions handed to the engine, including already applied ones
	// the engine skipped.
	RecoveredTransactions int
	// The last transaction found complete in the log. Only valid when
	// RecoveredTransactions > 0.
	LastTransaction txnid.ClosedTransactionRecord
	// Set when a corrupt record ended the scan and the tail was truncated.
	CorruptTail *txnlog.CorruptRecordError
	// Chunked transactions whose last chunk never made it to the log. They
	// were not applied and their chunks were truncated.
	IncompleteChunkedTransactions []uint64
}

// RecoveryRequired reports whether the log holds records past the closed
// position of store.
func RecoveryRequired(l *txnlog.Log, store *txnid.TransactionIdStore) (bool, error) {
	required := false
	err := l.Scan(store.LastClosedTransaction().Position, func(_, _ txnlog.LogPosition, _ *txnlog.CommittedCommandBatch) (bool, error) {
		required = true
		return true, nil
	})
	if _, ok := err.(*txnlog.CorruptRecordError); ok {
		return true, nil
	}
	return required, err
}

// Recover replays every transaction after the closed position of store
// against engine, in log order, then installs the last one as both
// committed and closed. It must run before any live commit.
//
// Cancelling ctx stops the pass between two batches; the progress made so
// far is still installed.
func Recover(ctx context.Context, l *txnlog.Log, store *txnid.TransactionIdStore, engine storage.Engine, cfg *config.Config) (*Result, error) {
	start := time.Now()
	maxKernel, err := txnlog.ParseKernelVersion(cfg.KernelVersion)
	if err != nil {
		return nil, err
	}
	result := &Result{Start: store.LastClosedTransaction().Position}
	log.Infof("recovery starting at %s, last closed transaction %d", result.Start, store.LastClosedTransactionID())

	applier := NewRecoveryApplier(engine, storage.ModeRecovery, storage.NewCursorContextFactory(), cfg.RecoveryTracerTag)
	defer applier.Close()

	var lastBefore txnlog.LogPosition
	// Position of the first chunk of transactions not yet complete.
	firstChunkAt := make(map[uint64]txnlog.LogPosition)
	scanErr := l.Scan(result.Start, func(pos, next txnlog.LogPosition, batch *txnlog.CommittedCommandBatch) (bool, error) {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if batch.KernelVersion > maxKernel {
			return true, errors.Errorf("transaction %d at %s was written by kernel %s, newer than %s",
				batch.TransactionID, pos, batch.KernelVersion, maxKernel)
		}
		if batch.Kind == txnlog.ChunkedTransaction && batch.Chunk.First {
			firstChunkAt[batch.TransactionID] = pos
		}
		if _, err := applier.Visit(batch); err != nil {
			return true, err
		}
		if batch.IsLast() {
			delete(firstChunkAt, batch.TransactionID)
			result.RecoveredTransactions++
			recoveredCounter.Inc()
			result.LastTransaction = closedRecord(batch, next)
			lastBefore = pos
		}
		return false, nil
	})

	if corrupt, ok := scanErr.(*txnlog.CorruptRecordError); ok {
		if !cfg.TruncateCorruptTail {
			return result, errors.Annotate(corrupt, "recovery stopped at a corrupt record")
		}
		log.Warnf("truncating corrupt log tail: %v", corrupt)
		if err = l.Truncate(corrupt.Position); err != nil {
			return result, err
		}
		result.CorruptTail = corrupt
		scanErr = nil
	}
	if scanErr != nil && errors.Cause(scanErr) != ctx.Err() {
		return result, scanErr
	}

	result.IncompleteChunkedTransactions = applier.Incomplete()
	// A cancelled scan has not seen the rest of their chunks.
	if scanErr == nil && len(result.IncompleteChunkedTransactions) > 0 {
		if err = truncateIncomplete(l, result, firstChunkAt); err != nil {
			return result, err
		}
	}

	if result.RecoveredTransactions > 0 {
		if err = store.SetLastCommittedAndClosed(result.LastTransaction, lastBefore); err != nil {
			return result, err
		}
		if p, ok := engine.(Pruner); ok {
			if _, err = p.PruneApplied(result.LastTransaction.TransactionID); err != nil {
				return result, err
			}
		}
	}
	recoveryDuration.Observe(time.Since(start).Seconds())
	log.Infof("recovery replayed %d transactions in %v, closed transaction %d",
		result.RecoveredTransactions, time.Since(start), store.LastClosedTransactionID())
	return result, scanErr
}

// truncateIncomplete cuts the log back to the first chunk of the earliest
// incomplete transaction. Complete transactions after that point would be
// lost, so they make it an error.
func truncateIncomplete(l *txnlog.Log, result *Result, firstChunkAt map[uint64]txnlog.LogPosition) error {
	cut := txnlog.UnspecifiedPosition
	for _, id := range result.IncompleteChunkedTransactions {
		pos, ok := firstChunkAt[id]
		if !ok {
			return errors.Errorf("incomplete transaction %d started before the recovery start %s", id, result.Start)
		}
		if pos.Less(cut) {
			cut = pos
		}
	}
	if result.RecoveredTransactions > 0 && cut.Less(result.LastTransaction.Position) {
		return errors.Errorf("incomplete chunked transactions %v are followed by transaction %d",
			result.IncompleteChunkedTransactions, result.LastTransaction.TransactionID)
	}
	log.Warnf("dropping incomplete chunked transactions %v from %s", result.IncompleteChunkedTransactions, cut)
	return l.Truncate(cut)
}

func closedRecord(batch *txnlog.CommittedCommandBatch, after txnlog.LogPosition) txnid.ClosedTransactionRecord {
	return txnid.ClosedTransactionRecord{
		TransactionRecord: txnid.TransactionRecord{
			TransactionID:   batch.TransactionID,
			AppendIndex:     batch.AppendIndex,
			KernelVersion:   batch.KernelVersion,
			Checksum:        batch.Checksum,
			CommitTimestamp: batch.CommitTimestamp,
			ConsensusIndex:  batch.ConsensusIndex,
		},
		Position: after,
	}
}
