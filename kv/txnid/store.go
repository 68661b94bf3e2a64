package txnid

import (
	"fmt"
	"sync"
	stdatomic "sync/atomic"

	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/atomic"
)

// TransactionIdStore keeps the process wide transaction id watermarks:
//
//  closed <= committed <= appended <= allocated
//
// None of them ever decreases while the store is live. Commits are expected
// in id order and closes in any order; both are tracked by an
// outOfOrderSequence so a report above a gap is kept until the gap closes.
// Every advance is written through MetaStorage before it becomes visible,
// and the first failed write makes the store refuse any further update.
type TransactionIdStore struct {
	storage MetaStorage
	health  *Health

	allocated *atomic.Uint64

	appendMu    sync.Mutex
	appendIndex *atomic.Uint64
	// txnlog.LogPosition before the last appended batch.
	appendedPosition stdatomic.Value

	committed *outOfOrderSequence
	closed    *outOfOrderSequence

	persistMu sync.Mutex
	durable   *txnlogpb.TransactionIdState
}

// Open restores the store from storage, or starts an empty one.
func Open(storage MetaStorage) (*TransactionIdStore, error) {
	state, err := storage.Load()
	if err != nil {
		return nil, errors.Annotate(err, "load transaction id state")
	}
	fresh := state == nil
	if fresh {
		state = &txnlogpb.TransactionIdState{
			AppendedPosition: txnlog.StartPosition(0).ToProto(),
			LastCommitted:    baseTransactionRecord().toProto(),
			LastClosed:       baseClosedTransactionRecord().toProto(),
		}
	}
	committed := transactionRecordFromProto(state.LastCommitted)
	closed := closedRecordFromProto(state.LastClosed)
	if closed.TransactionID > committed.TransactionID {
		return nil, errors.Errorf("corrupt transaction id state: closed %d is ahead of committed %d",
			closed.TransactionID, committed.TransactionID)
	}
	allocated := state.HighestAllocatedId
	if allocated < committed.TransactionID {
		allocated = committed.TransactionID
	}
	s := &TransactionIdStore{
		storage:     storage,
		health:      NewHealth(),
		allocated:   atomic.NewUint64(allocated),
		appendIndex: atomic.NewUint64(state.LastAppendIndex),
		committed:   newOutOfOrderSequence("committed", ClosedTransactionRecord{TransactionRecord: committed}),
		closed:      newOutOfOrderSequence("closed", closed),
		durable:     state,
	}
	appended := txnlog.PositionFromProto(state.AppendedPosition)
	if appended.IsUnspecified() {
		appended = txnlog.StartPosition(0)
	}
	s.appendedPosition.Store(appended)
	watermarkGauge.WithLabelValues("appended").Set(float64(state.LastAppendIndex))
	if fresh {
		if err = s.storage.Save(state); err != nil {
			return nil, errors.Annotate(err, "initialize transaction id state")
		}
	}
	log.Infof("opened transaction id store, committed %d, closed %d at %s",
		committed.TransactionID, closed.TransactionID, closed.Position)
	return s, nil
}

func (s *TransactionIdStore) Health() *Health {
	return s.health
}

// NextID allocates the next transaction id. Ids must be appended to the log
// in allocation order, which the appender guarantees.
func (s *TransactionIdStore) NextID() uint64 {
	return s.allocated.Inc()
}

// HighestAllocatedID is the last id handed out by NextID.
func (s *TransactionIdStore) HighestAllocatedID() uint64 {
	return s.allocated.Load()
}

// AppendBatch records the log position right before a batch is appended, so
// a crash in the middle of the append can be cut back to a clean boundary.
func (s *TransactionIdStore) AppendBatch(appendIndex uint64, positionBeforeCommit txnlog.LogPosition) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if current := s.appendIndex.Load(); appendIndex <= current {
		return &ErrOrderingViolation{Op: "append", ID: appendIndex,
			Reason: fmt.Sprintf("append index does not advance past %d", current)}
	}
	err := s.persist(func(state *txnlogpb.TransactionIdState) {
		state.LastAppendIndex = appendIndex
		state.AppendedPosition = positionBeforeCommit.ToProto()
	})
	if err != nil {
		return err
	}
	s.appendedPosition.Store(positionBeforeCommit)
	s.appendIndex.Store(appendIndex)
	watermarkGauge.WithLabelValues("appended").Set(float64(appendIndex))
	return nil
}

// TransactionCommitted records that id is durable in the log. The committed
// watermark moves once every lower id has committed too.
func (s *TransactionIdStore) TransactionCommitted(id, appendIndex uint64, kernelVersion txnlog.KernelVersion,
	checksum uint32, commitTimestamp int64, consensusIndex int64) error {
	if err := s.health.Check(); err != nil {
		return err
	}
	if id > s.allocated.Load() {
		return &ErrOrderingViolation{Op: "commit", ID: id, Reason: "id was never allocated"}
	}
	rec := ClosedTransactionRecord{
		TransactionRecord: TransactionRecord{
			TransactionID:   id,
			AppendIndex:     appendIndex,
			KernelVersion:   kernelVersion,
			Checksum:        checksum,
			CommitTimestamp: commitTimestamp,
			ConsensusIndex:  consensusIndex,
		},
		Position: txnlog.UnspecifiedPosition,
	}
	_, err := s.committed.offer("commit", rec, func(floor ClosedTransactionRecord) error {
		return s.persist(func(state *txnlogpb.TransactionIdState) {
			state.LastCommitted = floor.TransactionRecord.toProto()
		})
	})
	return err
}

// TransactionClosed records that id has been applied to storage. Closes may
// arrive in any order; the closed watermark only moves over a contiguous run.
func (s *TransactionIdStore) TransactionClosed(id, appendIndex uint64, kernelVersion txnlog.KernelVersion,
	logVersion, byteOffset uint64, checksum uint32, commitTimestamp int64, consensusIndex int64) error {
	if err := s.health.Check(); err != nil {
		return err
	}
	// Committed numbers are never withdrawn, so the answer cannot go stale
	// before the close is offered.
	if !s.committed.covers(id) {
		return &ErrOrderingViolation{Op: "close", ID: id, Reason: "transaction was never committed"}
	}
	rec := ClosedTransactionRecord{
		TransactionRecord: TransactionRecord{
			TransactionID:   id,
			AppendIndex:     appendIndex,
			KernelVersion:   kernelVersion,
			Checksum:        checksum,
			CommitTimestamp: commitTimestamp,
			ConsensusIndex:  consensusIndex,
		},
		Position: txnlog.NewLogPosition(logVersion, byteOffset),
	}
	advanced, err := s.closed.offer("close", rec, func(floor ClosedTransactionRecord) error {
		return s.persist(func(state *txnlogpb.TransactionIdState) {
			state.LastClosed = floor.toProto()
		})
	})
	if err == nil && !advanced {
		log.Debugf("transaction %d closed above the closed watermark %d", id, s.closed.get())
	}
	return err
}

// LastCommittedTransactionID is wait-free.
func (s *TransactionIdStore) LastCommittedTransactionID() uint64 {
	return s.committed.get()
}

// LastClosedTransactionID is wait-free.
func (s *TransactionIdStore) LastClosedTransactionID() uint64 {
	return s.closed.get()
}

func (s *TransactionIdStore) LastCommittedTransaction() TransactionRecord {
	return s.committed.getRecord().TransactionRecord
}

func (s *TransactionIdStore) LastClosedTransaction() ClosedTransactionRecord {
	return s.closed.getRecord()
}

func (s *TransactionIdStore) LastAppendIndex() uint64 {
	return s.appendIndex.Load()
}

// AppendedPosition is the position before the last appended batch.
func (s *TransactionIdStore) AppendedPosition() txnlog.LogPosition {
	return s.appendedPosition.Load().(txnlog.LogPosition)
}

// HighestEverClosed includes closes still waiting above a gap.
func (s *TransactionIdStore) HighestEverClosed() uint64 {
	return s.closed.highest()
}

// PendingClosed is the number of closes waiting above a gap.
func (s *TransactionIdStore) PendingClosed() int {
	return s.closed.pendingLen()
}

// SetLastCommittedAndClosed installs the outcome of recovery: rec is the
// last transaction found in the log, which is now both committed and closed,
// and appendedPosition the position before it. Must not race with commits.
func (s *TransactionIdStore) SetLastCommittedAndClosed(rec ClosedTransactionRecord, appendedPosition txnlog.LogPosition) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	err := s.persist(func(state *txnlogpb.TransactionIdState) {
		state.LastAppendIndex = rec.AppendIndex
		state.AppendedPosition = appendedPosition.ToProto()
		state.LastCommitted = rec.TransactionRecord.toProto()
		state.LastClosed = rec.toProto()
		if state.HighestAllocatedId < rec.TransactionID {
			state.HighestAllocatedId = rec.TransactionID
		}
	})
	if err != nil {
		return err
	}
	s.committed.set(ClosedTransactionRecord{TransactionRecord: rec.TransactionRecord, Position: txnlog.UnspecifiedPosition})
	s.closed.set(rec)
	s.appendIndex.Store(rec.AppendIndex)
	s.appendedPosition.Store(appendedPosition)
	for {
		current := s.allocated.Load()
		if current >= rec.TransactionID || s.allocated.CAS(current, rec.TransactionID) {
			break
		}
	}
	watermarkGauge.WithLabelValues("appended").Set(float64(rec.AppendIndex))
	log.Infof("transaction id store set to %s at %s", rec.TransactionRecord, rec.Position)
	return nil
}

// Flush writes the current watermarks, including the allocated id.
func (s *TransactionIdStore) Flush() error {
	allocated := s.allocated.Load()
	return s.persist(func(state *txnlogpb.TransactionIdState) {
		state.HighestAllocatedId = allocated
	})
}

// Close flushes the store. It does not close the underlying engine.
func (s *TransactionIdStore) Close() error {
	if !s.health.Healthy() {
		return s.health.Check()
	}
	return s.Flush()
}

// persist applies update to a copy of the last durable state and saves it.
// The durable state only changes when the save succeeds; a failure panics
// the store health.
func (s *TransactionIdStore) persist(update func(state *txnlogpb.TransactionIdState)) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.health.Check(); err != nil {
		return err
	}
	next := *s.durable
	update(&next)
	err := s.storage.Save(&next)
	failpoint.Inject("persistTransactionIdStateFail", func() {
		err = errors.New("injected transaction id state write failure")
	})
	if err != nil {
		s.health.Panic(err)
		return errors.Annotatef(ErrStoreUnhealthy, "write transaction id state: %v", err)
	}
	s.durable = &next
	return nil
}
