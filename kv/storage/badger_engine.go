package storage

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/atomic"
)

// cfApplied holds one marker per applied transaction, keyed by its id in
// big-endian so key order is id order.
const cfApplied = "applied"

// AppliedStateKey is the meta key of the highest applied transaction.
var AppliedStateKey = []byte("meta_applied_state")

// BadgerEngine applies transactions to a badger KV engine. Each transaction
// is written in one write batch together with its applied marker, so after
// a crash a transaction is either fully applied and marked or not at all.
//
// A Put with an empty value is stored as a delete.
type BadgerEngine struct {
	db *badger.DB

	mu      sync.Mutex
	highest *atomic.Uint64
}

func NewBadgerEngine(db *badger.DB) (*BadgerEngine, error) {
	state := new(txnlogpb.AppliedState)
	err := engine_util.GetMeta(db, AppliedStateKey, state)
	if err != nil && err != badger.ErrKeyNotFound {
		return nil, errors.Annotate(err, "load applied state")
	}
	return &BadgerEngine{db: db, highest: atomic.NewUint64(state.LastAppliedTransactionId)}, nil
}

func (e *BadgerEngine) Apply(unit CommandBatchToApply, mode ApplicationMode) error {
	start := time.Now()
	txID := unit.TransactionID()

	e.mu.Lock()
	defer e.mu.Unlock()

	if mode == ModeRecovery {
		applied, err := e.isApplied(txID)
		if err != nil {
			return errors.Annotatef(err, "check applied marker of transaction %d", txID)
		}
		if applied {
			applyCounter.WithLabelValues(mode.String(), "skipped").Inc()
			log.Debugf("transaction %d already applied, skipped", txID)
			return nil
		}
	}

	commands := Commands(unit)
	if mode.IsReverse() {
		commands = reverseCommands(commands)
	}
	wb := new(engine_util.WriteBatch)
	for _, c := range commands {
		switch c.Op {
		case txnlog.OpPut:
			wb.SetCF(c.CF, c.Key, c.Value)
		case txnlog.OpDelete:
			wb.DeleteCF(c.CF, c.Key)
		default:
			return errors.Errorf("transaction %d: unknown command op %d", txID, c.Op)
		}
	}
	highest := e.highest.Load()
	if mode.IsReverse() {
		wb.DeleteCF(cfApplied, markerKey(txID))
	} else {
		batches := unit.Batches()
		wb.SetCF(cfApplied, markerKey(txID), markerValue(batches[len(batches)-1].AppendIndex))
		if txID > highest {
			highest = txID
			if err := wb.SetMeta(AppliedStateKey, &txnlogpb.AppliedState{LastAppliedTransactionId: txID}); err != nil {
				return err
			}
		}
	}

	err := wb.WriteToDB(e.db)
	failpoint.Inject("applyTransactionFail", func() {
		err = errors.New("injected apply failure")
	})
	if err != nil {
		applyCounter.WithLabelValues(mode.String(), "failed").Inc()
		return errors.Annotatef(err, "apply transaction %d in %s mode", txID, mode)
	}
	e.highest.Store(highest)
	applyCounter.WithLabelValues(mode.String(), "ok").Inc()
	applyDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	return nil
}

func (e *BadgerEngine) CreateStorageCursors(ctx *CursorContext) StoreCursors {
	return &badgerCursors{txn: e.db.NewTransaction(false)}
}

// IsApplied reports whether the applied marker of txID is present.
func (e *BadgerEngine) IsApplied(txID uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isApplied(txID)
}

func (e *BadgerEngine) isApplied(txID uint64) (bool, error) {
	_, err := engine_util.GetCF(e.db, cfApplied, markerKey(txID))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// HighestApplied is the highest transaction id ever applied. Lower ids may
// still be missing while live applies are in flight.
func (e *BadgerEngine) HighestApplied() uint64 {
	return e.highest.Load()
}

// PruneApplied drops the markers of transactions up to and including upTo.
// Recovery never revisits them once the closed watermark has passed them.
func (e *BadgerEngine) PruneApplied(upTo uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var end []byte
	if upTo < math.MaxUint64 {
		end = markerKey(upTo + 1)
	}
	pruned, err := engine_util.DeleteRangeCF(e.db, cfApplied, nil, end)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		log.Debugf("pruned %d applied markers up to transaction %d", pruned, upTo)
	}
	return pruned, nil
}

// Get reads the current value of key, nil when absent.
func (e *BadgerEngine) Get(cf string, key []byte) ([]byte, error) {
	val, err := engine_util.GetCF(e.db, cf, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return val, err
}

func markerKey(txID uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, txID)
	return key
}

func markerValue(appendIndex uint64) []byte {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, appendIndex)
	return val
}

type badgerCursors struct {
	txn *badger.Txn
}

func (c *badgerCursors) Get(cf string, key []byte) ([]byte, error) {
	val, err := engine_util.GetCFFromTxn(c.txn, cf, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return val, nil
}

func (c *badgerCursors) Close() {
	c.txn.Discard()
}
