package storage

import (
	"bytes"
	"sync"

	"github.com/coocood/badger/y"
	"github.com/petar/GoLLRB/llrb"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap/errors"
)

// MemEngine is an Engine backed by memory. Data does not survive the process.
// It is intended for testing only: it records the order transactions were
// applied in and can be told to fail.
type MemEngine struct {
	mu      sync.Mutex
	data    map[string]*llrb.LLRB
	applied map[uint64]struct{}
	order   []appliedUnit
	failOn  map[uint64]error
}

type appliedUnit struct {
	TxID uint64
	Mode ApplicationMode
}

func NewMemEngine() *MemEngine {
	return &MemEngine{
		data:    make(map[string]*llrb.LLRB),
		applied: make(map[uint64]struct{}),
		failOn:  make(map[uint64]error),
	}
}

// FailOn makes every later Apply of txID return err.
func (e *MemEngine) FailOn(txID uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn[txID] = err
}

func (e *MemEngine) Apply(unit CommandBatchToApply, mode ApplicationMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	txID := unit.TransactionID()
	if err, ok := e.failOn[txID]; ok {
		return errors.Annotatef(err, "apply transaction %d", txID)
	}
	if _, ok := e.applied[txID]; ok && mode == ModeRecovery {
		return nil
	}
	commands := Commands(unit)
	if mode.IsReverse() {
		commands = reverseCommands(commands)
	}
	for _, c := range commands {
		switch c.Op {
		case txnlog.OpPut:
			e.cf(c.CF).ReplaceOrInsert(memItem{key: c.Key, value: c.Value})
		case txnlog.OpDelete:
			e.cf(c.CF).Delete(memItem{key: c.Key})
		default:
			return errors.Errorf("transaction %d: unknown command op %d", txID, c.Op)
		}
	}
	if mode.IsReverse() {
		delete(e.applied, txID)
	} else {
		e.applied[txID] = struct{}{}
	}
	e.order = append(e.order, appliedUnit{TxID: txID, Mode: mode})
	return nil
}

func (e *MemEngine) CreateStorageCursors(ctx *CursorContext) StoreCursors {
	return &memCursors{inner: e}
}

func (e *MemEngine) cf(name string) *llrb.LLRB {
	tree, ok := e.data[name]
	if !ok {
		tree = llrb.New()
		e.data[name] = tree
	}
	return tree
}

func (e *MemEngine) Get(cf string, key []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := e.cf(cf).Get(memItem{key: key})
	if result == nil {
		return nil
	}
	return y.SafeCopy(nil, result.(memItem).value)
}

func (e *MemEngine) Len(cf string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cf(cf).Len()
}

// AppliedOrder lists the transactions applied so far, in apply order.
func (e *MemEngine) AppliedOrder() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint64, 0, len(e.order))
	for _, u := range e.order {
		ids = append(ids, u.TxID)
	}
	return ids
}

func (e *MemEngine) IsApplied(txID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.applied[txID]
	return ok
}

// memCursors reads the current state, not a snapshot.
type memCursors struct {
	inner *MemEngine
}

func (c *memCursors) Get(cf string, key []byte) ([]byte, error) {
	return c.inner.Get(cf, key), nil
}

func (c *memCursors) Close() {}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than llrb.Item) bool {
	other := than.(memItem)
	return bytes.Compare(it.key, other.key) < 0
}
