package commit

import (
	"sync"

	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap/errors"
)

// pendingWrite is the last write of a key that is in the log but not yet in
// storage.
type pendingWrite struct {
	txID uint64
	// Value after the write, nil for a delete.
	value   []byte
	applied chan struct{}
}

// pendingWrites keeps applies of transactions touching the same key in log
// order, and answers the before-image of a key whose last write has not
// reached storage yet.
type pendingWrites struct {
	engine   storage.Engine
	contexts *storage.CursorContextFactory

	mu    sync.Mutex
	byKey map[string]*pendingWrite
}

func newPendingWrites(engine storage.Engine, contexts *storage.CursorContextFactory) *pendingWrites {
	return &pendingWrites{
		engine:   engine,
		contexts: contexts,
		byKey:    make(map[string]*pendingWrite),
	}
}

func pendingKey(cf string, key []byte) string {
	return cf + "\x00" + string(key)
}

// valueAfter is the value c leaves behind, nil when the key is gone.
func valueAfter(c txnlog.Command) []byte {
	if c.Op == txnlog.OpDelete || len(c.Value) == 0 {
		return nil
	}
	return c.Value
}

// fill sets Before on every command and returns the applies that have to
// finish first. Storage is read through cursors opened under mu, so a write
// whose pending entry is gone is visible to them.
func (w *pendingWrites) fill(commands []txnlog.Command) ([]<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := w.contexts.Create("commit")
	defer ctx.Close()
	cursors := w.engine.CreateStorageCursors(ctx)
	defer cursors.Close()

	var (
		waits []<-chan struct{}
		seen  = make(map[chan struct{}]struct{})
		// Earlier writes of the same transaction.
		local = make(map[string][]byte)
	)
	for i := range commands {
		c := &commands[i]
		k := pendingKey(c.CF, c.Key)
		if v, ok := local[k]; ok {
			c.Before = v
		} else if pw, ok := w.byKey[k]; ok {
			c.Before = pw.value
			if _, ok := seen[pw.applied]; !ok {
				seen[pw.applied] = struct{}{}
				waits = append(waits, pw.applied)
			}
		} else {
			before, err := cursors.Get(c.CF, c.Key)
			if err != nil {
				return nil, errors.Annotatef(err, "read before-image of %s", c.Key)
			}
			c.Before = before
		}
		local[k] = valueAfter(*c)
	}
	return waits, nil
}

// register makes txID the last writer of the keys of commands. The returned
// channel is closed by release.
func (w *pendingWrites) register(txID uint64, commands []txnlog.Command) chan struct{} {
	applied := make(chan struct{})
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range commands {
		w.byKey[pendingKey(c.CF, c.Key)] = &pendingWrite{txID: txID, value: valueAfter(c), applied: applied}
	}
	return applied
}

// release forgets the writes of txID no later transaction has overwritten
// and wakes up the transactions waiting for it. Called once txID is in
// storage, or will never be.
func (w *pendingWrites) release(txID uint64, commands []txnlog.Command, applied chan struct{}) {
	w.mu.Lock()
	for _, c := range commands {
		k := pendingKey(c.CF, c.Key)
		if pw, ok := w.byKey[k]; ok && pw.txID == txID {
			delete(w.byKey, k)
		}
	}
	w.mu.Unlock()
	close(applied)
}

func (w *pendingWrites) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byKey)
}
