package storage

import (
	"fmt"

	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap/errors"
)

// CommandBatchToApply is the unit handed to an Engine: every command of one
// transaction, in log order, with the cursors to apply them through.
type CommandBatchToApply interface {
	TransactionID() uint64
	// Batches in log order. The last one carries the final commit timestamp.
	Batches() []*txnlog.CommittedCommandBatch
	CursorContext() *CursorContext
	StoreCursors() StoreCursors
}

// Commands flattens the commands of unit in order.
func Commands(unit CommandBatchToApply) []txnlog.Command {
	batches := unit.Batches()
	if len(batches) == 1 {
		return batches[0].Commands
	}
	var n int
	for _, b := range batches {
		n += len(b.Commands)
	}
	commands := make([]txnlog.Command, 0, n)
	for _, b := range batches {
		commands = append(commands, b.Commands...)
	}
	return commands
}

// TransactionToApply wraps a whole transaction batch.
type TransactionToApply struct {
	batch   *txnlog.CommittedCommandBatch
	ctx     *CursorContext
	cursors StoreCursors
}

func NewTransactionToApply(batch *txnlog.CommittedCommandBatch, ctx *CursorContext, cursors StoreCursors) *TransactionToApply {
	return &TransactionToApply{batch: batch, ctx: ctx, cursors: cursors}
}

func (t *TransactionToApply) TransactionID() uint64 {
	return t.batch.TransactionID
}

func (t *TransactionToApply) Batches() []*txnlog.CommittedCommandBatch {
	return []*txnlog.CommittedCommandBatch{t.batch}
}

func (t *TransactionToApply) CursorContext() *CursorContext {
	return t.ctx
}

func (t *TransactionToApply) StoreCursors() StoreCursors {
	return t.cursors
}

func (t *TransactionToApply) String() string {
	return fmt.Sprintf("TransactionToApply{%s}", t.batch)
}

// ChunkedTransaction gathers the chunks of one transaction until the last
// one arrives.
type ChunkedTransaction struct {
	txID    uint64
	chunks  []*txnlog.CommittedCommandBatch
	ctx     *CursorContext
	cursors StoreCursors
}

func NewChunkedTransaction(txID uint64, ctx *CursorContext, cursors StoreCursors) *ChunkedTransaction {
	return &ChunkedTransaction{txID: txID, ctx: ctx, cursors: cursors}
}

// Add appends the next chunk. Chunks must belong to this transaction and
// follow each other: the first has First set and every later one points at
// the append index of the one before.
func (c *ChunkedTransaction) Add(batch *txnlog.CommittedCommandBatch) error {
	if batch.Kind != txnlog.ChunkedTransaction {
		return errors.Errorf("transaction %d: %s is not a chunk", c.txID, batch)
	}
	if batch.TransactionID != c.txID {
		return errors.Errorf("transaction %d: chunk of transaction %d", c.txID, batch.TransactionID)
	}
	if c.Complete() {
		return errors.Errorf("transaction %d: chunk %d after the last chunk", c.txID, batch.Chunk.ID)
	}
	if len(c.chunks) == 0 {
		if !batch.Chunk.First {
			return errors.Errorf("transaction %d: first chunk %d is not marked first", c.txID, batch.Chunk.ID)
		}
	} else {
		prev := c.chunks[len(c.chunks)-1]
		if batch.Chunk.First || batch.Chunk.PreviousBatchAppendIndex != prev.AppendIndex {
			return errors.Errorf("transaction %d: chunk %d does not follow chunk %d at append index %d",
				c.txID, batch.Chunk.ID, prev.Chunk.ID, prev.AppendIndex)
		}
	}
	c.chunks = append(c.chunks, batch)
	return nil
}

// Complete is true once the last chunk was added.
func (c *ChunkedTransaction) Complete() bool {
	return len(c.chunks) > 0 && c.chunks[len(c.chunks)-1].Chunk.Last
}

func (c *ChunkedTransaction) Len() int {
	return len(c.chunks)
}

func (c *ChunkedTransaction) TransactionID() uint64 {
	return c.txID
}

func (c *ChunkedTransaction) Batches() []*txnlog.CommittedCommandBatch {
	return c.chunks
}

func (c *ChunkedTransaction) CursorContext() *CursorContext {
	return c.ctx
}

func (c *ChunkedTransaction) StoreCursors() StoreCursors {
	return c.cursors
}

func (c *ChunkedTransaction) String() string {
	return fmt.Sprintf("ChunkedTransaction{txId=%d, chunks=%d, complete=%t}", c.txID, len(c.chunks), c.Complete())
}
