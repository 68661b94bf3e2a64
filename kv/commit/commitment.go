package commit

import (
	"fmt"

	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap/errors"
)

// Commitment drives one transaction through append, commit and close. It is
// owned by a single goroutine at a time and used once.
type Commitment interface {
	// Commit captures the identity of the appended transaction and records
	// the position before it, so a torn append can be cut back.
	Commit(txID, appendIndex uint64, kernelVersion txnlog.KernelVersion, beforeCommit, afterCommit txnlog.LogPosition,
		checksum uint32, consensusIndex int64) error
	// PublishAsCommitted makes the transaction visible as committed.
	PublishAsCommitted(commitTimestamp int64, appendIndex uint64, beforeCommit txnlog.LogPosition) error
	// PublishAsClosed reports that the transaction was applied to storage.
	// It does nothing unless the transaction was published as committed.
	PublishAsClosed() error
}

// ErrIllegalTransition is returned when a step is called out of order.
type ErrIllegalTransition struct {
	From string
	Op   string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal commitment transition: %s while %s", e.Op, e.From)
}

type phase int

const (
	phaseCreated phase = iota
	phaseCommitted
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseCreated:
		return "created"
	case phaseCommitted:
		return "committed"
	case phaseClosed:
		return "closed"
	}
	return "unknown"
}

// committedState holds what Commit learned about the transaction.
type committedState struct {
	txID           uint64
	kernelVersion  txnlog.KernelVersion
	afterCommit    txnlog.LogPosition
	checksum       uint32
	consensusIndex int64
	// Set by PublishAsCommitted.
	published *publication
}

type publication struct {
	commitTimestamp int64
	appendIndex     uint64
}

// tracking is the Commitment of transactions that write.
type tracking struct {
	cache *txnlog.TransactionMetadataCache
	store *txnid.TransactionIdStore

	phase     phase
	committed *committedState
}

func NewCommitment(cache *txnlog.TransactionMetadataCache, store *txnid.TransactionIdStore) Commitment {
	return &tracking{cache: cache, store: store, phase: phaseCreated}
}

func (c *tracking) Commit(txID, appendIndex uint64, kernelVersion txnlog.KernelVersion, beforeCommit, afterCommit txnlog.LogPosition,
	checksum uint32, consensusIndex int64) error {
	if c.phase != phaseCreated {
		return &ErrIllegalTransition{From: c.phase.String(), Op: "commit"}
	}
	if err := c.store.AppendBatch(appendIndex, beforeCommit); err != nil {
		return errors.Annotatef(err, "commit transaction %d", txID)
	}
	c.committed = &committedState{
		txID:           txID,
		kernelVersion:  kernelVersion,
		afterCommit:    afterCommit,
		checksum:       checksum,
		consensusIndex: consensusIndex,
	}
	c.phase = phaseCommitted
	return nil
}

func (c *tracking) PublishAsCommitted(commitTimestamp int64, appendIndex uint64, beforeCommit txnlog.LogPosition) error {
	if c.phase != phaseCommitted || c.committed.published != nil {
		return &ErrIllegalTransition{From: c.describe(), Op: "publish as committed"}
	}
	s := c.committed
	c.cache.Put(s.txID, beforeCommit)
	if err := c.store.TransactionCommitted(s.txID, appendIndex, s.kernelVersion, s.checksum, commitTimestamp, s.consensusIndex); err != nil {
		return errors.Annotatef(err, "publish transaction %d as committed", s.txID)
	}
	s.published = &publication{commitTimestamp: commitTimestamp, appendIndex: appendIndex}
	return nil
}

func (c *tracking) PublishAsClosed() error {
	switch c.phase {
	case phaseCreated:
		return nil
	case phaseClosed:
		return &ErrIllegalTransition{From: c.describe(), Op: "publish as closed"}
	}
	s := c.committed
	c.phase = phaseClosed
	if s.published == nil {
		return nil
	}
	err := c.store.TransactionClosed(s.txID, s.published.appendIndex, s.kernelVersion,
		s.afterCommit.LogVersion(), s.afterCommit.ByteOffset(), s.checksum, s.published.commitTimestamp, s.consensusIndex)
	if err != nil {
		return errors.Annotatef(err, "publish transaction %d as closed", s.txID)
	}
	return nil
}

func (c *tracking) describe() string {
	if c.phase == phaseCommitted && c.committed.published != nil {
		return "published"
	}
	return c.phase.String()
}

type noCommitment struct{}

// NoCommitment is used by transactions with nothing to write. Every step is
// a no-op.
var NoCommitment Commitment = noCommitment{}

func (noCommitment) Commit(uint64, uint64, txnlog.KernelVersion, txnlog.LogPosition, txnlog.LogPosition, uint32, int64) error {
	return nil
}

func (noCommitment) PublishAsCommitted(int64, uint64, txnlog.LogPosition) error {
	return nil
}

func (noCommitment) PublishAsClosed() error {
	return nil
}
