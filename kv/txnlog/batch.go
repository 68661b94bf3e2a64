package txnlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// NoConsensusIndex marks a batch that was not replicated through consensus.
const NoConsensusIndex int64 = -1

type CommandOp int

const (
	OpPut CommandOp = iota
	OpDelete
)

// Command is a single storage mutation of a batch.
type Command struct {
	Op    CommandOp
	CF    string
	Key   []byte
	Value []byte
	// Value of Key before the command, nil when the key did not exist.
	Before []byte
}

func (c Command) String() string {
	if c.Op == OpDelete {
		return fmt.Sprintf("Delete(%s, %q)", c.CF, c.Key)
	}
	return fmt.Sprintf("Put(%s, %q)", c.CF, c.Key)
}

// BatchKind selects the variant of a CommittedCommandBatch.
type BatchKind int

const (
	// WholeTransaction batches hold every command of their transaction.
	WholeTransaction BatchKind = iota
	// ChunkedTransaction batches are one of several sequential batches that
	// share a transaction id.
	ChunkedTransaction
)

func (k BatchKind) String() string {
	switch k {
	case WholeTransaction:
		return "WholeTransaction"
	case ChunkedTransaction:
		return "ChunkedTransaction"
	}
	return fmt.Sprintf("BatchKind(%d)", int(k))
}

// Chunk describes the place of a ChunkedTransaction batch in its transaction.
type Chunk struct {
	ID    uint64
	First bool
	Last  bool
	// Append index of the previous chunk of the same transaction, 0 for the
	// first chunk.
	PreviousBatchAppendIndex uint64
}

// CommittedCommandBatch is a unit of work as persisted in the log.
type CommittedCommandBatch struct {
	TransactionID   uint64
	AppendIndex     uint64
	KernelVersion   KernelVersion
	Checksum        uint32
	ConsensusIndex  int64
	CommitTimestamp int64
	TimeStarted     int64
	LeaseID         int32

	Kind BatchKind
	// Only meaningful when Kind is ChunkedTransaction.
	Chunk Chunk

	Commands []Command
}

func NewTransactionBatch(txID, appendIndex uint64, kv KernelVersion, commitTs int64, commands []Command) *CommittedCommandBatch {
	return &CommittedCommandBatch{
		TransactionID:   txID,
		AppendIndex:     appendIndex,
		KernelVersion:   kv,
		ConsensusIndex:  NoConsensusIndex,
		CommitTimestamp: commitTs,
		Kind:            WholeTransaction,
		Commands:        commands,
	}
}

func NewChunkBatch(txID, appendIndex uint64, kv KernelVersion, commitTs int64, chunk Chunk, commands []Command) *CommittedCommandBatch {
	return &CommittedCommandBatch{
		TransactionID:   txID,
		AppendIndex:     appendIndex,
		KernelVersion:   kv,
		ConsensusIndex:  NoConsensusIndex,
		CommitTimestamp: commitTs,
		Kind:            ChunkedTransaction,
		Chunk:           chunk,
		Commands:        commands,
	}
}

// IsFirst is true for whole transactions and for the first chunk.
func (b *CommittedCommandBatch) IsFirst() bool {
	return b.Kind == WholeTransaction || b.Chunk.First
}

// IsLast is true for whole transactions and for the last chunk. The commit
// timestamp is only final on the last batch.
func (b *CommittedCommandBatch) IsLast() bool {
	return b.Kind == WholeTransaction || b.Chunk.Last
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum hashes the identity and commands of the batch.
func (b *CommittedCommandBatch) ComputeChecksum() uint32 {
	h := crc32.New(castagnoli)
	var buf [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(buf[:], v)
		h.Write(buf[:n])
	}
	writeBytes := func(p []byte) {
		writeUvarint(uint64(len(p)))
		h.Write(p)
	}
	writeUvarint(b.TransactionID)
	writeUvarint(b.AppendIndex)
	writeUvarint(uint64(b.KernelVersion))
	for _, c := range b.Commands {
		writeUvarint(uint64(c.Op))
		writeBytes([]byte(c.CF))
		writeBytes(c.Key)
		writeBytes(c.Value)
		writeBytes(c.Before)
	}
	return h.Sum32()
}

func (b *CommittedCommandBatch) String() string {
	s := fmt.Sprintf("%s{txId=%d, appendIndex=%d, kernelVersion=%s, checksum=%d, commands=%d",
		b.Kind, b.TransactionID, b.AppendIndex, b.KernelVersion, b.Checksum, len(b.Commands))
	if b.Kind == ChunkedTransaction {
		s += fmt.Sprintf(", chunk=%d, first=%t, last=%t", b.Chunk.ID, b.Chunk.First, b.Chunk.Last)
	}
	return s + "}"
}
