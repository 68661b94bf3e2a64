package txnid

import (
	"fmt"

	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
)

// BaseTransactionID is the id of the empty store. The first allocated
// transaction id is BaseTransactionID + 1.
const BaseTransactionID uint64 = 0

// TransactionRecord is what the store remembers about a committed
// transaction.
type TransactionRecord struct {
	TransactionID   uint64
	AppendIndex     uint64
	KernelVersion   txnlog.KernelVersion
	Checksum        uint32
	CommitTimestamp int64
	ConsensusIndex  int64
}

// ClosedTransactionRecord adds the position right after the transaction in
// the log, where recovery resumes scanning.
type ClosedTransactionRecord struct {
	TransactionRecord
	Position txnlog.LogPosition
}

func (r TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{id=%d, appendIndex=%d, kernelVersion=%s, checksum=%d, commitTs=%d, consensusIndex=%d}",
		r.TransactionID, r.AppendIndex, r.KernelVersion, r.Checksum, r.CommitTimestamp, r.ConsensusIndex)
}

func baseTransactionRecord() TransactionRecord {
	return TransactionRecord{
		TransactionID:  BaseTransactionID,
		KernelVersion:  txnlog.LatestKernelVersion,
		ConsensusIndex: txnlog.NoConsensusIndex,
	}
}

func baseClosedTransactionRecord() ClosedTransactionRecord {
	return ClosedTransactionRecord{
		TransactionRecord: baseTransactionRecord(),
		Position:          txnlog.StartPosition(0),
	}
}

func (r TransactionRecord) toProto() *txnlogpb.TransactionRecord {
	return &txnlogpb.TransactionRecord{
		TransactionId:   r.TransactionID,
		AppendIndex:     r.AppendIndex,
		KernelVersion:   uint32(r.KernelVersion),
		Checksum:        r.Checksum,
		CommitTimestamp: r.CommitTimestamp,
		ConsensusIndex:  r.ConsensusIndex,
	}
}

func transactionRecordFromProto(m *txnlogpb.TransactionRecord) TransactionRecord {
	if m == nil {
		return baseTransactionRecord()
	}
	return TransactionRecord{
		TransactionID:   m.TransactionId,
		AppendIndex:     m.AppendIndex,
		KernelVersion:   txnlog.KernelVersion(m.KernelVersion),
		Checksum:        m.Checksum,
		CommitTimestamp: m.CommitTimestamp,
		ConsensusIndex:  m.ConsensusIndex,
	}
}

func (r ClosedTransactionRecord) toProto() *txnlogpb.ClosedTransactionRecord {
	return &txnlogpb.ClosedTransactionRecord{
		Transaction: r.TransactionRecord.toProto(),
		Position:    r.Position.ToProto(),
	}
}

func closedRecordFromProto(m *txnlogpb.ClosedTransactionRecord) ClosedTransactionRecord {
	if m == nil {
		return baseClosedTransactionRecord()
	}
	rec := ClosedTransactionRecord{
		TransactionRecord: transactionRecordFromProto(m.Transaction),
		Position:          txnlog.PositionFromProto(m.Position),
	}
	if rec.Position.IsUnspecified() {
		rec.Position = txnlog.StartPosition(0)
	}
	return rec
}
