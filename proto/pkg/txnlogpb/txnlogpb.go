// Package txnlogpb holds the messages described in proto/proto/txnlogpb.proto.
// They are encoded through the reflection path of golang/protobuf, so the
// struct tags below must stay in sync with the .proto file.
package txnlogpb

import (
	"github.com/golang/protobuf/proto"
)

type CommandOp int32

const (
	CommandOp_Put    CommandOp = 0
	CommandOp_Delete CommandOp = 1
)

var CommandOp_name = map[int32]string{
	0: "Put",
	1: "Delete",
}

func (x CommandOp) String() string {
	return proto.EnumName(CommandOp_name, int32(x))
}

type BatchKind int32

const (
	BatchKind_Whole BatchKind = 0
	BatchKind_Chunk BatchKind = 1
)

var BatchKind_name = map[int32]string{
	0: "Whole",
	1: "Chunk",
}

func (x BatchKind) String() string {
	return proto.EnumName(BatchKind_name, int32(x))
}

type LogPosition struct {
	LogVersion uint64 `protobuf:"varint,1,opt,name=log_version,json=logVersion,proto3" json:"log_version,omitempty"`
	ByteOffset uint64 `protobuf:"varint,2,opt,name=byte_offset,json=byteOffset,proto3" json:"byte_offset,omitempty"`
}

func (m *LogPosition) Reset()         { *m = LogPosition{} }
func (m *LogPosition) String() string { return proto.CompactTextString(m) }
func (*LogPosition) ProtoMessage()    {}

func (m *LogPosition) GetLogVersion() uint64 {
	if m != nil {
		return m.LogVersion
	}
	return 0
}

func (m *LogPosition) GetByteOffset() uint64 {
	if m != nil {
		return m.ByteOffset
	}
	return 0
}

type Command struct {
	Op     CommandOp `protobuf:"varint,1,opt,name=op,proto3,enum=txnlogpb.CommandOp" json:"op,omitempty"`
	Cf     string    `protobuf:"bytes,2,opt,name=cf,proto3" json:"cf,omitempty"`
	Key    []byte    `protobuf:"bytes,3,opt,name=key,proto3" json:"key,omitempty"`
	Value  []byte    `protobuf:"bytes,4,opt,name=value,proto3" json:"value,omitempty"`
	Before []byte    `protobuf:"bytes,5,opt,name=before,proto3" json:"before,omitempty"`
}

func (m *Command) Reset()         { *m = Command{} }
func (m *Command) String() string { return proto.CompactTextString(m) }
func (*Command) ProtoMessage()    {}

type BatchRecord struct {
	TransactionId            uint64     `protobuf:"varint,1,opt,name=transaction_id,json=transactionId,proto3" json:"transaction_id,omitempty"`
	AppendIndex              uint64     `protobuf:"varint,2,opt,name=append_index,json=appendIndex,proto3" json:"append_index,omitempty"`
	KernelVersion            uint32     `protobuf:"varint,3,opt,name=kernel_version,json=kernelVersion,proto3" json:"kernel_version,omitempty"`
	Checksum                 uint32     `protobuf:"varint,4,opt,name=checksum,proto3" json:"checksum,omitempty"`
	ConsensusIndex           int64      `protobuf:"varint,5,opt,name=consensus_index,json=consensusIndex,proto3" json:"consensus_index,omitempty"`
	CommitTimestamp          int64      `protobuf:"varint,6,opt,name=commit_timestamp,json=commitTimestamp,proto3" json:"commit_timestamp,omitempty"`
	TimeStarted              int64      `protobuf:"varint,7,opt,name=time_started,json=timeStarted,proto3" json:"time_started,omitempty"`
	LeaseId                  int32      `protobuf:"varint,8,opt,name=lease_id,json=leaseId,proto3" json:"lease_id,omitempty"`
	Kind                     BatchKind  `protobuf:"varint,9,opt,name=kind,proto3,enum=txnlogpb.BatchKind" json:"kind,omitempty"`
	ChunkId                  uint64     `protobuf:"varint,10,opt,name=chunk_id,json=chunkId,proto3" json:"chunk_id,omitempty"`
	ChunkFirst               bool       `protobuf:"varint,11,opt,name=chunk_first,json=chunkFirst,proto3" json:"chunk_first,omitempty"`
	ChunkLast                bool       `protobuf:"varint,12,opt,name=chunk_last,json=chunkLast,proto3" json:"chunk_last,omitempty"`
	PreviousBatchAppendIndex uint64     `protobuf:"varint,13,opt,name=previous_batch_append_index,json=previousBatchAppendIndex,proto3" json:"previous_batch_append_index,omitempty"`
	Commands                 []*Command `protobuf:"bytes,14,rep,name=commands,proto3" json:"commands,omitempty"`
}

func (m *BatchRecord) Reset()         { *m = BatchRecord{} }
func (m *BatchRecord) String() string { return proto.CompactTextString(m) }
func (*BatchRecord) ProtoMessage()    {}

type TransactionRecord struct {
	TransactionId   uint64 `protobuf:"varint,1,opt,name=transaction_id,json=transactionId,proto3" json:"transaction_id,omitempty"`
	AppendIndex     uint64 `protobuf:"varint,2,opt,name=append_index,json=appendIndex,proto3" json:"append_index,omitempty"`
	KernelVersion   uint32 `protobuf:"varint,3,opt,name=kernel_version,json=kernelVersion,proto3" json:"kernel_version,omitempty"`
	Checksum        uint32 `protobuf:"varint,4,opt,name=checksum,proto3" json:"checksum,omitempty"`
	CommitTimestamp int64  `protobuf:"varint,5,opt,name=commit_timestamp,json=commitTimestamp,proto3" json:"commit_timestamp,omitempty"`
	ConsensusIndex  int64  `protobuf:"varint,6,opt,name=consensus_index,json=consensusIndex,proto3" json:"consensus_index,omitempty"`
}

func (m *TransactionRecord) Reset()         { *m = TransactionRecord{} }
func (m *TransactionRecord) String() string { return proto.CompactTextString(m) }
func (*TransactionRecord) ProtoMessage()    {}

type ClosedTransactionRecord struct {
	Transaction *TransactionRecord `protobuf:"bytes,1,opt,name=transaction,proto3" json:"transaction,omitempty"`
	Position    *LogPosition       `protobuf:"bytes,2,opt,name=position,proto3" json:"position,omitempty"`
}

func (m *ClosedTransactionRecord) Reset()         { *m = ClosedTransactionRecord{} }
func (m *ClosedTransactionRecord) String() string { return proto.CompactTextString(m) }
func (*ClosedTransactionRecord) ProtoMessage()    {}

type TransactionIdState struct {
	LastAppendIndex    uint64                   `protobuf:"varint,1,opt,name=last_append_index,json=lastAppendIndex,proto3" json:"last_append_index,omitempty"`
	AppendedPosition   *LogPosition             `protobuf:"bytes,2,opt,name=appended_position,json=appendedPosition,proto3" json:"appended_position,omitempty"`
	LastCommitted      *TransactionRecord       `protobuf:"bytes,3,opt,name=last_committed,json=lastCommitted,proto3" json:"last_committed,omitempty"`
	LastClosed         *ClosedTransactionRecord `protobuf:"bytes,4,opt,name=last_closed,json=lastClosed,proto3" json:"last_closed,omitempty"`
	HighestAllocatedId uint64                   `protobuf:"varint,5,opt,name=highest_allocated_id,json=highestAllocatedId,proto3" json:"highest_allocated_id,omitempty"`
}

func (m *TransactionIdState) Reset()         { *m = TransactionIdState{} }
func (m *TransactionIdState) String() string { return proto.CompactTextString(m) }
func (*TransactionIdState) ProtoMessage()    {}

type AppliedState struct {
	LastAppliedTransactionId uint64 `protobuf:"varint,1,opt,name=last_applied_transaction_id,json=lastAppliedTransactionId,proto3" json:"last_applied_transaction_id,omitempty"`
}

func (m *AppliedState) Reset()         { *m = AppliedState{} }
func (m *AppliedState) String() string { return proto.CompactTextString(m) }
func (*AppliedState) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("txnlogpb.CommandOp", CommandOp_name, map[string]int32{"Put": 0, "Delete": 1})
	proto.RegisterEnum("txnlogpb.BatchKind", BatchKind_name, map[string]int32{"Whole": 0, "Chunk": 1})
	proto.RegisterType((*LogPosition)(nil), "txnlogpb.LogPosition")
	proto.RegisterType((*Command)(nil), "txnlogpb.Command")
	proto.RegisterType((*BatchRecord)(nil), "txnlogpb.BatchRecord")
	proto.RegisterType((*TransactionRecord)(nil), "txnlogpb.TransactionRecord")
	proto.RegisterType((*ClosedTransactionRecord)(nil), "txnlogpb.ClosedTransactionRecord")
	proto.RegisterType((*TransactionIdState)(nil), "txnlogpb.TransactionIdState")
	proto.RegisterType((*AppliedState)(nil), "txnlogpb.AppliedState")
}
