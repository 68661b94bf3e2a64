package txnlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/protobuf/proto"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
)

// A record is stored as crc32(payload) | payload, where payload is the
// protobuf encoding of the batch. Its footprint in the log, which advances
// the byte offset, is recordHeaderSize + len(value).
const (
	recordCRCSize    = 4
	recordHeaderSize = 4
)

var logKeyPrefix = []byte("txlog_")

// RecordKey returns the engine key of the record starting at pos. Keys sort
// in position order.
func RecordKey(pos LogPosition) []byte {
	key := make([]byte, len(logKeyPrefix)+16)
	copy(key, logKeyPrefix)
	binary.BigEndian.PutUint64(key[len(logKeyPrefix):], pos.logVersion)
	binary.BigEndian.PutUint64(key[len(logKeyPrefix)+8:], pos.byteOffset)
	return key
}

func decodeRecordKey(key []byte) (LogPosition, error) {
	if len(key) != len(logKeyPrefix)+16 {
		return LogPosition{}, errors.Errorf("invalid log record key %x", key)
	}
	return NewLogPosition(
		binary.BigEndian.Uint64(key[len(logKeyPrefix):]),
		binary.BigEndian.Uint64(key[len(logKeyPrefix)+8:]),
	), nil
}

func recordSize(value []byte) uint64 {
	return uint64(recordHeaderSize + len(value))
}

func encodeBatch(b *CommittedCommandBatch) ([]byte, error) {
	rec := &txnlogpb.BatchRecord{
		TransactionId:   b.TransactionID,
		AppendIndex:     b.AppendIndex,
		KernelVersion:   uint32(b.KernelVersion),
		Checksum:        b.Checksum,
		ConsensusIndex:  b.ConsensusIndex,
		CommitTimestamp: b.CommitTimestamp,
		TimeStarted:     b.TimeStarted,
		LeaseId:         b.LeaseID,
		Commands:        make([]*txnlogpb.Command, 0, len(b.Commands)),
	}
	if b.Kind == ChunkedTransaction {
		rec.Kind = txnlogpb.BatchKind_Chunk
		rec.ChunkId = b.Chunk.ID
		rec.ChunkFirst = b.Chunk.First
		rec.ChunkLast = b.Chunk.Last
		rec.PreviousBatchAppendIndex = b.Chunk.PreviousBatchAppendIndex
	}
	for _, c := range b.Commands {
		rec.Commands = append(rec.Commands, &txnlogpb.Command{
			Op:     txnlogpb.CommandOp(c.Op),
			Cf:     c.CF,
			Key:    c.Key,
			Value:  c.Value,
			Before: c.Before,
		})
	}
	payload, err := proto.Marshal(rec)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	value := make([]byte, recordCRCSize+len(payload))
	binary.BigEndian.PutUint32(value, crc32.Checksum(payload, castagnoli))
	copy(value[recordCRCSize:], payload)
	return value, nil
}

func decodeBatch(value []byte) (*CommittedCommandBatch, error) {
	if len(value) < recordCRCSize {
		return nil, errors.Errorf("record of %d bytes is shorter than its header", len(value))
	}
	payload := value[recordCRCSize:]
	if crc := crc32.Checksum(payload, castagnoli); crc != binary.BigEndian.Uint32(value) {
		return nil, errors.Errorf("record crc mismatch, stored %d, computed %d", binary.BigEndian.Uint32(value), crc)
	}
	rec := new(txnlogpb.BatchRecord)
	if err := proto.Unmarshal(payload, rec); err != nil {
		return nil, errors.WithStack(err)
	}
	b := &CommittedCommandBatch{
		TransactionID:   rec.TransactionId,
		AppendIndex:     rec.AppendIndex,
		KernelVersion:   KernelVersion(rec.KernelVersion),
		Checksum:        rec.Checksum,
		ConsensusIndex:  rec.ConsensusIndex,
		CommitTimestamp: rec.CommitTimestamp,
		TimeStarted:     rec.TimeStarted,
		LeaseID:         rec.LeaseId,
		Kind:            WholeTransaction,
		Commands:        make([]Command, 0, len(rec.Commands)),
	}
	switch rec.Kind {
	case txnlogpb.BatchKind_Whole:
	case txnlogpb.BatchKind_Chunk:
		b.Kind = ChunkedTransaction
		b.Chunk = Chunk{
			ID:                       rec.ChunkId,
			First:                    rec.ChunkFirst,
			Last:                     rec.ChunkLast,
			PreviousBatchAppendIndex: rec.PreviousBatchAppendIndex,
		}
	default:
		return nil, errors.Errorf("unknown batch kind %d", rec.Kind)
	}
	for _, c := range rec.Commands {
		b.Commands = append(b.Commands, Command{
			Op:     CommandOp(c.Op),
			CF:     c.Cf,
			Key:    c.Key,
			Value:  c.Value,
			Before: c.Before,
		})
	}
	if sum := b.ComputeChecksum(); sum != b.Checksum {
		return nil, errors.Errorf("transaction %d checksum mismatch, stored %d, computed %d",
			b.TransactionID, b.Checksum, sum)
	}
	return b, nil
}
