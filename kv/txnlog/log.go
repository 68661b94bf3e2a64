package txnlog

import (
	"fmt"
	"sync"

	"github.com/coocood/badger"
	"github.com/coocood/badger/y"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
)

// CorruptRecordError reports a log record that could not be decoded or whose
// checksum does not match. Whether it is a torn tail to cut or a reason to
// refuse startup is up to the caller.
type CorruptRecordError struct {
	Position LogPosition
	Cause    error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt log record at %s: %v", e.Position, e.Cause)
}

// ErrRecordNotFound is returned by ReadBatchAt when no record starts at the
// given position.
var ErrRecordNotFound = errors.New("log record not found")

// ErrTransactionNotFound is returned by FindTransaction when the log holds no
// record of the transaction.
var ErrTransactionNotFound = errors.New("transaction not found in log")

// Log is the append-only transaction log, kept in a badger engine. Records
// are keyed by their position so a scan visits them in log order.
type Log struct {
	mu          sync.Mutex
	db          *badger.DB
	segmentSize uint64
	// Position the next record will be written at.
	tail LogPosition
	// Optional, set before the log is shared.
	cache *TransactionMetadataCache
}

// ScanFunc is called for every record of a scan, in position order, with the
// position the record starts at and the one right after it. Returning stop
// ends the scan without error.
type ScanFunc func(pos, next LogPosition, batch *CommittedCommandBatch) (stop bool, err error)

func OpenLog(db *badger.DB, segmentSize uint64) (*Log, error) {
	l := &Log{db: db, segmentSize: segmentSize, tail: StartPosition(0)}
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(logKeyPrefix); it.ValidForPrefix(logKeyPrefix); it.Next() {
			item := it.Item()
			pos, err := decodeRecordKey(item.Key())
			if err != nil {
				return err
			}
			l.tail = NewLogPosition(pos.logVersion, pos.byteOffset+uint64(recordHeaderSize+item.ValueSize()))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log.Debugf("opened transaction log, append position %s", l.tail)
	return l, nil
}

// SetMetadataCache makes FindTransaction consult cache and Truncate clear
// it. Must be called before the log is used concurrently.
func (l *Log) SetMetadataCache(cache *TransactionMetadataCache) {
	l.cache = cache
}

// Append writes b at the end of the log, filling in its checksum. It returns
// the position the record starts at and the position right after it.
func (l *Log) Append(b *CommittedCommandBatch) (before, after LogPosition, err error) {
	b.Checksum = b.ComputeChecksum()
	value, err := encodeBatch(b)
	if err != nil {
		return LogPosition{}, LogPosition{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tail.byteOffset >= l.segmentSize {
		l.tail = StartPosition(l.tail.logVersion + 1)
		log.Infof("rotated transaction log to version %d", l.tail.logVersion)
	}
	before = l.tail
	wb := new(engine_util.WriteBatch)
	wb.SetRaw(RecordKey(before), value)
	if err = wb.WriteToDB(l.db); err != nil {
		return LogPosition{}, LogPosition{}, errors.Annotatef(err, "append transaction %d", b.TransactionID)
	}
	after = NewLogPosition(before.logVersion, before.byteOffset+recordSize(value))
	l.tail = after
	return before, after, nil
}

// AppendedPosition is the position the next record will start at.
func (l *Log) AppendedPosition() LogPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail
}

// Scan visits every record at or after from. A record that fails to decode
// ends the scan with a *CorruptRecordError.
func (l *Log) Scan(from LogPosition, fn ScanFunc) error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(RecordKey(from)); it.ValidForPrefix(logKeyPrefix); it.Next() {
			item := it.Item()
			pos, err := decodeRecordKey(item.Key())
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return errors.WithStack(err)
			}
			batch, err := decodeBatch(value)
			if err != nil {
				return &CorruptRecordError{Position: pos, Cause: err}
			}
			next := NewLogPosition(pos.logVersion, pos.byteOffset+recordSize(value))
			stop, err := fn(pos, next, batch)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}

// ReadBatchAt reads the single record starting at pos.
func (l *Log) ReadBatchAt(pos LogPosition) (*CommittedCommandBatch, error) {
	var value []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(RecordKey(pos))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	batch, err := decodeBatch(value)
	if err != nil {
		return nil, &CorruptRecordError{Position: pos, Cause: err}
	}
	return batch, nil
}

// FindTransaction returns the record txID starts at, the first chunk for a
// chunked transaction, and its position. The metadata cache is tried first;
// on a miss, or when the cached position no longer holds txID, the log is
// scanned from its start.
func (l *Log) FindTransaction(txID uint64) (*CommittedCommandBatch, LogPosition, error) {
	if l.cache != nil {
		if pos, ok := l.cache.Get(txID); ok {
			batch, err := l.ReadBatchAt(pos)
			if err == nil && batch.TransactionID == txID && batch.IsFirst() {
				return batch, pos, nil
			}
			if err != nil && err != ErrRecordNotFound {
				return nil, LogPosition{}, err
			}
			log.Debugf("stale metadata cache entry for transaction %d at %s", txID, pos)
		}
	}

	var (
		found *CommittedCommandBatch
		at    LogPosition
	)
	err := l.Scan(StartPosition(0), func(pos, _ LogPosition, batch *CommittedCommandBatch) (bool, error) {
		if batch.TransactionID == txID && batch.IsFirst() {
			found, at = batch, pos
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, LogPosition{}, err
	}
	if found == nil {
		return nil, LogPosition{}, ErrTransactionNotFound
	}
	if l.cache != nil {
		l.cache.Put(txID, at)
	}
	return found, at, nil
}

// Truncate removes every record at or after from and makes from the append
// position.
func (l *Log) Truncate(from LogPosition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	wb := new(engine_util.WriteBatch)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(RecordKey(from)); it.ValidForPrefix(logKeyPrefix); it.Next() {
			wb.DeleteMeta(y.SafeCopy(nil, it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if err = wb.WriteToDB(l.db); err != nil {
		return errors.Annotatef(err, "truncate log at %s", from)
	}
	if wb.Len() > 0 {
		log.Warnf("truncated %d log records from %s", wb.Len(), from)
	}
	if from.Less(l.tail) {
		l.tail = from
	}
	if l.cache != nil {
		l.cache.Clear()
	}
	return nil
}
