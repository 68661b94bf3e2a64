package txnid

import (
	"sync"
	stdatomic "sync/atomic"

	"github.com/google/btree"
	"go.uber.org/atomic"
)

type sequenceItem struct {
	number uint64
	record ClosedTransactionRecord
}

func (i *sequenceItem) Less(than btree.Item) bool {
	return i.number < than.(*sequenceItem).number
}

// outOfOrderSequence tracks the highest number below which every number has
// been offered. Numbers may be offered in any order; the ones above a gap
// wait in pending until the gap closes.
//
//  floor ........ gap ........ pending ...... highestEverSeen
//  ------|-------------------|--|--|---------|
//
// Offers are serialized by mu, reads of the floor are wait-free.
type outOfOrderSequence struct {
	name string

	mu              sync.Mutex
	pending         *btree.BTree
	highestEverSeen uint64

	floor *atomic.Uint64
	// ClosedTransactionRecord of the floor.
	record stdatomic.Value
}

func newOutOfOrderSequence(name string, rec ClosedTransactionRecord) *outOfOrderSequence {
	s := &outOfOrderSequence{
		name:            name,
		pending:         btree.New(8),
		highestEverSeen: rec.TransactionID,
		floor:           atomic.NewUint64(rec.TransactionID),
	}
	s.record.Store(rec)
	watermarkGauge.WithLabelValues(name).Set(float64(rec.TransactionID))
	return s
}

func (s *outOfOrderSequence) get() uint64 {
	return s.floor.Load()
}

func (s *outOfOrderSequence) getRecord() ClosedTransactionRecord {
	return s.record.Load().(ClosedTransactionRecord)
}

// covers reports whether number has been offered, either at or below the
// floor or waiting above a gap.
func (s *outOfOrderSequence) covers(number uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return number <= s.floor.Load() || s.pending.Has(&sequenceItem{number: number})
}

func (s *outOfOrderSequence) highest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestEverSeen
}

// offer adds rec. When rec closes the gap above the floor, the floor moves
// past every contiguous pending number; durable is called with the record of
// the new floor first and the floor only moves if it succeeds.
func (s *outOfOrderSequence) offer(op string, rec ClosedTransactionRecord, durable func(ClosedTransactionRecord) error) (advanced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number := rec.TransactionID
	floor := s.floor.Load()
	if number <= floor {
		return false, &ErrOrderingViolation{Op: op, ID: number, Reason: "already at or below the watermark"}
	}
	item := &sequenceItem{number: number, record: rec}
	if s.pending.Has(item) {
		return false, &ErrOrderingViolation{Op: op, ID: number, Reason: "reported twice"}
	}
	if number != floor+1 {
		s.pending.ReplaceOrInsert(item)
		s.seen(number)
		outOfOrderCounter.WithLabelValues(s.name).Inc()
		return false, nil
	}

	newFloor, newRecord, consumed := number, rec, 0
	s.pending.AscendGreaterOrEqual(&sequenceItem{number: number + 1}, func(i btree.Item) bool {
		next := i.(*sequenceItem)
		if next.number != newFloor+1 {
			return false
		}
		newFloor, newRecord = next.number, next.record
		consumed++
		return true
	})
	if durable != nil {
		if err = durable(newRecord); err != nil {
			return false, err
		}
	}
	for ; consumed > 0; consumed-- {
		s.pending.DeleteMin()
	}
	s.record.Store(newRecord)
	s.floor.Store(newFloor)
	s.seen(number)
	watermarkGauge.WithLabelValues(s.name).Set(float64(newFloor))
	return true, nil
}

// set drops pending numbers and moves the floor to rec, in either direction.
// Only used while nothing else updates the sequence, when installing a
// recovery outcome.
func (s *outOfOrderSequence) set(rec ClosedTransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = btree.New(8)
	s.highestEverSeen = rec.TransactionID
	s.record.Store(rec)
	s.floor.Store(rec.TransactionID)
	watermarkGauge.WithLabelValues(s.name).Set(float64(rec.TransactionID))
}

func (s *outOfOrderSequence) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

func (s *outOfOrderSequence) seen(number uint64) {
	if number > s.highestEverSeen {
		s.highestEverSeen = number
	}
}
