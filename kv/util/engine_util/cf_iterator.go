package engine_util

import (
	"github.com/coocood/badger"
	"github.com/coocood/badger/y"
)

type CFItem struct {
	item      *badger.Item
	prefixLen int
}

func (i *CFItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i *CFItem) KeyCopy(dst []byte) []byte {
	return y.SafeCopy(dst, i.Key())
}

func (i *CFItem) Value() ([]byte, error) {
	return i.item.Value()
}

func (i *CFItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

// CFIterator walks the keys of a single column family, hiding the prefix.
type CFIterator struct {
	iter   *badger.Iterator
	prefix []byte
}

func NewCFIterator(cf string, txn *badger.Txn) *CFIterator {
	return &CFIterator{
		iter:   txn.NewIterator(badger.DefaultIteratorOptions),
		prefix: []byte(cf + "_"),
	}
}

func (it *CFIterator) Item() *CFItem {
	return &CFItem{
		item:      it.iter.Item(),
		prefixLen: len(it.prefix),
	}
}

func (it *CFIterator) Valid() bool { return it.iter.ValidForPrefix(it.prefix) }

func (it *CFIterator) Close() {
	it.iter.Close()
}

func (it *CFIterator) Next() {
	it.iter.Next()
}

func (it *CFIterator) Seek(key []byte) {
	it.iter.Seek(append(append([]byte{}, it.prefix...), key...))
}

func (it *CFIterator) Rewind() {
	it.iter.Seek(it.prefix)
}
