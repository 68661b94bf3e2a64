package engine_util

import (
	"bytes"

	"github.com/coocood/badger"
	"github.com/golang/protobuf/proto"
)

func KeyWithCF(cf string, key []byte) []byte {
	return append([]byte(cf+"_"), key...)
}

func GetCF(db *badger.DB, cf string, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		val, err = GetCFFromTxn(txn, cf, key)
		return err
	})
	return
}

func GetCFFromTxn(txn *badger.Txn, cf string, key []byte) (val []byte, err error) {
	item, err := txn.Get(KeyWithCF(cf, key))
	if err != nil {
		return nil, err
	}
	val, err = item.ValueCopy(val)
	return
}

func GetMeta(engine *badger.DB, key []byte, msg proto.Message) error {
	var val []byte
	err := engine.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return err
	}
	return proto.Unmarshal(val, msg)
}

// DeleteRangeCF deletes the keys of cf in [startKey, endKey) and returns how
// many were deleted. An empty endKey means no upper bound.
func DeleteRangeCF(db *badger.DB, cf string, startKey, endKey []byte) (int, error) {
	batch := new(WriteBatch)
	txn := db.NewTransaction(false)
	deleteRangeCF(txn, batch, cf, startKey, endKey)
	txn.Discard()

	if err := batch.WriteToDB(db); err != nil {
		return 0, err
	}
	return batch.Len(), nil
}

func deleteRangeCF(txn *badger.Txn, batch *WriteBatch, cf string, startKey, endKey []byte) {
	it := NewCFIterator(cf, txn)
	defer it.Close()
	for it.Seek(startKey); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if ExceedEndKey(key, endKey) {
			break
		}
		batch.DeleteCF(cf, key)
	}
}

func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}
