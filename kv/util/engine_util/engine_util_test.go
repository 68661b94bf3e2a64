package engine_util

import (
	"bytes"
	"testing"

	"github.com/coocood/badger"
	"github.com/stretchr/testify/require"
)

func TestEngineUtil(t *testing.T) {
	engines := NewTestEngines()
	defer engines.Destroy()
	db := engines.Kv

	batch := new(WriteBatch)
	batch.SetCF(CfDefault, []byte("a"), []byte("a1"))
	batch.SetCF(CfDefault, []byte("b"), []byte("b1"))
	batch.SetCF(CfDefault, []byte("c"), []byte("c1"))
	batch.SetCF(CfNode, []byte("a"), []byte("a2"))
	batch.SetCF(CfNode, []byte("b"), []byte("b2"))
	batch.SetCF(CfRelationship, []byte("a"), []byte("a3"))
	batch.SetCF(CfDefault, []byte("e"), []byte("e1"))
	batch.DeleteCF(CfDefault, []byte("e"))
	err := batch.WriteToDB(db)
	require.Nil(t, err)

	_, err = GetCF(db, CfDefault, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	// An empty value deletes.
	batch = new(WriteBatch)
	batch.SetCF(CfRelationship, []byte("a"), nil)
	require.Nil(t, batch.WriteToDB(db))
	_, err = GetCF(db, CfRelationship, []byte("a"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	txn := db.NewTransaction(false)
	defer txn.Discard()
	defaultIter := NewCFIterator(CfDefault, txn)
	defaultIter.Seek([]byte("a"))
	for _, expected := range []string{"a", "b", "c"} {
		require.True(t, defaultIter.Valid())
		item := defaultIter.Item()
		require.True(t, bytes.Equal(item.Key(), []byte(expected)))
		val, _ := item.Value()
		require.True(t, bytes.Equal(val, []byte(expected+"1")))
		defaultIter.Next()
	}
	require.False(t, defaultIter.Valid())
	defaultIter.Close()

	nodeIter := NewCFIterator(CfNode, txn)
	nodeIter.Seek([]byte("b"))
	require.True(t, nodeIter.Valid())
	require.Equal(t, []byte("b"), nodeIter.Item().KeyCopy(nil))
	nodeIter.Next()
	require.False(t, nodeIter.Valid())
	nodeIter.Close()
}

func TestDeleteRangeCF(t *testing.T) {
	engines := NewTestEngines()
	defer engines.Destroy()

	wb := new(WriteBatch)
	for _, cf := range []string{CfDefault, CfNode} {
		for _, k := range []string{"a", "b", "c", "d"} {
			wb.SetCF(cf, []byte(k), []byte("v"))
		}
	}
	require.Nil(t, wb.WriteToDB(engines.Kv))

	n, err := DeleteRangeCF(engines.Kv, CfDefault, []byte("b"), []byte("d"))
	require.Nil(t, err)
	require.Equal(t, 2, n)
	for _, k := range []string{"b", "c"} {
		_, err := GetCF(engines.Kv, CfDefault, []byte(k))
		require.Equal(t, badger.ErrKeyNotFound, err)
	}
	for _, k := range []string{"a", "d"} {
		_, err := GetCF(engines.Kv, CfDefault, []byte(k))
		require.Nil(t, err)
	}
	// Other column families are untouched.
	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := GetCF(engines.Kv, CfNode, []byte(k))
		require.Nil(t, err)
	}

	// No end key deletes to the end of the family.
	n, err = DeleteRangeCF(engines.Kv, CfNode, nil, nil)
	require.Nil(t, err)
	require.Equal(t, 4, n)
}
