package txnid

import (
	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
	"github.com/pingcap/errors"
)

// TransactionIdStateKey is the meta key of the persisted store state.
var TransactionIdStateKey = []byte("meta_txnid_state")

// MetaStorage persists the store state. Save must be durable when it
// returns nil.
type MetaStorage interface {
	// Load returns nil, nil when nothing was saved yet.
	Load() (*txnlogpb.TransactionIdState, error)
	Save(state *txnlogpb.TransactionIdState) error
}

type badgerMetaStorage struct {
	db *badger.DB
}

func NewBadgerMetaStorage(db *badger.DB) MetaStorage {
	return &badgerMetaStorage{db: db}
}

func (s *badgerMetaStorage) Load() (*txnlogpb.TransactionIdState, error) {
	state := new(txnlogpb.TransactionIdState)
	err := engine_util.GetMeta(s.db, TransactionIdStateKey, state)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return state, nil
}

func (s *badgerMetaStorage) Save(state *txnlogpb.TransactionIdState) error {
	wb := new(engine_util.WriteBatch)
	if err := wb.SetMeta(TransactionIdStateKey, state); err != nil {
		return err
	}
	return wb.WriteToDB(s.db)
}
