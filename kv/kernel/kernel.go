package kernel

import (
	"context"

	"github.com/pingcap-incubator/tinytxn/kv/commit"
	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/recovery"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
)

// Kernel owns the engines, the transaction log and the id store of one data
// directory, recovers them on open and commits transactions.
type Kernel struct {
	cfg     *config.Config
	engines *engine_util.Engines

	Log    *txnlog.Log
	Store  *txnid.TransactionIdStore
	Engine *storage.BadgerEngine
	Cache  *txnlog.TransactionMetadataCache

	process  *commit.Process
	recovery *recovery.Result
}

// Open opens the data directory of cfg. When the log holds transactions
// past the closed watermark they are replayed before Open returns.
func Open(ctx context.Context, cfg *config.Config) (*Kernel, error) {
	k, err := open(cfg)
	if err != nil {
		return nil, err
	}
	required, err := recovery.RecoveryRequired(k.Log, k.Store)
	if err != nil {
		k.engines.Close()
		return nil, err
	}
	if required {
		if k.recovery, err = recovery.Recover(ctx, k.Log, k.Store, k.Engine, cfg); err != nil {
			k.engines.Close()
			return nil, errors.Annotate(err, "recover")
		}
	}
	if k.process, err = commit.NewProcess(k.Log, k.Store, k.Cache, k.Engine, cfg); err != nil {
		k.engines.Close()
		return nil, err
	}
	k.process.Start()
	return k, nil
}

func open(cfg *config.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	segmentSize, err := cfg.SegmentSize()
	if err != nil {
		return nil, err
	}
	engines, err := engine_util.OpenEngines(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	k := &Kernel{cfg: cfg, engines: engines, Cache: txnlog.NewTransactionMetadataCache(cfg.MetadataCacheSize)}
	if k.Log, err = txnlog.OpenLog(engines.Log, segmentSize); err != nil {
		engines.Close()
		return nil, err
	}
	k.Log.SetMetadataCache(k.Cache)
	if k.Store, err = txnid.Open(txnid.NewBadgerMetaStorage(engines.Log)); err != nil {
		engines.Close()
		return nil, err
	}
	if k.Engine, err = storage.NewBadgerEngine(engines.Kv); err != nil {
		engines.Close()
		return nil, err
	}
	log.Infof("opened kernel at %s, log tail %s", cfg.DBPath, k.Log.AppendedPosition())
	return k, nil
}

// Commit writes commands as one transaction and waits until it is closed.
func (k *Kernel) Commit(ctx context.Context, commands []txnlog.Command) (uint64, error) {
	return k.process.Commit(ctx, commands)
}

// Transaction reads the first log record of transaction id.
func (k *Kernel) Transaction(id uint64) (*txnlog.CommittedCommandBatch, txnlog.LogPosition, error) {
	return k.Log.FindTransaction(id)
}

// Recovery is the result of the recovery run by Open, nil when none was
// needed.
func (k *Kernel) Recovery() *recovery.Result {
	return k.recovery
}

// Close stops committing, flushes the id store and closes the engines.
func (k *Kernel) Close() error {
	k.process.Stop()
	storeErr := k.Store.Close()
	if storeErr == nil {
		if _, err := k.Engine.PruneApplied(k.Store.LastClosedTransactionID()); err != nil {
			log.Warnf("prune applied markers: %v", err)
		}
	}
	if err := k.engines.Close(); err != nil {
		return err
	}
	return storeErr
}

// Status is a snapshot of the watermarks.
type Status struct {
	Healthy            bool   `json:"healthy"`
	Cause              string `json:"cause,omitempty"`
	HighestAllocated   uint64 `json:"highest_allocated"`
	LastAppendIndex    uint64 `json:"last_append_index"`
	LastCommitted      uint64 `json:"last_committed"`
	LastClosed         uint64 `json:"last_closed"`
	HighestEverClosed  uint64 `json:"highest_ever_closed"`
	PendingClosed      int    `json:"pending_closed"`
	HighestApplied     uint64 `json:"highest_applied"`
	LastClosedPosition string `json:"last_closed_position"`
	AppendedPosition   string `json:"appended_position"`
	LogTail            string `json:"log_tail"`
	CachedTransactions int    `json:"cached_transactions"`
}

func (k *Kernel) Status() Status {
	s := Status{
		Healthy:            k.Store.Health().Healthy(),
		HighestAllocated:   k.Store.HighestAllocatedID(),
		LastAppendIndex:    k.Store.LastAppendIndex(),
		LastCommitted:      k.Store.LastCommittedTransactionID(),
		LastClosed:         k.Store.LastClosedTransactionID(),
		HighestEverClosed:  k.Store.HighestEverClosed(),
		PendingClosed:      k.Store.PendingClosed(),
		HighestApplied:     k.Engine.HighestApplied(),
		LastClosedPosition: k.Store.LastClosedTransaction().Position.String(),
		AppendedPosition:   k.Store.AppendedPosition().String(),
		LogTail:            k.Log.AppendedPosition().String(),
		CachedTransactions: k.Cache.Len(),
	}
	if cause := k.Store.Health().Cause(); cause != nil {
		s.Cause = cause.Error()
	}
	return s
}
