package commit

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage"
	"github.com/pingcap-incubator/tinytxn/kv/txnid"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/worker"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
)

var (
	ErrProcessStopped = errors.New("commit process is stopped")
	ErrApplyTimeout   = errors.New("timed out waiting for the transaction to be applied")
)

// Process commits transactions: it appends them to the log in id order,
// publishes them as committed, and hands them to a pool of apply workers
// that close them. Workers finish in any order, so closes reach the id
// store out of order. Transactions writing the same key still reach
// storage in log order.
//
// Every command is logged with the value its key had before it, so a
// transaction can be undone in ModeReverse. Live commits always write whole
// transactions; chunked batches only come from other log writers.
type Process struct {
	log      *txnlog.Log
	store    *txnid.TransactionIdStore
	cache    *txnlog.TransactionMetadataCache
	engine   storage.Engine
	contexts *storage.CursorContextFactory
	pending  *pendingWrites

	kernelVersion txnlog.KernelVersion
	applyWorkers  int
	applyTimeout  time.Duration

	// Serializes id allocation with the log append, so append order is id
	// order.
	appendMu sync.Mutex

	mu      sync.RWMutex
	started bool
	stopped bool
	worker  *worker.Worker
	wg      sync.WaitGroup
}

type applyTask struct {
	batch      *txnlog.CommittedCommandBatch
	commitment Commitment
	applied    chan struct{}
	done       chan error
}

func NewProcess(l *txnlog.Log, store *txnid.TransactionIdStore, cache *txnlog.TransactionMetadataCache,
	engine storage.Engine, cfg *config.Config) (*Process, error) {
	kv, err := txnlog.ParseKernelVersion(cfg.KernelVersion)
	if err != nil {
		return nil, err
	}
	p := &Process{
		log:           l,
		store:         store,
		cache:         cache,
		engine:        engine,
		contexts:      storage.NewCursorContextFactory(),
		kernelVersion: kv,
		applyWorkers:  cfg.ApplyWorkers,
		applyTimeout:  cfg.ApplyTimeout,
	}
	p.pending = newPendingWrites(engine, p.contexts)
	p.worker = worker.NewWorker("apply", &p.wg)
	return p, nil
}

func (p *Process) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.worker.StartPool(p.applyWorkers, func(i int) worker.TaskHandler {
		return &applyHandler{p: p}
	})
	log.Infof("commit process started with %d apply workers", p.applyWorkers)
}

// Stop waits for the queued transactions to be applied.
func (p *Process) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.worker.Stop()
	p.wg.Wait()
	log.Infof("commit process stopped, closed watermark %d", p.store.LastClosedTransactionID())
}

// Commit writes commands as one transaction and waits until it is applied
// and closed. An empty transaction writes nothing and returns id 0.
//
// A failure to append or apply leaves a hole below which the watermarks can
// never move, so it marks the id store unhealthy and every later commit
// fails.
//
// The wait for earlier transactions writing the same keys is not bounded by
// ctx; once in the log a transaction has to be applied.
func (p *Process) Commit(ctx context.Context, commands []txnlog.Command) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		return 0, ErrProcessStopped
	}
	if err := p.store.Health().Check(); err != nil {
		return 0, err
	}
	if len(commands) == 0 {
		return 0, NoCommitment.PublishAsClosed()
	}

	commitment := NewCommitment(p.cache, p.store)
	batch, before, waits, applied, err := p.append(commitment, commands)
	if err != nil {
		return 0, err
	}
	if err = commitment.PublishAsCommitted(batch.CommitTimestamp, batch.AppendIndex, before); err != nil {
		p.pending.release(batch.TransactionID, batch.Commands, applied)
		return batch.TransactionID, err
	}

	for _, ch := range waits {
		<-ch
	}
	task := &applyTask{batch: batch, commitment: commitment, applied: applied, done: make(chan error, 1)}
	p.worker.Sender() <- task

	var timeout <-chan time.Time
	if p.applyTimeout > 0 {
		timer := time.NewTimer(p.applyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case err = <-task.done:
		return batch.TransactionID, err
	case <-ctx.Done():
		return batch.TransactionID, errors.Annotatef(ctx.Err(), "transaction %d committed, not yet closed", batch.TransactionID)
	case <-timeout:
		return batch.TransactionID, errors.Annotatef(ErrApplyTimeout, "transaction %d", batch.TransactionID)
	}
}

func (p *Process) append(commitment Commitment, commands []txnlog.Command) (
	*txnlog.CommittedCommandBatch, txnlog.LogPosition, []<-chan struct{}, chan struct{}, error) {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	commands = append([]txnlog.Command(nil), commands...)
	// Read before-images ahead of NextID: an id allocated and never appended
	// would hold the committed watermark back for good.
	waits, err := p.pending.fill(commands)
	if err != nil {
		return nil, txnlog.LogPosition{}, nil, nil, err
	}

	txID := p.store.NextID()
	appendIndex := p.store.LastAppendIndex() + 1
	commitTs := time.Now().UnixNano() / int64(time.Millisecond)
	batch := txnlog.NewTransactionBatch(txID, appendIndex, p.kernelVersion, commitTs, commands)
	batch.TimeStarted = commitTs

	before, after, err := p.log.Append(batch)
	failpoint.Inject("appendTransactionFail", func() {
		err = errors.New("injected log append failure")
	})
	if err != nil {
		p.store.Health().Panic(err)
		return nil, txnlog.LogPosition{}, nil, nil, errors.Annotatef(err, "append transaction %d", txID)
	}
	applied := p.pending.register(txID, batch.Commands)
	err = commitment.Commit(txID, appendIndex, batch.KernelVersion, before, after, batch.Checksum, batch.ConsensusIndex)
	if err != nil {
		p.pending.release(txID, batch.Commands, applied)
		return nil, txnlog.LogPosition{}, nil, nil, err
	}
	return batch, before, waits, applied, nil
}

// Store is the transaction id store the process publishes to.
func (p *Process) Store() *txnid.TransactionIdStore {
	return p.store
}

type applyHandler struct {
	p *Process
}

func (h *applyHandler) Handle(t worker.Task) {
	task := t.(*applyTask)
	err := h.apply(task)
	h.p.pending.release(task.batch.TransactionID, task.batch.Commands, task.applied)
	task.done <- err
}

func (h *applyHandler) apply(task *applyTask) error {
	ctx := h.p.contexts.Create("apply")
	defer ctx.Close()
	cursors := h.p.engine.CreateStorageCursors(ctx)
	defer cursors.Close()

	txID := task.batch.TransactionID
	ctx.VersionContext().InitWrite(txID)
	unit := storage.NewTransactionToApply(task.batch, ctx, cursors)
	if err := h.p.engine.Apply(unit, storage.ModeNormal); err != nil {
		h.p.store.Health().Panic(errors.Annotatef(err, "apply transaction %d", txID))
		return err
	}
	return task.commitment.PublishAsClosed()
}
