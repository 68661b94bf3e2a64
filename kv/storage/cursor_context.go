package storage

import (
	"sync"

	"go.uber.org/atomic"
)

// VersionContext carries the transaction a cursor context is writing for.
type VersionContext struct {
	committing *atomic.Uint64
}

func newVersionContext() *VersionContext {
	return &VersionContext{committing: atomic.NewUint64(0)}
}

// InitWrite prepares the context for writing the effects of txID.
func (v *VersionContext) InitWrite(txID uint64) {
	v.committing.Store(txID)
}

// CommittingTransactionID is 0 until InitWrite is called.
func (v *VersionContext) CommittingTransactionID() uint64 {
	return v.committing.Load()
}

// CursorContext scopes the page cursors and version information of one
// unit of work, such as a recovery pass or a single live apply.
type CursorContext struct {
	tag     string
	version *VersionContext
	factory *CursorContextFactory

	closeOnce sync.Once
}

func (c *CursorContext) Tag() string {
	return c.tag
}

func (c *CursorContext) VersionContext() *VersionContext {
	return c.version
}

// Close may be called more than once.
func (c *CursorContext) Close() error {
	c.closeOnce.Do(func() {
		c.factory.open.Dec()
		openContextGauge.Dec()
	})
	return nil
}

// CursorContextFactory creates cursor contexts and counts the open ones.
type CursorContextFactory struct {
	open *atomic.Int64
}

func NewCursorContextFactory() *CursorContextFactory {
	return &CursorContextFactory{open: atomic.NewInt64(0)}
}

// Create opens a context tagged with tag, used to attribute its work.
func (f *CursorContextFactory) Create(tag string) *CursorContext {
	f.open.Inc()
	openContextGauge.Inc()
	return &CursorContext{
		tag:     tag,
		version: newVersionContext(),
		factory: f,
	}
}

// Open is the number of contexts created and not yet closed.
func (f *CursorContextFactory) Open() int64 {
	return f.open.Load()
}
