package txnid

import (
	"sync"

	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Health latches the first fatal error of the store. Once panicked it never
// recovers; the process has to restart and run recovery.
type Health struct {
	healthy *atomic.Bool

	mu    sync.Mutex
	cause error
}

func NewHealth() *Health {
	return &Health{healthy: atomic.NewBool(true)}
}

func (h *Health) Healthy() bool {
	return h.healthy.Load()
}

// Panic records cause. Only the first cause is kept.
func (h *Health) Panic(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cause != nil {
		return
	}
	h.cause = cause
	h.healthy.Store(false)
	healthGauge.Set(0)
	log.Errorf("transaction id store panicked, the kernel is now read-only: %v", cause)
}

func (h *Health) Cause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cause
}

// Check returns nil while healthy, else ErrStoreUnhealthy annotated with the
// original cause.
func (h *Health) Check() error {
	if h.healthy.Load() {
		return nil
	}
	return errors.Annotatef(ErrStoreUnhealthy, "caused by: %v", h.Cause())
}
