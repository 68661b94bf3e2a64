package txnid

import (
	"fmt"

	"github.com/pingcap/errors"
)

// ErrStoreUnhealthy is returned by every mutating call once a durability
// write of the store has failed. Compare with errors.Cause.
var ErrStoreUnhealthy = errors.New("transaction id store is unhealthy, refusing updates")

// ErrOrderingViolation reports an update that breaks the id ordering
// contract, such as closing an id twice or closing an id that never
// committed. Watermarks are left untouched.
type ErrOrderingViolation struct {
	Op     string
	ID     uint64
	Reason string
}

func (e *ErrOrderingViolation) Error() string {
	return fmt.Sprintf("%s of transaction %d violates ordering: %s", e.Op, e.ID, e.Reason)
}

// IsOrderingViolation reports whether err, or its cause, is an
// *ErrOrderingViolation.
func IsOrderingViolation(err error) bool {
	_, ok := errors.Cause(err).(*ErrOrderingViolation)
	return ok
}
