package storage

import "fmt"

// ApplicationMode tells the engine how a unit is being applied.
type ApplicationMode int

const (
	// ModeNormal is live application of a freshly committed transaction.
	ModeNormal ApplicationMode = iota
	// ModeRecovery replays a transaction from the log after a crash. The
	// transaction may already be applied, in which case it is skipped.
	ModeRecovery
	// ModeReverse undoes a transaction, applying the before-images of its
	// commands in reverse order.
	ModeReverse
)

func (m ApplicationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRecovery:
		return "recovery"
	case ModeReverse:
		return "reverse"
	}
	return fmt.Sprintf("ApplicationMode(%d)", int(m))
}

func (m ApplicationMode) IsReverse() bool {
	return m == ModeReverse
}

func (m ApplicationMode) IsRecovery() bool {
	return m == ModeRecovery || m == ModeReverse
}
