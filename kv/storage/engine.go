package storage

import (
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
)

// Engine applies the effects of committed transactions to storage.
type Engine interface {
	// Apply writes every command of unit atomically. In ModeRecovery a unit
	// that was already applied is skipped; in ModeReverse its effects are
	// undone.
	Apply(unit CommandBatchToApply, mode ApplicationMode) error
	// CreateStorageCursors opens read cursors bound to ctx. The caller
	// closes them.
	CreateStorageCursors(ctx *CursorContext) StoreCursors
}

// StoreCursors reads the store from a fixed point in time.
type StoreCursors interface {
	Get(cf string, key []byte) ([]byte, error)
	Close()
}

// reverseCommands turns commands into the commands undoing them, last first.
func reverseCommands(commands []txnlog.Command) []txnlog.Command {
	undo := make([]txnlog.Command, 0, len(commands))
	for i := len(commands) - 1; i >= 0; i-- {
		c := commands[i]
		if c.Before == nil {
			undo = append(undo, txnlog.Command{Op: txnlog.OpDelete, CF: c.CF, Key: c.Key})
		} else {
			undo = append(undo, txnlog.Command{Op: txnlog.OpPut, CF: c.CF, Key: c.Key, Value: c.Before})
		}
	}
	return undo
}
