package txnlog

import (
	"fmt"

	"github.com/pingcap-incubator/tinytxn/proto/pkg/txnlogpb"
)

// LogPosition points into the transaction log: a log version (segment) and a
// byte offset inside it. Positions are ordered by version, then offset.
type LogPosition struct {
	logVersion uint64
	byteOffset uint64
}

// UnspecifiedPosition is used where no position has been recorded yet.
var UnspecifiedPosition = LogPosition{logVersion: ^uint64(0), byteOffset: ^uint64(0)}

func NewLogPosition(logVersion, byteOffset uint64) LogPosition {
	return LogPosition{logVersion: logVersion, byteOffset: byteOffset}
}

// StartPosition is the first position of a log version.
func StartPosition(logVersion uint64) LogPosition {
	return LogPosition{logVersion: logVersion}
}

func (p LogPosition) LogVersion() uint64 { return p.logVersion }

func (p LogPosition) ByteOffset() uint64 { return p.byteOffset }

func (p LogPosition) Compare(other LogPosition) int {
	switch {
	case p.logVersion < other.logVersion:
		return -1
	case p.logVersion > other.logVersion:
		return 1
	case p.byteOffset < other.byteOffset:
		return -1
	case p.byteOffset > other.byteOffset:
		return 1
	}
	return 0
}

func (p LogPosition) Less(other LogPosition) bool {
	return p.Compare(other) < 0
}

func (p LogPosition) Equal(other LogPosition) bool {
	return p == other
}

func (p LogPosition) IsUnspecified() bool {
	return p == UnspecifiedPosition
}

func (p LogPosition) String() string {
	return fmt.Sprintf("LogPosition{logVersion=%d, byteOffset=%d}", p.logVersion, p.byteOffset)
}

func (p LogPosition) ToProto() *txnlogpb.LogPosition {
	return &txnlogpb.LogPosition{LogVersion: p.logVersion, ByteOffset: p.byteOffset}
}

// PositionFromProto returns UnspecifiedPosition for a nil message.
func PositionFromProto(m *txnlogpb.LogPosition) LogPosition {
	if m == nil {
		return UnspecifiedPosition
	}
	return NewLogPosition(m.LogVersion, m.ByteOffset)
}
