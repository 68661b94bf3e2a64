package txnlog

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/errors"
)

// KernelVersion identifies the format a transaction was written with.
type KernelVersion uint8

const (
	KernelVersionV5_0  KernelVersion = 1
	KernelVersionV5_7  KernelVersion = 2
	KernelVersionV5_20 KernelVersion = 3

	LatestKernelVersion = KernelVersionV5_20
)

var kernelVersions = map[KernelVersion]string{
	KernelVersionV5_0:  "5.0.0",
	KernelVersionV5_7:  "5.7.0",
	KernelVersionV5_20: "5.20.0",
}

func (v KernelVersion) String() string {
	if s, ok := kernelVersions[v]; ok {
		return "V" + s
	}
	return fmt.Sprintf("KernelVersion(%d)", uint8(v))
}

func (v KernelVersion) Known() bool {
	_, ok := kernelVersions[v]
	return ok
}

// ParseKernelVersion maps a semantic version to the newest kernel version
// that is not newer than it.
func ParseKernelVersion(s string) (KernelVersion, error) {
	want, err := semver.NewVersion(s)
	if err != nil {
		return 0, errors.Annotatef(err, "parse kernel version %q", s)
	}
	var found KernelVersion
	for kv, str := range kernelVersions {
		v := semver.New(str)
		if want.LessThan(*v) {
			continue
		}
		if kv > found {
			found = kv
		}
	}
	if found == 0 {
		return 0, errors.Errorf("kernel version %s is older than any supported version", s)
	}
	return found, nil
}
