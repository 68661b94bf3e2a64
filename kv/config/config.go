package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/coreos/go-semver/semver"
	"github.com/docker/go-units"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
)

type Config struct {
	LogLevel string
	// Rotated log file, empty means stderr.
	LogFile      string
	LogMaxSizeMB int

	DBPath string // Directory to store the data in. Should exist and be writable.

	// StatusAddr serves /status, /watermarks and /metrics. Empty disables it.
	StatusAddr string

	// KernelVersion is the newest kernel format this process may write. Batches
	// from a newer kernel are refused during recovery.
	KernelVersion string

	// A log segment is rotated to the next log version once it grows past
	// this size, e.g. "64MB".
	LogSegmentSize string

	// Capacity of the transaction id -> log position cache.
	MetadataCacheSize int

	// Number of goroutines applying committed transactions to storage.
	ApplyWorkers int
	// How long a committer waits for its transaction to be closed.
	ApplyTimeout time.Duration

	// Cut a corrupt log tail back to the last valid record during recovery
	// instead of refusing to start.
	TruncateCorruptTail bool
	// Tag of the cursor context opened for a recovery pass.
	RecoveryTracerTag string
}

func (c *Config) Validate() error {
	if c.MetadataCacheSize <= 0 {
		return fmt.Errorf("metadata cache size must be greater than 0")
	}
	if c.ApplyWorkers <= 0 {
		return fmt.Errorf("apply workers must be greater than 0")
	}
	if _, err := c.SegmentSize(); err != nil {
		return err
	}
	if _, err := semver.NewVersion(c.KernelVersion); err != nil {
		return errors.Annotatef(err, "invalid kernel version %q", c.KernelVersion)
	}
	if c.TruncateCorruptTail {
		log.Warnf("corrupt log tails will be truncated during recovery, " +
			"records after the first corrupt one are lost.")
	}
	return nil
}

// SegmentSize returns LogSegmentSize in bytes.
func (c *Config) SegmentSize() (uint64, error) {
	size, err := units.RAMInBytes(c.LogSegmentSize)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid log segment size %q", c.LogSegmentSize)
	}
	if size <= 0 {
		return 0, fmt.Errorf("log segment size must be greater than 0")
	}
	return uint64(size), nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:          getLogLevel(),
		LogMaxSizeMB:      300,
		DBPath:            "/tmp/tinytxn",
		StatusAddr:        "127.0.0.1:20180",
		KernelVersion:     "5.20.0",
		LogSegmentSize:    "256MB",
		MetadataCacheSize: 100000,
		ApplyWorkers:      4,
		ApplyTimeout:      10 * time.Second,
		RecoveryTracerTag: "recovery",
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:          getLogLevel(),
		LogMaxSizeMB:      16,
		DBPath:            "/tmp/tinytxn-test",
		KernelVersion:     "5.20.0",
		LogSegmentSize:    "4KB",
		MetadataCacheSize: 128,
		ApplyWorkers:      4,
		ApplyTimeout:      5 * time.Second,
		RecoveryTracerTag: "recovery",
	}
}

// LoadFile overlays the TOML file at path onto the default config.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if path == "" {
		return conf, nil
	}
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	return conf, nil
}
