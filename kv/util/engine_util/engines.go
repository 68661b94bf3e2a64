package engine_util

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/coocood/badger"
	"github.com/pingcap/errors"
)

// Engines keeps references to and data for the engines used by the kernel.
// All engines are badger key/value databases.
// the Path fields are the filesystem path to where the data is stored.
type Engines struct {
	// Store data, written by the storage engine when transactions are applied.
	Kv     *badger.DB
	KvPath string
	// The transaction log and the transaction id store metadata.
	Log     *badger.DB
	LogPath string
}

func NewEngines(kvEngine, logEngine *badger.DB, kvPath, logPath string) *Engines {
	return &Engines{
		Kv:      kvEngine,
		KvPath:  kvPath,
		Log:     logEngine,
		LogPath: logPath,
	}
}

// OpenEngines opens (or creates) both engines below dbPath.
func OpenEngines(dbPath string) (*Engines, error) {
	kvPath := filepath.Join(dbPath, "kv")
	kv, err := CreateDB(kvPath, 256)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(dbPath, "txlog")
	// Log records are read back sequentially, keep them out of the value log.
	logDB, err := CreateDB(logPath, 0)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return NewEngines(kv, logDB, kvPath, logPath), nil
}

func (en *Engines) Close() error {
	if err := en.Kv.Close(); err != nil {
		return err
	}
	if err := en.Log.Close(); err != nil {
		return err
	}
	return nil
}

func (en *Engines) Destroy() error {
	if err := en.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(en.KvPath); err != nil {
		return err
	}
	if err := os.RemoveAll(en.LogPath); err != nil {
		return err
	}
	return nil
}

// CreateDB creates a new Badger DB on disk at dir.
func CreateDB(dir string, valueThreshold int) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.ValueThreshold = valueThreshold
	opts.SyncWrites = true
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", dir)
	}
	return db, nil
}

// NewTestEngines opens both engines in fresh temporary directories.
func NewTestEngines() *Engines {
	dir, err := ioutil.TempDir("", "tinytxn")
	if err != nil {
		panic("create test dir failed")
	}
	engines, err := OpenEngines(dir)
	if err != nil {
		panic(err)
	}
	return engines
}

// ReopenTestEngines closes engines and opens them again from the same paths,
// simulating a process restart.
func ReopenTestEngines(engines *Engines) *Engines {
	if err := engines.Close(); err != nil {
		panic(err)
	}
	kv, err := CreateDB(engines.KvPath, 256)
	if err != nil {
		panic(err)
	}
	logDB, err := CreateDB(engines.LogPath, 0)
	if err != nil {
		panic(err)
	}
	return NewEngines(kv, logDB, engines.KvPath, engines.LogPath)
}
