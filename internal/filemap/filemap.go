// Package filemap keeps a best-effort local mapping from content id to the
// human filename a record was uploaded under. The ledger never sees
// filenames; this index is advisory and its absence must never block
// retrieval.
package filemap

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

// Config configures the index.
type Config struct {
	// Path is the badger data directory.
	Path string
	// MinimumFreeGB refuses to open the index when the volume holding Path
	// has less free space than this. Zero disables the check.
	MinimumFreeGB uint64
	Logger        *logrus.Logger
}

// Index is a durable cid→filename store on badger.
type Index struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens (creating if needed) the index at cfg.Path and logs a
// free-space report for the volume.
func Open(cfg Config) (*Index, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("filemap: path is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("filemap: mkdir %s: %w", cfg.Path, err)
	}

	if err := checkFreeSpace(cfg.Path, cfg.MinimumFreeGB, log); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("filemap: open badger at %s: %w", cfg.Path, err)
	}

	return &Index{db: db, log: log}, nil
}

// Put records the filename for a content id, overwriting any prior value.
func (ix *Index) Put(cid, filename string) error {
	if cid == "" {
		return fmt.Errorf("filemap: empty content id")
	}
	err := ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cid), []byte(filename))
	})
	if err != nil {
		return fmt.Errorf("filemap: put %s: %w", cid, err)
	}
	return nil
}

// Get returns the filename recorded for cid. A missing entry is not an
// error; callers fall back to a generic name.
func (ix *Index) Get(cid string) (string, bool) {
	var filename string
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cid))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		filename = string(value)
		return nil
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			ix.log.WithField("cid", cid).Warnf("filename lookup failed: %v", err)
		}
		return "", false
	}
	return filename, true
}

// Close syncs and closes the underlying store.
func (ix *Index) Close() error {
	if err := ix.db.Sync(); err != nil && !errors.Is(err, badger.ErrDBClosed) {
		ix.log.Warnf("sync before close failed: %v", err)
	}
	return ix.db.Close()
}

func checkFreeSpace(path string, minimumFreeGB uint64, log *logrus.Logger) error {
	usage, err := disk.Usage(path)
	if err != nil {
		log.WithField("path", path).Warnf("disk usage unavailable: %v", err)
		return nil
	}

	freeGB := float64(usage.Free) / 1e9
	log.WithFields(logrus.Fields{
		"path":       path,
		"total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"free (GB)":  fmt.Sprintf("%.2f", freeGB),
	}).Info("filename index disk usage")

	if minimumFreeGB > 0 && usage.Free < minimumFreeGB*1e9 {
		return fmt.Errorf("filemap: %s has %.2f GB free, below the %d GB minimum", path, freeGB, minimumFreeGB)
	}
	return nil
}
