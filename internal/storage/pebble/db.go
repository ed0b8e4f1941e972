// Package pebblestore keeps ordered collections in an embedded Pebble
// database. Rank order is the key order of the "order/" index, so listing a
// collection is a single bounded scan.
package pebblestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	// FsyncModeUnspecified behaves like FsyncModeAlways.
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on each committed batch.
	FsyncModeAlways
	// FsyncModeInterval syncs every batch but lets Pebble coalesce the WAL
	// syncs of concurrent commits within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble; a crash may lose the last
	// acknowledged writes.
	FsyncModeNever
)

// ParseFsyncMode maps "always", "interval" and "never" to a mode. The empty
// string is FsyncModeAlways.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", s)
	}
}

// Options configures the Pebble store.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// db wraps a Pebble instance with its fsync policy.
type db struct {
	inner     *pebble.DB
	writeSync bool
}

func openDB(opts Options) (*db, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	if opts.Fsync == FsyncModeInterval {
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	return &db{inner: inner, writeSync: opts.Fsync != FsyncModeNever}, nil
}

func (d *db) commit(b *pebble.Batch) error {
	if d.writeSync {
		return b.Commit(pebble.Sync)
	}
	return b.Commit(pebble.NoSync)
}

// get copies the value for key.
func get(r pebble.Reader, key []byte) ([]byte, error) {
	val, closer, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func has(r pebble.Reader, key []byte) (bool, error) {
	_, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (d *db) close() error {
	if d == nil || d.inner == nil {
		return nil
	}
	return d.inner.Close()
}
