package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"fleetlink/pkg/telemetry"
)

// Store implements storage.Store using BadgerDB (LSM tree)
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB archive backend
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Telemetry values are small; keep the memory footprint modest.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(1).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Write persists one sample. Keys sort by vehicle then timestamp so
// per-vehicle scans are contiguous.
func (s *Store) Write(ctx context.Context, sample telemetry.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(sample.VIN, sample.Timestamp), value)
	})
}

// Recent returns up to limit samples for the vehicle, newest first.
func (s *Store) Recent(ctx context.Context, vin string, limit int) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := vehiclePrefix(vin)
	var results []telemetry.Sample

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode, seek to just past the vehicle's key range
		// and walk back toward the oldest sample.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

		var iterCount int
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			err := it.Item().Value(func(val []byte) error {
				var sample telemetry.Sample
				if err := json.Unmarshal(val, &sample); err != nil {
					return err
				}
				results = append(results, sample)
				return nil
			})
			if err != nil {
				return err
			}

			if limit > 0 && len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection to reclaim disk
// space. Returns badger.ErrNoRewrite when no GC was needed.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// makeKey creates a sortable key: [vehicle_hash (8 bytes)][timestamp_ms (8 bytes)]
func makeKey(vin string, timestampMS int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], xxhash.Sum64String(vin))
	binary.BigEndian.PutUint64(key[8:16], uint64(timestampMS))
	return key
}

// vehiclePrefix returns the 8-byte key prefix covering one vehicle
func vehiclePrefix(vin string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(vin))
	return prefix
}
