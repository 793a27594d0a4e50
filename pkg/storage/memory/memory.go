package memory

import (
	"context"
	"sync"

	"fleetlink/pkg/telemetry"
)

// Store keeps samples in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	samples []telemetry.Sample
	mu      sync.RWMutex
}

// New creates an in-memory archive backend
func New() *Store {
	return &Store{
		samples: make([]telemetry.Sample, 0, 1024),
	}
}

// Write stores one sample in memory
func (s *Store) Write(ctx context.Context, sample telemetry.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	return nil
}

// Recent returns up to limit samples for the vehicle, newest first
func (s *Store) Recent(ctx context.Context, vin string, limit int) ([]telemetry.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []telemetry.Sample
	for i := len(s.samples) - 1; i >= 0; i-- {
		if s.samples[i].VIN != vin {
			continue
		}
		results = append(results, s.samples[i])
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}
