package storage

import (
	"context"

	"fleetlink/pkg/telemetry"
)

// Store is the telemetry archive collaborator. Ingestion writes to it
// fire-and-forget: a failing archive is logged and never fails the
// ingestion path.
// Implementations: memory (testing), badger (production)
type Store interface {
	// Write persists one reconstructed sample
	Write(ctx context.Context, sample telemetry.Sample) error

	// Recent returns up to limit samples for a vehicle, newest first
	Recent(ctx context.Context, vin string, limit int) ([]telemetry.Sample, error)

	// Close cleanly shuts down the store
	Close() error
}
