package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"fleetlink/pkg/config"
	"fleetlink/pkg/predictor"
	"fleetlink/pkg/storage"
	"fleetlink/pkg/telemetry"
	"fleetlink/pkg/wire"
)

// ErrDecode reports a malformed binary payload. The request or message
// is dropped and logged; it never crashes the ingestion loop.
var ErrDecode = errors.New("ingest: undecodable payload")

// VehicleResolver resolves a VIN to an internal vehicle identifier.
type VehicleResolver interface {
	ResolveVIN(vin string) (string, error)
}

// Router is the single ingestion entry point. Both the HTTP handler and
// the broker consumer call Ingest against the same predictor states and
// history buffer, so the whole pipeline runs under one mutex: the two
// contexts can never interleave a read-modify-write on predictor fields.
type Router struct {
	mu sync.Mutex

	cfg        predictor.Config
	predictors map[string]*predictor.State

	history  *History
	resolver VehicleResolver
	archive  storage.Store
	hub      *Hub

	now func() time.Time
}

// NewRouter wires the ingestion pipeline. resolver, archive, and hub may
// each be nil (lookup skipped, archiving disabled, no fan-out).
func NewRouter(cfg predictor.Config, history *History, resolver VehicleResolver, archive storage.Store, hub *Hub) *Router {
	return &Router{
		cfg:        cfg,
		predictors: make(map[string]*predictor.State),
		history:    history,
		resolver:   resolver,
		archive:    archive,
		hub:        hub,
		now:        time.Now,
	}
}

// Ingest decodes one raw payload, reconstructs omitted fields when the
// payload is delta-encoded, buffers the result, and fans it out.
// Safe for concurrent use from the HTTP and broker contexts.
func (r *Router) Ingest(raw []byte, vin string, compressed bool) (telemetry.Sample, error) {
	packet, err := wire.Decode(raw)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if packet.VIN == "" {
		// Broker messages carry the VIN in the key; legacy edge
		// firmware omits it from the payload.
		packet.VIN = vin
	}

	r.mu.Lock()
	sample := r.buildSample(packet, compressed)
	stats := r.statsLocked()
	r.mu.Unlock()

	sample.VehicleID = r.resolveVehicle(sample.VIN)

	r.history.Append(sample)
	r.archiveAsync(sample)

	if r.hub != nil {
		if err := r.hub.BroadcastTelemetry(sample, stats); err != nil {
			log.Printf("Broadcast failed: %v", err)
		}
	}

	return sample, nil
}

// buildSample reconstructs or passes through one packet. Caller holds mu.
func (r *Router) buildSample(packet *wire.Packet, compressed bool) telemetry.Sample {
	sample := telemetry.Sample{
		Timestamp:  packet.Timestamp,
		Odometer:   packet.Odometer,
		VIN:        packet.VIN,
		Compressed: compressed,
	}

	if !compressed {
		// Legacy uncompressed packets bypass the predictor entirely:
		// fields are taken verbatim and the state is left untouched.
		sample.Speed = deref(packet.Speed)
		sample.Power = deref(packet.Power)
		sample.BatteryLevel = deref(packet.Battery)
		sample.Heading = deref(packet.Heading)
		return sample
	}

	state, ok := r.predictors[packet.VIN]
	if !ok {
		state = predictor.NewState(r.cfg, r.now())
		r.predictors[packet.VIN] = state
	}

	observed := predictor.Observed{
		Speed:   packet.Speed,
		Power:   packet.Power,
		Battery: packet.Battery,
		Heading: packet.Heading,
	}

	reading := state.Reconstruct(observed)
	state.UpdateWithActual(observed)

	sample.Speed = reading.Speed
	sample.Power = reading.Power
	sample.BatteryLevel = reading.Battery
	sample.Heading = reading.Heading
	return sample
}

// resolveVehicle maps a VIN to the internal id. An unresolvable VIN is
// logged and the sample proceeds with an empty vehicle reference rather
// than failing the ingestion.
func (r *Router) resolveVehicle(vin string) string {
	if r.resolver == nil || vin == "" {
		return ""
	}
	id, err := r.resolver.ResolveVIN(vin)
	if err != nil {
		log.Printf("Unknown vehicle %q, ingesting without vehicle reference: %v", vin, err)
		return ""
	}
	return id
}

// archiveAsync hands the sample to the archive collaborator
// fire-and-forget; archive failures never fail ingestion.
func (r *Router) archiveAsync(sample telemetry.Sample) {
	if r.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ArchiveWriteTimeout)
		defer cancel()
		if err := r.archive.Write(ctx, sample); err != nil {
			log.Printf("Archive write failed for %s: %v", sample.VIN, err)
		}
	}()
}

// Stats returns the compression counters aggregated across all vehicles.
func (r *Router) Stats() telemetry.CompressionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Router) statsLocked() telemetry.CompressionStats {
	var total telemetry.CompressionStats
	for _, state := range r.predictors {
		s := state.Stats()
		total.TotalReadings += s.TotalReadings
		total.TransmittedReadings += s.TransmittedReadings
		total.SkippedReadings += s.SkippedReadings
	}
	if total.TotalReadings > 0 {
		ratio := float64(total.SkippedReadings) / float64(total.TotalReadings) * 100.0
		total.CompressionRatio = math.Round(ratio*100) / 100
	}
	return total
}

// Snapshot returns the most recent n buffered samples.
func (r *Router) Snapshot(n int) []telemetry.Sample {
	return r.history.Snapshot(n)
}

// Buffered returns the current buffered-record count.
func (r *Router) Buffered() int {
	return r.history.Len()
}

// Reset clears the history buffer and resets every predictor state
// (counters and prediction flags) for a new logging run.
func (r *Router) Reset() {
	r.mu.Lock()
	now := r.now()
	for _, state := range r.predictors {
		state.Reset(now)
	}
	r.mu.Unlock()

	r.history.Clear()
	log.Println("History buffer cleared, predictor counters reset")
}

// ConnectState builds the replay state for a new subscriber.
func (r *Router) ConnectState() ConnectState {
	return ConnectState{
		History:  r.history.Snapshot(config.HistoryReplaySize),
		Buffered: r.history.Len(),
		Stats:    r.Stats(),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
