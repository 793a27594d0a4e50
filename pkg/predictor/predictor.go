package predictor

import (
	"math"
	"time"

	"fleetlink/pkg/telemetry"
)

// Config holds the tuning parameters shared between the edge encoder and
// the cloud decoder. Both sides must run with identical values or their
// predicted values drift apart.
type Config struct {
	// Alpha is the exponential smoothing factor, in (0, 1].
	Alpha float64

	// Per-field transmission thresholds. A field is sent when the
	// actual value deviates from the prediction by more than this.
	SpeedThreshold   float64 // mph
	PowerThreshold   float64 // kW
	BatteryThreshold float64 // percent
	HeadingThreshold float64 // degrees

	// ResyncInterval forces a full-fidelity packet on a timer to bound
	// drift between the encoder and decoder predictor copies.
	ResyncInterval time.Duration
}

// DefaultConfig returns the parameters the fleet's edge encoders ship with.
func DefaultConfig() Config {
	return Config{
		Alpha:            0.3,
		SpeedThreshold:   2.0,
		PowerThreshold:   5.0,
		BatteryThreshold: 0.5,
		HeadingThreshold: 5.0,
		ResyncInterval:   30 * time.Second,
	}
}

// Reading is one full set of the four tracked field values.
type Reading struct {
	Speed   float64
	Power   float64
	Battery float64
	Heading float64
}

// Observed carries the fields actually present in a compressed packet.
// A nil pointer means the field was omitted, which is distinct from a
// transmitted zero.
type Observed struct {
	Speed   *float64
	Power   *float64
	Battery *float64
	Heading *float64
}

// Decision reports, per field, whether the edge encoder must transmit
// the value verbatim on this tick.
type Decision struct {
	Speed   bool
	Power   bool
	Battery bool
	Heading bool

	// Resync is set when the decision was forced by the resync timer.
	Resync bool
}

// Any reports whether at least one field must be transmitted.
func (d Decision) Any() bool {
	return d.Speed || d.Power || d.Battery || d.Heading
}

// State is the mutable predictor state for a single vehicle. It is not
// internally synchronized: the ingestion router serializes all access.
type State struct {
	cfg Config

	predictedSpeed   float64
	predictedPower   float64
	predictedBattery float64
	predictedHeading float64

	hasSpeed   bool
	hasPower   bool
	hasBattery bool
	hasHeading bool

	totalReadings       int64
	transmittedReadings int64
	skippedReadings     int64

	lastResync time.Time
}

// NewState creates an empty predictor state. The resync timer starts at now.
func NewState(cfg Config, now time.Time) *State {
	return &State{cfg: cfg, lastResync: now}
}

// Decide evaluates one sampling tick the way the edge encoder does and
// returns the per-field transmission decisions. Predictions for all four
// fields are updated afterwards regardless of the decisions, so the edge
// and cloud predictor copies advance in lockstep.
func (s *State) Decide(r Reading, now time.Time) Decision {
	s.totalReadings++

	var d Decision
	if now.Sub(s.lastResync) >= s.cfg.ResyncInterval {
		d = Decision{Speed: true, Power: true, Battery: true, Heading: true, Resync: true}
		s.lastResync = now
	} else {
		d.Speed = s.shouldTransmit(r.Speed, s.predictedSpeed, s.cfg.SpeedThreshold, s.hasSpeed)
		d.Power = s.shouldTransmit(r.Power, s.predictedPower, s.cfg.PowerThreshold, s.hasPower)
		d.Battery = s.shouldTransmit(r.Battery, s.predictedBattery, s.cfg.BatteryThreshold, s.hasBattery)
		d.Heading = s.shouldTransmit(r.Heading, s.predictedHeading, s.cfg.HeadingThreshold, s.hasHeading)
	}

	// Edge-side counters are packet-level: a packet with any field
	// transmitted counts once.
	if d.Any() {
		s.transmittedReadings++
	} else {
		s.skippedReadings++
	}

	s.predictedSpeed = s.smooth(r.Speed, s.predictedSpeed, s.hasSpeed)
	s.predictedPower = s.smooth(r.Power, s.predictedPower, s.hasPower)
	s.predictedBattery = s.smooth(r.Battery, s.predictedBattery, s.hasBattery)
	s.predictedHeading = s.smooth(r.Heading, s.predictedHeading, s.hasHeading)

	s.hasSpeed = true
	s.hasPower = true
	s.hasBattery = true
	s.hasHeading = true

	return d
}

// Reconstruct fills the omitted fields of a compressed packet from the
// current predictions. Present fields pass through exactly. It does not
// mutate the state; call UpdateWithActual afterwards with the same
// Observed to advance the predictions.
func (s *State) Reconstruct(o Observed) Reading {
	var r Reading

	if o.Speed != nil {
		r.Speed = *o.Speed
	} else {
		r.Speed = s.predictedSpeed
	}
	if o.Power != nil {
		r.Power = *o.Power
	} else {
		r.Power = s.predictedPower
	}
	if o.Battery != nil {
		r.Battery = *o.Battery
	} else {
		r.Battery = s.predictedBattery
	}
	if o.Heading != nil {
		r.Heading = *o.Heading
	} else {
		// The edge transmits headings as whole degrees; a predicted
		// heading must match that representation.
		r.Heading = wrapHeading(math.Round(s.predictedHeading))
	}

	return r
}

// UpdateWithActual advances the predictions using only the fields that
// were actually transmitted. Omitted fields must not perturb the
// predictor. Cloud-side counters are field-level: four trackable fields
// per packet.
func (s *State) UpdateWithActual(o Observed) {
	present := int64(0)

	if o.Speed != nil {
		s.predictedSpeed = s.smooth(*o.Speed, s.predictedSpeed, s.hasSpeed)
		s.hasSpeed = true
		present++
	}
	if o.Power != nil {
		s.predictedPower = s.smooth(*o.Power, s.predictedPower, s.hasPower)
		s.hasPower = true
		present++
	}
	if o.Battery != nil {
		s.predictedBattery = s.smooth(*o.Battery, s.predictedBattery, s.hasBattery)
		s.hasBattery = true
		present++
	}
	if o.Heading != nil {
		s.predictedHeading = s.smooth(*o.Heading, s.predictedHeading, s.hasHeading)
		s.hasHeading = true
		present++
	}

	s.totalReadings += 4
	s.transmittedReadings += present
	s.skippedReadings += 4 - present
}

// Predicted returns the current predicted values, mainly for diagnostics.
func (s *State) Predicted() Reading {
	return Reading{
		Speed:   s.predictedSpeed,
		Power:   s.predictedPower,
		Battery: s.predictedBattery,
		Heading: s.predictedHeading,
	}
}

// Stats returns the running compression counters.
func (s *State) Stats() telemetry.CompressionStats {
	stats := telemetry.CompressionStats{
		TotalReadings:       s.totalReadings,
		TransmittedReadings: s.transmittedReadings,
		SkippedReadings:     s.skippedReadings,
	}
	if s.totalReadings > 0 {
		ratio := float64(s.skippedReadings) / float64(s.totalReadings) * 100.0
		stats.CompressionRatio = math.Round(ratio*100) / 100
	}
	return stats
}

// Reset zeroes the counters and prediction flags for a new logging run.
// The config is untouched.
func (s *State) Reset(now time.Time) {
	s.hasSpeed = false
	s.hasPower = false
	s.hasBattery = false
	s.hasHeading = false
	s.totalReadings = 0
	s.transmittedReadings = 0
	s.skippedReadings = 0
	s.lastResync = now
}

func (s *State) shouldTransmit(actual, predicted, threshold float64, has bool) bool {
	if !has {
		return true // always send the first reading
	}
	return math.Abs(actual-predicted) > threshold
}

// smooth applies exponential smoothing. The very first sample seeds the
// predictor exactly so there is no smoothing lag at startup.
func (s *State) smooth(actual, predicted float64, has bool) float64 {
	prev := predicted
	if !has {
		prev = actual
	}
	return s.cfg.Alpha*actual + (1.0-s.cfg.Alpha)*prev
}

// wrapHeading normalizes a heading into [0, 360).
func wrapHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
