package telemetry

// Sample is the canonical, fully-populated telemetry record. After
// reconstruction every field is present; this is what gets buffered,
// archived, and broadcast to subscribers.
type Sample struct {
	// Timestamp in milliseconds since the Unix epoch
	Timestamp int64 `json:"timestamp"`

	Speed        float64 `json:"speed"`         // mph
	Power        float64 `json:"power"`         // kW
	BatteryLevel float64 `json:"battery_level"` // percent
	Heading      float64 `json:"heading"`       // degrees, [0, 360)
	Odometer     float64 `json:"odometer"`      // miles

	// VIN as reported by the edge device
	VIN string `json:"vin"`

	// VehicleID is the internal identifier resolved from the VIN.
	// Empty when the VIN could not be resolved.
	VehicleID string `json:"vehicle_id,omitempty"`

	// Compressed records whether this sample arrived delta-encoded
	// and went through reconstruction.
	Compressed bool `json:"is_compressed"`
}

// CompressionStats summarizes how much the predictive codec saved.
// On the cloud side the counters are field-level (four trackable fields
// per packet); on the edge side they are packet-level. The two measure
// different things and are reported separately.
type CompressionStats struct {
	TotalReadings       int64 `json:"total_readings"`
	TransmittedReadings int64 `json:"transmitted_readings"`
	SkippedReadings     int64 `json:"skipped_readings"`

	// CompressionRatio = skipped/total * 100, rounded to 2 decimals
	CompressionRatio float64 `json:"compression_ratio"`
}
