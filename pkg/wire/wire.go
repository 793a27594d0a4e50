// Package wire encodes and decodes the binary telemetry packets produced
// by the edge devices. The framing is protobuf wire format against a
// fixed field-number schema; a field is "present" exactly when its tag
// appears in the payload, so a transmitted zero is distinguishable from
// an omitted field.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the telemetry packet schema. Compressed packets omit
// any of the four tracked value fields; legacy uncompressed packets carry
// all of them.
const (
	fieldTimestamp = 1 // varint, ms epoch
	fieldSpeed     = 2 // double
	fieldPower     = 3 // double
	fieldBattery   = 4 // double
	fieldHeading   = 5 // double
	fieldOdometer  = 6 // double
	fieldVIN       = 7 // bytes
	fieldResync    = 8 // varint bool
)

// ErrMalformed reports an undecodable payload.
var ErrMalformed = errors.New("wire: malformed packet")

// Packet is the decoded form of one telemetry payload. The four tracked
// fields are pointers: nil means the edge omitted the field and the
// decoder must reconstruct it.
type Packet struct {
	Timestamp int64

	Speed   *float64
	Power   *float64
	Battery *float64
	Heading *float64

	Odometer float64
	VIN      string
	IsResync bool
}

// PresentFields counts how many of the four tracked fields were
// transmitted.
func (p *Packet) PresentFields() int {
	n := 0
	for _, f := range []*float64{p.Speed, p.Power, p.Battery, p.Heading} {
		if f != nil {
			n++
		}
	}
	return n
}

// Encode serializes a packet. Only non-nil tracked fields are written.
func Encode(p *Packet) []byte {
	b := protowire.AppendTag(nil, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Timestamp))

	b = appendOptionalDouble(b, fieldSpeed, p.Speed)
	b = appendOptionalDouble(b, fieldPower, p.Power)
	b = appendOptionalDouble(b, fieldBattery, p.Battery)
	b = appendOptionalDouble(b, fieldHeading, p.Heading)

	b = protowire.AppendTag(b, fieldOdometer, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(p.Odometer))

	b = protowire.AppendTag(b, fieldVIN, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(p.VIN))

	if p.IsResync {
		b = protowire.AppendTag(b, fieldResync, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// Decode parses a packet, tracking which fields were present. Unknown
// field numbers are skipped so the schema can grow; a truncated or
// type-mismatched payload returns ErrMalformed.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldTimestamp:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.Timestamp = int64(v)
			data = data[n:]

		case fieldSpeed, fieldPower, fieldBattery, fieldHeading:
			v, n, err := consumeDouble(data, typ)
			if err != nil {
				return nil, err
			}
			switch num {
			case fieldSpeed:
				p.Speed = &v
			case fieldPower:
				p.Power = &v
			case fieldBattery:
				p.Battery = &v
			case fieldHeading:
				p.Heading = &v
			}
			data = data[n:]

		case fieldOdometer:
			v, n, err := consumeDouble(data, typ)
			if err != nil {
				return nil, err
			}
			p.Odometer = v
			data = data[n:]

		case fieldVIN:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("%w: vin field has wire type %d", ErrMalformed, typ)
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			p.VIN = string(v)
			data = data[n:]

		case fieldResync:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.IsResync = v != 0
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	return p, nil
}

func appendOptionalDouble(b []byte, num protowire.Number, v *float64) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(*v))
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: unexpected wire type %d for varint field", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeDouble(data []byte, typ protowire.Type) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("%w: unexpected wire type %d for double field", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeFixed64(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return math.Float64frombits(v), n, nil
}
