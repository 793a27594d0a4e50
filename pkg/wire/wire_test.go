package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestRoundTrip_AllFieldsPresent(t *testing.T) {
	in := &Packet{
		Timestamp: 1718000000123,
		Speed:     f(65.5),
		Power:     f(15.2),
		Battery:   f(79.8),
		Heading:   f(180),
		Odometer:  42013.7,
		VIN:       "5YJ3E1EA7KF317000",
		IsResync:  true,
	}

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Equal(t, 4, out.PresentFields())
}

func TestRoundTrip_OmittedFieldsStayOmitted(t *testing.T) {
	in := &Packet{
		Timestamp: 1718000000123,
		Battery:   f(79.8),
		Odometer:  42013.7,
		VIN:       "5YJ3E1EA7KF317000",
	}

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Nil(t, out.Speed)
	require.Nil(t, out.Power)
	require.Nil(t, out.Heading)
	require.NotNil(t, out.Battery)
	require.Equal(t, 79.8, *out.Battery)
	require.Equal(t, 1, out.PresentFields())
	require.False(t, out.IsResync)
}

func TestRoundTrip_TransmittedZeroIsNotOmission(t *testing.T) {
	in := &Packet{
		Timestamp: 1,
		Speed:     f(0),
		VIN:       "VIN1",
	}

	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.NotNil(t, out.Speed)
	require.Equal(t, 0.0, *out.Speed)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"garbage":       {0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"truncated":     Encode(&Packet{Timestamp: 1, Speed: f(65), VIN: "V"})[:3],
		"wrong type":    {0x10, 0x05}, // field 2 (speed) as varint instead of fixed64
	}

	for name, data := range cases {
		_, err := Decode(data)
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	data := Encode(&Packet{Timestamp: 5, VIN: "V"})
	// Append an unknown varint field (number 15).
	data = append(data, 0x78, 0x01)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Timestamp)
	require.Equal(t, "V", out.VIN)
}
