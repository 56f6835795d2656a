package e2ed

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFrameRoundTrip(t *testing.T) {
	want := &Frame{
		VelX:            []float64{1.5, 2.5, 3.5},
		VelY:            []float64{0.5, -0.5, 0},
		AccelX:          []float64{-0.25, -1.25},
		AccelY:          []float64{0.125},
		Intent:          IntentGoRight,
		TimestampMicros: 1700000000123456,
		Images: []CameraImage{
			{Camera: CameraFrontCenter, Data: []byte{0xff, 0xd8, 0xff}},
			{Camera: CameraFrontLeft, Data: []byte{0x89, 0x50}},
		},
	}

	got, err := Unmarshal(Marshal(want))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalEmpty(t *testing.T) {
	f, err := Unmarshal(nil)
	if err != nil {
		t.Fatalf("Unmarshal(nil): %v", err)
	}
	if f.Intent != IntentUnknown {
		t.Errorf("intent = %v, want UNKNOWN", f.Intent)
	}
	if len(f.VelX) != 0 || len(f.Images) != 0 {
		t.Errorf("empty payload produced samples: %+v", f)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(&Frame{AccelX: []float64{1}})
	// Append a field this decoder has never heard of.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future extension"))

	f, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(f.AccelX) != 1 || f.AccelX[0] != 1 {
		t.Errorf("accel_x = %v, want [1]", f.AccelX)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	cases := map[string][]byte{
		"dangling tag":     protowire.AppendTag(nil, fieldPastStates, protowire.BytesType),
		"ragged packed":    append(protowire.AppendTag(nil, fieldPastStates, protowire.BytesType), mustPackedRagged()...),
		"truncated varint": append(protowire.AppendTag(nil, fieldIntent, protowire.VarintType), 0x80),
	}
	for name, b := range cases {
		if _, err := Unmarshal(b); !errors.Is(err, ErrDecode) {
			t.Errorf("%s: expected ErrDecode, got %v", name, err)
		}
	}
}

// mustPackedRagged builds a past_states submessage whose packed float
// block is not a multiple of four bytes.
func mustPackedRagged() []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, fieldAccelX, protowire.BytesType)
	inner = protowire.AppendBytes(inner, []byte{1, 2, 3}) // 3 bytes: not a float
	return protowire.AppendBytes(nil, inner)
}

func TestUnmarshalOutOfRangeIntent(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldIntent, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	f, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f.Intent != IntentUnknown {
		t.Errorf("intent = %v, want UNKNOWN for out-of-range label", f.Intent)
	}
}

func TestFloatPrecision(t *testing.T) {
	// Samples survive the float32 wire representation.
	in := &Frame{AccelX: []float64{-0.375}}
	f, err := Unmarshal(Marshal(in))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if math.Abs(f.AccelX[0]+0.375) > 1e-6 {
		t.Errorf("accel_x = %v, want -0.375", f.AccelX[0])
	}
}
