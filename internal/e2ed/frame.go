// Package e2ed decodes end-to-end driving frame records.
//
// A record source is a TFRecord-framed file of protobuf-encoded
// DrivingFrame messages. Decoding is done at the wire level with
// protowire so the package carries no generated code.
package e2ed

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode marks a malformed record or payload. Callers skip the
// record, count it, and continue with the next one.
var ErrDecode = errors.New("e2ed: malformed record")

// Intent is the planned driving maneuver for a frame.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentGoStraight
	IntentGoLeft
	IntentGoRight
)

func (i Intent) String() string {
	switch i {
	case IntentGoStraight:
		return "GO_STRAIGHT"
	case IntentGoLeft:
		return "GO_LEFT"
	case IntentGoRight:
		return "GO_RIGHT"
	default:
		return "UNKNOWN"
	}
}

// Camera identifies a camera position. The numbering matches the source
// dataset: the center camera is 1, left and right sit either side.
type Camera int

const (
	CameraFrontCenter Camera = 1
	CameraFrontLeft   Camera = 2
	CameraFrontRight  Camera = 3
)

func (c Camera) String() string {
	switch c {
	case CameraFrontCenter:
		return "FRONT_CENTER"
	case CameraFrontLeft:
		return "FRONT_LEFT"
	case CameraFrontRight:
		return "FRONT_RIGHT"
	default:
		return fmt.Sprintf("CAMERA_%d", int(c))
	}
}

// CameraImage is one encoded (JPEG or PNG) camera capture.
type CameraImage struct {
	Camera Camera
	Data   []byte
}

// Frame is one decoded driving snapshot: past kinematic samples, the
// driver intent, a capture timestamp and zero or more camera images.
type Frame struct {
	VelX   []float64
	VelY   []float64
	AccelX []float64
	AccelY []float64

	Intent          Intent
	TimestampMicros int64
	Images          []CameraImage
}

// DrivingFrame field numbers.
const (
	fieldPastStates = 1
	fieldIntent     = 2
	fieldTimestamp  = 3
	fieldImages     = 4
)

// PastStates field numbers.
const (
	fieldVelX   = 1
	fieldVelY   = 2
	fieldAccelX = 3
	fieldAccelY = 4
)

// CameraImage field numbers.
const (
	fieldCameraName = 1
	fieldCameraData = 2
)

// Unmarshal decodes one DrivingFrame payload. Unknown fields are
// skipped. Any wire-level inconsistency yields ErrDecode.
func Unmarshal(b []byte) (*Frame, error) {
	f := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldPastStates && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: past_states: %v", ErrDecode, protowire.ParseError(n))
			}
			if err := f.unmarshalPastStates(v); err != nil {
				return nil, err
			}
			b = b[n:]

		case num == fieldIntent && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: intent: %v", ErrDecode, protowire.ParseError(n))
			}
			f.Intent = Intent(v)
			b = b[n:]

		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: timestamp: %v", ErrDecode, protowire.ParseError(n))
			}
			f.TimestampMicros = int64(v)
			b = b[n:]

		case num == fieldImages && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: images: %v", ErrDecode, protowire.ParseError(n))
			}
			img, err := unmarshalCameraImage(v)
			if err != nil {
				return nil, err
			}
			f.Images = append(f.Images, img)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if f.Intent < IntentUnknown || f.Intent > IntentGoRight {
		f.Intent = IntentUnknown
	}
	return f, nil
}

func (f *Frame) unmarshalPastStates(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: past_states tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		var dst *[]float64
		switch num {
		case fieldVelX:
			dst = &f.VelX
		case fieldVelY:
			dst = &f.VelY
		case fieldAccelX:
			dst = &f.AccelX
		case fieldAccelY:
			dst = &f.AccelY
		}
		if dst == nil {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: past_states field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		switch typ {
		case protowire.BytesType:
			// Packed floats: the normal encoding for repeated scalars.
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: packed floats: %v", ErrDecode, protowire.ParseError(n))
			}
			if len(v)%4 != 0 {
				return fmt.Errorf("%w: packed float block of %d bytes", ErrDecode, len(v))
			}
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed32(v)
				if m < 0 {
					return fmt.Errorf("%w: packed float: %v", ErrDecode, protowire.ParseError(m))
				}
				*dst = append(*dst, float64(math.Float32frombits(bits)))
				v = v[m:]
			}
			b = b[n:]

		case protowire.Fixed32Type:
			bits, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: float: %v", ErrDecode, protowire.ParseError(n))
			}
			*dst = append(*dst, float64(math.Float32frombits(bits)))
			b = b[n:]

		default:
			return fmt.Errorf("%w: past_states field %d has wire type %d", ErrDecode, num, typ)
		}
	}
	return nil
}

func unmarshalCameraImage(b []byte) (CameraImage, error) {
	var img CameraImage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return img, fmt.Errorf("%w: image tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldCameraName && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return img, fmt.Errorf("%w: camera name: %v", ErrDecode, protowire.ParseError(n))
			}
			img.Camera = Camera(v)
			b = b[n:]

		case num == fieldCameraData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return img, fmt.Errorf("%w: camera data: %v", ErrDecode, protowire.ParseError(n))
			}
			img.Data = append([]byte(nil), v...)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return img, fmt.Errorf("%w: image field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return img, nil
}

// Marshal encodes a Frame back to the DrivingFrame wire format. Used by
// record-generation tooling and tests.
func Marshal(f *Frame) []byte {
	var states []byte
	states = appendPackedFloats(states, fieldVelX, f.VelX)
	states = appendPackedFloats(states, fieldVelY, f.VelY)
	states = appendPackedFloats(states, fieldAccelX, f.AccelX)
	states = appendPackedFloats(states, fieldAccelY, f.AccelY)

	var b []byte
	b = protowire.AppendTag(b, fieldPastStates, protowire.BytesType)
	b = protowire.AppendBytes(b, states)
	if f.Intent != IntentUnknown {
		b = protowire.AppendTag(b, fieldIntent, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Intent))
	}
	if f.TimestampMicros != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.TimestampMicros))
	}
	for _, img := range f.Images {
		var m []byte
		m = protowire.AppendTag(m, fieldCameraName, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(img.Camera))
		m = protowire.AppendTag(m, fieldCameraData, protowire.BytesType)
		m = protowire.AppendBytes(m, img.Data)
		b = protowire.AppendTag(b, fieldImages, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func appendPackedFloats(b []byte, num protowire.Number, vals []float64) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(float32(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}
