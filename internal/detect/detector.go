package detect

import (
	"fmt"

	"github.com/banshee-data/motion.report/internal/calibrate"
	"github.com/banshee-data/motion.report/internal/motion"
)

// Type tags one detected edge case.
type Type string

const (
	TypeHardBrake       Type = "hard_brake"
	TypeEvasiveManeuver Type = "evasive_maneuver"
	TypeHighJerk        Type = "high_jerk"
)

// Types lists every edge-case type in reporting order.
var Types = []Type{TypeHardBrake, TypeEvasiveManeuver, TypeHighJerk}

// Candidate is one detected edge case: the rule that fired, its
// normalized severity, and a reason string embedding the measured
// value and the threshold it crossed.
type Candidate struct {
	Type     Type
	Severity float64
	Reason   string
}

// Detect evaluates the three independent rules against one frame's
// metrics. The rules are non-exclusive: a single frame can produce
// zero to three candidates. Detection is a pure function of the
// metrics and the active thresholds; no state carries between frames.
func Detect(m motion.Metrics, t calibrate.ThresholdSet) ([]Candidate, error) {
	var out []Candidate

	if m.AccelXMin < t.HardBrake {
		severity, err := Normalize(m.AccelXMin, t.HardBrake, true)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Type:     TypeHardBrake,
			Severity: severity,
			Reason:   fmt.Sprintf("accel_x=%.3f < threshold %.3f", m.AccelXMin, t.HardBrake),
		})
	}

	if m.AccelYMax > t.Lateral {
		severity, err := Normalize(m.AccelYMax, t.Lateral, false)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Type:     TypeEvasiveManeuver,
			Severity: severity,
			Reason:   fmt.Sprintf("accel_y=%.3f > threshold %.3f", m.AccelYMax, t.Lateral),
		})
	}

	if m.JerkXMax > t.Jerk {
		severity, err := Normalize(m.JerkXMax, t.Jerk, false)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Type:     TypeHighJerk,
			Severity: severity,
			Reason:   fmt.Sprintf("jerk_x=%.3f > threshold %.3f", m.JerkXMax, t.Jerk),
		})
	}

	return out, nil
}
