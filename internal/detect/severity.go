// Package detect evaluates one frame's motion metrics against the
// active thresholds and scores each crossing on a normalized 0-1
// severity scale.
package detect

import (
	"fmt"
	"math"

	"github.com/banshee-data/motion.report/internal/calibrate"
)

// Normalize maps a raw metric value and its threshold to a severity in
// [0, 1]: 0 at the threshold, 1 at three times the threshold, saturated
// beyond that. Lower-bound detectors (braking) compare on absolute
// magnitude; upper-bound detectors compare signed values directly. A
// value that does not actually cross the threshold scores 0 rather
// than going negative.
func Normalize(raw, threshold float64, lowerBound bool) (float64, error) {
	if threshold == 0 {
		return 0, fmt.Errorf("%w: zero threshold in severity normalization", calibrate.ErrInvalidThreshold)
	}

	var severity float64
	if lowerBound {
		a := math.Abs(raw)
		t := math.Abs(threshold)
		if a < t {
			return 0, nil
		}
		severity = (a - t) / (2 * t)
	} else {
		if raw < threshold {
			return 0, nil
		}
		severity = (raw - threshold) / (2 * threshold)
	}
	return clamp01(severity), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
