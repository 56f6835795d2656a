// Package calibrate derives and persists the three detection
// thresholds, either by loading a saved artifact or by computing
// percentile statistics over a full pass of a record source.
package calibrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

// ErrCorruptArtifact marks a threshold file that exists but cannot be
// parsed. Callers fall back to recomputation.
var ErrCorruptArtifact = errors.New("calibrate: corrupt threshold artifact")

// ErrInvalidThreshold marks a zero or non-finite calibration value.
// Detection cannot proceed safely against such a set, so this is fatal.
var ErrInvalidThreshold = errors.New("calibrate: invalid threshold")

// ThresholdSet holds the three calibrated limits. Read-only for the
// duration of a run once calibration completes.
type ThresholdSet struct {
	HardBrake float64 `json:"hard_brake"` // m/s², lower bound (5th percentile of accel_x)
	Lateral   float64 `json:"lateral"`    // m/s², upper bound (95th percentile of |accel_y|)
	Jerk      float64 `json:"jerk"`       // m/s³, upper bound (95th percentile of |Δaccel_x|)
}

// Default returns the industry-standard fallback thresholds, used only
// when a source yields no samples to calibrate from.
func Default() ThresholdSet {
	return ThresholdSet{HardBrake: -0.8, Lateral: 0.6, Jerk: 0.4}
}

// Validate rejects sets the severity formula cannot divide by.
func (t ThresholdSet) Validate() error {
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"hard_brake", t.HardBrake},
		{"lateral", t.Lateral},
		{"jerk", t.Jerk},
	} {
		if v.val == 0 {
			return fmt.Errorf("%w: %s is zero", ErrInvalidThreshold, v.name)
		}
		if math.IsNaN(v.val) || math.IsInf(v.val, 0) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidThreshold, v.name, v.val)
		}
	}
	return nil
}

const maxArtifactSize = 1 << 20 // 1MB; a threshold file is three floats

// Load reads a ThresholdSet from a JSON artifact. Parse failures wrap
// ErrCorruptArtifact; validation failures wrap ErrInvalidThreshold.
func Load(path string) (ThresholdSet, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return ThresholdSet{}, fmt.Errorf("threshold artifact must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("stat threshold artifact: %w", err)
	}
	if info.Size() > maxArtifactSize {
		return ThresholdSet{}, fmt.Errorf("%w: %d bytes", ErrCorruptArtifact, info.Size())
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return ThresholdSet{}, fmt.Errorf("read threshold artifact: %w", err)
	}
	var t ThresholdSet
	if err := json.Unmarshal(data, &t); err != nil {
		return ThresholdSet{}, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if err := t.Validate(); err != nil {
		return ThresholdSet{}, err
	}
	return t, nil
}

// Save writes the set to path as indented JSON.
func (t ThresholdSet) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write threshold artifact: %w", err)
	}
	return nil
}

// Calibrate returns the active ThresholdSet for a run. If the artifact
// at artifactPath exists and force is false it is loaded; a corrupt
// artifact is logged and recomputed. Recomputation performs one full
// streaming pass over src, takes the 5th percentile of longitudinal
// acceleration and the 95th percentiles of |lateral acceleration| and
// |jerk|, saves the artifact (best effort) and returns the set.
func Calibrate(src e2ed.Opener, artifactPath string, force bool) (ThresholdSet, error) {
	if !force {
		if _, err := os.Stat(artifactPath); err == nil {
			t, err := Load(artifactPath)
			if err == nil {
				monitoring.Logf("loaded thresholds from %s: %+v", artifactPath, t)
				return t, nil
			}
			if errors.Is(err, ErrInvalidThreshold) {
				return ThresholdSet{}, err
			}
			monitoring.Logf("could not load thresholds (%v); recalculating", err)
		}
	}

	t, err := compute(src)
	if err != nil {
		return ThresholdSet{}, err
	}
	if err := t.Validate(); err != nil {
		return ThresholdSet{}, err
	}

	if err := t.Save(artifactPath); err != nil {
		monitoring.Logf("could not save thresholds: %v", err)
	} else {
		monitoring.Logf("saved thresholds to %s", artifactPath)
	}
	return t, nil
}

func compute(src e2ed.Opener) (ThresholdSet, error) {
	rc, err := src.Open()
	if err != nil {
		return ThresholdSet{}, err
	}
	defer rc.Close()

	var accelX, absAccelY, absJerk []float64

	rr := e2ed.NewRecordReader(rc)
	for {
		payload, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, e2ed.ErrPayloadChecksum) {
				// Corrupt record, clean boundary: skip it.
				monitoring.Logf("calibration: skipping record in %s: %v", src.Name(), err)
				continue
			}
			if errors.Is(err, e2ed.ErrDecode) {
				monitoring.Logf("calibration: %s: %v; stopping read", src.Name(), err)
				break // framing is lost; nothing after this can be read
			}
			return ThresholdSet{}, err
		}
		frame, err := e2ed.Unmarshal(payload)
		if err != nil {
			monitoring.Logf("calibration: skipping frame in %s: %v", src.Name(), err)
			continue
		}
		accelX = append(accelX, frame.AccelX...)
		for _, v := range frame.AccelY {
			absAccelY = append(absAccelY, math.Abs(v))
		}
		for i := 1; i < len(frame.AccelX); i++ {
			absJerk = append(absJerk, math.Abs(frame.AccelX[i]-frame.AccelX[i-1]))
		}
	}

	if len(accelX) == 0 || len(absAccelY) == 0 || len(absJerk) == 0 {
		monitoring.Logf("calibration: %s yielded no usable samples; using default thresholds", src.Name())
		return Default(), nil
	}

	t := ThresholdSet{
		HardBrake: percentile(accelX, 0.05),
		Lateral:   percentile(absAccelY, 0.95),
		Jerk:      percentile(absJerk, 0.95),
	}
	return t, nil
}

// percentile computes the empirical p-quantile of vals. The input slice
// is sorted in place.
func percentile(vals []float64, p float64) float64 {
	sort.Float64s(vals)
	return stat.Quantile(p, stat.Empirical, vals, nil)
}
