// Package motion reduces per-frame kinematic sample series into scalar
// summary statistics.
package motion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientSamples marks a sample series that cannot produce
// finite metrics (empty, mismatched, or containing NaN/Inf). Frames
// with such input are skipped; severity math never sees a non-finite
// value.
var ErrInsufficientSamples = errors.New("motion: insufficient samples")

// Metrics is the nine-scalar motion summary of one frame.
type Metrics struct {
	SpeedMin  float64
	SpeedMax  float64
	SpeedMean float64
	AccelXMin float64
	AccelXMax float64
	AccelYMin float64
	AccelYMax float64
	JerkXMax  float64
	JerkYMax  float64
}

// Extract computes the motion summary from past velocity and
// acceleration series. Speed is the pointwise Euclidean norm of the
// velocity components. Jerk per axis is the absolute first difference
// of the acceleration series; a series of length <= 1 has jerk 0.
func Extract(velX, velY, accelX, accelY []float64) (Metrics, error) {
	if len(velX) == 0 || len(accelX) == 0 || len(accelY) == 0 {
		return Metrics{}, fmt.Errorf("%w: empty series (vel=%d accel_x=%d accel_y=%d)",
			ErrInsufficientSamples, len(velX), len(accelX), len(accelY))
	}
	if len(velX) != len(velY) {
		return Metrics{}, fmt.Errorf("%w: velocity components differ in length (%d vs %d)",
			ErrInsufficientSamples, len(velX), len(velY))
	}
	for _, s := range [][]float64{velX, velY, accelX, accelY} {
		if !allFinite(s) {
			return Metrics{}, fmt.Errorf("%w: non-finite sample", ErrInsufficientSamples)
		}
	}

	speed := make([]float64, len(velX))
	for i := range velX {
		speed[i] = math.Hypot(velX[i], velY[i])
	}

	m := Metrics{
		SpeedMin:  floats.Min(speed),
		SpeedMax:  floats.Max(speed),
		SpeedMean: stat.Mean(speed, nil),
		AccelXMin: floats.Min(accelX),
		AccelXMax: floats.Max(accelX),
		AccelYMin: floats.Min(accelY),
		AccelYMax: floats.Max(accelY),
		JerkXMax:  jerkMax(accelX),
		JerkYMax:  jerkMax(accelY),
	}
	return m, nil
}

// jerkMax returns the largest absolute first difference of accel.
func jerkMax(accel []float64) float64 {
	if len(accel) <= 1 {
		return 0
	}
	max := 0.0
	for i := 1; i < len(accel); i++ {
		if d := math.Abs(accel[i] - accel[i-1]); d > max {
			max = d
		}
	}
	return max
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
