package calibrate

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// writeSource writes one tfrecord file containing the given frames.
func writeSource(t *testing.T, frames []*e2ed.Frame) e2ed.FileSource {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(f)))
	}
	path := filepath.Join(t.TempDir(), "calib.tfrecord")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return e2ed.FileSource{Path: path}
}

// rampFrame carries accel series 1..n in both axes, so the empirical
// percentiles are easy to predict.
func rampFrame(n int) *e2ed.Frame {
	f := &e2ed.Frame{}
	for i := 1; i <= n; i++ {
		f.VelX = append(f.VelX, float64(i))
		f.VelY = append(f.VelY, 0)
		f.AccelX = append(f.AccelX, float64(i))
		f.AccelY = append(f.AccelY, float64(i))
	}
	return f
}

func TestCalibrateComputesPercentiles(t *testing.T) {
	src := writeSource(t, []*e2ed.Frame{rampFrame(100)})
	artifact := filepath.Join(t.TempDir(), "thresholds.json")

	got, err := Calibrate(src, artifact, true)
	require.NoError(t, err)

	// Empirical percentiles over 1..100: 5th = 5, 95th = 95. All first
	// differences are 1, so the jerk threshold is 1.
	assert.InDelta(t, 5.0, got.HardBrake, 1e-6)
	assert.InDelta(t, 95.0, got.Lateral, 1e-6)
	assert.InDelta(t, 1.0, got.Jerk, 1e-6)

	// The artifact was persisted for the next run.
	loaded, err := Load(artifact)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)
}

func TestCalibrateIdempotent(t *testing.T) {
	src := writeSource(t, []*e2ed.Frame{rampFrame(37), rampFrame(64)})

	a, err := Calibrate(src, filepath.Join(t.TempDir(), "a.json"), true)
	require.NoError(t, err)
	b, err := Calibrate(src, filepath.Join(t.TempDir(), "b.json"), true)
	require.NoError(t, err)

	assert.InDelta(t, a.HardBrake, b.HardBrake, 1e-6)
	assert.InDelta(t, a.Lateral, b.Lateral, 1e-6)
	assert.InDelta(t, a.Jerk, b.Jerk, 1e-6)
}

func TestCalibrateSkipsCorruptRecord(t *testing.T) {
	// First record's payload is corrupted in place; the ramp in the
	// second record must still drive the percentiles.
	var buf bytes.Buffer
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(rampFrame(10))))
	corruptAt := 12 // first payload byte of the first record
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(rampFrame(100))))
	raw := buf.Bytes()
	raw[corruptAt] ^= 0xff

	path := filepath.Join(t.TempDir(), "corrupt.tfrecord")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	got, err := Calibrate(e2ed.FileSource{Path: path}, filepath.Join(t.TempDir(), "thresholds.json"), true)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got.HardBrake, 1e-6)
	assert.InDelta(t, 95.0, got.Lateral, 1e-6)
}

func TestCalibrateShortCircuitsOnArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "thresholds.json")
	want := ThresholdSet{HardBrake: -0.8, Lateral: 0.6, Jerk: 0.4}
	require.NoError(t, want.Save(artifact))

	// The source is never opened when the artifact loads cleanly.
	src := e2ed.FileSource{Path: filepath.Join(t.TempDir(), "does-not-exist")}
	got, err := Calibrate(src, artifact, false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCalibrateRecomputesOnCorruptArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, os.WriteFile(artifact, []byte("{not json"), 0644))

	src := writeSource(t, []*e2ed.Frame{rampFrame(100)})
	got, err := Calibrate(src, artifact, false)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got.HardBrake, 1e-6)
}

func TestCalibrateForceIgnoresArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "thresholds.json")
	stale := ThresholdSet{HardBrake: -99, Lateral: 99, Jerk: 99}
	require.NoError(t, stale.Save(artifact))

	src := writeSource(t, []*e2ed.Frame{rampFrame(100)})
	got, err := Calibrate(src, artifact, true)
	require.NoError(t, err)
	assert.NotEqual(t, stale, got)
}

func TestCalibrateEmptySourceFallsBackToDefaults(t *testing.T) {
	src := writeSource(t, nil)
	got, err := Calibrate(src, filepath.Join(t.TempDir(), "thresholds.json"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cases := map[string]ThresholdSet{
		"zero hard_brake": {HardBrake: 0, Lateral: 0.6, Jerk: 0.4},
		"zero jerk":       {HardBrake: -0.8, Lateral: 0.6, Jerk: 0},
		"nan lateral":     {HardBrake: -0.8, Lateral: math.NaN(), Jerk: 0.4},
		"inf hard_brake":  {HardBrake: math.Inf(-1), Lateral: 0.6, Jerk: 0.4},
	}
	for name, ts := range cases {
		err := ts.Validate()
		assert.ErrorIs(t, err, ErrInvalidThreshold, name)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	_, err := Load("thresholds.yaml")
	require.Error(t, err)
}

func TestLoadInvalidValuesAreFatal(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"hard_brake":0,"lateral":0.6,"jerk":0.4}`), 0644))

	_, err := Load(artifact)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	// A zero threshold must not silently trigger recomputation: the run
	// aborts instead.
	src := writeSource(t, []*e2ed.Frame{rampFrame(10)})
	_, err = Calibrate(src, artifact, false)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	want := ThresholdSet{HardBrake: -1.25, Lateral: 0.75, Jerk: 0.5}
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
