package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/calibrate"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/detect"
	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *db.FrameStore {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp())
	return db.NewFrameStore(database)
}

// steadyFrame returns a frame with constant velocity and the given
// longitudinal acceleration profile.
func steadyFrame(accelX []float64) *e2ed.Frame {
	n := len(accelX)
	f := &e2ed.Frame{
		VelX:            make([]float64, n),
		VelY:            make([]float64, n),
		AccelX:          accelX,
		AccelY:          make([]float64, n),
		Intent:          e2ed.IntentGoStraight,
		TimestampMicros: 1700000000000000,
	}
	for i := range f.VelX {
		f.VelX[i] = 10
	}
	return f
}

// writeSource marshals frames into a TFRecord file and returns an
// Opener over it.
func writeSource(t *testing.T, frames ...*e2ed.Frame) e2ed.FileSource {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(f)))
	}
	path := filepath.Join(t.TempDir(), "frames.tfrecord")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return e2ed.FileSource{Path: path}
}

// cameraJPEG encodes a small solid image as a camera payload.
func cameraJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestRunEndToEnd(t *testing.T) {
	quiet := steadyFrame([]float64{-0.1, 0.0, 0.1})
	// Constant hard deceleration: trips the braking rule without any
	// jerk, so exactly one edge case is expected.
	braking := steadyFrame([]float64{-0.9, -0.9, -0.9})
	empty := &e2ed.Frame{Intent: e2ed.IntentGoStraight}

	src := writeSource(t, quiet, braking, empty)
	store := newTestStore(t)

	sum, err := Run(src, store, calibrate.Default(), Config{})
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, "frames.tfrecord", sum.Source)
	assert.Equal(t, 2, sum.FramesStored)
	assert.Equal(t, 1, sum.SkippedMetrics, "frame without motion states is skipped")
	assert.Zero(t, sum.SkippedDecode)
	assert.Zero(t, sum.FramesFailed)
	assert.Equal(t, 1, sum.EdgeCases)
	assert.Equal(t, 1, sum.EdgeCasesByType[detect.TypeHardBrake])
	assert.Zero(t, sum.Thumbnails, "no camera payloads were present")

	dbSum, err := store.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(2), dbSum.TotalFrames)
	assert.Equal(t, int64(1), dbSum.TotalEdgeCases)
	assert.Equal(t, int64(1), dbSum.TypeCounts["hard_brake"])
	assert.LessOrEqual(t, dbSum.Severity.Max, 1.0)
}

func TestRunStoresThumbnail(t *testing.T) {
	frame := steadyFrame([]float64{0, 0, 0})
	frame.Images = []e2ed.CameraImage{
		{Camera: e2ed.CameraFrontCenter, Data: cameraJPEG(t, 40, 30)},
	}

	src := writeSource(t, frame)
	store := newTestStore(t)

	sum, err := Run(src, store, calibrate.Default(), Config{PanoramaWorkers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Thumbnails)

	rows, _, err := store.FlaggedFrames(db.FlaggedFilter{}, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, rows, "quiet frame produces no edge cases")

	d, err := store.Frame(1)
	require.NoError(t, err)
	assert.True(t, d.HasThumbnail)
	blob, err := store.Thumbnail(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, blob[:2], "stored blob is JPEG")
}

func TestRunSkipsUndecodableRecord(t *testing.T) {
	good := steadyFrame([]float64{0, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, e2ed.WriteRecord(&buf, []byte{0xff, 0xff, 0xff}))
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(good)))
	path := filepath.Join(t.TempDir(), "mixed.tfrecord")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	store := newTestStore(t)
	sum, err := Run(e2ed.FileSource{Path: path}, store, calibrate.Default(), Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.SkippedDecode)
	assert.Equal(t, 1, sum.FramesStored)
}

func TestRunSkipsCorruptRecordPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(steadyFrame([]float64{0, 0, 0}))))
	// Offset of the second record's first payload byte.
	corruptAt := buf.Len() + 12
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(steadyFrame([]float64{-0.9, -0.9, -0.9}))))
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(steadyFrame([]float64{0.1, 0.1, 0.1}))))
	raw := buf.Bytes()
	raw[corruptAt] ^= 0xff

	path := filepath.Join(t.TempDir(), "corrupt.tfrecord")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	store := newTestStore(t)
	sum, err := Run(e2ed.FileSource{Path: path}, store, calibrate.Default(), Config{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.FramesStored, "records after the corrupt one are still processed")
	assert.Equal(t, 1, sum.SkippedDecode)
	assert.Zero(t, sum.EdgeCases, "the braking frame was the corrupt one")

	// The skipped record still consumed a frame index.
	d, err := store.Frame(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.FrameID)
}

func TestRunCountsEdgeCaseWriteFailures(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp())
	// Remove the edge_cases table so frame writes succeed while edge
	// case writes fail.
	_, err = database.Exec(`DROP TABLE edge_cases`)
	require.NoError(t, err)
	store := db.NewFrameStore(database)

	src := writeSource(t, steadyFrame([]float64{-0.9, -0.9, -0.9}))
	sum, err := Run(src, store, calibrate.Default(), Config{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.FramesStored)
	assert.Zero(t, sum.FramesFailed, "the frame row itself was stored")
	assert.Equal(t, 1, sum.EdgeCasesFailed)
	assert.Zero(t, sum.EdgeCases)
}

func TestRunStopsOnBrokenFraming(t *testing.T) {
	good := steadyFrame([]float64{0, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, e2ed.WriteRecord(&buf, e2ed.Marshal(good)))
	buf.Write([]byte("garbage that is not a record header"))
	path := filepath.Join(t.TempDir(), "broken.tfrecord")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	store := newTestStore(t)
	sum, err := Run(e2ed.FileSource{Path: path}, store, calibrate.Default(), Config{})
	require.NoError(t, err, "a broken tail ends the run, it does not fail it")

	assert.Equal(t, 1, sum.FramesStored)
	assert.Equal(t, 1, sum.SkippedDecode)
}

func TestRunRejectsInvalidThresholds(t *testing.T) {
	src := writeSource(t, steadyFrame([]float64{0}))
	store := newTestStore(t)

	_, err := Run(src, store, calibrate.ThresholdSet{}, Config{})
	assert.ErrorIs(t, err, calibrate.ErrInvalidThreshold)
}

func TestRunMissingSource(t *testing.T) {
	store := newTestStore(t)
	_, err := Run(e2ed.FileSource{Path: "/nonexistent/frames.tfrecord"}, store, calibrate.Default(), Config{})
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	src := writeSource(t, steadyFrame([]float64{-0.2, -0.9, -0.9}))
	store := newTestStore(t)

	sum, err := Run(src, store, calibrate.Default(), Config{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Report(&out, sum, store))
	report := out.String()
	assert.Contains(t, report, sum.RunID)
	assert.Contains(t, report, "Frames stored:    1")
	assert.Contains(t, report, "hard_brake")
	assert.Contains(t, report, "Severity:")
	assert.NotContains(t, report, "WARNING")
}
