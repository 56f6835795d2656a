package db

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/motion.report/internal/detect"
	"github.com/banshee-data/motion.report/internal/motion"
)

// newTestDB opens a migrated database in a per-test temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return database
}

// newTestStore returns a FrameStore over a fresh migrated database.
func newTestStore(t *testing.T) *FrameStore {
	t.Helper()
	return NewFrameStore(newTestDB(t))
}

// testFrame returns a FrameRecord with plausible motion values.
func testFrame(frameID int64, fileName string) FrameRecord {
	return FrameRecord{
		FrameID:         frameID,
		FileName:        fileName,
		TimestampMicros: 1700000000000000 + frameID,
		Intent:          "GO_STRAIGHT",
		Metrics: motion.Metrics{
			SpeedMin: 1, SpeedMax: 12, SpeedMean: 6.5,
			AccelXMin: -0.5, AccelXMax: 0.3,
			AccelYMin: -0.2, AccelYMax: 0.25,
			JerkXMax: 0.1, JerkYMax: 0.05,
		},
	}
}

// testCandidate returns an edge-case candidate for write tests.
func testCandidate(severity float64) detect.Candidate {
	return detect.Candidate{
		Type:     detect.TypeHardBrake,
		Severity: severity,
		Reason:   "accel_x=-0.900 < threshold -0.800",
	}
}
