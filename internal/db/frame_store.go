package db

import (
	"fmt"

	"github.com/banshee-data/motion.report/internal/detect"
	"github.com/banshee-data/motion.report/internal/motion"
)

// FrameRecord is one frame's row in the frames table. The Thumbnail is
// nil when no camera imagery was usable.
type FrameRecord struct {
	FrameID         int64
	FileName        string
	TimestampMicros int64
	Intent          string
	Metrics         motion.Metrics
	Thumbnail       []byte
}

// FrameStore persists frames and their edge cases. Writers must be
// externally serialized: one logical writer at a time, with readers
// running concurrently against the WAL.
type FrameStore struct {
	db *DB
}

// NewFrameStore creates a FrameStore backed by the given database.
func NewFrameStore(db *DB) *FrameStore {
	return &FrameStore{db: db}
}

// InsertFrame writes one frame's motion profile and thumbnail and
// returns the generated row identifier — the stable join key for the
// frame's edge cases. The insert retries once on lock contention; the
// outcome reports whether that retry was needed.
func (s *FrameStore) InsertFrame(rec FrameRecord) (int64, WriteOutcome, error) {
	query := `
		INSERT INTO frames (
			frame_id, file_name, timestamp, intent,
			speed_min, speed_max, speed_mean,
			accel_x_min, accel_x_max, accel_y_min, accel_y_max,
			jerk_x_max, jerk_y_max, panorama_thumbnail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var id int64
	outcome, err := retryOnBusy(func() error {
		m := rec.Metrics
		res, err := s.db.Exec(query,
			rec.FrameID,
			rec.FileName,
			rec.TimestampMicros,
			rec.Intent,
			m.SpeedMin, m.SpeedMax, m.SpeedMean,
			m.AccelXMin, m.AccelXMax, m.AccelYMin, m.AccelYMax,
			m.JerkXMax, m.JerkYMax,
			rec.Thumbnail,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, outcome, fmt.Errorf("inserting frame %d of %s: %w", rec.FrameID, rec.FileName, err)
	}
	return id, outcome, nil
}

// InsertEdgeCase attaches one detected edge case to a stored frame.
// The foreign key is enforced, so a frameTableID that does not resolve
// to a frames row is rejected rather than creating an orphan.
func (s *FrameStore) InsertEdgeCase(frameTableID int64, c detect.Candidate) (WriteOutcome, error) {
	query := `
		INSERT INTO edge_cases (frame_table_id, edge_case_type, severity, reason)
		VALUES (?, ?, ?, ?)
	`
	outcome, err := retryOnBusy(func() error {
		_, err := s.db.Exec(query, frameTableID, string(c.Type), c.Severity, c.Reason)
		return err
	})
	if err != nil {
		return outcome, fmt.Errorf("inserting %s edge case for frame row %d: %w", c.Type, frameTableID, err)
	}
	return outcome, nil
}

// SeverityStats summarizes the stored severity scores; used by the
// end-of-run validation that all scores stayed within [0, 1].
type SeverityStats struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
}

// MotionExtremes are dataset-wide extremes kept in the run summary for
// future recalibration.
type MotionExtremes struct {
	MinAccelX float64
	MaxSpeed  float64
	MaxAccelY float64
	MaxJerkX  float64
}

// StoreSummary is the calibration-summary view of the store.
type StoreSummary struct {
	TotalFrames    int64
	TotalEdgeCases int64
	IntentCounts   map[string]int64
	TypeCounts     map[string]int64
	Severity       SeverityStats
	Extremes       MotionExtremes
}

// Summary runs the aggregate queries reported at end of run and used
// for validation.
func (s *FrameStore) Summary() (StoreSummary, error) {
	out := StoreSummary{
		IntentCounts: make(map[string]int64),
		TypeCounts:   make(map[string]int64),
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&out.TotalFrames); err != nil {
		return out, fmt.Errorf("counting frames: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM edge_cases`).Scan(&out.TotalEdgeCases); err != nil {
		return out, fmt.Errorf("counting edge cases: %w", err)
	}

	if err := s.scanCounts(`SELECT intent, COUNT(*) FROM frames GROUP BY intent`, out.IntentCounts); err != nil {
		return out, err
	}
	if err := s.scanCounts(`SELECT edge_case_type, COUNT(*) FROM edge_cases GROUP BY edge_case_type`, out.TypeCounts); err != nil {
		return out, err
	}

	if out.TotalEdgeCases > 0 {
		err := s.db.QueryRow(`SELECT COUNT(*), MIN(severity), MAX(severity), AVG(severity) FROM edge_cases`).
			Scan(&out.Severity.Count, &out.Severity.Min, &out.Severity.Max, &out.Severity.Avg)
		if err != nil {
			return out, fmt.Errorf("severity stats: %w", err)
		}
	}
	if out.TotalFrames > 0 {
		err := s.db.QueryRow(`
			SELECT MIN(accel_x_min), MAX(speed_max), MAX(accel_y_max), MAX(jerk_x_max) FROM frames`).
			Scan(&out.Extremes.MinAccelX, &out.Extremes.MaxSpeed, &out.Extremes.MaxAccelY, &out.Extremes.MaxJerkX)
		if err != nil {
			return out, fmt.Errorf("motion extremes: %w", err)
		}
	}
	return out, nil
}

func (s *FrameStore) scanCounts(query string, dst map[string]int64) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}
