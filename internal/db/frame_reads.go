package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a lookup of a frame row that does not exist.
var ErrNotFound = errors.New("db: not found")

// FlaggedFrame is one edge case joined to its owning frame, as served
// by the read API. The thumbnail blob itself is never part of list
// projections; HasThumbnail says whether the dedicated thumbnail
// endpoint will return one.
type FlaggedFrame struct {
	EdgeCaseID   int64   `json:"edge_case_id"`
	FrameTableID int64   `json:"frame_table_id"`
	FrameID      int64   `json:"frame_id"`
	FileName     string  `json:"file_name"`
	Intent       string  `json:"intent"`
	EdgeCaseType string  `json:"edge_case_type"`
	Severity     float64 `json:"severity"`
	Reason       string  `json:"reason"`
	SpeedMax     float64 `json:"speed_max"`
	AccelXMin    float64 `json:"accel_x_min"`
	AccelYMax    float64 `json:"accel_y_max"`
	JerkXMax     float64 `json:"jerk_x_max"`
	HasThumbnail bool    `json:"has_thumbnail"`
}

// FlaggedFilter narrows the flagged-frame listing.
type FlaggedFilter struct {
	EdgeCaseType string
	FileName     string
	MinSeverity  float64
}

// FlaggedFrames returns one page of edge cases joined to their frames,
// most severe first. Page is 1-based.
func (s *FrameStore) FlaggedFrames(f FlaggedFilter, page, perPage int) ([]FlaggedFrame, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	where := []string{"ec.severity >= ?"}
	args := []any{f.MinSeverity}
	if f.EdgeCaseType != "" {
		where = append(where, "ec.edge_case_type = ?")
		args = append(args, f.EdgeCaseType)
	}
	if f.FileName != "" {
		where = append(where, "fr.file_name = ?")
		args = append(args, f.FileName)
	}
	cond := strings.Join(where, " AND ")

	var total int64
	countQuery := `
		SELECT COUNT(*)
		FROM edge_cases ec JOIN frames fr ON fr.id = ec.frame_table_id
		WHERE ` + cond
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting flagged frames: %w", err)
	}

	query := `
		SELECT
			ec.id, ec.frame_table_id, fr.frame_id, fr.file_name, fr.intent,
			ec.edge_case_type, ec.severity, ec.reason,
			fr.speed_max, fr.accel_x_min, fr.accel_y_max, fr.jerk_x_max,
			fr.panorama_thumbnail IS NOT NULL
		FROM edge_cases ec JOIN frames fr ON fr.id = ec.frame_table_id
		WHERE ` + cond + `
		ORDER BY ec.severity DESC, ec.id ASC
		LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing flagged frames: %w", err)
	}
	defer rows.Close()

	var out []FlaggedFrame
	for rows.Next() {
		var ff FlaggedFrame
		if err := rows.Scan(
			&ff.EdgeCaseID, &ff.FrameTableID, &ff.FrameID, &ff.FileName, &ff.Intent,
			&ff.EdgeCaseType, &ff.Severity, &ff.Reason,
			&ff.SpeedMax, &ff.AccelXMin, &ff.AccelYMax, &ff.JerkXMax,
			&ff.HasThumbnail,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, ff)
	}
	return out, total, rows.Err()
}

// FrameDetail is the full (blob-free) projection of one frames row,
// with any edge cases attached.
type FrameDetail struct {
	ID              int64      `json:"id"`
	FrameID         int64      `json:"frame_id"`
	FileName        string     `json:"file_name"`
	TimestampMicros int64      `json:"timestamp"`
	Intent          string     `json:"intent"`
	SpeedMin        float64    `json:"speed_min"`
	SpeedMax        float64    `json:"speed_max"`
	SpeedMean       float64    `json:"speed_mean"`
	AccelXMin       float64    `json:"accel_x_min"`
	AccelXMax       float64    `json:"accel_x_max"`
	AccelYMin       float64    `json:"accel_y_min"`
	AccelYMax       float64    `json:"accel_y_max"`
	JerkXMax        float64    `json:"jerk_x_max"`
	JerkYMax        float64    `json:"jerk_y_max"`
	HasThumbnail    bool       `json:"has_thumbnail"`
	EdgeCases       []EdgeCase `json:"edge_cases"`
}

// EdgeCase is one edge_cases row as served by the read API.
type EdgeCase struct {
	ID           int64   `json:"id"`
	EdgeCaseType string  `json:"edge_case_type"`
	Severity     float64 `json:"severity"`
	Reason       string  `json:"reason"`
}

// Frame returns one frame row by its storage identifier.
func (s *FrameStore) Frame(id int64) (*FrameDetail, error) {
	var d FrameDetail
	err := s.db.QueryRow(`
		SELECT id, frame_id, file_name, timestamp, intent,
			speed_min, speed_max, speed_mean,
			accel_x_min, accel_x_max, accel_y_min, accel_y_max,
			jerk_x_max, jerk_y_max,
			panorama_thumbnail IS NOT NULL
		FROM frames WHERE id = ?`, id).Scan(
		&d.ID, &d.FrameID, &d.FileName, &d.TimestampMicros, &d.Intent,
		&d.SpeedMin, &d.SpeedMax, &d.SpeedMean,
		&d.AccelXMin, &d.AccelXMax, &d.AccelYMin, &d.AccelYMax,
		&d.JerkXMax, &d.JerkYMax,
		&d.HasThumbnail,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: frame row %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading frame row %d: %w", id, err)
	}

	rows, err := s.db.Query(`
		SELECT id, edge_case_type, severity, reason
		FROM edge_cases WHERE frame_table_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("reading edge cases for frame row %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var ec EdgeCase
		if err := rows.Scan(&ec.ID, &ec.EdgeCaseType, &ec.Severity, &ec.Reason); err != nil {
			return nil, err
		}
		d.EdgeCases = append(d.EdgeCases, ec)
	}
	return &d, rows.Err()
}

// Thumbnail returns the stored panorama thumbnail for a frame row, or
// ErrNotFound when the row does not exist or has no thumbnail.
func (s *FrameStore) Thumbnail(id int64) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT panorama_thumbnail FROM frames WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: frame row %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading thumbnail for frame row %d: %w", id, err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: frame row %d has no thumbnail", ErrNotFound, id)
	}
	return blob, nil
}

// FilterValues returns the distinct values the read API exposes as
// list filters.
func (s *FrameStore) FilterValues() (types, files []string, err error) {
	types, err = s.stringColumn(`SELECT DISTINCT edge_case_type FROM edge_cases ORDER BY edge_case_type`)
	if err != nil {
		return nil, nil, err
	}
	files, err = s.stringColumn(`SELECT DISTINCT file_name FROM frames ORDER BY file_name`)
	if err != nil {
		return nil, nil, err
	}
	return types, files, nil
}

func (s *FrameStore) stringColumn(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("filter query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Severities returns every stored severity score, for histogramming.
func (s *FrameStore) Severities() ([]float64, error) {
	return s.floatColumn(`SELECT severity FROM edge_cases`)
}

// motionColumns is the allowlist for MotionColumn; anything else is a
// caller bug, not a query to forward to SQL.
var motionColumns = map[string]bool{
	"speed_min": true, "speed_max": true, "speed_mean": true,
	"accel_x_min": true, "accel_x_max": true,
	"accel_y_min": true, "accel_y_max": true,
	"jerk_x_max": true, "jerk_y_max": true,
}

// MotionColumn returns all values of one motion-summary column.
func (s *FrameStore) MotionColumn(col string) ([]float64, error) {
	if !motionColumns[col] {
		return nil, fmt.Errorf("unknown motion column %q", col)
	}
	return s.floatColumn(`SELECT ` + col + ` FROM frames`)
}

func (s *FrameStore) floatColumn(query string) ([]float64, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("column query: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReadQuery executes an already-validated read-only query and returns
// the column names and stringified rows. Validation (read-only, no
// blob projection) is the caller's responsibility; see the api query
// guard.
func (s *FrameStore) ReadQuery(query string, limit int) ([]string, [][]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, nil, fmt.Errorf("ad-hoc query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}
