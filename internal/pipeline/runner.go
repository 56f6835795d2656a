// Package pipeline orchestrates one processing run: calibration has
// already produced the active thresholds; the runner streams frames
// from a source, extracts metrics, detects edge cases, composites
// panorama thumbnails off the critical path, and hands completed
// frames to the single store writer in source order.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/calibrate"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/detect"
	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/panorama"
)

// Config tunes one run.
type Config struct {
	// PanoramaWorkers bounds the compositing pool. Zero means 2.
	PanoramaWorkers int
	// Panorama is the compositing policy; the zero value means
	// panorama.DefaultOptions.
	Panorama panorama.Options
}

// Summary is the end-of-run report.
type Summary struct {
	RunID  string
	Source string

	FramesStored    int
	FramesFailed    int
	SkippedDecode   int
	SkippedMetrics  int
	WriteRetries    int
	EdgeCases       int
	EdgeCasesFailed int
	EdgeCasesByType map[detect.Type]int
	Thumbnails      int

	Elapsed time.Duration
}

// panoJob carries one frame's camera payloads to the compositing pool.
// The result channel is buffered so a worker never blocks on a slow
// consumer.
type panoJob struct {
	images []e2ed.CameraImage
	result chan []byte
}

// Run processes every frame of src against the given thresholds,
// persisting through store. One frame's failure does not abort the
// run; decode and metric problems are counted and reported in the
// summary. Run aborts only on unusable thresholds or an unreadable
// source.
func Run(src e2ed.Opener, store *db.FrameStore, thresholds calibrate.ThresholdSet, cfg Config) (Summary, error) {
	sum := Summary{
		RunID:           uuid.NewString(),
		Source:          src.Name(),
		EdgeCasesByType: make(map[detect.Type]int),
	}

	if err := thresholds.Validate(); err != nil {
		return sum, err
	}
	if cfg.PanoramaWorkers <= 0 {
		cfg.PanoramaWorkers = 2
	}
	if cfg.Panorama == (panorama.Options{}) {
		cfg.Panorama = panorama.DefaultOptions()
	}

	rc, err := src.Open()
	if err != nil {
		return sum, err
	}
	defer rc.Close()

	monitoring.Logf("run %s: processing %s (thresholds hard_brake=%.4f lateral=%.4f jerk=%.4f)",
		sum.RunID, sum.Source, thresholds.HardBrake, thresholds.Lateral, thresholds.Jerk)

	jobs := make(chan panoJob)
	var workers sync.WaitGroup
	for i := 0; i < cfg.PanoramaWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				job.result <- panorama.Composite(panorama.Decode(job.images), cfg.Panorama)
			}
		}()
	}
	defer func() {
		close(jobs)
		workers.Wait()
	}()

	start := time.Now()
	rr := e2ed.NewRecordReader(rc)
	var frameSeq int64

	for {
		payload, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, e2ed.ErrPayloadChecksum) {
				// The corrupt record was fully consumed; the next read
				// starts at a clean boundary.
				frameSeq++
				monitoring.Logf("run %s: skipping frame %d of %s: %v", sum.RunID, frameSeq, sum.Source, err)
				sum.SkippedDecode++
				continue
			}
			// Framing is lost; nothing after a bad record boundary can
			// be resynchronised.
			monitoring.Logf("run %s: %s: %v; stopping read", sum.RunID, sum.Source, err)
			sum.SkippedDecode++
			break
		}
		frameSeq++

		frame, err := e2ed.Unmarshal(payload)
		if err != nil {
			monitoring.Logf("run %s: skipping frame %d of %s: %v", sum.RunID, frameSeq, sum.Source, err)
			sum.SkippedDecode++
			continue
		}

		// Compositing is the latency-costly step; hand it to the pool
		// and overlap it with extraction and detection. The result is
		// awaited before the frame is persisted.
		job := panoJob{images: frame.Images, result: make(chan []byte, 1)}
		jobs <- job

		metrics, err := motion.Extract(frame.VelX, frame.VelY, frame.AccelX, frame.AccelY)
		if err != nil {
			monitoring.Logf("run %s: skipping frame %d of %s: %v", sum.RunID, frameSeq, sum.Source, err)
			sum.SkippedMetrics++
			<-job.result
			continue
		}

		candidates, err := detect.Detect(metrics, thresholds)
		if err != nil {
			// Zero threshold: detection cannot proceed safely.
			<-job.result
			return sum, err
		}

		thumbnail := <-job.result
		if thumbnail != nil {
			sum.Thumbnails++
		}

		rowID, outcome, err := store.InsertFrame(db.FrameRecord{
			FrameID:         frameSeq,
			FileName:        sum.Source,
			TimestampMicros: frame.TimestampMicros,
			Intent:          frame.Intent.String(),
			Metrics:         metrics,
			Thumbnail:       thumbnail,
		})
		if outcome == db.WriteRetried {
			sum.WriteRetries++
		}
		if err != nil {
			monitoring.Logf("run %s: frame %d of %s not stored: %v", sum.RunID, frameSeq, sum.Source, err)
			sum.FramesFailed++
			continue
		}
		sum.FramesStored++
		monitoring.Debugf("frame %d: speed %.2f-%.2f m/s accel_x %.2f..%.2f intent=%s row=%d",
			frameSeq, metrics.SpeedMin, metrics.SpeedMax, metrics.AccelXMin, metrics.AccelXMax, frame.Intent, rowID)

		for _, c := range candidates {
			outcome, err := store.InsertEdgeCase(rowID, c)
			if outcome == db.WriteRetried {
				sum.WriteRetries++
			}
			if err != nil {
				monitoring.Logf("run %s: edge case for frame %d not stored: %v", sum.RunID, frameSeq, err)
				sum.EdgeCasesFailed++
				continue
			}
			sum.EdgeCases++
			sum.EdgeCasesByType[c.Type]++
			monitoring.Logf("run %s: frame %d flagged %s severity=%.2f (%s)",
				sum.RunID, frameSeq, c.Type, c.Severity, c.Reason)
		}
	}

	sum.Elapsed = time.Since(start)
	monitoring.Logf("run %s complete: %d stored, %d edge cases, %d failed, %d skipped, in %s",
		sum.RunID, sum.FramesStored, sum.EdgeCases, sum.FramesFailed+sum.EdgeCasesFailed,
		sum.SkippedDecode+sum.SkippedMetrics, sum.Elapsed.Round(time.Millisecond))
	return sum, nil
}

// Report renders the run summary plus the store-level validation
// queries: counts by intent and type, severity range sanity, and the
// motion extremes kept for future recalibration.
func Report(w io.Writer, sum Summary, store *db.FrameStore) error {
	fmt.Fprintf(w, "--- Run %s: %s ---\n", sum.RunID, sum.Source)
	fmt.Fprintf(w, "Frames stored:    %d\n", sum.FramesStored)
	fmt.Fprintf(w, "Frames failed:    %d\n", sum.FramesFailed)
	fmt.Fprintf(w, "Records skipped:  %d decode, %d metrics\n", sum.SkippedDecode, sum.SkippedMetrics)
	fmt.Fprintf(w, "Write retries:    %d\n", sum.WriteRetries)
	fmt.Fprintf(w, "Thumbnails:       %d\n", sum.Thumbnails)
	fmt.Fprintf(w, "Edge cases:       %d\n", sum.EdgeCases)
	if sum.EdgeCasesFailed > 0 {
		fmt.Fprintf(w, "Edge case write failures: %d\n", sum.EdgeCasesFailed)
	}
	for _, typ := range detect.Types {
		if n := sum.EdgeCasesByType[typ]; n > 0 {
			fmt.Fprintf(w, "  %-18s %d\n", typ+":", n)
		}
	}

	dbSum, err := store.Summary()
	if err != nil {
		return fmt.Errorf("reading store summary: %w", err)
	}
	fmt.Fprintf(w, "Store totals:     %d frames, %d edge cases\n", dbSum.TotalFrames, dbSum.TotalEdgeCases)
	for intent, n := range dbSum.IntentCounts {
		fmt.Fprintf(w, "  intent %-12s %d\n", intent, n)
	}
	if dbSum.Severity.Count > 0 {
		fmt.Fprintf(w, "Severity:         min=%.4f max=%.4f avg=%.4f\n",
			dbSum.Severity.Min, dbSum.Severity.Max, dbSum.Severity.Avg)
		if dbSum.Severity.Max > 1.0 {
			fmt.Fprintf(w, "WARNING: severity scores exceed 1.0; check normalization\n")
		}
	}
	if dbSum.TotalFrames > 0 {
		fmt.Fprintf(w, "Extremes:         accel_x_min=%.4f speed_max=%.4f accel_y_max=%.4f jerk_x_max=%.4f\n",
			dbSum.Extremes.MinAccelX, dbSum.Extremes.MaxSpeed, dbSum.Extremes.MaxAccelY, dbSum.Extremes.MaxJerkX)
	}
	return nil
}
