package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// ErrPersistence marks a write that failed even after its single
// retry. The owning frame is recorded as failed and the run continues.
var ErrPersistence = errors.New("db: persistence failure")

// WriteOutcome reports how a store write concluded, so callers can
// count contention and failures without unwinding the run.
type WriteOutcome int

const (
	// WriteOK means the write succeeded first try.
	WriteOK WriteOutcome = iota
	// WriteRetried means the write hit transient contention and
	// succeeded on the single retry.
	WriteRetried
	// WriteFatal means the write failed and will not be retried again.
	WriteFatal
)

func (o WriteOutcome) String() string {
	switch o {
	case WriteOK:
		return "ok"
	case WriteRetried:
		return "retried"
	default:
		return "fatal"
	}
}

// retryDelay spaces the single retry far enough apart for a contending
// writer's transaction to clear.
const retryDelay = 50 * time.Millisecond

// retryOnBusy runs fn, retrying exactly once if it fails with lock
// contention. Anything else, or a second failure, is fatal. Writes are
// never retried more than once; the retry bounds write latency to one
// extra round trip.
func retryOnBusy(fn func() error) (WriteOutcome, error) {
	err := fn()
	if err == nil {
		return WriteOK, nil
	}
	if !isBusy(err) {
		return WriteFatal, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	monitoring.Logf("write contention (%v); retrying once", err)
	time.Sleep(retryDelay)
	if err := fn(); err != nil {
		return WriteFatal, fmt.Errorf("%w: retry failed: %v", ErrPersistence, err)
	}
	return WriteRetried, nil
}

// isBusy reports whether err looks like transient SQLite contention
// (SQLITE_BUSY / SQLITE_LOCKED) rather than a real failure.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
