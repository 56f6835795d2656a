package db

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestRetryOnBusySucceedsFirstTry(t *testing.T) {
	calls := 0
	outcome, err := retryOnBusy(func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, WriteOK, outcome)
	assert.Equal(t, 1, calls)
}

func TestRetryOnBusyRetriesExactlyOnce(t *testing.T) {
	calls := 0
	outcome, err := retryOnBusy(func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, WriteRetried, outcome)
	assert.Equal(t, 2, calls)
}

func TestRetryOnBusyGivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	outcome, err := retryOnBusy(func() error {
		calls++
		return errors.New("database is locked (5) (SQLITE_BUSY)")
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, WriteFatal, outcome)
	assert.Equal(t, 2, calls, "never more than one retry")
}

func TestRetryOnBusyDoesNotRetryRealFailures(t *testing.T) {
	calls := 0
	outcome, err := retryOnBusy(func() error {
		calls++
		return errors.New("FOREIGN KEY constraint failed")
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, WriteFatal, outcome)
	assert.Equal(t, 1, calls, "constraint violations are not contention")
}

func TestWriteOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", WriteOK.String())
	assert.Equal(t, "retried", WriteRetried.String())
	assert.Equal(t, "fatal", WriteFatal.String())
}
