package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilitycore/orchestrator/resilience"
)

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := resilience.New("t", resilience.Config{FailureThreshold: 3}, nil, nil)
	b.RecordResult(errors.New("boom"))
	b.RecordResult(errors.New("boom"))
	assert.Equal(t, resilience.StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerOpensAtThresholdAndRejects(t *testing.T) {
	b := resilience.New("t", resilience.Config{FailureThreshold: 2, SleepWindow: time.Hour}, nil, nil)
	b.RecordResult(errors.New("boom"))
	b.RecordResult(errors.New("boom"))
	assert.Equal(t, resilience.StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpensAfterSleepWindowAndCloses(t *testing.T) {
	b := resilience.New("t", resilience.Config{FailureThreshold: 1, SuccessThreshold: 2, SleepWindow: 10 * time.Millisecond}, nil, nil)
	b.RecordResult(errors.New("boom"))
	require.Equal(t, resilience.StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())
	assert.Equal(t, resilience.StateHalfOpen, b.State())

	b.RecordResult(nil)
	assert.Equal(t, resilience.StateHalfOpen, b.State())
	b.RecordResult(nil)
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := resilience.New("t", resilience.Config{FailureThreshold: 1, SleepWindow: 10 * time.Millisecond}, nil, nil)
	b.RecordResult(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, resilience.StateHalfOpen, b.State())

	b.RecordResult(errors.New("still broken"))
	assert.Equal(t, resilience.StateOpen, b.State())
}

func TestClassifierSkipsUnclassifiedErrors(t *testing.T) {
	ignored := errors.New("not infrastructure")
	b := resilience.New("t", resilience.Config{
		FailureThreshold: 1,
		Classifier:       func(err error) bool { return err != ignored },
	}, nil, nil)

	b.RecordResult(ignored)
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestExecuteRecordsSuccessAndFailure(t *testing.T) {
	b := resilience.New("t", resilience.Config{FailureThreshold: 1, SleepWindow: time.Hour}, nil, nil)

	out, err := b.Execute(func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = b.Execute(func() (string, error) { return "", errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, resilience.StateOpen, b.State())

	_, err = b.Execute(func() (string, error) { return "unused", nil })
	assert.ErrorIs(t, err, resilience.ErrOpen)
}
