package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"evalgo/pkg/core"
)

func TestBudgetDefaultAbortsOnFirstError(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{}), 10)

	b.Record(core.OutcomeSuccess, true)
	require.False(t, b.ShouldAbort())

	b.Record(core.OutcomeError, true)
	require.True(t, b.ShouldAbort())
}

func TestBudgetProportionThreshold(t *testing.T) {
	// 0.5 over 10 planned attempts: the 6th error crosses the line,
	// not earlier.
	b := NewBudget(ResolvePolicy(core.EvalConfig{FailOnError: 0.5}), 10)

	for i := 0; i < 5; i++ {
		b.Record(core.OutcomeError, true)
		require.False(t, b.ShouldAbort(), "error %d must not trip", i+1)
	}
	b.Record(core.OutcomeError, true)
	require.True(t, b.ShouldAbort(), "6th error exceeds 0.5")
}

func TestBudgetCountThreshold(t *testing.T) {
	// A value above 1 is an absolute count: 3 tolerated, 4th aborts.
	b := NewBudget(ResolvePolicy(core.EvalConfig{FailOnError: 3}), 100)

	for i := 0; i < 3; i++ {
		b.Record(core.OutcomeError, true)
		require.False(t, b.ShouldAbort(), "error %d must not trip", i+1)
	}
	b.Record(core.OutcomeError, true)
	require.True(t, b.ShouldAbort())
}

func TestBudgetContinueOnFail(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{ContinueOnFail: true}), 4)

	b.Record(core.OutcomeError, true)
	require.False(t, b.ShouldAbort(), "dispatch continues")
	require.True(t, b.Exceeded(), "run is marked for eventual failure")
}

func TestBudgetNoFailOnError(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{NoFailOnError: true}), 2)

	b.Record(core.OutcomeError, true)
	b.Record(core.OutcomeError, true)
	require.False(t, b.ShouldAbort())
	require.False(t, b.Exceeded())

	errs, attempts := b.Counts()
	require.Equal(t, 2, errs)
	require.Equal(t, 2, attempts)
}

func TestBudgetRetriedErrorsNotCountedByDefault(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{RetryOnError: 1}), 2)

	// First attempt errored but the sample will retry.
	b.Record(core.OutcomeTimeout, false)
	require.False(t, b.ShouldAbort())

	b.Record(core.OutcomeSuccess, true)
	require.False(t, b.ShouldAbort())

	errs, attempts := b.Counts()
	require.Zero(t, errs)
	require.Equal(t, 2, attempts)
}

func TestBudgetCountRetriedErrors(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{CountRetriedErrors: true}), 2)

	b.Record(core.OutcomeTimeout, false)
	require.True(t, b.ShouldAbort(), "retried errors draw down the budget when configured")
}

func TestBudgetCancellationIsNotAnError(t *testing.T) {
	b := NewBudget(ResolvePolicy(core.EvalConfig{}), 2)

	b.Record(core.OutcomeCanceled, true)
	require.False(t, b.ShouldAbort())
}
