package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoss/jobgate/internal/status"
)

func TestOnJobTerminal_RejectsNonTerminalState(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	err := sched.OnJobTerminal(context.Background(), "some-id", status.StateRunning, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")
}

func TestOnJobTerminal_RecordsResult(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	job, err := sched.Submit(ctx, throttleKey("c1"), "{}")
	require.NoError(t, err)
	_, err = store.Transition(ctx, job.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)

	require.NoError(t, sched.OnJobTerminal(ctx, job.ID, status.StateFinished, "42 entitlements granted"))

	finished, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateFinished, finished.State)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "42 entitlements granted", *finished.Result)
	assert.NotNil(t, finished.FinishedAt)
}

func TestOnJobTerminal_DuplicateCallbackIsNoOp(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	job, err := sched.Submit(ctx, throttleKey("c1"), "{}")
	require.NoError(t, err)
	_, err = store.Transition(ctx, job.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)

	require.NoError(t, sched.OnJobTerminal(ctx, job.ID, status.StateFinished, "done"))

	// Completion delivery is at-least-once; the second callback must change
	// nothing, even with a conflicting final state.
	require.NoError(t, sched.OnJobTerminal(ctx, job.ID, status.StateFailed, "ignored"))

	finished, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateFinished, finished.State)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "done", *finished.Result)
}

func TestOnJobTerminal_PromotesOldestWaiting(t *testing.T) {
	sched, store, dispatcher := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	_, err = store.Transition(ctx, first.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)

	second, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	third, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)

	require.Equal(t, status.StateWaiting, second.State)
	require.Equal(t, status.StateWaiting, third.State)

	require.NoError(t, sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done"))

	// Exactly one promotion per completion, oldest first.
	promoted, err := store.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StatePending, promoted.State)

	stillWaiting, err := store.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateWaiting, stillWaiting.State)

	assert.Equal(t, []string{first.ID, second.ID}, dispatcher.calls())

	// Completing the promoted job promotes the next in line.
	_, err = store.Transition(ctx, second.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)
	require.NoError(t, sched.OnJobTerminal(ctx, second.ID, status.StateFinished, "done"))

	last, err := store.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StatePending, last.State)
}

func TestOnJobTerminal_CanceledCompletionStillPromotes(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	waiting, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)

	_, err = store.Transition(ctx, first.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)
	require.NoError(t, sched.OnJobTerminal(ctx, first.ID, status.StateCanceled, "canceled"))

	promoted, err := store.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StatePending, promoted.State)
}

func TestOnJobTerminal_ThrottleHasNoPromotion(t *testing.T) {
	sched, store, dispatcher := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, throttleKey("c1"), "{}")
	require.NoError(t, err)
	_, err = sched.Submit(ctx, throttleKey("c1"), "{}")
	require.NoError(t, err)

	rejected, err := sched.Submit(ctx, throttleKey("c1"), "{}")
	require.NoError(t, err)
	require.Equal(t, status.StateCreated, rejected.State)

	_, err = store.Transition(ctx, first.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)
	require.NoError(t, sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done"))

	// Throttle-rejected rows are never promoted; the freed slot only matters
	// on the next submission.
	still, err := store.Get(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateCreated, still.State)
	assert.NotContains(t, dispatcher.calls(), rejected.ID)
}

func TestOnJobTerminal_PromotionDispatchFailure(t *testing.T) {
	sched, store, dispatcher := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	waiting, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)

	_, err = store.Transition(ctx, first.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)

	dispatcher.fail(errors.New("broker unavailable"))
	err = sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done")

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, waiting.ID, dispatchErr.ID)

	// The terminal transition stands even though the promotion failed.
	finished, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateFinished, finished.State)

	// The candidate was rolled back to WAITING so a redelivered completion
	// callback can promote it again.
	rolledBack, err := store.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateWaiting, rolledBack.State)
}

func TestOnJobTerminal_RedeliveredCallbackRetriesPromotion(t *testing.T) {
	sched, store, dispatcher := newTestScheduler(t)
	ctx := context.Background()

	first, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	waiting, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)

	_, err = store.Transition(ctx, first.ID, status.StatePending, status.StateRunning, nil)
	require.NoError(t, err)

	dispatcher.fail(errors.New("broker unavailable"))
	err = sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done")
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)

	// The broker comes back and the completion callback is redelivered; the
	// duplicate picks up the promotion the first attempt lost.
	dispatcher.fail(nil)
	require.NoError(t, sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done"))

	promoted, err := store.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StatePending, promoted.State)
	assert.Contains(t, dispatcher.calls(), waiting.ID)

	// With an active peer back in place, further duplicates promote nothing.
	third, err := sched.Submit(ctx, uniqueKey("o1"), "{}")
	require.NoError(t, err)
	require.Equal(t, status.StateWaiting, third.State)

	require.NoError(t, sched.OnJobTerminal(ctx, first.ID, status.StateFinished, "done"))

	still, err := store.Get(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateWaiting, still.State)
}

func TestOnJobTerminal_UnregisteredClassSkipsPromotion(t *testing.T) {
	sched, store, _ := newTestScheduler(t)
	ctx := context.Background()

	// A class can disappear from configuration between submission and
	// completion across a restart.
	job := &status.JobStatus{
		ID:         "11111111-1111-1111-1111-111111111111",
		JobClass:   "retired_class",
		TargetType: status.TargetOwner,
		TargetID:   "o1",
		OwnerID:    "o1",
		State:      status.StateRunning,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.Create(ctx, job))

	require.NoError(t, sched.OnJobTerminal(ctx, job.ID, status.StateFinished, "done"))

	finished, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, status.StateFinished, finished.State)
}

func TestOnJobTerminal_UnknownJob(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	err := sched.OnJobTerminal(context.Background(), "no-such-job", status.StateFinished, "")
	require.ErrorIs(t, err, status.ErrNotFound)
}
