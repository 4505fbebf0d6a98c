package turn

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SpawnReplacesActiveTask(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	first := newBlockingTask()
	session.SpawnTask(tc, nil, first)
	<-first.started

	second := newBlockingTask()
	tc2 := *tc
	tc2.SubmissionID = "sub_2"
	session.SpawnTask(&tc2, nil, second)
	<-second.started

	kind, active := session.ActiveTaskKind()
	require.True(t, active)
	assert.Equal(t, TaskKindRegular, kind)

	aborts := sink.byKind(EventTurnAborted)
	require.Len(t, aborts, 1)
	assert.Equal(t, AbortReasonReplaced, aborts[0].Reason)
	assert.Equal(t, "sub_1", aborts[0].SubmissionID)
	assert.Equal(t, []AbortReason{AbortReasonReplaced}, first.abortReasons())

	// The replaced task never completes
	assert.Equal(t, 0, sink.countKind(EventTaskComplete))

	session.Shutdown()
}

func TestSession_ConcurrentSpawnsLeaveExactlyOneTask(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)

	first := newBlockingTask()
	second := newBlockingTask()

	done := make(chan struct{}, 2)
	go func() {
		tc := newTestContext(&scriptedClient{}, nil, nil, sink)
		session.SpawnTask(tc, nil, first)
		done <- struct{}{}
	}()
	go func() {
		tc := newTestContext(&scriptedClient{}, nil, nil, sink)
		tc.SubmissionID = "sub_2"
		session.SpawnTask(tc, nil, second)
		done <- struct{}{}
	}()
	<-done
	<-done

	// Whichever spawner registered last displaced the other; never both
	_, active := session.ActiveTaskKind()
	require.True(t, active)
	assert.Equal(t, 2, sink.countKind(EventTaskStarted))
	assert.Equal(t, 1, sink.countKind(EventTurnAborted))
	assert.Equal(t, AbortReasonReplaced, sink.byKind(EventTurnAborted)[0].Reason)
	assert.Equal(t, 1, len(first.abortReasons())+len(second.abortReasons()))

	session.Shutdown()
	assert.True(t, session.IsIdle())
	assert.Equal(t, 2, sink.countKind(EventTurnAborted))
}

func TestSession_AbortIsIdempotent(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	task := newBlockingTask()
	session.SpawnTask(tc, nil, task)
	<-task.started

	session.Interrupt()
	session.Interrupt()

	// Exactly one terminal event, one abort hook invocation
	assert.Equal(t, 1, sink.countKind(EventTurnAborted))
	assert.Len(t, task.abortReasons(), 1)
	assert.True(t, session.IsIdle())
}

func TestSession_TaskCompleteEmittedExactlyOnce(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	session.SpawnTask(tc, nil, &quickTask{message: "all done"})

	require.Eventually(t, func() bool {
		return sink.countKind(EventTaskComplete) == 1
	}, 2*time.Second, 5*time.Millisecond)

	completes := sink.byKind(EventTaskComplete)
	assert.Equal(t, "all done", completes[0].Message)
	assert.True(t, session.IsIdle())
	assert.Equal(t, 0, sink.countKind(EventTurnAborted))
	assert.Equal(t, 0, sink.countKind(EventTaskError))
}

func TestSession_FailedTaskEmitsError(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	session.SpawnTask(tc, nil, &quickTask{err: errors.New("model exploded")})

	require.Eventually(t, func() bool {
		return sink.countKind(EventTaskError) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Contains(t, sink.byKind(EventTaskError)[0].Err, "model exploded")
	assert.Equal(t, 0, sink.countKind(EventTaskComplete))
	assert.True(t, session.IsIdle())
}

func TestSession_StubbornTaskDetachesAfterGracePeriod(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	task := newStubbornTask(600 * time.Millisecond)
	session.SpawnTask(tc, nil, task)
	<-task.started

	start := time.Now()
	session.Interrupt()
	elapsed := time.Since(start)

	// Teardown waited only the grace period, not the task's full sleep
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, abortGracePeriod)
	assert.Equal(t, 1, sink.countKind(EventTurnAborted))
	assert.True(t, session.IsIdle())

	// The detached goroutine finishes later without a completion event
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, 0, sink.countKind(EventTaskComplete))
}

func TestSession_SpawnEmitsTaskStarted(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	task := newBlockingTask()
	session.SpawnTask(tc, nil, task)
	<-task.started

	started := sink.byKind(EventTaskStarted)
	require.Len(t, started, 1)
	assert.Equal(t, TaskKindRegular, started[0].TaskKind)
	assert.Equal(t, "sess_1", started[0].SessionID)

	session.Shutdown()
}

func TestSession_AbortDeniesPendingApprovals(t *testing.T) {
	sink := &collectSink{}
	session := NewSession("sess_1", sink)
	tc := newTestContext(&scriptedClient{}, nil, nil, sink)

	task := newBlockingTask()
	session.SpawnTask(tc, nil, task)
	<-task.started

	state, ok := session.TurnState()
	require.True(t, ok)

	decision := make(chan bool, 1)
	state.InsertPendingApproval("appr_1", decision)

	session.Interrupt()

	select {
	case approved := <-decision:
		assert.False(t, approved)
	default:
		t.Fatal("pending approval was not denied on abort")
	}
}
