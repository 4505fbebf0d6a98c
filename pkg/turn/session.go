package turn

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// abortGracePeriod bounds how long teardown waits for a cancelled task to
// reach a suspension point before detaching from it.
const abortGracePeriod = 100 * time.Millisecond

// Session owns the single active turn slot. Spawning a task replaces
// whatever was running; at most one task is registered at any instant.
type Session struct {
	id   string
	sink EventSink

	mu     sync.Mutex
	active *ActiveTurn
}

// NewSession creates a session with an idle turn slot. sink may be nil.
func NewSession(id string, sink EventSink) *Session {
	return &Session{id: id, sink: sink}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// SpawnTask aborts any running task with reason Replaced, registers the new
// task in the turn slot, and returns once the old task is torn down. The
// task body runs on its own goroutine.
func (s *Session) SpawnTask(tc *TurnContext, input []model.ResponseItem, task Task) {
	taskCtx, cancel := context.WithCancel(context.Background())
	rt := &RunningTask{
		kind:         task.Kind(),
		submissionID: tc.SubmissionID,
		task:         task,
		cancel:       cancel,
		done:         make(chan struct{}),
		startedAt:    time.Now(),
	}

	// Swap under one critical section: each spawner displaces exactly the
	// slot contents it saw, so concurrent spawns can never both register
	// without one tearing the other down.
	s.mu.Lock()
	displaced, state := s.takeActiveLocked()
	s.active = newActiveTurn(rt)
	s.mu.Unlock()

	s.teardown(displaced, state, AbortReasonReplaced)

	event := newEvent(EventTaskStarted, s.id, tc.SubmissionID)
	event.TaskKind = rt.kind
	s.emit(event)

	log.Info().
		Str("session_id", s.id).
		Str("submission_id", tc.SubmissionID).
		Str("task_kind", string(rt.kind)).
		Msg("Task spawned")

	go func() {
		defer close(rt.done)
		lastAgentMessage, err := task.Run(taskCtx, tc, input)
		if taskCtx.Err() != nil {
			// Teardown owns the terminal event for cancelled tasks
			return
		}
		s.onTaskFinished(rt, lastAgentMessage, err)
	}()
}

// AbortAllTasks tears down the active turn. Per task: cancel the context,
// wait up to the grace period for the goroutine to park, then detach and run
// the task's Abort hook synchronously. Safe to call when idle; a second
// concurrent abort finds an empty slot and does nothing.
func (s *Session) AbortAllTasks(reason AbortReason) {
	s.mu.Lock()
	tasks, state := s.takeActiveLocked()
	s.mu.Unlock()

	s.teardown(tasks, state, reason)
}

// takeActiveLocked empties the turn slot and returns its contents. Callers
// hold s.mu.
func (s *Session) takeActiveLocked() ([]*RunningTask, *TurnState) {
	if s.active == nil {
		return nil, nil
	}
	tasks := s.active.drain()
	state := s.active.state
	s.active = nil
	return tasks, state
}

// teardown cancels displaced tasks, waits out the grace period, and emits
// their TurnAborted events.
func (s *Session) teardown(tasks []*RunningTask, state *TurnState, reason AbortReason) {
	if state != nil {
		state.ClearPending()
	}

	for _, rt := range tasks {
		rt.cancel()

		select {
		case <-rt.done:
		case <-time.After(abortGracePeriod):
			// The goroutine exits at its next suspension point; its
			// resources are released by the Abort hook below.
			log.Warn().
				Str("session_id", s.id).
				Str("submission_id", rt.submissionID).
				Str("task_kind", string(rt.kind)).
				Msg("Task did not stop within grace period, detaching")
		}

		rt.task.Abort(reason)

		event := newEvent(EventTurnAborted, s.id, rt.submissionID)
		event.TaskKind = rt.kind
		event.Reason = reason
		s.emit(event)

		log.Info().
			Str("session_id", s.id).
			Str("submission_id", rt.submissionID).
			Str("task_kind", string(rt.kind)).
			Str("reason", string(reason)).
			Dur("ran_for", time.Since(rt.startedAt)).
			Msg("Task aborted")
	}
}

// Interrupt aborts the active turn on behalf of the user
func (s *Session) Interrupt() {
	s.AbortAllTasks(AbortReasonInterrupted)
}

// Shutdown aborts the active turn because the session is closing
func (s *Session) Shutdown() {
	s.AbortAllTasks(AbortReasonShutdown)
}

// IsIdle reports whether the turn slot is empty
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == nil || s.active.isEmpty()
}

// ActiveTaskKind returns the running task's kind, if any
func (s *Session) ActiveTaskKind() (TaskKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.isEmpty() {
		return "", false
	}
	return s.active.tasks[0].kind, true
}

// TurnState returns the active turn's shared bookkeeping, if a turn is live
func (s *Session) TurnState() (*TurnState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, false
	}
	return s.active.state, true
}

// onTaskFinished runs on the task goroutine after an uncancelled Run
// returns. The slot removal decides who emits the terminal event: if the
// task is already gone, teardown emitted TurnAborted and this is a no-op.
func (s *Session) onTaskFinished(rt *RunningTask, lastAgentMessage string, runErr error) {
	s.mu.Lock()
	removed := false
	if s.active != nil {
		removed = s.active.remove(rt)
		if s.active.isEmpty() {
			s.active = nil
		}
	}
	s.mu.Unlock()

	if !removed {
		return
	}

	if runErr != nil {
		event := newEvent(EventTaskError, s.id, rt.submissionID)
		event.TaskKind = rt.kind
		event.Err = runErr.Error()
		s.emit(event)

		log.Error().
			Str("session_id", s.id).
			Str("submission_id", rt.submissionID).
			Str("task_kind", string(rt.kind)).
			Err(runErr).
			Msg("Task failed")
		return
	}

	event := newEvent(EventTaskComplete, s.id, rt.submissionID)
	event.TaskKind = rt.kind
	event.Message = lastAgentMessage
	s.emit(event)

	log.Info().
		Str("session_id", s.id).
		Str("submission_id", rt.submissionID).
		Str("task_kind", string(rt.kind)).
		Dur("ran_for", time.Since(rt.startedAt)).
		Msg("Task complete")
}

func (s *Session) emit(event Event) {
	if s.sink != nil {
		s.sink.Emit(event)
	}
}
