package turn

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-agent/kestrel/pkg/model"
)

// TaskKind identifies what a task does with its turn
type TaskKind string

const (
	TaskKindRegular       TaskKind = "regular"
	TaskKindCompact       TaskKind = "compact"
	TaskKindReview        TaskKind = "review"
	TaskKindUndo          TaskKind = "undo"
	TaskKindGhostSnapshot TaskKind = "ghost_snapshot"
)

// Task is one unit of turn work. Run executes on its own goroutine; Abort is
// called synchronously during teardown and must release external resources
// without waiting for the goroutine.
type Task interface {
	Kind() TaskKind
	Run(ctx context.Context, tc *TurnContext, input []model.ResponseItem) (string, error)
	Abort(reason AbortReason)
}

// RunningTask is the registration of one spawned task
type RunningTask struct {
	kind         TaskKind
	submissionID string
	task         Task
	cancel       context.CancelFunc
	done         chan struct{}
	startedAt    time.Time
}

// Kind returns the running task's kind
func (rt *RunningTask) Kind() TaskKind { return rt.kind }

// SubmissionID returns the submission that spawned the task
func (rt *RunningTask) SubmissionID() string { return rt.submissionID }

// TurnState holds the mutable per-turn bookkeeping shared between the task
// goroutine and submission handlers.
type TurnState struct {
	mu               sync.Mutex
	pendingApprovals map[string]chan bool
	pendingInput     []model.ResponseItem
}

// NewTurnState creates empty turn state
func NewTurnState() *TurnState {
	return &TurnState{pendingApprovals: make(map[string]chan bool)}
}

// InsertPendingApproval registers an approval request awaiting a decision
func (ts *TurnState) InsertPendingApproval(id string, decision chan bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pendingApprovals[id] = decision
}

// RemovePendingApproval takes an approval request out of the pending set
func (ts *TurnState) RemovePendingApproval(id string) (chan bool, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ch, ok := ts.pendingApprovals[id]
	delete(ts.pendingApprovals, id)
	return ch, ok
}

// PushPendingInput queues input that arrived while the turn was running
func (ts *TurnState) PushPendingInput(item model.ResponseItem) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pendingInput = append(ts.pendingInput, item)
}

// TakePendingInput drains the queued mid-turn input
func (ts *TurnState) TakePendingInput() []model.ResponseItem {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	input := ts.pendingInput
	ts.pendingInput = nil
	return input
}

// ClearPending denies every waiting approval and drops queued input
func (ts *TurnState) ClearPending() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for id, ch := range ts.pendingApprovals {
		select {
		case ch <- false:
		default:
		}
		delete(ts.pendingApprovals, id)
	}
	ts.pendingInput = nil
}

// ActiveTurn is the single slot of turn activity in a session. The task list
// is ordered; the at-most-one invariant is enforced by the session, which
// replaces the whole slot on spawn.
type ActiveTurn struct {
	tasks []*RunningTask
	state *TurnState
}

func newActiveTurn(rt *RunningTask) *ActiveTurn {
	return &ActiveTurn{tasks: []*RunningTask{rt}, state: NewTurnState()}
}

// State returns the turn's shared bookkeeping
func (at *ActiveTurn) State() *TurnState { return at.state }

// remove drops a task registration; it reports whether the task was present
func (at *ActiveTurn) remove(rt *RunningTask) bool {
	for i, candidate := range at.tasks {
		if candidate == rt {
			at.tasks = append(at.tasks[:i], at.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the task list and returns the removed registrations
func (at *ActiveTurn) drain() []*RunningTask {
	tasks := at.tasks
	at.tasks = nil
	return tasks
}

func (at *ActiveTurn) isEmpty() bool {
	return len(at.tasks) == 0
}
