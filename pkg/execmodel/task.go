// Package execmodel defines the immutable-shape-plus-mutable-state data
// model shared by every other execution-core package: tasks, proposals,
// and the executor's own tagged-union state.
package execmodel

import (
	"fmt"
	"sync"
	"time"
)

// TaskType identifies which of the three ordered movement phases a task
// belongs to.
type TaskType int

const (
	InterBrokerReplica TaskType = iota
	IntraBrokerReplica
	Leader
)

func (t TaskType) String() string {
	switch t {
	case InterBrokerReplica:
		return "INTER_BROKER_REPLICA"
	case IntraBrokerReplica:
		return "INTRA_BROKER_REPLICA"
	case Leader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// TaskState is one node in the task lifecycle DAG:
//
//	PENDING -> IN_PROGRESS -> {COMPLETED | ABORTING -> {ABORTED, DEAD} | DEAD}
type TaskState int

const (
	Pending TaskState = iota
	InProgress
	Aborting
	Aborted
	Dead
	Completed
)

func (s TaskState) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Aborting:
		return "ABORTING"
	case Aborted:
		return "ABORTED"
	case Dead:
		return "DEAD"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s has no outgoing transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case Aborted, Dead, Completed:
		return true
	default:
		return false
	}
}

// allowedTransitions is the DAG from spec §3: every edge a task is allowed
// to cross. Anything not listed here is a programmer error.
var allowedTransitions = map[TaskState]map[TaskState]bool{
	Pending:    {InProgress: true},
	InProgress: {Completed: true, Aborting: true, Dead: true},
	Aborting:   {Aborted: true, Dead: true},
}

// CanTransition reports whether from -> to is a legal edge in the task
// lifecycle DAG.
func CanTransition(from, to TaskState) bool {
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// DiskMove is one broker's replica relocation between log directories.
type DiskMove struct {
	BrokerID   int32
	SourceDir  string
	TargetDir  string

	// EstimatedBytes is the admin plane's best estimate of the replica's
	// on-disk size at proposal time. Zero means the estimate was
	// unavailable, not that the move is free.
	EstimatedBytes int64
}

// ReplicaID names one broker's copy of a partition.
type ReplicaID struct {
	BrokerID int32
}

// TopicPartition names a partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Less gives the default deterministic tie-break order: lexical by topic,
// then numeric by partition.
func (tp TopicPartition) Less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

// Proposal describes one candidate change to a partition's placement,
// before it has been expanded into concrete tasks.
type Proposal struct {
	TopicPartition    TopicPartition
	OldReplicas       []int32
	NewReplicas       []int32
	OldLeader         int32
	NewLeader         int32
	DiskMovesByBroker map[int32]DiskMove
}

// ReplicaSetChanged reports whether the proposal moves any replica across
// brokers.
func (p Proposal) ReplicaSetChanged() bool {
	if len(p.OldReplicas) != len(p.NewReplicas) {
		return true
	}
	old := make(map[int32]bool, len(p.OldReplicas))
	for _, b := range p.OldReplicas {
		old[b] = true
	}
	for _, b := range p.NewReplicas {
		if !old[b] {
			return true
		}
	}
	return false
}

// LeaderChanged reports whether the proposal moves the preferred leader.
func (p Proposal) LeaderChanged() bool {
	return p.OldLeader != p.NewLeader
}

// ExecutionTask is one unit of work tracked by the tracker: an immutable
// description (type, proposal, broker) plus a mutable state field guarded
// by its own mutex so callers never observe a torn transition.
type ExecutionTask struct {
	mu sync.Mutex

	ID       int64
	Type     TaskType
	Proposal Proposal
	BrokerID int32 // meaningful for IntraBrokerReplica only

	state       TaskState
	startTimeMs int64
	endTimeMs   int64

	lastSlowAlertMs int64
}

// NewExecutionTask constructs a task in PENDING state.
func NewExecutionTask(id int64, taskType TaskType, proposal Proposal, brokerID int32) *ExecutionTask {
	return &ExecutionTask{
		ID:       id,
		Type:     taskType,
		Proposal: proposal,
		BrokerID: brokerID,
		state:    Pending,
	}
}

// State returns the task's current state.
func (t *ExecutionTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartTimeMs returns the millisecond timestamp IN_PROGRESS was entered, or
// zero if the task never started.
func (t *ExecutionTask) StartTimeMs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTimeMs
}

// EndTimeMs returns the millisecond timestamp the task reached a terminal
// state, or zero if still active.
func (t *ExecutionTask) EndTimeMs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endTimeMs
}

// Transition moves the task from its current state to to, at clock time
// nowMs. It returns an error if the edge is not in the allowed DAG.
func (t *ExecutionTask) Transition(to TaskState, nowMs int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.state, to) {
		return fmt.Errorf("illegal task transition %s -> %s for task %d", t.state, to, t.ID)
	}

	if t.state == Pending && to == InProgress {
		t.startTimeMs = nowMs
	}
	t.state = to
	if to.IsTerminal() {
		t.endTimeMs = nowMs
	}
	return nil
}

// MarkSlowAlert records that a slow-task alert was just fired, for the
// caller's rate-limiting backoff.
func (t *ExecutionTask) MarkSlowAlert(nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSlowAlertMs = nowMs
}

// SinceLastSlowAlertMs returns how long it has been since the last slow-task
// alert, or -1 if none has fired yet.
func (t *ExecutionTask) SinceLastSlowAlertMs(nowMs int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastSlowAlertMs == 0 {
		return -1
	}
	return nowMs - t.lastSlowAlertMs
}

// NowMs is the clock source used for task timestamps, overridable in tests.
var NowMs = func() int64 {
	return time.Now().UnixMilli()
}
