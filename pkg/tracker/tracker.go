// Package tracker implements the task tracker (C3): per-type pending
// queues, the in-progress set, concurrency-aware batch admission, and
// finished/dead bookkeeping. Internally synchronized; batch retrieval and
// state transitions are atomic with respect to each other.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cyw0ng95/execore/pkg/common"
	"github.com/cyw0ng95/execore/pkg/concurrency"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// Tracker holds every ExecutionTask for the current run, queued by type
// until admitted, then moved to the in-progress set until terminal.
type Tracker struct {
	mu sync.Mutex

	nextID int64

	pending map[execmodel.TaskType][]*execmodel.ExecutionTask
	active  map[int64]*execmodel.ExecutionTask

	finishedCount map[execmodel.TaskType]int
	deadCount     map[execmodel.TaskType]int
	abortedCount  map[execmodel.TaskType]int

	// terminal retains every task that has reached a terminal state this
	// run, so a caller can export a full run summary (pkg/report) any
	// time before the next Clear discards it.
	terminal []*execmodel.ExecutionTask

	stopRequested atomic.Bool

	concurrencyMgr *concurrency.Manager
	logger         *common.Logger
}

// New constructs an empty Tracker bound to a concurrency manager for
// admission decisions.
func New(concurrencyMgr *concurrency.Manager, logger *common.Logger) *Tracker {
	return &Tracker{
		pending:       make(map[execmodel.TaskType][]*execmodel.ExecutionTask),
		active:        make(map[int64]*execmodel.ExecutionTask),
		finishedCount: make(map[execmodel.TaskType]int),
		deadCount:     make(map[execmodel.TaskType]int),
		abortedCount:  make(map[execmodel.TaskType]int),
		concurrencyMgr: concurrencyMgr,
		logger:         logger,
	}
}

// AddProposals expands each proposal into 0-3 tasks (inter-broker if the
// replica set differs, one intra-broker task per disk move, leader if the
// preferred leader differs), appends them to their type's pending queue,
// and re-sorts that queue with strategy. Returns every task created.
func (t *Tracker) AddProposals(proposals []execmodel.Proposal, opts StrategyOptions, strategy ReplicaMovementStrategy) []*execmodel.ExecutionTask {
	if strategy == nil {
		strategy = DefaultStrategy
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var created []*execmodel.ExecutionTask
	touchedTypes := make(map[execmodel.TaskType]bool)

	for _, p := range proposals {
		if p.ReplicaSetChanged() {
			task := t.newTaskLocked(execmodel.InterBrokerReplica, p, 0)
			t.pending[execmodel.InterBrokerReplica] = append(t.pending[execmodel.InterBrokerReplica], task)
			created = append(created, task)
			touchedTypes[execmodel.InterBrokerReplica] = true
		}
		for brokerID := range p.DiskMovesByBroker {
			task := t.newTaskLocked(execmodel.IntraBrokerReplica, p, brokerID)
			t.pending[execmodel.IntraBrokerReplica] = append(t.pending[execmodel.IntraBrokerReplica], task)
			created = append(created, task)
			touchedTypes[execmodel.IntraBrokerReplica] = true
		}
		if p.LeaderChanged() {
			task := t.newTaskLocked(execmodel.Leader, p, p.NewLeader)
			t.pending[execmodel.Leader] = append(t.pending[execmodel.Leader], task)
			created = append(created, task)
			touchedTypes[execmodel.Leader] = true
		}
	}

	for tt := range touchedTypes {
		queue := t.pending[tt]
		sort.SliceStable(queue, func(i, j int) bool {
			return strategy.Compare(queue[i], queue[j], opts) < 0
		})
	}

	return created
}

func (t *Tracker) newTaskLocked(taskType execmodel.TaskType, p execmodel.Proposal, brokerID int32) *execmodel.ExecutionTask {
	t.nextID++
	return execmodel.NewExecutionTask(t.nextID, taskType, p, brokerID)
}

// brokersTouched returns every broker a task's admission would consume
// concurrency on, for its dimension.
func brokersTouched(task *execmodel.ExecutionTask) []int32 {
	switch task.Type {
	case execmodel.InterBrokerReplica:
		set := make(map[int32]bool)
		for _, b := range task.Proposal.OldReplicas {
			set[b] = true
		}
		for _, b := range task.Proposal.NewReplicas {
			set[b] = true
		}
		out := make([]int32, 0, len(set))
		for b := range set {
			out = append(out, b)
		}
		return out
	case execmodel.IntraBrokerReplica, execmodel.Leader:
		return []int32{task.BrokerID}
	default:
		return nil
	}
}

func concurrencyTypeFor(taskType execmodel.TaskType) execmodel.ConcurrencyType {
	switch taskType {
	case execmodel.InterBrokerReplica:
		return execmodel.InterBrokerReplicaConcurrency
	case execmodel.IntraBrokerReplica:
		return execmodel.IntraBrokerReplicaConcurrency
	case execmodel.Leader:
		return execmodel.LeaderBrokerConcurrency
	default:
		return execmodel.InterBrokerReplicaConcurrency
	}
}

func clusterConcurrencyTypeFor(taskType execmodel.TaskType) (execmodel.ConcurrencyType, bool) {
	switch taskType {
	case execmodel.InterBrokerReplica:
		return execmodel.InterBrokerReplicaConcurrency, false
	case execmodel.Leader:
		return execmodel.LeaderClusterConcurrency, true
	default:
		return execmodel.InterBrokerReplicaConcurrency, false
	}
}

// getBatchLocked returns the largest contiguous prefix of the type's
// pending queue admissible under current caps, honoring
// brokersSkipConcurrency (those brokers never count against a per-broker
// cap). Admitted tasks are removed from the pending queue here; callers
// still need MarkInProgress to transition their state.
func (t *Tracker) getBatchLocked(taskType execmodel.TaskType, brokersSkipConcurrency map[int32]bool) []*execmodel.ExecutionTask {
	if t.stopRequested.Load() {
		return nil
	}

	queue := t.pending[taskType]
	if len(queue) == 0 {
		return nil
	}

	ct := concurrencyTypeFor(taskType)
	provisional := make(map[int32]int)
	for _, task := range t.active {
		if task.Type != taskType {
			continue
		}
		for _, b := range brokersTouched(task) {
			if brokersSkipConcurrency[b] {
				continue
			}
			provisional[b]++
		}
	}

	clusterType, hasClusterCap := clusterConcurrencyTypeFor(taskType)
	clusterCount := 0
	if hasClusterCap {
		for _, task := range t.active {
			if task.Type == taskType {
				clusterCount++
			}
		}
	}

	var admitted []*execmodel.ExecutionTask
	idx := 0
	for ; idx < len(queue); idx++ {
		task := queue[idx]
		touched := brokersTouched(task)

		if hasClusterCap {
			clusterCap := t.concurrencyMgr.ClusterCap(clusterType)
			if clusterCount+1 > clusterCap {
				break
			}
		}

		ok := true
		for _, b := range touched {
			if brokersSkipConcurrency[b] {
				continue
			}
			brokerCap := t.concurrencyMgr.CapForBroker(b, ct)
			if provisional[b]+1 > brokerCap {
				ok = false
				break
			}
		}
		if !ok {
			break
		}

		for _, b := range touched {
			if brokersSkipConcurrency[b] {
				continue
			}
			provisional[b]++
		}
		if hasClusterCap {
			clusterCount++
		}
		admitted = append(admitted, task)
	}

	t.pending[taskType] = queue[idx:]
	return admitted
}

// GetInterBrokerBatch returns the next admissible batch of inter-broker
// tasks, respecting brokersSkipConcurrency.
func (t *Tracker) GetInterBrokerBatch(brokersSkipConcurrency map[int32]bool) []*execmodel.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getBatchLocked(execmodel.InterBrokerReplica, brokersSkipConcurrency)
}

// GetIntraBrokerBatch returns the next admissible batch of intra-broker
// tasks, respecting brokersSkipConcurrency.
func (t *Tracker) GetIntraBrokerBatch(brokersSkipConcurrency map[int32]bool) []*execmodel.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getBatchLocked(execmodel.IntraBrokerReplica, brokersSkipConcurrency)
}

// GetLeaderBatch returns the next admissible batch of leader-election
// tasks, respecting brokersSkipConcurrency.
func (t *Tracker) GetLeaderBatch(brokersSkipConcurrency map[int32]bool) []*execmodel.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getBatchLocked(execmodel.Leader, brokersSkipConcurrency)
}

// MarkInProgress transitions every task in tasks from PENDING to
// IN_PROGRESS and adds them to the active set. Returns an error at the
// first illegal transition; tasks before it in the slice stay transitioned.
func (t *Tracker) MarkInProgress(tasks []*execmodel.ExecutionTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := execmodel.NowMs()
	for _, task := range tasks {
		if err := task.Transition(execmodel.InProgress, now); err != nil {
			return fmt.Errorf("markInProgress: %w", err)
		}
		t.active[task.ID] = task
	}
	return nil
}

// MarkDone transitions task to COMPLETED and removes it from the active set.
func (t *Tracker) MarkDone(task *execmodel.ExecutionTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := task.Transition(execmodel.Completed, execmodel.NowMs()); err != nil {
		return fmt.Errorf("markDone: %w", err)
	}
	delete(t.active, task.ID)
	t.finishedCount[task.Type]++
	t.terminal = append(t.terminal, task)
	return nil
}

// MarkAborting transitions task to ABORTING; it stays in the active set
// until MarkAborted or MarkDead moves it out (ABORTING has no edge to
// COMPLETED, so MarkDone rejects it).
func (t *Tracker) MarkAborting(task *execmodel.ExecutionTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := task.Transition(execmodel.Aborting, execmodel.NowMs()); err != nil {
		return fmt.Errorf("markAborting: %w", err)
	}
	return nil
}

// MarkAborted transitions an ABORTING task to ABORTED (terminal) and
// removes it from the active set.
func (t *Tracker) MarkAborted(task *execmodel.ExecutionTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := task.Transition(execmodel.Aborted, execmodel.NowMs()); err != nil {
		return fmt.Errorf("markAborted: %w", err)
	}
	delete(t.active, task.ID)
	t.abortedCount[task.Type]++
	t.terminal = append(t.terminal, task)
	return nil
}

// MarkDead transitions task to DEAD and removes it from the active set.
// Legal from both IN_PROGRESS and ABORTING.
func (t *Tracker) MarkDead(task *execmodel.ExecutionTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := task.Transition(execmodel.Dead, execmodel.NowMs()); err != nil {
		return fmt.Errorf("markDead: %w", err)
	}
	delete(t.active, task.ID)
	t.deadCount[task.Type]++
	t.terminal = append(t.terminal, task)
	return nil
}

// InExecutionTasks returns a snapshot of the current IN_PROGRESS|ABORTING
// set, optionally filtered to one task type.
func (t *Tracker) InExecutionTasks(typeFilter *execmodel.TaskType) []*execmodel.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*execmodel.ExecutionTask, 0, len(t.active))
	for _, task := range t.active {
		if typeFilter != nil && task.Type != *typeFilter {
			continue
		}
		out = append(out, task)
	}
	return out
}

// RemainingCount returns the number of pending+active tasks of a type.
func (t *Tracker) RemainingCount(taskType execmodel.TaskType) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := len(t.pending[taskType])
	for _, task := range t.active {
		if task.Type == taskType {
			count++
		}
	}
	return count
}

// FinishedCount returns the number of COMPLETED tasks of a type.
func (t *Tracker) FinishedCount(taskType execmodel.TaskType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedCount[taskType]
}

// DeadCount returns the number of DEAD tasks of a type.
func (t *Tracker) DeadCount(taskType execmodel.TaskType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadCount[taskType]
}

// RemainingDataToMoveBytes sums the disk-move byte estimates of every
// pending or active intra-broker task, using each task's own broker leg of
// its proposal's DiskMovesByBroker.
func (t *Tracker) RemainingDataToMoveBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	sum := func(task *execmodel.ExecutionTask) {
		if move, ok := task.Proposal.DiskMovesByBroker[task.BrokerID]; ok {
			total += move.EstimatedBytes
		}
	}
	for _, task := range t.pending[execmodel.IntraBrokerReplica] {
		sum(task)
	}
	for _, task := range t.active {
		if task.Type == execmodel.IntraBrokerReplica {
			sum(task)
		}
	}
	return total
}

// TrackedPartitions returns the distinct topic-partitions this run's
// pending and active tasks touch, deduplicated. Used by the adjuster to
// scope its MinISR describe-configs/health join to partitions actually in
// play, since ClusterSnapshot has no bulk partition-enumeration method.
func (t *Tracker) TrackedPartitions() []execmodel.TopicPartition {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[execmodel.TopicPartition]bool)
	add := func(task *execmodel.ExecutionTask) {
		seen[task.Proposal.TopicPartition] = true
	}
	for _, queue := range t.pending {
		for _, task := range queue {
			add(task)
		}
	}
	for _, task := range t.active {
		add(task)
	}

	out := make([]execmodel.TopicPartition, 0, len(seen))
	for tp := range seen {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AllTasks returns every task this run has ever created: pending, active,
// and terminal. Used by pkg/report to export a full run snapshot before a
// caller discards it with Clear.
func (t *Tracker) AllTasks() []*execmodel.ExecutionTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*execmodel.ExecutionTask, 0, len(t.active)+len(t.terminal))
	for _, queue := range t.pending {
		out = append(out, queue...)
	}
	for _, task := range t.active {
		out = append(out, task)
	}
	out = append(out, t.terminal...)
	return out
}

// SetStopRequested forbids future batch admission without mutating
// existing tasks.
func (t *Tracker) SetStopRequested() {
	t.stopRequested.Store(true)
}

// StopRequested reports whether SetStopRequested has been called since
// the last Clear.
func (t *Tracker) StopRequested() bool {
	return t.stopRequested.Load()
}

// Clear resets all tracker state. Callers must ensure this is only invoked
// from NO_TASK or at execution completion.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = make(map[execmodel.TaskType][]*execmodel.ExecutionTask)
	t.active = make(map[int64]*execmodel.ExecutionTask)
	t.finishedCount = make(map[execmodel.TaskType]int)
	t.deadCount = make(map[execmodel.TaskType]int)
	t.abortedCount = make(map[execmodel.TaskType]int)
	t.terminal = nil
	t.stopRequested.Store(false)
}

// Summary rolls up remaining/finished/dead counts for every task type.
func (t *Tracker) Summary() execmodel.TasksSummary {
	return execmodel.TasksSummary{
		RemainingInterBroker:     t.RemainingCount(execmodel.InterBrokerReplica),
		RemainingIntraBroker:     t.RemainingCount(execmodel.IntraBrokerReplica),
		RemainingLeader:          t.RemainingCount(execmodel.Leader),
		FinishedInterBroker:      t.FinishedCount(execmodel.InterBrokerReplica),
		FinishedIntraBroker:      t.FinishedCount(execmodel.IntraBrokerReplica),
		FinishedLeader:           t.FinishedCount(execmodel.Leader),
		DeadInterBroker:          t.DeadCount(execmodel.InterBrokerReplica),
		DeadIntraBroker:          t.DeadCount(execmodel.IntraBrokerReplica),
		DeadLeader:               t.DeadCount(execmodel.Leader),
		RemainingDataToMoveBytes: t.RemainingDataToMoveBytes(),
	}
}
