package tracker

import (
	"testing"

	"github.com/cyw0ng95/execore/pkg/concurrency"
	"github.com/cyw0ng95/execore/pkg/execconfig"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

func newTestTracker(brokers []int32, caps map[execmodel.ConcurrencyType]int) *Tracker {
	aimd := make(map[execmodel.ConcurrencyType]execconfig.AIMDConstants)
	for _, t := range execmodel.AllConcurrencyTypes {
		aimd[t] = execconfig.AIMDConstants{Min: 1, Max: 20}
	}
	mgr := concurrency.NewManager(aimd)
	mgr.Initialize(brokers, caps)
	return New(mgr, nil)
}

func interBrokerProposal(topic string, partition int32, oldReplicas, newReplicas []int32) execmodel.Proposal {
	return execmodel.Proposal{
		TopicPartition: execmodel.TopicPartition{Topic: topic, Partition: partition},
		OldReplicas:    oldReplicas,
		NewReplicas:    newReplicas,
	}
}

func TestAddProposalsExpandsInterBrokerTask(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3, 4}, nil)
	proposals := []execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1, 2, 3}, []int32{2, 3, 4}),
	}

	created := tr.AddProposals(proposals, nil, nil)
	if len(created) != 1 {
		t.Fatalf("expected 1 task created, got %d", len(created))
	}
	if created[0].Type != execmodel.InterBrokerReplica {
		t.Fatalf("expected INTER_BROKER_REPLICA task, got %s", created[0].Type)
	}
	if tr.RemainingCount(execmodel.InterBrokerReplica) != 1 {
		t.Fatalf("expected 1 remaining inter-broker task")
	}
}

func TestAddProposalsNoTaskWhenUnchanged(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3}, nil)
	proposals := []execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1, 2, 3}, []int32{1, 2, 3}),
	}

	created := tr.AddProposals(proposals, nil, nil)
	if len(created) != 0 {
		t.Fatalf("expected no tasks for an unchanged proposal, got %d", len(created))
	}
}

func TestAddProposalsExpandsLeaderTask(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	p := interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 2})
	p.OldLeader = 1
	p.NewLeader = 2

	created := tr.AddProposals([]execmodel.Proposal{p}, nil, nil)
	if len(created) != 1 || created[0].Type != execmodel.Leader {
		t.Fatalf("expected 1 LEADER task, got %+v", created)
	}
}

func TestAddProposalsExpandsIntraBrokerTasks(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	p := interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 2})
	p.DiskMovesByBroker = map[int32]execmodel.DiskMove{
		1: {BrokerID: 1, SourceDir: "/d0", TargetDir: "/d1"},
	}

	created := tr.AddProposals([]execmodel.Proposal{p}, nil, nil)
	if len(created) != 1 || created[0].Type != execmodel.IntraBrokerReplica {
		t.Fatalf("expected 1 INTRA_BROKER_REPLICA task, got %+v", created)
	}
	if created[0].BrokerID != 1 {
		t.Fatalf("expected brokerId=1, got %d", created[0].BrokerID)
	}
}

func TestGetInterBrokerBatchRespectsCap(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3, 4, 5}, map[execmodel.ConcurrencyType]int{
		execmodel.InterBrokerReplicaConcurrency: 1,
	})
	proposals := []execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 3}),
		interBrokerProposal("T", 1, []int32{1, 4}, []int32{1, 5}),
	}
	tr.AddProposals(proposals, nil, nil)

	batch := tr.GetInterBrokerBatch(nil)
	if len(batch) != 1 {
		t.Fatalf("expected only 1 task admitted due to shared broker 1 saturating cap=1, got %d", len(batch))
	}
	if tr.RemainingCount(execmodel.InterBrokerReplica) != 1 {
		t.Fatalf("expected remaining count to still include the non-admitted task (pending, not yet in-progress)")
	}
}

func TestGetBatchEmptyWhenAllBrokersSaturated(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3, 4}, map[execmodel.ConcurrencyType]int{
		execmodel.InterBrokerReplicaConcurrency: 1,
	})
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 3}),
	}, nil, nil)

	first := tr.GetInterBrokerBatch(nil)
	if err := tr.MarkInProgress(first); err != nil {
		t.Fatalf("unexpected error marking in progress: %v", err)
	}

	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 1, []int32{1, 2}, []int32{1, 4}),
	}, nil, nil)

	second := tr.GetInterBrokerBatch(nil)
	if len(second) != 0 {
		t.Fatalf("expected empty admitted set when broker already saturated, got %d", len(second))
	}
}

func TestBrokersSkipConcurrencyExemptsFromCap(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3}, map[execmodel.ConcurrencyType]int{
		execmodel.InterBrokerReplicaConcurrency: 1,
	})
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 3}),
		interBrokerProposal("T", 1, []int32{1, 2}, []int32{1, 3}),
	}, nil, nil)

	skip := map[int32]bool{1: true, 2: true, 3: true}
	batch := tr.GetInterBrokerBatch(skip)
	if len(batch) != 2 {
		t.Fatalf("expected both tasks admitted when every touched broker is exempt, got %d", len(batch))
	}
}

func TestMarkInProgressThenMarkDone(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1}, []int32{2}),
	}, nil, nil)

	batch := tr.GetInterBrokerBatch(nil)
	if err := tr.MarkInProgress(batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.InExecutionTasks(nil)) != 1 {
		t.Fatalf("expected 1 in-execution task")
	}

	if err := tr.MarkDone(batch[0]); err != nil {
		t.Fatalf("unexpected error marking done: %v", err)
	}
	if tr.FinishedCount(execmodel.InterBrokerReplica) != 1 {
		t.Fatalf("expected finished count 1")
	}
	if len(tr.InExecutionTasks(nil)) != 0 {
		t.Fatalf("expected 0 in-execution tasks after completion")
	}
}

func TestMarkDeadFromAborting(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1}, []int32{2}),
	}, nil, nil)

	batch := tr.GetInterBrokerBatch(nil)
	tr.MarkInProgress(batch)

	if err := tr.MarkAborting(batch[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.MarkDead(batch[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.DeadCount(execmodel.InterBrokerReplica) != 1 {
		t.Fatalf("expected dead count 1")
	}
}

func TestSetStopRequestedBlocksFutureAdmission(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1}, []int32{2}),
	}, nil, nil)

	tr.SetStopRequested()
	batch := tr.GetInterBrokerBatch(nil)
	if len(batch) != 0 {
		t.Fatalf("expected no admission once stop requested, got %d", len(batch))
	}
	if tr.RemainingCount(execmodel.InterBrokerReplica) != 1 {
		t.Fatalf("expected existing pending task to remain untouched")
	}
}

func TestClearResetsState(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1}, []int32{2}),
	}, nil, nil)
	tr.SetStopRequested()

	tr.Clear()
	if tr.RemainingCount(execmodel.InterBrokerReplica) != 0 {
		t.Fatalf("expected 0 remaining after Clear")
	}
	if tr.StopRequested() {
		t.Fatalf("expected stop flag reset after Clear")
	}
}

func TestRemainingDataToMoveBytesSumsIntraBrokerEstimates(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	p := interBrokerProposal("T", 0, []int32{1, 2}, []int32{1, 2})
	p.DiskMovesByBroker = map[int32]execmodel.DiskMove{
		1: {BrokerID: 1, SourceDir: "/d0", TargetDir: "/d1", EstimatedBytes: 1000},
	}
	tr.AddProposals([]execmodel.Proposal{p}, nil, nil)

	if got := tr.RemainingDataToMoveBytes(); got != 1000 {
		t.Fatalf("expected 1000 pending bytes, got %d", got)
	}

	batch := tr.GetIntraBrokerBatch(nil)
	if err := tr.MarkInProgress(batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.RemainingDataToMoveBytes(); got != 1000 {
		t.Fatalf("expected active task's bytes still counted, got %d", got)
	}

	if err := tr.MarkDone(batch[0]); err != nil {
		t.Fatalf("unexpected error marking done: %v", err)
	}
	if got := tr.RemainingDataToMoveBytes(); got != 0 {
		t.Fatalf("expected 0 bytes once the only intra-broker task is terminal, got %d", got)
	}
}

func TestTrackedPartitionsDedupesAndSorts(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3, 4}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("zeta", 0, []int32{1}, []int32{2}),
		interBrokerProposal("alpha", 0, []int32{3}, []int32{4}),
	}, nil, nil)

	p := interBrokerProposal("alpha", 0, []int32{3}, []int32{4})
	p.DiskMovesByBroker = map[int32]execmodel.DiskMove{3: {BrokerID: 3, SourceDir: "/a", TargetDir: "/b"}}
	tr.AddProposals([]execmodel.Proposal{p}, nil, nil)

	got := tr.TrackedPartitions()
	want := []string{"alpha-0", "zeta-0"}
	if len(got) != len(want) {
		t.Fatalf("expected %d distinct partitions, got %d: %v", len(want), len(got), got)
	}
	for i, tp := range got {
		if tp.String() != want[i] {
			t.Fatalf("expected sorted distinct partitions %v, got %v", want, got)
		}
	}
}

func TestAllTasksIncludesTerminalUntilClear(t *testing.T) {
	tr := newTestTracker([]int32{1, 2}, nil)
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("T", 0, []int32{1}, []int32{2}),
	}, nil, nil)

	batch := tr.GetInterBrokerBatch(nil)
	tr.MarkInProgress(batch)
	tr.MarkDone(batch[0])

	if got := tr.AllTasks(); len(got) != 1 {
		t.Fatalf("expected the completed task to still be retrievable via AllTasks, got %d", len(got))
	}

	tr.Clear()
	if got := tr.AllTasks(); len(got) != 0 {
		t.Fatalf("expected Clear to discard terminal tasks too, got %d", len(got))
	}
}

func TestDeterministicOrderingByTopicPartition(t *testing.T) {
	tr := newTestTracker([]int32{1, 2, 3, 4, 5, 6}, map[execmodel.ConcurrencyType]int{
		execmodel.InterBrokerReplicaConcurrency: 20,
	})
	tr.AddProposals([]execmodel.Proposal{
		interBrokerProposal("zeta", 0, []int32{1}, []int32{2}),
		interBrokerProposal("alpha", 1, []int32{3}, []int32{4}),
		interBrokerProposal("alpha", 0, []int32{5}, []int32{6}),
	}, nil, nil)

	batch := tr.GetInterBrokerBatch(nil)
	if len(batch) != 3 {
		t.Fatalf("expected all 3 tasks admitted, got %d", len(batch))
	}
	want := []string{"alpha-0", "alpha-1", "zeta-0"}
	for i, task := range batch {
		if task.Proposal.TopicPartition.String() != want[i] {
			t.Fatalf("expected deterministic order %v, got position %d = %s", want, i, task.Proposal.TopicPartition.String())
		}
	}
}
