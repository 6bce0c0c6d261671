package executor

import (
	"context"
	"testing"
	"time"

	"github.com/cyw0ng95/execore/pkg/execmodel"
)

func TestReexecutionAfterControllerFailover(t *testing.T) {
	h := newTestHarness()
	for _, b := range []int32{1, 2, 3} {
		h.snapshot.Nodes[b] = true
	}
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 0}

	proposal := simpleInterBrokerProposal("orders", 0, []int32{1, 2}, []int32{2, 3})
	beginExecution(t, h, []execmodel.Proposal{proposal}, []int32{1, 2, 3})

	// Wait until the admin plane has actually recorded the reassignment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(h.admin.AlterCalls) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(h.admin.AlterCalls) == 0 {
		t.Fatal("expected initial submission before simulating failover")
	}

	// Simulate a controller failover silently dropping the in-flight
	// reassignment: cancel it out from under the executor without the
	// tracker's task ever reaching a terminal state.
	if _, err := h.admin.CancelPartitionReassignments(context.Background(), []execmodel.TopicPartition{tp}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	preResubmitCalls := len(h.admin.AlterCalls)

	// Give the next progress-check tick a chance to notice the partition
	// is missing from the admin plane's list and resubmit it.
	deadline = time.Now().Add(time.Second)
	resubmitted := false
	for time.Now().Before(deadline) {
		if len(h.admin.AlterCalls) > preResubmitCalls {
			resubmitted = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !resubmitted {
		t.Fatal("expected the dropped inter-broker task to be re-submitted")
	}

	// Let the snapshot catch up so the test doesn't leak a running goroutine.
	h.snapshot.Replicas[tp] = []int32{2, 3}
	h.snapshot.Leaders[tp] = 2
	waitIdle(h.exec, 2*time.Second)
}

func TestAdjustProgressCheckIntervalShrinksAndGrows(t *testing.T) {
	h := newTestHarness()
	h.exec.progressCheckIntervalMs.Store(h.exec.cfg.ProgressCheck.MinIntervalMs)

	h.exec.adjustProgressCheckInterval(true)
	if v := h.exec.progressCheckIntervalMs.Load(); v != h.exec.cfg.ProgressCheck.MinIntervalMs {
		t.Fatalf("expected shrink to clamp at MinIntervalMs, got %d", v)
	}

	h.exec.progressCheckIntervalMs.Store(h.exec.cfg.ProgressCheck.DefaultIntervalMs)
	h.exec.adjustProgressCheckInterval(false)
	max := h.exec.cfg.ProgressCheck.EffectiveMax()
	if v := h.exec.progressCheckIntervalMs.Load(); v > max {
		t.Fatalf("expected grow to clamp at effective max %d, got %d", max, v)
	}
}

func TestResetProgressCheckIntervalRestoresEffectiveMax(t *testing.T) {
	h := newTestHarness()
	h.exec.progressCheckIntervalMs.Store(1)
	h.exec.resetProgressCheckInterval()
	if v := h.exec.progressCheckIntervalMs.Load(); v != h.exec.cfg.ProgressCheck.EffectiveMax() {
		t.Fatalf("expected reset to effective max, got %d", v)
	}
}

func TestMaybeSlowAlertFiresOnceWithinBackoff(t *testing.T) {
	h := newTestHarness()
	h.exec.cfg.SlowTaskAlertingBackoffMs = 100

	proposal := simpleInterBrokerProposal("orders", 0, []int32{1, 2}, []int32{2, 3})
	task := execmodel.NewExecutionTask(1, execmodel.InterBrokerReplica, proposal, 0)
	_ = task.Transition(execmodel.InProgress, 0)

	h.exec.maybeSlowAlert(task, 200)
	if len(h.notifier.notifications) != 1 {
		t.Fatalf("expected 1 slow-task notification, got %d", len(h.notifier.notifications))
	}

	h.exec.maybeSlowAlert(task, 250)
	if len(h.notifier.notifications) != 1 {
		t.Fatalf("expected no additional notification within backoff, got %d", len(h.notifier.notifications))
	}

	h.exec.maybeSlowAlert(task, 400)
	if len(h.notifier.notifications) != 2 {
		t.Fatalf("expected a second notification once backoff elapsed, got %d", len(h.notifier.notifications))
	}
}

func TestSameReplicaSetIgnoresOrder(t *testing.T) {
	if !sameReplicaSet([]int32{1, 2, 3}, []int32{3, 2, 1}) {
		t.Fatal("expected order-independent equality")
	}
	if sameReplicaSet([]int32{1, 2}, []int32{1, 2, 3}) {
		t.Fatal("expected differing lengths to be unequal")
	}
	if sameReplicaSet([]int32{1, 2, 2}, []int32{1, 1, 2}) {
		t.Fatal("expected differing multiplicities to be unequal")
	}
}
