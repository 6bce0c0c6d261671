package adminapi

import (
	"context"
	"testing"

	"github.com/cyw0ng95/execore/pkg/execmodel"
)

func TestFakeAdminInterfaceAlterAndList(t *testing.T) {
	admin := NewFakeAdminInterface()
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 0}

	results, err := admin.AlterPartitionReassignments(context.Background(), map[execmodel.TopicPartition][]int32{tp: {2, 3, 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != Accepted {
		t.Fatalf("expected accepted outcome, got %+v", results)
	}

	listed, err := admin.ListPartitionReassignments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := listed[tp]; !ok {
		t.Fatalf("expected reassignment to be tracked after alter")
	}
}

func TestFakeAdminInterfaceDeletedTopic(t *testing.T) {
	admin := NewFakeAdminInterface()
	admin.DeleteTopic("orders")
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 0}

	results, _ := admin.AlterPartitionReassignments(context.Background(), map[execmodel.TopicPartition][]int32{tp: {2, 3}})
	if results[0].Outcome != DeletedTopic {
		t.Fatalf("expected DeletedTopic outcome, got %s", results[0].Outcome)
	}
}

func TestFakeAdminInterfaceBrokerUnavailable(t *testing.T) {
	admin := NewFakeAdminInterface()
	admin.MarkBrokerDead(9)
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 2}

	results, _ := admin.AlterPartitionReassignments(context.Background(), map[execmodel.TopicPartition][]int32{tp: {1, 9}})
	if results[0].Outcome != BrokerUnavailable {
		t.Fatalf("expected BrokerUnavailable outcome, got %s", results[0].Outcome)
	}
}

func TestFakeAdminInterfaceCancelMissingReportsNoReassignmentToCancel(t *testing.T) {
	admin := NewFakeAdminInterface()
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 9}

	results, _ := admin.CancelPartitionReassignments(context.Background(), []execmodel.TopicPartition{tp})
	if results[0].Outcome != NoReassignmentToCancel {
		t.Fatalf("expected NoReassignmentToCancel outcome, got %s", results[0].Outcome)
	}
}

func TestFakeSnapshotPartitionLookup(t *testing.T) {
	snapshot := NewFakeSnapshot()
	tp := execmodel.TopicPartition{Topic: "orders", Partition: 0}
	snapshot.Replicas[tp] = []int32{1, 2, 3}
	snapshot.Leaders[tp] = 1
	snapshot.Nodes[1] = true

	replicas, leader, exists := snapshot.Partition(tp)
	if !exists || leader != 1 || len(replicas) != 3 {
		t.Fatalf("expected partition lookup to succeed, got replicas=%v leader=%d exists=%v", replicas, leader, exists)
	}
	if !snapshot.NodeByID(1) {
		t.Fatalf("expected node 1 to be present")
	}
}

func TestFakeMetadataClientSetSnapshot(t *testing.T) {
	first := NewFakeSnapshot()
	client := NewFakeMetadataClient(first)

	second := NewFakeSnapshot()
	second.Nodes[5] = true
	client.SetSnapshot(second)

	cluster := client.Cluster()
	if !cluster.NodeByID(5) {
		t.Fatalf("expected updated snapshot to be visible")
	}
}
