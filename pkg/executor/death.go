package executor

import (
	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// isInterBrokerDone reports whether the on-disk replica set for task's
// partition now matches its target set.
func isInterBrokerDone(task *execmodel.ExecutionTask, snapshot adminapi.ClusterSnapshot) bool {
	replicas, _, exists := snapshot.Partition(task.Proposal.TopicPartition)
	if !exists {
		return false
	}
	return sameReplicaSet(replicas, task.Proposal.NewReplicas)
}

// isInterBrokerDead implements §4.6: any destination broker absent from
// cluster metadata.
func isInterBrokerDead(task *execmodel.ExecutionTask, snapshot adminapi.ClusterSnapshot) bool {
	for _, b := range task.Proposal.NewReplicas {
		if !snapshot.NodeByID(b) {
			return true
		}
	}
	return false
}

// isLeaderDone reports whether cluster metadata now reports the task's
// target broker as the partition's leader.
func isLeaderDone(task *execmodel.ExecutionTask, snapshot adminapi.ClusterSnapshot) bool {
	_, leader, exists := snapshot.Partition(task.Proposal.TopicPartition)
	return exists && leader == task.Proposal.NewLeader
}

// isLeaderDead implements §4.6: target broker down, or the task has run
// longer than leaderMovementTimeoutMs.
func isLeaderDead(task *execmodel.ExecutionTask, snapshot adminapi.ClusterSnapshot, nowMs, timeoutMs int64) bool {
	if !snapshot.NodeByID(task.Proposal.NewLeader) {
		return true
	}
	return nowMs-task.StartTimeMs() > timeoutMs
}

// isIntraBrokerDone reports whether the broker's log-dir report shows the
// replica has landed in its target directory with no move still pending.
func isIntraBrokerDone(task *execmodel.ExecutionTask, logDirs map[execmodel.TopicPartition][]adminapi.ReplicaLogDir) bool {
	move, ok := task.Proposal.DiskMovesByBroker[task.BrokerID]
	if !ok {
		return false
	}
	for _, d := range logDirs[task.Proposal.TopicPartition] {
		if d.BrokerID != task.BrokerID {
			continue
		}
		return d.CurrentDir == move.TargetDir && d.FutureDir == ""
	}
	return false
}

// isIntraBrokerDead implements §4.6: the task's broker no longer reports
// the target log-dir at all (broker disappeared, or the move target is no
// longer listed as current or future).
func isIntraBrokerDead(task *execmodel.ExecutionTask, logDirs map[execmodel.TopicPartition][]adminapi.ReplicaLogDir) bool {
	move, ok := task.Proposal.DiskMovesByBroker[task.BrokerID]
	if !ok {
		return true
	}
	for _, d := range logDirs[task.Proposal.TopicPartition] {
		if d.BrokerID != task.BrokerID {
			continue
		}
		return d.CurrentDir != move.TargetDir && d.FutureDir != move.TargetDir
	}
	return true
}

func sameReplicaSet(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int32]int, len(a))
	for _, v := range a {
		set[v]++
	}
	for _, v := range b {
		set[v]--
	}
	for _, count := range set {
		if count != 0 {
			return false
		}
	}
	return true
}
