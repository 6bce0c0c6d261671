// Package adminapi defines the Go-level contracts the execution core
// consumes from the rest of the cluster rebalancer: the admin plane, cluster
// metadata, broker load metrics, and user-task/anomaly-detector/notifier
// collaborators. The only implementations here are the in-memory fakes in
// fake.go; pkg/adminhttp supplies a concrete AdminInterface/MetadataClient
// pair.
package adminapi

import (
	"context"

	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// ReassignmentOutcome is the per-partition result of submitting a
// reassignment request.
type ReassignmentOutcome int

const (
	Accepted ReassignmentOutcome = iota
	DeletedTopic
	BrokerUnavailable
	NoReassignmentToCancel
)

func (o ReassignmentOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case DeletedTopic:
		return "deletedTopic"
	case BrokerUnavailable:
		return "brokerUnavailable"
	case NoReassignmentToCancel:
		return "noReassignmentToCancel"
	default:
		return "unknown"
	}
}

// ReassignmentResult pairs a partition with its submission outcome.
type ReassignmentResult struct {
	TopicPartition execmodel.TopicPartition
	Outcome        ReassignmentOutcome
}

// Reassignment describes a reassignment currently tracked by the admin
// plane for a partition.
type Reassignment struct {
	TopicPartition execmodel.TopicPartition
	AddingReplicas []int32
	RemovingReplicas []int32
}

// LeaderElectionResult is the per-partition outcome of a preferred-leader
// election request.
type LeaderElectionResult struct {
	TopicPartition execmodel.TopicPartition
	Outcome        ReassignmentOutcome
}

// ReplicaLogDir is the current and (if a move is in flight) future log
// directory for one replica.
type ReplicaLogDir struct {
	BrokerID   int32
	CurrentDir string
	FutureDir  string
}

// TopicConfig is the subset of a topic's configuration the execution core
// cares about.
type TopicConfig struct {
	Topic  string
	MinIsr int
}

// AdminInterface is the admin-plane collaborator: submitting and
// inspecting reassignments, topic configs, leader elections, and replica
// log directories. Every call blocks until it returns its result; ctx
// carries the call's deadline.
type AdminInterface interface {
	AlterPartitionReassignments(ctx context.Context, targets map[execmodel.TopicPartition][]int32) ([]ReassignmentResult, error)
	CancelPartitionReassignments(ctx context.Context, partitions []execmodel.TopicPartition) ([]ReassignmentResult, error)
	ListPartitionReassignments(ctx context.Context) (map[execmodel.TopicPartition]Reassignment, error)
	DescribeConfigs(ctx context.Context, topics []string) (map[string]TopicConfig, error)
	ElectPreferredLeaders(ctx context.Context, partitions []execmodel.TopicPartition) ([]LeaderElectionResult, error)
	DescribeReplicaLogDirs(ctx context.Context, replicas []execmodel.TopicPartition) (map[execmodel.TopicPartition][]ReplicaLogDir, error)
	HasActiveLogDirMovements(ctx context.Context) (bool, error)
	SetReplicationThrottle(ctx context.Context, brokers []int32, bytesPerSecond int64) error
	ClearReplicationThrottle(ctx context.Context, brokers []int32) error
	Close() error
}

// ClusterSnapshot is a point-in-time view of cluster metadata.
type ClusterSnapshot interface {
	NodeByID(brokerID int32) (exists bool)
	Partition(tp execmodel.TopicPartition) (replicas []int32, leader int32, exists bool)
	Topics() []string
}

// MetadataClient refreshes and caches cluster metadata.
type MetadataClient interface {
	Refresh(ctx context.Context) (ClusterSnapshot, error)
	Cluster() ClusterSnapshot
}

// SamplingMode controls whether the load monitor is actively sampling
// broker metrics.
type SamplingMode int

const (
	SamplingOn SamplingMode = iota
	SamplingPausedByAdmin
)

// BrokerMetricValue is one broker's current value for one metric.
type BrokerMetricValue struct {
	BrokerID int32
	Metric   string
	Value    float64
}

// LoadMonitor is the broker-metrics collaborator consumed by the
// concurrency adjuster's metric-driven pass.
type LoadMonitor interface {
	BrokersWithReplicas(ctx context.Context, timeoutMs int64) ([]int32, error)
	DeadBrokersWithReplicas(ctx context.Context, timeoutMs int64) ([]int32, error)
	KafkaCluster(ctx context.Context) (ClusterSnapshot, error)
	CurrentBrokerMetricValues(ctx context.Context) ([]BrokerMetricValue, error)
	SamplingMode() SamplingMode
	SetSamplingMode(mode SamplingMode)
	PauseMetricSampling(reason string, force bool) error
	ResumeMetricSampling(reason string) error
}

// UserTaskInfo is returned when a user-triggered execution begins.
type UserTaskInfo struct {
	UUID      string
	StartedAt int64
}

// UserTaskManager is notified when a user-triggered execution starts and
// finishes.
type UserTaskManager interface {
	MarkTaskExecutionBegan(uuid string) (UserTaskInfo, error)
	MarkTaskExecutionFinished(uuid string, completedWithError bool)
}

// AnomalyDetectorManager is notified when a self-healing execution
// finishes.
type AnomalyDetectorManager interface {
	MarkSelfHealingFinished(uuid string, completedWithError bool)
	ClearOngoingSelfHealing()
	ResetUnfixableGoals()
}

// ExecutorNotifier delivers informational and alert-level messages to
// whatever channel the deployment wires (log, chat, pager).
type ExecutorNotifier interface {
	SendNotification(msg string)
	SendAlert(msg string)
}
