package adminapi

import (
	"context"
	"sync"

	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// FakeSnapshot is an in-memory ClusterSnapshot used by tests and by
// FakeAdminInterface/FakeMetadataClient.
type FakeSnapshot struct {
	Nodes      map[int32]bool
	Replicas   map[execmodel.TopicPartition][]int32
	Leaders    map[execmodel.TopicPartition]int32
	TopicNames []string
}

// NewFakeSnapshot constructs an empty snapshot ready for test setup.
func NewFakeSnapshot() *FakeSnapshot {
	return &FakeSnapshot{
		Nodes:    make(map[int32]bool),
		Replicas: make(map[execmodel.TopicPartition][]int32),
		Leaders:  make(map[execmodel.TopicPartition]int32),
	}
}

func (s *FakeSnapshot) NodeByID(brokerID int32) bool {
	return s.Nodes[brokerID]
}

func (s *FakeSnapshot) Partition(tp execmodel.TopicPartition) ([]int32, int32, bool) {
	replicas, ok := s.Replicas[tp]
	if !ok {
		return nil, 0, false
	}
	return replicas, s.Leaders[tp], true
}

func (s *FakeSnapshot) Topics() []string {
	return s.TopicNames
}

// FakeMetadataClient is an in-memory MetadataClient whose snapshot a test
// can mutate between calls to simulate cluster changes (brokers leaving,
// partitions moving).
type FakeMetadataClient struct {
	mu       sync.RWMutex
	snapshot *FakeSnapshot
}

// NewFakeMetadataClient wraps an initial snapshot.
func NewFakeMetadataClient(snapshot *FakeSnapshot) *FakeMetadataClient {
	return &FakeMetadataClient{snapshot: snapshot}
}

func (c *FakeMetadataClient) Refresh(_ context.Context) (ClusterSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, nil
}

func (c *FakeMetadataClient) Cluster() ClusterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// SetSnapshot replaces the underlying snapshot, as if metadata had just
// been refreshed from a changed cluster.
func (c *FakeMetadataClient) SetSnapshot(snapshot *FakeSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
}

// FakeAdminInterface is an in-memory AdminInterface recording every call a
// test cares about asserting on.
type FakeAdminInterface struct {
	mu sync.Mutex

	reassignments map[execmodel.TopicPartition]Reassignment
	deletedTopics map[string]bool
	deadBrokers   map[int32]bool
	configs       map[string]TopicConfig
	logDirs       map[execmodel.TopicPartition][]ReplicaLogDir
	activeLogDirMoves bool

	AlterCalls  []execmodel.TopicPartition
	CancelCalls []execmodel.TopicPartition
}

// NewFakeAdminInterface constructs an empty fake admin plane.
func NewFakeAdminInterface() *FakeAdminInterface {
	return &FakeAdminInterface{
		reassignments: make(map[execmodel.TopicPartition]Reassignment),
		deletedTopics: make(map[string]bool),
		deadBrokers:   make(map[int32]bool),
		configs:       make(map[string]TopicConfig),
		logDirs:       make(map[execmodel.TopicPartition][]ReplicaLogDir),
	}
}

// DeleteTopic marks topic as deleted; any AlterPartitionReassignments call
// touching it reports DeletedTopic.
func (a *FakeAdminInterface) DeleteTopic(topic string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletedTopics[topic] = true
}

// MarkBrokerDead marks a broker unavailable; submissions targeting it
// report BrokerUnavailable.
func (a *FakeAdminInterface) MarkBrokerDead(brokerID int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deadBrokers[brokerID] = true
}

// SetTopicConfig seeds DescribeConfigs's response for a topic.
func (a *FakeAdminInterface) SetTopicConfig(topic string, minIsr int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs[topic] = TopicConfig{Topic: topic, MinIsr: minIsr}
}

// SetLogDirs seeds DescribeReplicaLogDirs's response for a partition.
func (a *FakeAdminInterface) SetLogDirs(tp execmodel.TopicPartition, dirs []ReplicaLogDir) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logDirs[tp] = dirs
}

func (a *FakeAdminInterface) AlterPartitionReassignments(_ context.Context, targets map[execmodel.TopicPartition][]int32) ([]ReassignmentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var results []ReassignmentResult
	for tp, replicas := range targets {
		a.AlterCalls = append(a.AlterCalls, tp)

		if a.deletedTopics[tp.Topic] {
			results = append(results, ReassignmentResult{TopicPartition: tp, Outcome: DeletedTopic})
			continue
		}
		unavailable := false
		for _, b := range replicas {
			if a.deadBrokers[b] {
				unavailable = true
				break
			}
		}
		if unavailable {
			results = append(results, ReassignmentResult{TopicPartition: tp, Outcome: BrokerUnavailable})
			continue
		}

		a.reassignments[tp] = Reassignment{TopicPartition: tp, AddingReplicas: replicas}
		results = append(results, ReassignmentResult{TopicPartition: tp, Outcome: Accepted})
	}
	return results, nil
}

func (a *FakeAdminInterface) CancelPartitionReassignments(_ context.Context, partitions []execmodel.TopicPartition) ([]ReassignmentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var results []ReassignmentResult
	for _, tp := range partitions {
		a.CancelCalls = append(a.CancelCalls, tp)
		if _, ok := a.reassignments[tp]; !ok {
			results = append(results, ReassignmentResult{TopicPartition: tp, Outcome: NoReassignmentToCancel})
			continue
		}
		delete(a.reassignments, tp)
		results = append(results, ReassignmentResult{TopicPartition: tp, Outcome: Accepted})
	}
	return results, nil
}

func (a *FakeAdminInterface) ListPartitionReassignments(_ context.Context) (map[execmodel.TopicPartition]Reassignment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[execmodel.TopicPartition]Reassignment, len(a.reassignments))
	for k, v := range a.reassignments {
		out[k] = v
	}
	return out, nil
}

func (a *FakeAdminInterface) DescribeConfigs(_ context.Context, topics []string) (map[string]TopicConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]TopicConfig, len(topics))
	for _, topic := range topics {
		if cfg, ok := a.configs[topic]; ok {
			out[topic] = cfg
		}
	}
	return out, nil
}

func (a *FakeAdminInterface) ElectPreferredLeaders(_ context.Context, partitions []execmodel.TopicPartition) ([]LeaderElectionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var results []LeaderElectionResult
	for _, tp := range partitions {
		results = append(results, LeaderElectionResult{TopicPartition: tp, Outcome: Accepted})
	}
	return results, nil
}

func (a *FakeAdminInterface) DescribeReplicaLogDirs(_ context.Context, replicas []execmodel.TopicPartition) (map[execmodel.TopicPartition][]ReplicaLogDir, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[execmodel.TopicPartition][]ReplicaLogDir, len(replicas))
	for _, tp := range replicas {
		if dirs, ok := a.logDirs[tp]; ok {
			out[tp] = dirs
		}
	}
	return out, nil
}

// SetActiveLogDirMovements controls what HasActiveLogDirMovements reports,
// simulating a broker-local disk move an external agent has in flight.
func (a *FakeAdminInterface) SetActiveLogDirMovements(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeLogDirMoves = active
}

func (a *FakeAdminInterface) HasActiveLogDirMovements(_ context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeLogDirMoves, nil
}

func (a *FakeAdminInterface) SetReplicationThrottle(_ context.Context, _ []int32, _ int64) error {
	return nil
}

func (a *FakeAdminInterface) ClearReplicationThrottle(_ context.Context, _ []int32) error {
	return nil
}

func (a *FakeAdminInterface) Close() error {
	return nil
}
