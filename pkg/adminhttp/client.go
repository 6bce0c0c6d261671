// Package adminhttp is a resty-based AdminInterface/MetadataClient pair
// talking to a Kafka-admin-shaped HTTP facade (a controller-proxy sitting in
// front of the real admin client). It is the concrete collaborator a
// deployment wires in place of adminapi's fakes.
package adminhttp

import (
	"context"
	"fmt"
	"time"

	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/common"
	"github.com/cyw0ng95/execore/pkg/execmodel"
	"github.com/cyw0ng95/execore/pkg/jsonutil"
	"github.com/go-resty/resty/v2"
)

// Client is a resty-backed AdminInterface and MetadataClient.
type Client struct {
	http    *resty.Client
	logger  *common.Logger
	cluster *snapshot
}

// NewClient constructs a Client against baseURL, timing out every request
// after timeout.
func NewClient(baseURL string, timeout time.Duration, logger *common.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &Client{http: http, logger: logger}
}

func (c *Client) mapErr(err error) error {
	if err == nil {
		return nil
	}
	mapped := common.GetGlobalErrorRegistry().Map(err)
	if c.logger != nil {
		c.logger.Warn("adminhttp: %v", mapped)
	}
	return mapped
}

// --- wire DTOs -------------------------------------------------------------

type partitionDTO struct {
	Topic     string  `json:"topic"`
	Partition int32   `json:"partition"`
	Replicas  []int32 `json:"replicas"`
	Leader    int32   `json:"leader"`
}

type clusterDTO struct {
	Nodes      []int32        `json:"nodes"`
	Partitions []partitionDTO `json:"partitions"`
}

type reassignRequestDTO struct {
	Topic     string  `json:"topic"`
	Partition int32   `json:"partition"`
	Replicas  []int32 `json:"replicas"`
}

type reassignResultDTO struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Outcome   string `json:"outcome"`
}

func outcomeFromWire(s string) adminapi.ReassignmentOutcome {
	switch s {
	case "deletedTopic":
		return adminapi.DeletedTopic
	case "brokerUnavailable":
		return adminapi.BrokerUnavailable
	case "noReassignmentToCancel":
		return adminapi.NoReassignmentToCancel
	default:
		return adminapi.Accepted
	}
}

type reassignmentDTO struct {
	Topic            string  `json:"topic"`
	Partition        int32   `json:"partition"`
	AddingReplicas   []int32 `json:"addingReplicas"`
	RemovingReplicas []int32 `json:"removingReplicas"`
}

type logDirDTO struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	BrokerID   int32  `json:"brokerId"`
	CurrentDir string `json:"currentDir"`
	FutureDir  string `json:"futureDir"`
}

type topicConfigDTO struct {
	Topic  string `json:"topic"`
	MinIsr int    `json:"minIsr"`
}

// --- ClusterSnapshot ---------------------------------------------------

type snapshot struct {
	nodes      map[int32]bool
	partitions map[execmodel.TopicPartition]partitionDTO
	topics     []string
}

func newSnapshot(dto clusterDTO) *snapshot {
	s := &snapshot{
		nodes:      make(map[int32]bool, len(dto.Nodes)),
		partitions: make(map[execmodel.TopicPartition]partitionDTO, len(dto.Partitions)),
	}
	for _, n := range dto.Nodes {
		s.nodes[n] = true
	}
	topicSet := make(map[string]bool)
	for _, p := range dto.Partitions {
		tp := execmodel.TopicPartition{Topic: p.Topic, Partition: p.Partition}
		s.partitions[tp] = p
		topicSet[p.Topic] = true
	}
	for topic := range topicSet {
		s.topics = append(s.topics, topic)
	}
	return s
}

func (s *snapshot) NodeByID(brokerID int32) bool { return s.nodes[brokerID] }

func (s *snapshot) Partition(tp execmodel.TopicPartition) ([]int32, int32, bool) {
	p, ok := s.partitions[tp]
	if !ok {
		return nil, 0, false
	}
	return p.Replicas, p.Leader, true
}

func (s *snapshot) Topics() []string { return s.topics }

// --- MetadataClient ------------------------------------------------------

// Refresh fetches the current cluster topology and replaces the cached
// snapshot.
func (c *Client) Refresh(ctx context.Context) (adminapi.ClusterSnapshot, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/metadata/cluster")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("metadata refresh: status %d", resp.StatusCode()))
	}

	var dto clusterDTO
	if err := jsonutil.Unmarshal(resp.Body(), &dto); err != nil {
		return nil, fmt.Errorf("metadata refresh: decode: %w", err)
	}

	snap := newSnapshot(dto)
	c.cluster = snap
	return snap, nil
}

// Cluster returns the last snapshot fetched by Refresh, or nil if Refresh
// was never called.
func (c *Client) Cluster() adminapi.ClusterSnapshot {
	if c.cluster == nil {
		return nil
	}
	return c.cluster
}

// --- AdminInterface --------------------------------------------------------

// AlterPartitionReassignments submits one reassignment request per target
// partition and collects each outcome.
func (c *Client) AlterPartitionReassignments(ctx context.Context, targets map[execmodel.TopicPartition][]int32) ([]adminapi.ReassignmentResult, error) {
	body := make([]reassignRequestDTO, 0, len(targets))
	for tp, replicas := range targets {
		body = append(body, reassignRequestDTO{Topic: tp.Topic, Partition: tp.Partition, Replicas: replicas})
	}
	payload, err := jsonutil.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("alterPartitionReassignments: encode: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post("/reassignments")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("alterPartitionReassignments: status %d", resp.StatusCode()))
	}

	var results []reassignResultDTO
	if err := jsonutil.Unmarshal(resp.Body(), &results); err != nil {
		return nil, fmt.Errorf("alterPartitionReassignments: decode: %w", err)
	}

	out := make([]adminapi.ReassignmentResult, 0, len(results))
	for _, r := range results {
		out = append(out, adminapi.ReassignmentResult{
			TopicPartition: execmodel.TopicPartition{Topic: r.Topic, Partition: r.Partition},
			Outcome:        outcomeFromWire(r.Outcome),
		})
	}
	return out, nil
}

// CancelPartitionReassignments cancels the named partitions' in-flight
// reassignments.
func (c *Client) CancelPartitionReassignments(ctx context.Context, partitions []execmodel.TopicPartition) ([]adminapi.ReassignmentResult, error) {
	body := make([]reassignRequestDTO, 0, len(partitions))
	for _, tp := range partitions {
		body = append(body, reassignRequestDTO{Topic: tp.Topic, Partition: tp.Partition})
	}
	payload, err := jsonutil.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("cancelPartitionReassignments: encode: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Delete("/reassignments")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("cancelPartitionReassignments: status %d", resp.StatusCode()))
	}

	var results []reassignResultDTO
	if err := jsonutil.Unmarshal(resp.Body(), &results); err != nil {
		return nil, fmt.Errorf("cancelPartitionReassignments: decode: %w", err)
	}

	out := make([]adminapi.ReassignmentResult, 0, len(results))
	for _, r := range results {
		out = append(out, adminapi.ReassignmentResult{
			TopicPartition: execmodel.TopicPartition{Topic: r.Topic, Partition: r.Partition},
			Outcome:        outcomeFromWire(r.Outcome),
		})
	}
	return out, nil
}

// ListPartitionReassignments returns every reassignment currently tracked
// by the admin plane.
func (c *Client) ListPartitionReassignments(ctx context.Context) (map[execmodel.TopicPartition]adminapi.Reassignment, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/reassignments")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("listPartitionReassignments: status %d", resp.StatusCode()))
	}

	var dtos []reassignmentDTO
	if err := jsonutil.Unmarshal(resp.Body(), &dtos); err != nil {
		return nil, fmt.Errorf("listPartitionReassignments: decode: %w", err)
	}

	out := make(map[execmodel.TopicPartition]adminapi.Reassignment, len(dtos))
	for _, d := range dtos {
		tp := execmodel.TopicPartition{Topic: d.Topic, Partition: d.Partition}
		out[tp] = adminapi.Reassignment{
			TopicPartition:   tp,
			AddingReplicas:   d.AddingReplicas,
			RemovingReplicas: d.RemovingReplicas,
		}
	}
	return out, nil
}

// DescribeConfigs fetches topic configuration for topics.
func (c *Client) DescribeConfigs(ctx context.Context, topics []string) (map[string]adminapi.TopicConfig, error) {
	resp, err := c.http.R().SetContext(ctx).SetQueryParamsFromValues(map[string][]string{"topic": topics}).Get("/configs")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("describeConfigs: status %d", resp.StatusCode()))
	}

	var dtos []topicConfigDTO
	if err := jsonutil.Unmarshal(resp.Body(), &dtos); err != nil {
		return nil, fmt.Errorf("describeConfigs: decode: %w", err)
	}

	out := make(map[string]adminapi.TopicConfig, len(dtos))
	for _, d := range dtos {
		out[d.Topic] = adminapi.TopicConfig{Topic: d.Topic, MinIsr: d.MinIsr}
	}
	return out, nil
}

// ElectPreferredLeaders triggers a preferred-leader election for partitions.
func (c *Client) ElectPreferredLeaders(ctx context.Context, partitions []execmodel.TopicPartition) ([]adminapi.LeaderElectionResult, error) {
	body := make([]reassignRequestDTO, 0, len(partitions))
	for _, tp := range partitions {
		body = append(body, reassignRequestDTO{Topic: tp.Topic, Partition: tp.Partition})
	}
	payload, err := jsonutil.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("electPreferredLeaders: encode: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(payload).Post("/leader-elections")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("electPreferredLeaders: status %d", resp.StatusCode()))
	}

	var results []reassignResultDTO
	if err := jsonutil.Unmarshal(resp.Body(), &results); err != nil {
		return nil, fmt.Errorf("electPreferredLeaders: decode: %w", err)
	}

	out := make([]adminapi.LeaderElectionResult, 0, len(results))
	for _, r := range results {
		out = append(out, adminapi.LeaderElectionResult{
			TopicPartition: execmodel.TopicPartition{Topic: r.Topic, Partition: r.Partition},
			Outcome:        outcomeFromWire(r.Outcome),
		})
	}
	return out, nil
}

// DescribeReplicaLogDirs fetches each replica's current/future log
// directory for replicas.
func (c *Client) DescribeReplicaLogDirs(ctx context.Context, replicas []execmodel.TopicPartition) (map[execmodel.TopicPartition][]adminapi.ReplicaLogDir, error) {
	topics := make([]string, 0, len(replicas))
	seen := make(map[string]bool)
	for _, tp := range replicas {
		if !seen[tp.Topic] {
			seen[tp.Topic] = true
			topics = append(topics, tp.Topic)
		}
	}

	resp, err := c.http.R().SetContext(ctx).SetQueryParamsFromValues(map[string][]string{"topic": topics}).Get("/log-dirs")
	if err != nil {
		return nil, c.mapErr(err)
	}
	if resp.IsError() {
		return nil, c.mapErr(fmt.Errorf("describeReplicaLogDirs: status %d", resp.StatusCode()))
	}

	var dtos []logDirDTO
	if err := jsonutil.Unmarshal(resp.Body(), &dtos); err != nil {
		return nil, fmt.Errorf("describeReplicaLogDirs: decode: %w", err)
	}

	out := make(map[execmodel.TopicPartition][]adminapi.ReplicaLogDir, len(dtos))
	for _, d := range dtos {
		tp := execmodel.TopicPartition{Topic: d.Topic, Partition: d.Partition}
		out[tp] = append(out[tp], adminapi.ReplicaLogDir{
			BrokerID:   d.BrokerID,
			CurrentDir: d.CurrentDir,
			FutureDir:  d.FutureDir,
		})
	}
	return out, nil
}

// HasActiveLogDirMovements reports whether the admin plane knows of any
// broker-local disk move in flight, started outside this executor.
func (c *Client) HasActiveLogDirMovements(ctx context.Context) (bool, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/log-dirs/active")
	if err != nil {
		return false, c.mapErr(err)
	}
	if resp.IsError() {
		return false, c.mapErr(fmt.Errorf("hasActiveLogDirMovements: status %d", resp.StatusCode()))
	}

	var dto struct {
		Active bool `json:"active"`
	}
	if err := jsonutil.Unmarshal(resp.Body(), &dto); err != nil {
		return false, fmt.Errorf("hasActiveLogDirMovements: decode: %w", err)
	}
	return dto.Active, nil
}

// SetReplicationThrottle applies a replication throttle to brokers.
func (c *Client) SetReplicationThrottle(ctx context.Context, brokers []int32, bytesPerSecond int64) error {
	body, err := jsonutil.Marshal(struct {
		Brokers        []int32 `json:"brokers"`
		BytesPerSecond int64   `json:"bytesPerSecond"`
	}{Brokers: brokers, BytesPerSecond: bytesPerSecond})
	if err != nil {
		return fmt.Errorf("setReplicationThrottle: encode: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/throttle")
	if err != nil {
		return c.mapErr(err)
	}
	if resp.IsError() {
		return c.mapErr(fmt.Errorf("setReplicationThrottle: status %d", resp.StatusCode()))
	}
	return nil
}

// ClearReplicationThrottle removes the replication throttle from brokers.
func (c *Client) ClearReplicationThrottle(ctx context.Context, brokers []int32) error {
	body, err := jsonutil.Marshal(struct {
		Brokers []int32 `json:"brokers"`
	}{Brokers: brokers})
	if err != nil {
		return fmt.Errorf("clearReplicationThrottle: encode: %w", err)
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Delete("/throttle")
	if err != nil {
		return c.mapErr(err)
	}
	if resp.IsError() {
		return c.mapErr(fmt.Errorf("clearReplicationThrottle: status %d", resp.StatusCode()))
	}
	return nil
}

// Close releases the underlying HTTP transport's idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

var _ adminapi.AdminInterface = (*Client)(nil)
var _ adminapi.MetadataClient = (*Client)(nil)
