package tracker

import "github.com/cyw0ng95/execore/pkg/execmodel"

// StrategyOptions carries whatever side-information a ReplicaMovementStrategy
// needs to break ties (broker load, rack awareness, etc.). Kept as an opaque
// map so strategies can be added without touching the tracker.
type StrategyOptions map[string]interface{}

// ReplicaMovementStrategy orders two candidate tasks for admission. It
// returns <0 if a should sort before b, >0 for the reverse, 0 for equal
// priority (callers chain multiple strategies by priority to break ties).
type ReplicaMovementStrategy interface {
	Compare(a, b *execmodel.ExecutionTask, opts StrategyOptions) int
}

// TopicPartitionOrderStrategy is the default: deterministic lexical order
// by topic-partition, matching the tracker's "tie-break rules must be
// deterministic" requirement.
type TopicPartitionOrderStrategy struct{}

func (TopicPartitionOrderStrategy) Compare(a, b *execmodel.ExecutionTask, _ StrategyOptions) int {
	apt, bpt := a.Proposal.TopicPartition, b.Proposal.TopicPartition
	switch {
	case apt.Less(bpt):
		return -1
	case bpt.Less(apt):
		return 1
	default:
		return 0
	}
}

// ChainStrategy tries each strategy in order, falling through to the next
// on a tie (0), matching the "default implementations chain by priority"
// design note.
type ChainStrategy struct {
	Strategies []ReplicaMovementStrategy
}

func (c ChainStrategy) Compare(a, b *execmodel.ExecutionTask, opts StrategyOptions) int {
	for _, s := range c.Strategies {
		if r := s.Compare(a, b, opts); r != 0 {
			return r
		}
	}
	return 0
}

// DefaultStrategy is TopicPartitionOrderStrategy, used when AddProposals is
// called with a nil strategy.
var DefaultStrategy ReplicaMovementStrategy = TopicPartitionOrderStrategy{}
