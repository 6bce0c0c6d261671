// Package throttle implements the replication-throttle helper (C8): sets
// and clears per-broker replication-rate limits on the admin interface
// around an inter-broker task's lifetime.
package throttle

import (
	"context"
	"fmt"

	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/common"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// Helper applies and clears replication throttles for the brokers touched
// by a batch of inter-broker tasks.
type Helper struct {
	admin adminapi.AdminInterface
	rate  int64
	logger *common.Logger
}

// New constructs a Helper bound to an admin interface and a configured
// throttle rate in bytes per second.
func New(admin adminapi.AdminInterface, bytesPerSecond int64, logger *common.Logger) *Helper {
	return &Helper{admin: admin, rate: bytesPerSecond, logger: logger}
}

func brokersFor(tasks []*execmodel.ExecutionTask) []int32 {
	seen := make(map[int32]bool)
	var out []int32
	for _, task := range tasks {
		for _, b := range task.Proposal.OldReplicas {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
		for _, b := range task.Proposal.NewReplicas {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}

// Apply sets the configured throttle rate on every broker touched by
// batch. A zero or negative rate is a no-op (throttling disabled).
func (h *Helper) Apply(ctx context.Context, batch []*execmodel.ExecutionTask) error {
	if h.rate <= 0 || len(batch) == 0 {
		return nil
	}

	brokers := brokersFor(batch)
	if err := h.admin.SetReplicationThrottle(ctx, brokers, h.rate); err != nil {
		if h.logger != nil {
			h.logger.Warn("failed to apply replication throttle to brokers %v: %v", brokers, err)
		}
		return fmt.Errorf("throttle.Apply: %w", err)
	}
	return nil
}

// Clear removes the throttle from every broker touched by completed. The
// progress-check loop calls it on every inter-broker tick with the tasks
// that completed in that tick.
func (h *Helper) Clear(ctx context.Context, completed []*execmodel.ExecutionTask) error {
	if len(completed) == 0 {
		return nil
	}

	brokers := brokersFor(completed)
	if err := h.admin.ClearReplicationThrottle(ctx, brokers); err != nil {
		if h.logger != nil {
			h.logger.Warn("failed to clear replication throttle on brokers %v: %v", brokers, err)
		}
		return fmt.Errorf("throttle.Clear: %w", err)
	}
	return nil
}
