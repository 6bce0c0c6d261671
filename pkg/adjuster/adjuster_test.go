package adjuster

import (
	"context"
	"testing"

	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/concurrency"
	"github.com/cyw0ng95/execore/pkg/execconfig"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

type fakeLoadMonitor struct {
	metrics []adminapi.BrokerMetricValue
}

func (f *fakeLoadMonitor) BrokersWithReplicas(context.Context, int64) ([]int32, error) { return nil, nil }
func (f *fakeLoadMonitor) DeadBrokersWithReplicas(context.Context, int64) ([]int32, error) {
	return nil, nil
}
func (f *fakeLoadMonitor) KafkaCluster(context.Context) (adminapi.ClusterSnapshot, error) {
	return nil, nil
}
func (f *fakeLoadMonitor) CurrentBrokerMetricValues(context.Context) ([]adminapi.BrokerMetricValue, error) {
	return f.metrics, nil
}
func (f *fakeLoadMonitor) SamplingMode() adminapi.SamplingMode        { return adminapi.SamplingOn }
func (f *fakeLoadMonitor) SetSamplingMode(adminapi.SamplingMode)      {}
func (f *fakeLoadMonitor) PauseMetricSampling(string, bool) error     { return nil }
func (f *fakeLoadMonitor) ResumeMetricSampling(string) error          { return nil }

func testManager() *concurrency.Manager {
	aimd := map[execmodel.ConcurrencyType]execconfig.AIMDConstants{
		execmodel.InterBrokerReplicaConcurrency: {Min: 1, Max: 20, AdditiveIncrease: 1, MultiplicativeDecrease: 2},
		execmodel.LeaderBrokerConcurrency:        {Min: 1, Max: 20, AdditiveIncrease: 1, MultiplicativeDecrease: 2},
		execmodel.LeaderClusterConcurrency:       {Min: 1, Max: 20, AdditiveIncrease: 1, MultiplicativeDecrease: 2},
		execmodel.IntraBrokerReplicaConcurrency:  {Min: 1, Max: 20, AdditiveIncrease: 1, MultiplicativeDecrease: 2},
	}
	mgr := concurrency.NewManager(aimd)
	mgr.Initialize([]int32{1, 2}, map[execmodel.ConcurrencyType]int{
		execmodel.InterBrokerReplicaConcurrency: 8,
		execmodel.LeaderClusterConcurrency:      8,
	})
	return mgr
}

func TestTickIsrDrivenDecrease(t *testing.T) {
	mgr := testManager()
	cfg := execconfig.AdjusterConfig{MinIsrCheckEnabled: true, NumMinIsrCheck: 5, UnderMinIsrStopCount: 100}
	adj := New(cfg, Deps{
		ConcurrencyMgr: mgr,
		PhaseEligible:  func(execmodel.ConcurrencyType) bool { return true },
		StopRequested:  func() bool { return false },
	})
	adj.SetIsrHealth(0, []int32{2})

	lm := &fakeLoadMonitor{}
	adj.InitAdjustment(lm)
	defer adj.ClearAdjustment()

	adj.Tick(context.Background())

	if got := mgr.CapForBroker(2, execmodel.InterBrokerReplicaConcurrency); got != 4 {
		t.Fatalf("expected broker 2 cap decreased from 8 to 4, got %d", got)
	}
	if got := mgr.CapForBroker(1, execmodel.InterBrokerReplicaConcurrency); got != 8 {
		t.Fatalf("expected broker 1 cap untouched at 8, got %d", got)
	}
}

func TestTickIsrStopExecution(t *testing.T) {
	mgr := testManager()
	cfg := execconfig.AdjusterConfig{MinIsrCheckEnabled: true, NumMinIsrCheck: 5, UnderMinIsrStopCount: 1}
	stopped := false
	adj := New(cfg, Deps{
		ConcurrencyMgr: mgr,
		PhaseEligible:  func(execmodel.ConcurrencyType) bool { return true },
		RequestStop:    func() { stopped = true },
		StopRequested:  func() bool { return false },
	})
	adj.SetIsrHealth(1, nil)

	lm := &fakeLoadMonitor{}
	adj.InitAdjustment(lm)
	defer adj.ClearAdjustment()

	adj.Tick(context.Background())

	if !stopped {
		t.Fatalf("expected stop to be requested when under-minISR count reaches threshold")
	}
}

func TestTickSkipsIneligibleDimension(t *testing.T) {
	mgr := testManager()
	cfg := execconfig.AdjusterConfig{EnabledByType: map[execmodel.ConcurrencyType]bool{
		execmodel.InterBrokerReplicaConcurrency: false,
		execmodel.LeaderBrokerConcurrency:        false,
	}}
	adj := New(cfg, Deps{
		ConcurrencyMgr: mgr,
		PhaseEligible:  func(execmodel.ConcurrencyType) bool { return true },
		StopRequested:  func() bool { return false },
	})

	lm := &fakeLoadMonitor{}
	adj.InitAdjustment(lm)
	defer adj.ClearAdjustment()

	before := mgr.CapForBroker(1, execmodel.InterBrokerReplicaConcurrency)
	adj.Tick(context.Background())
	after := mgr.CapForBroker(1, execmodel.InterBrokerReplicaConcurrency)

	if before != after {
		t.Fatalf("expected disabled dimension to remain untouched, before=%d after=%d", before, after)
	}
}

func TestClearAdjustmentStopsTimer(t *testing.T) {
	mgr := testManager()
	adj := New(execconfig.AdjusterConfig{IntervalMs: 10_000}, Deps{
		ConcurrencyMgr: mgr,
		PhaseEligible:  func(execmodel.ConcurrencyType) bool { return true },
		StopRequested:  func() bool { return false },
	})

	adj.InitAdjustment(&fakeLoadMonitor{})
	if !adj.Started() {
		t.Fatalf("expected adjuster to report started")
	}

	adj.ClearAdjustment()
	if adj.Started() {
		t.Fatalf("expected adjuster to report not started after clear")
	}
}

func TestApplyRecommendationsNeverBelowMin(t *testing.T) {
	mgr := testManager()
	mgr.SetForBroker(1, 1, execmodel.InterBrokerReplicaConcurrency)
	cfg := execconfig.AdjusterConfig{MinIsrCheckEnabled: true, UnderMinIsrStopCount: 100}
	adj := New(cfg, Deps{ConcurrencyMgr: mgr})

	adj.applyRecommendations(execmodel.InterBrokerReplicaConcurrency, map[int32]Recommendation{1: Decrease})

	if got := mgr.CapForBroker(1, execmodel.InterBrokerReplicaConcurrency); got != 1 {
		t.Fatalf("expected cap floor at MIN=1, got %d", got)
	}
}
