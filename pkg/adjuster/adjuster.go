// Package adjuster implements the concurrency adjuster (C5): a periodic
// AIMD control loop reading ISR health and broker metrics, mutating the
// concurrency manager's caps and optionally requesting a stop.
package adjuster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/common"
	"github.com/cyw0ng95/execore/pkg/concurrency"
	"github.com/cyw0ng95/execore/pkg/execconfig"
	"github.com/cyw0ng95/execore/pkg/execmodel"
	"github.com/cyw0ng95/execore/pkg/minisr"
)

// Recommendation is the per-broker signal the ISR and metric passes agree
// to feed into cap adjustment.
type Recommendation int

const (
	NoChange Recommendation = iota
	Increase
	Decrease
)

// StopFunc asks the executor to stop the current execution. It takes no
// arguments and reports nothing back.
type StopFunc func()

// PhaseEligible reports whether the executor is currently in the phase
// that corresponds to a concurrency dimension (e.g. InterBrokerInProgress
// for InterBrokerReplicaConcurrency), so the adjuster skips dimensions the
// executor isn't currently running.
type PhaseEligible func(t execmodel.ConcurrencyType) bool

// MetricRule is one {metric, threshold, direction} rule used by the
// metric-driven pass.
type MetricRule struct {
	Metric    string
	Threshold float64
	// Above: true means "recommend decrease if value > threshold",
	// false means "recommend decrease if value < threshold".
	Above bool
}

// Adjuster runs the periodic AIMD tick described in spec §4.3.
type Adjuster struct {
	mu         sync.Mutex
	started    atomic.Bool
	numChecks  int64

	loadMonitor adminapi.LoadMonitor
	concurrencyMgr *concurrency.Manager
	minIsrCache *minisr.Cache
	admin       adminapi.AdminInterface
	cfg        execconfig.AdjusterConfig
	metricRules map[string]MetricRule

	trackedPartitions func() []execmodel.TopicPartition

	phaseEligible PhaseEligible
	requestStop   func()
	stopRequested func() bool

	underMinIsrCount int
	atMinIsrBrokers  []int32

	logger *common.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Deps bundles the collaborators the adjuster needs, to keep New's
// signature from growing unboundedly as dependencies accrete.
type Deps struct {
	ConcurrencyMgr    *concurrency.Manager
	MinIsrCache       *minisr.Cache
	Admin             adminapi.AdminInterface
	TrackedPartitions func() []execmodel.TopicPartition
	PhaseEligible     PhaseEligible
	RequestStop       func()
	StopRequested     func() bool
	Logger            *common.Logger
}

// New constructs an Adjuster bound to its collaborators and configuration.
func New(cfg execconfig.AdjusterConfig, deps Deps) *Adjuster {
	return &Adjuster{
		concurrencyMgr:    deps.ConcurrencyMgr,
		minIsrCache:       deps.MinIsrCache,
		admin:             deps.Admin,
		trackedPartitions: deps.TrackedPartitions,
		cfg:               cfg,
		phaseEligible:      deps.PhaseEligible,
		requestStop:        deps.RequestStop,
		stopRequested:      deps.StopRequested,
		logger:             deps.Logger,
	}
}

// InitAdjustment activates the adjuster against a load monitor and starts
// its periodic timer goroutine. A non-positive cfg.IntervalMs starts no
// timer, leaving Tick to be called directly. Safe to call once per run.
func (a *Adjuster) InitAdjustment(loadMonitor adminapi.LoadMonitor) {
	a.mu.Lock()
	a.loadMonitor = loadMonitor
	a.numChecks = 0
	a.mu.Unlock()

	rules := make([]MetricRule, 0, len(a.cfg.MetricRules))
	for _, r := range a.cfg.MetricRules {
		rules = append(rules, MetricRule{Metric: r.Metric, Threshold: r.Threshold, Above: r.Above})
	}
	a.SetMetricRules(rules)

	a.started.Store(true)
	a.stopCh = make(chan struct{})

	interval := time.Duration(a.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.Tick(context.Background())
			}
		}
	}()
}

// ClearAdjustment marks the adjuster not-started and stops its timer. It
// does not itself reset the concurrency manager's caps — callers that need
// a hard reset call concurrency.Manager.Initialize again.
func (a *Adjuster) ClearAdjustment() {
	if !a.started.Load() {
		return
	}
	a.started.Store(false)
	if a.stopCh != nil {
		close(a.stopCh)
		a.wg.Wait()
		a.stopCh = nil
	}
	a.mu.Lock()
	a.loadMonitor = nil
	a.mu.Unlock()
}

// Started reports whether InitAdjustment has run without a subsequent
// ClearAdjustment.
func (a *Adjuster) Started() bool {
	return a.started.Load()
}

// NumChecks returns how many ticks have executed since InitAdjustment.
func (a *Adjuster) NumChecks() int64 {
	return atomic.LoadInt64(&a.numChecks)
}

// Tick runs one AIMD pass for INTER_BROKER_REPLICA and LEADERSHIP_BROKER,
// per spec §4.3 steps 1-5.
func (a *Adjuster) Tick(ctx context.Context) {
	a.mu.Lock()
	loadMonitor := a.loadMonitor
	a.mu.Unlock()

	checkIndex := atomic.AddInt64(&a.numChecks, 1)

	a.refreshIsrHealth(ctx, loadMonitor)

	for _, dim := range []execmodel.ConcurrencyType{execmodel.InterBrokerReplicaConcurrency, execmodel.LeaderBrokerConcurrency} {
		if !a.eligible(dim, loadMonitor) {
			continue
		}

		isrReco, isrPerBroker := a.isrRecommendation(dim)
		if isrReco == stopExecution {
			if a.requestStop != nil {
				a.requestStop()
			}
			continue
		}

		perBroker := isrPerBroker
		if allNoChange(perBroker) && a.cfg.NumMinIsrCheck > 0 && checkIndex%int64(a.cfg.NumMinIsrCheck) == 0 {
			metricReco := a.metricRecommendation(ctx, dim, loadMonitor)
			perBroker = mergeRecommendations(perBroker, metricReco)
		}

		a.applyRecommendations(dim, perBroker)

		if dim == execmodel.LeaderBrokerConcurrency && a.eligible(execmodel.LeaderClusterConcurrency, loadMonitor) {
			a.applyClusterFollowsbroker(perBroker)
		}
	}
}

type isrOutcome int

const (
	isrNoAction isrOutcome = iota
	stopExecution
)

func (a *Adjuster) eligible(t execmodel.ConcurrencyType, loadMonitor adminapi.LoadMonitor) bool {
	if !a.cfg.IsEnabledFor(t) {
		return false
	}
	if loadMonitor == nil {
		return false
	}
	if a.stopRequested != nil && a.stopRequested() {
		return false
	}
	if a.phaseEligible != nil && !a.phaseEligible(t) {
		return false
	}
	return true
}

// refreshIsrHealth computes the snapshot+minISR join described in step 2:
// for every topic this run is currently touching, describe its configured
// MinISR (caching each result in minIsrCache) and join it against the
// cluster snapshot's live replica count, classifying each tracked partition
// as under-minISR or at-minISR. The result feeds SetIsrHealth, so
// isrRecommendation sees a live signal every tick instead of whatever a
// caller last injected for a test.
func (a *Adjuster) refreshIsrHealth(ctx context.Context, loadMonitor adminapi.LoadMonitor) {
	if !a.cfg.MinIsrCheckEnabled || a.minIsrCache == nil || a.admin == nil || a.trackedPartitions == nil || loadMonitor == nil {
		return
	}

	partitions := a.trackedPartitions()
	if len(partitions) == 0 {
		return
	}

	topicSet := make(map[string]bool, len(partitions))
	for _, tp := range partitions {
		topicSet[tp.Topic] = true
	}
	topics := make([]string, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}

	configs, err := a.admin.DescribeConfigs(ctx, topics)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("adjuster: describeConfigs failed: %v", err)
		}
		return
	}
	now := time.Now()
	for _, cfg := range configs {
		a.minIsrCache.Put(cfg.Topic, cfg.MinIsr, now)
	}

	snapshot, err := loadMonitor.KafkaCluster(ctx)
	if err != nil || snapshot == nil {
		if err != nil && a.logger != nil {
			a.logger.Warn("adjuster: kafkaCluster snapshot failed: %v", err)
		}
		return
	}

	underCount := 0
	atBrokers := make(map[int32]bool)
	for _, tp := range partitions {
		entry, ok := a.minIsrCache.Get(tp.Topic)
		if !ok {
			continue
		}
		replicas, _, exists := snapshot.Partition(tp)
		if !exists {
			continue
		}
		live := 0
		for _, b := range replicas {
			if snapshot.NodeByID(b) {
				live++
			}
		}
		switch {
		case live < entry.MinIsr:
			underCount++
		case live == entry.MinIsr:
			for _, b := range replicas {
				atBrokers[b] = true
			}
		}
	}

	brokers := make([]int32, 0, len(atBrokers))
	for b := range atBrokers {
		brokers = append(brokers, b)
	}
	a.SetIsrHealth(underCount, brokers)
}

// isrRecommendation computes the ISR-driven pass described in step 2: a
// global stop-execution signal if enough partitions are under-minISR, else
// a per-broker decrease recommendation for brokers hosting at-minISR
// partitions. Never recommends increase.
func (a *Adjuster) isrRecommendation(dim execmodel.ConcurrencyType) (isrOutcome, map[int32]Recommendation) {
	if !a.cfg.MinIsrCheckEnabled {
		return isrNoAction, nil
	}

	// underMinIsrCount/atMinIsrBrokers are refreshed once per Tick by
	// refreshIsrHealth, which joins the minISR cache against the current
	// cluster snapshot; this read just consumes that latest snapshot.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.underMinIsrCount >= a.cfg.UnderMinIsrStopCount && a.cfg.UnderMinIsrStopCount > 0 {
		return stopExecution, nil
	}
	out := make(map[int32]Recommendation, len(a.atMinIsrBrokers))
	for _, b := range a.atMinIsrBrokers {
		out[b] = Decrease
	}
	return isrNoAction, out
}

func allNoChange(m map[int32]Recommendation) bool {
	for _, r := range m {
		if r != NoChange {
			return false
		}
	}
	return true
}

func (a *Adjuster) metricRecommendation(ctx context.Context, _ execmodel.ConcurrencyType, loadMonitor adminapi.LoadMonitor) map[int32]Recommendation {
	out := make(map[int32]Recommendation)
	if loadMonitor == nil {
		return out
	}
	values, err := loadMonitor.CurrentBrokerMetricValues(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("adjuster: failed to read broker metrics: %v", err)
		}
		return out
	}
	for _, v := range values {
		rule, ok := a.metricRules[v.Metric]
		if !ok {
			continue
		}
		exceeds := v.Value > rule.Threshold
		if !rule.Above {
			exceeds = v.Value < rule.Threshold
		}
		if exceeds {
			out[v.BrokerID] = Decrease
		}
	}
	return out
}

func mergeRecommendations(base, overlay map[int32]Recommendation) map[int32]Recommendation {
	out := make(map[int32]Recommendation, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v != NoChange {
			out[k] = v
		}
	}
	return out
}

// applyRecommendations applies step 4's AIMD cap mutation for dim.
func (a *Adjuster) applyRecommendations(dim execmodel.ConcurrencyType, perBroker map[int32]Recommendation) {
	aimd := a.cfg.AIMDFor(dim)
	for broker, reco := range perBroker {
		current := a.concurrencyMgr.CapForBroker(broker, dim)
		switch reco {
		case Decrease:
			next := current / aimd.MultiplicativeDecrease
			if next < aimd.Min {
				next = aimd.Min
			}
			a.concurrencyMgr.SetForBroker(broker, next, dim)
		case Increase:
			next := current + aimd.AdditiveIncrease
			if next > aimd.Max {
				next = aimd.Max
			}
			a.concurrencyMgr.SetForBroker(broker, next, dim)
		}
	}
}

// applyClusterFollowsbroker implements step 5: cluster-leadership
// adjustment follows the broker recommendation only while both dimensions
// are eligible — piggybacking rather than computing an independent signal.
func (a *Adjuster) applyClusterFollowsbroker(brokerReco map[int32]Recommendation) {
	decreaseCount, increaseCount := 0, 0
	for _, r := range brokerReco {
		switch r {
		case Decrease:
			decreaseCount++
		case Increase:
			increaseCount++
		}
	}

	aimd := a.cfg.AIMDFor(execmodel.LeaderClusterConcurrency)
	current := a.concurrencyMgr.ClusterCap(execmodel.LeaderClusterConcurrency)
	switch {
	case decreaseCount > increaseCount:
		next := current / aimd.MultiplicativeDecrease
		if next < aimd.Min {
			next = aimd.Min
		}
		a.concurrencyMgr.SetForAllBrokersOrCluster(next, execmodel.LeaderClusterConcurrency)
	case increaseCount > decreaseCount:
		next := current + aimd.AdditiveIncrease
		if next > aimd.Max {
			next = aimd.Max
		}
		a.concurrencyMgr.SetForAllBrokersOrCluster(next, execmodel.LeaderClusterConcurrency)
	}
}

// SetMetricRules configures the metric-driven pass's {metric, threshold,
// direction} rules.
func (a *Adjuster) SetMetricRules(rules []MetricRule) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metricRules = make(map[string]MetricRule, len(rules))
	for _, r := range rules {
		a.metricRules[r.Metric] = r
	}
}

// SetIsrHealth feeds an ISR-health evaluation into the next Tick's
// ISR-driven pass. Called by refreshIsrHealth every tick in production;
// exported so tests can inject a snapshot without wiring a full
// AdminInterface/LoadMonitor pair.
func (a *Adjuster) SetIsrHealth(underMinIsrCount int, atMinIsrBrokers []int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.underMinIsrCount = underMinIsrCount
	a.atMinIsrBrokers = atMinIsrBrokers
}
