// Package executor implements the Executor Lifecycle (C6) and the Proposal
// Execution Loop (C7): the top-level state machine, its mutual exclusion and
// sanity checks, and the worker that drives admitted tasks through the
// inter-broker, intra-broker, and leader phases to completion.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyw0ng95/execore/pkg/adjuster"
	"github.com/cyw0ng95/execore/pkg/adminapi"
	"github.com/cyw0ng95/execore/pkg/common"
	"github.com/cyw0ng95/execore/pkg/concurrency"
	"github.com/cyw0ng95/execore/pkg/execconfig"
	"github.com/cyw0ng95/execore/pkg/execmodel"
	"github.com/cyw0ng95/execore/pkg/history"
	"github.com/cyw0ng95/execore/pkg/minisr"
	"github.com/cyw0ng95/execore/pkg/throttle"
	"github.com/cyw0ng95/execore/pkg/tracker"
	"github.com/google/uuid"
)

// Deps bundles every collaborator the Executor needs, mirroring the
// teacher's JobExecutor constructor shape (rpcInvoker, runStore, logger,
// concurrency all passed in rather than reached for globally).
type Deps struct {
	Admin           adminapi.AdminInterface
	Metadata        adminapi.MetadataClient
	UserTasks       adminapi.UserTaskManager
	AnomalyDetector adminapi.AnomalyDetectorManager
	Notifier        adminapi.ExecutorNotifier
	Logger          *common.Logger
}

// Executor is the top-level state machine: it primes C2/C3/C5 and dispatches
// C7 on a dedicated goroutine, the same shape as JobExecutor's mu + activeRun
// + doneChan + cancelFunc, generalized from a single fetch-store loop to a
// three-phase movement pipeline.
type Executor struct {
	mu sync.Mutex

	ongoing    atomic.Bool
	doneCh     chan struct{}
	cancelFunc context.CancelFunc

	stopSignal        atomic.Bool
	stopByUserCount   atomic.Int64
	stopBySystemCount atomic.Int64

	state atomic.Pointer[execmodel.ExecutorState]
	uuid  string

	progressCheckIntervalMs atomic.Int64

	cfgMu sync.Mutex
	cfg   execconfig.Config

	tracker        *tracker.Tracker
	concurrencyMgr *concurrency.Manager
	adjuster       *adjuster.Adjuster
	minIsrCache    *minisr.Cache
	history        *history.Keeper
	throttle       *throttle.Helper

	admin           adminapi.AdminInterface
	metadata        adminapi.MetadataClient
	loadMonitor     adminapi.LoadMonitor
	userTasks       adminapi.UserTaskManager
	anomalyDetector adminapi.AnomalyDetectorManager
	notifier        adminapi.ExecutorNotifier

	logger *common.Logger

	historyStopCh chan struct{}
	shutdownOnce  sync.Once
}

// New constructs an idle Executor in NO_TASK, wiring its own concurrency
// manager, tracker, adjuster, MinISR cache, and history keeper from cfg.
func New(cfg execconfig.Config, deps Deps) *Executor {
	cfg.ApplyDefaults()

	concurrencyMgr := concurrency.NewManager(aimdMap(cfg.Adjuster))
	trk := tracker.New(concurrencyMgr, deps.Logger)
	minIsrCache := minisr.NewCache(cfg.MinIsrCache.MaxEntries)
	historyKeeper := history.NewKeeper(cfg.History.DemotionRetentionMs, cfg.History.RemovalRetentionMs)

	e := &Executor{
		cfg:             cfg,
		tracker:         trk,
		concurrencyMgr:  concurrencyMgr,
		minIsrCache:     minIsrCache,
		history:         historyKeeper,
		admin:           deps.Admin,
		metadata:        deps.Metadata,
		userTasks:       deps.UserTasks,
		anomalyDetector: deps.AnomalyDetector,
		notifier:        deps.Notifier,
		logger:          deps.Logger,
		historyStopCh:   make(chan struct{}),
	}
	e.throttle = throttle.New(deps.Admin, 0, deps.Logger)
	e.adjuster = adjuster.New(cfg.Adjuster, adjuster.Deps{
		ConcurrencyMgr:    concurrencyMgr,
		MinIsrCache:       minIsrCache,
		Admin:             deps.Admin,
		TrackedPartitions: trk.TrackedPartitions,
		PhaseEligible:     e.phaseEligibleFor,
		RequestStop:       e.requestSystemStop,
		StopRequested:     e.stopSignal.Load,
		Logger:            deps.Logger,
	})
	e.state.Store(&execmodel.ExecutorState{Phase: execmodel.NoTask})
	e.progressCheckIntervalMs.Store(cfg.ProgressCheck.DefaultIntervalMs)

	historyKeeper.RunSweeper(time.Minute, func() int64 { return execmodel.NowMs() }, e.historyStopCh)
	minIsrCache.RunSweeper(
		time.Minute,
		time.Duration(cfg.MinIsrCache.RetentionMs)*time.Millisecond,
		time.Now,
		e.historyStopCh,
	)

	return e
}

// aimdMap flattens AdjusterConfig.AIMDByType into the full set the
// concurrency manager expects, defaulting any dimension the caller never
// configured.
func aimdMap(cfg execconfig.AdjusterConfig) map[execmodel.ConcurrencyType]execconfig.AIMDConstants {
	out := make(map[execmodel.ConcurrencyType]execconfig.AIMDConstants, len(execmodel.AllConcurrencyTypes))
	for _, ct := range execmodel.AllConcurrencyTypes {
		out[ct] = cfg.AIMDFor(ct)
	}
	return out
}

func (e *Executor) phaseEligibleFor(t execmodel.ConcurrencyType) bool {
	phase := e.State().Phase
	switch t {
	case execmodel.InterBrokerReplicaConcurrency:
		return phase == execmodel.InterBrokerInProgress
	case execmodel.LeaderBrokerConcurrency, execmodel.LeaderClusterConcurrency:
		return phase == execmodel.LeaderInProgress
	case execmodel.IntraBrokerReplicaConcurrency:
		return phase == execmodel.IntraBrokerInProgress
	default:
		return false
	}
}

func (e *Executor) requestSystemStop() {
	if e.stopSignal.CompareAndSwap(false, true) {
		e.stopBySystemCount.Add(1)
		e.tracker.SetStopRequested()
	}
}

// NewExecutionUUID generates a fresh uuid for a caller about to call
// SetGeneratingProposalsForExecution — the caller typically threads this
// same value through UserTaskManager.MarkTaskExecutionBegan first.
func NewExecutionUUID() string {
	return uuid.NewString()
}

// State returns the current published ExecutorState. Lock-free.
func (e *Executor) State() execmodel.ExecutorState {
	return *e.state.Load()
}

// HasOngoingExecution reports whether the proposal executor worker is
// currently between ExecuteProposals and its finally block. Lock-free.
func (e *Executor) HasOngoingExecution() bool {
	return e.ongoing.Load()
}

// InExecutionTasks returns the current in-progress|aborting task set.
func (e *Executor) InExecutionTasks() []*execmodel.ExecutionTask {
	return e.tracker.InExecutionTasks(nil)
}

// IsConcurrencyManagerInitialized reports whether Initialize has been called
// on the concurrency manager for the current execution.
func (e *Executor) IsConcurrencyManagerInitialized() bool {
	return e.concurrencyMgr.IsInitialized()
}

// IsConcurrencyAdjusterStarted reports whether the adjuster's periodic timer
// is currently running.
func (e *Executor) IsConcurrencyAdjusterStarted() bool {
	return e.adjuster.Started()
}

// SetGeneratingProposalsForExecution transitions NO_TASK -> GENERATING_PROPOSALS
// and stores uuid for the matching executeProposals/failGeneratingProposals
// call to verify against.
func (e *Executor) SetGeneratingProposalsForExecution(id string, reason execmodel.ReasonSupplier, triggeredByUser bool) error {
	if id == "" {
		return &common.StandardizedError{Code: common.ErrCodeIllegalState, Message: "uuid must not be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State().Phase != execmodel.NoTask {
		return common.GetGlobalErrorRegistry().MapWithCode(errIllegalState("setGeneratingProposalsForExecution requires NO_TASK"), common.ErrCodeIllegalState)
	}

	reasonStr := ""
	if reason != nil {
		reasonStr = reason()
	}

	e.uuid = id
	e.publish(execmodel.ExecutorState{
		Phase:           execmodel.GeneratingProposals,
		UUID:            id,
		Reason:          reasonStr,
		StartedAtMs:     execmodel.NowMs(),
		TriggeredByUser: triggeredByUser,
	})
	return nil
}

// FailGeneratingProposalsForExecution reverts GENERATING_PROPOSALS -> NO_TASK
// if id matches the stored uuid; a mismatch is logged and otherwise ignored,
// per spec.
func (e *Executor) FailGeneratingProposalsForExecution(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State().Phase != execmodel.GeneratingProposals || e.uuid != id {
		if e.logger != nil {
			e.logger.Warn("failGeneratingProposalsForExecution: uuid mismatch or wrong phase, ignoring")
		}
		return
	}
	e.uuid = ""
	e.publish(execmodel.NoTaskState())
}

// ExecuteRequest bundles everything ExecuteProposals needs beyond the uuid
// check: the expanded proposals, the load monitor to hand the adjuster, the
// requested per-dimension concurrency, and brokers exempt from per-broker
// caps (e.g. a demote target).
type ExecuteRequest struct {
	UUID                    string
	Proposals               []execmodel.Proposal
	Brokers                 []int32
	LoadMonitor             adminapi.LoadMonitor
	RequestedConcurrency    map[execmodel.ConcurrencyType]int
	BrokersSkipConcurrency  map[int32]bool
	StrategyOptions         tracker.StrategyOptions
	Strategy                tracker.ReplicaMovementStrategy
}

// ExecuteProposals runs the sanity checks from spec §4.5, primes C2/C3/C5,
// transitions to STARTING, and dispatches C7 on its own goroutine.
// ExecuteDemoteProposals is the same operation with different proposal
// content (demote moves), so it is not a separate method here — callers
// build the demote-shaped Proposal slice themselves and call this.
func (e *Executor) ExecuteProposals(ctx context.Context, req ExecuteRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.sanityCheckLocked(ctx, req); err != nil {
		if !e.ongoing.Load() {
			e.publish(execmodel.NoTaskState())
		}
		return err
	}

	e.tracker.Clear()
	e.concurrencyMgr.Initialize(req.Brokers, req.RequestedConcurrency)
	e.tracker.AddProposals(req.Proposals, req.StrategyOptions, req.Strategy)

	e.loadMonitor = req.LoadMonitor
	e.adjuster.InitAdjustment(req.LoadMonitor)
	e.stopSignal.Store(false)

	e.publish(execmodel.ExecutorState{
		Phase:       execmodel.Starting,
		UUID:        req.UUID,
		StartedAtMs: execmodel.NowMs(),
	})

	e.ongoing.Store(true)
	e.doneCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	go e.runExecution(runCtx, req.BrokersSkipConcurrency)

	return nil
}

func (e *Executor) sanityCheckLocked(ctx context.Context, req ExecuteRequest) error {
	registry := common.GetGlobalErrorRegistry()

	if e.ongoing.Load() {
		return registry.MapWithCode(errIllegalState("execution already in progress"), common.ErrCodeOngoingExecution)
	}
	if req.LoadMonitor == nil {
		return registry.MapWithCode(errIllegalState("no load monitor supplied"), common.ErrCodeNoLoadMonitor)
	}
	if e.State().Phase != execmodel.GeneratingProposals || e.uuid != req.UUID {
		return registry.MapWithCode(errIllegalState("uuid does not match GENERATING_PROPOSALS state"), common.ErrCodeUUIDMismatch)
	}
	if e.admin != nil {
		reassignments, err := e.admin.ListPartitionReassignments(ctx)
		if err == nil && len(reassignments) > 0 {
			return registry.MapWithCode(errIllegalState("external agent has active reassignments"), common.ErrCodeExternalBusy)
		}
		active, err := e.admin.HasActiveLogDirMovements(ctx)
		if err == nil && active {
			return registry.MapWithCode(errIllegalState("intra-broker movement already in progress"), common.ErrCodeExternalBusy)
		}
	}
	return nil
}

// UserTriggeredStopExecution CASes the stop signal; if it flips, the
// tracker stops admitting new tasks. When stopExternalAgent is true and no
// local execution is ongoing, it also cancels whatever reassignments an
// external agent currently has active. Per spec's open question (b), a
// stopExternalAgent request made while a local execution IS in progress
// silently skips the external cancellation — preserved as-is.
func (e *Executor) UserTriggeredStopExecution(ctx context.Context, stopExternalAgent bool) bool {
	flipped := e.stopSignal.CompareAndSwap(false, true)
	if flipped {
		e.stopByUserCount.Add(1)
		e.tracker.SetStopRequested()
	}

	if stopExternalAgent && !e.ongoing.Load() && e.admin != nil {
		reassignments, err := e.admin.ListPartitionReassignments(ctx)
		if err == nil && len(reassignments) > 0 {
			partitions := make([]execmodel.TopicPartition, 0, len(reassignments))
			for tp := range reassignments {
				partitions = append(partitions, tp)
			}
			if _, cancelErr := e.admin.CancelPartitionReassignments(ctx, partitions); cancelErr != nil && e.logger != nil {
				e.logger.Warn("failed to cancel external agent reassignments: %v", cancelErr)
			}
		}
	}
	return flipped
}

// Shutdown stops any ongoing execution, waits for it to drain, stops the
// adjuster and history sweeper, and closes the admin client. Idempotent.
func (e *Executor) Shutdown(ctx context.Context) {
	e.shutdownOnce.Do(func() {
		if e.ongoing.Load() {
			e.stopSignal.Store(true)
			e.tracker.SetStopRequested()
			e.mu.Lock()
			cancel := e.cancelFunc
			done := e.doneCh
			e.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			if done != nil {
				select {
				case <-done:
				case <-time.After(10 * time.Second):
					if e.logger != nil {
						e.logger.Warn("shutdown: execution did not finish within timeout")
					}
				}
			}
		}

		e.adjuster.ClearAdjustment()
		close(e.historyStopCh)

		if e.admin != nil {
			if err := e.admin.Close(); err != nil && e.logger != nil {
				e.logger.Warn("shutdown: admin.Close failed: %v", err)
			}
		}
	})
}

// SetRequestedExecutionProgressCheckIntervalMs validates v against the
// configured minimum and stores it; v <= 0 restores the default.
func (e *Executor) SetRequestedExecutionProgressCheckIntervalMs(v int64) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()

	if v > 0 && v < e.cfg.ProgressCheck.MinIntervalMs {
		return common.GetGlobalErrorRegistry().MapWithCode(
			errIllegalState("requested progress-check interval below configured minimum"),
			common.ErrCodeIllegalState)
	}
	e.cfg.ProgressCheck.RequestedIntervalMs = v
	e.progressCheckIntervalMs.Store(e.cfg.ProgressCheck.EffectiveMax())
	return nil
}

// SetConcurrencyAdjusterFor toggles the adjuster for one dimension.
// Idempotent: calling it twice with the same value is a no-op the second
// time.
func (e *Executor) SetConcurrencyAdjusterFor(t execmodel.ConcurrencyType, enabled bool) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if e.cfg.Adjuster.EnabledByType == nil {
		e.cfg.Adjuster.EnabledByType = make(map[execmodel.ConcurrencyType]bool)
	}
	e.cfg.Adjuster.EnabledByType[t] = enabled
}

// SetConcurrencyAdjusterMinIsrCheck toggles the ISR-driven pass.
func (e *Executor) SetConcurrencyAdjusterMinIsrCheck(enabled bool) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg.Adjuster.MinIsrCheckEnabled = enabled
}

// AddRecentlyDemotedBrokers records brokers as recently demoted. permanent
// pins the entry so it never expires.
func (e *Executor) AddRecentlyDemotedBrokers(brokers []int32, permanent bool) {
	e.history.Add(history.Demote, brokers, nowOrPermanent(permanent))
}

// DropRecentlyDemotedBrokers removes brokers from the demote history,
// except any pinned permanent.
func (e *Executor) DropRecentlyDemotedBrokers(brokers []int32) {
	e.history.Drop(history.Demote, brokers)
}

// RecentlyDemotedBrokers returns brokers currently tracked as demoted.
func (e *Executor) RecentlyDemotedBrokers() []int32 {
	return e.history.Brokers(history.Demote, execmodel.NowMs())
}

// AddRecentlyRemovedBrokers records brokers as recently removed.
func (e *Executor) AddRecentlyRemovedBrokers(brokers []int32, permanent bool) {
	e.history.Add(history.Remove, brokers, nowOrPermanent(permanent))
}

// DropRecentlyRemovedBrokers removes brokers from the remove history,
// except any pinned permanent.
func (e *Executor) DropRecentlyRemovedBrokers(brokers []int32) {
	e.history.Drop(history.Remove, brokers)
}

// RecentlyRemovedBrokers returns brokers currently tracked as removed.
func (e *Executor) RecentlyRemovedBrokers() []int32 {
	return e.history.Brokers(history.Remove, execmodel.NowMs())
}

func nowOrPermanent(permanent bool) int64 {
	if permanent {
		return history.Permanent
	}
	return execmodel.NowMs()
}

// publish replaces the current ExecutorState wholesale via atomic pointer
// swap — the published value is never mutated in place.
func (e *Executor) publish(s execmodel.ExecutorState) {
	s.TasksSummary = e.tracker.Summary()
	s.ConcurrencySummaries = e.concurrencySummaries()
	s.RecentlyDemoted = e.history.Brokers(history.Demote, execmodel.NowMs())
	s.RecentlyRemoved = e.history.Brokers(history.Remove, execmodel.NowMs())
	e.state.Store(&s)
}

func (e *Executor) concurrencySummaries() map[string]execmodel.ConcurrencySummary {
	out := make(map[string]execmodel.ConcurrencySummary, len(execmodel.AllConcurrencyTypes))
	for _, ct := range execmodel.AllConcurrencyTypes {
		s := e.concurrencyMgr.GetExecutionConcurrencySummary(ct)
		out[ct.String()] = execmodel.ConcurrencySummary{Min: s.Min, Max: s.Max, Avg: s.Avg}
	}
	return out
}

type illegalStateErr string

func (e illegalStateErr) Error() string { return string(e) }

func errIllegalState(msg string) error { return illegalStateErr(msg) }
