// Package execconfig holds the plain JSON-tagged configuration tree for the
// execution core: one struct per component, each defaulted and clamped at
// construction time rather than validated after the fact.
package execconfig

import "github.com/cyw0ng95/execore/pkg/execmodel"

const (
	defaultExecutionProgressCheckIntervalMs    = 5_000
	defaultMinExecutionProgressCheckIntervalMs = 1_000
	defaultLeaderMovementTimeoutMs              = 180_000
	defaultDemotionHistoryRetentionMs           = 24 * 60 * 60 * 1000
	defaultRemovalHistoryRetentionMs            = 24 * 60 * 60 * 1000
	defaultConcurrencyAdjusterIntervalMs        = 30_000
	defaultConcurrencyAdjusterNumMinIsrCheck     = 5
	defaultMinIsrCacheSize                      = 10_000
	defaultMinIsrCacheRetentionMs                = 5 * 60 * 1000
	defaultSlowTaskAlertingBackoffMs            = 5 * 60 * 1000
	defaultStepSeconds                          = 1_000
	defaultReportOutputDir                      = "./execution-reports"
)

// AIMDConstants bounds and steps one concurrency dimension's AIMD control.
type AIMDConstants struct {
	Min                    int `json:"min"`
	Max                    int `json:"max"`
	AdditiveIncrease       int `json:"additiveIncrease"`
	MultiplicativeDecrease int `json:"multiplicativeDecrease"`
}

// Clamp constrains v into [Min, Max].
func (c AIMDConstants) Clamp(v int) int {
	if v < c.Min {
		return c.Min
	}
	if v > c.Max {
		return c.Max
	}
	return v
}

func defaultAIMD() AIMDConstants {
	return AIMDConstants{Min: 1, Max: 20, AdditiveIncrease: 1, MultiplicativeDecrease: 2}
}

// defaultMetricRules mirrors spec §4.3 step 3's own examples: CPU, log-flush
// latency, request queue size.
func defaultMetricRules() []MetricRuleConfig {
	return []MetricRuleConfig{
		{Metric: "cpu_utilization", Threshold: 0.85, Above: true},
		{Metric: "log_flush_latency_ms", Threshold: 1_000, Above: true},
		{Metric: "request_queue_size", Threshold: 500, Above: true},
	}
}

// ProgressCheckConfig bounds the Phase I progress-check interval.
type ProgressCheckConfig struct {
	RequestedIntervalMs int64 `json:"requestedIntervalMs,omitempty"`
	MinIntervalMs       int64 `json:"minIntervalMs,omitempty"`
	DefaultIntervalMs   int64 `json:"defaultIntervalMs,omitempty"`
	StepMs              int64 `json:"stepMs,omitempty"`
}

// EffectiveMax returns requested if set and >= min, else default.
func (c ProgressCheckConfig) EffectiveMax() int64 {
	if c.RequestedIntervalMs >= c.MinIntervalMs && c.RequestedIntervalMs > 0 {
		return c.RequestedIntervalMs
	}
	return c.DefaultIntervalMs
}

// MetricRuleConfig is one {metric, threshold, direction} rule driving the
// metric-driven pass (spec §4.3 step 3): CPU, log-flush latency, request
// queue size, etc.
type MetricRuleConfig struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	// Above: true recommends decrease when the broker's value exceeds
	// Threshold, false when it falls below.
	Above bool `json:"above"`
}

// AdjusterConfig configures the periodic concurrency adjuster (C5).
type AdjusterConfig struct {
	IntervalMs           int64                                       `json:"intervalMs,omitempty"`
	NumMinIsrCheck        int                                         `json:"numMinIsrCheck,omitempty"`
	MinIsrCheckEnabled    bool                                        `json:"minIsrCheckEnabled"`
	EnabledByType         map[execmodel.ConcurrencyType]bool          `json:"enabledByType,omitempty"`
	AIMDByType            map[execmodel.ConcurrencyType]AIMDConstants `json:"aimdByType,omitempty"`
	UnderMinIsrStopCount  int                                         `json:"underMinIsrStopCount,omitempty"`
	MetricRules           []MetricRuleConfig                         `json:"metricRules,omitempty"`
}

// IsEnabledFor reports whether the adjuster should run for a dimension.
func (c AdjusterConfig) IsEnabledFor(t execmodel.ConcurrencyType) bool {
	if c.EnabledByType == nil {
		return true
	}
	enabled, ok := c.EnabledByType[t]
	if !ok {
		return true
	}
	return enabled
}

// AIMDFor returns the AIMD constants for a dimension, falling back to a
// generic default if the caller never configured one.
func (c AdjusterConfig) AIMDFor(t execmodel.ConcurrencyType) AIMDConstants {
	if c.AIMDByType != nil {
		if v, ok := c.AIMDByType[t]; ok {
			return v
		}
	}
	return defaultAIMD()
}

// MinIsrCacheConfig bounds the C4 cache.
type MinIsrCacheConfig struct {
	MaxEntries  int   `json:"maxEntries,omitempty"`
	RetentionMs int64 `json:"retentionMs,omitempty"`
}

// HistoryConfig configures C9 retention.
type HistoryConfig struct {
	DemotionRetentionMs int64 `json:"demotionRetentionMs,omitempty"`
	RemovalRetentionMs  int64 `json:"removalRetentionMs,omitempty"`
}

// ReportConfig configures the optional XLSX execution report written at
// completion, immediately before the task tracker is cleared. Disabled by
// default: the report is a one-way operator artifact, not part of the
// execution core's own state, so an operator opts in by setting Enabled.
type ReportConfig struct {
	Enabled   bool   `json:"enabled"`
	OutputDir string `json:"outputDir,omitempty"`
}

// Config is the top-level configuration tree for the execution core.
type Config struct {
	ProgressCheck         ProgressCheckConfig `json:"progressCheck,omitempty"`
	LeaderMovementTimeoutMs int64             `json:"leaderMovementTimeoutMs,omitempty"`
	Adjuster              AdjusterConfig      `json:"adjuster,omitempty"`
	MinIsrCache           MinIsrCacheConfig   `json:"minIsrCache,omitempty"`
	History               HistoryConfig       `json:"history,omitempty"`
	Report                ReportConfig        `json:"report,omitempty"`
	SlowTaskAlertingBackoffMs int64           `json:"slowTaskAlertingBackoffMs,omitempty"`
}

// NewDefaultConfig returns a Config with every zero-valued field clamped to
// a sane production default, the same way the teacher's constructors
// default zero-valued request fields instead of erroring on them.
func NewDefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// ApplyDefaults fills in zero fields in place. Safe to call on a
// partially-populated Config from a caller-supplied request.
func (c *Config) ApplyDefaults() {
	c.applyDefaults()
}

// applyDefaults fills in zero fields in place. Safe to call on a
// partially-populated Config from a caller-supplied request.
func (c *Config) applyDefaults() {
	if c.ProgressCheck.MinIntervalMs <= 0 {
		c.ProgressCheck.MinIntervalMs = defaultMinExecutionProgressCheckIntervalMs
	}
	if c.ProgressCheck.DefaultIntervalMs <= 0 {
		c.ProgressCheck.DefaultIntervalMs = defaultExecutionProgressCheckIntervalMs
	}
	if c.ProgressCheck.StepMs <= 0 {
		c.ProgressCheck.StepMs = defaultStepSeconds
	}
	if c.LeaderMovementTimeoutMs <= 0 {
		c.LeaderMovementTimeoutMs = defaultLeaderMovementTimeoutMs
	}
	if c.Adjuster.IntervalMs <= 0 {
		c.Adjuster.IntervalMs = defaultConcurrencyAdjusterIntervalMs
	}
	if c.Adjuster.NumMinIsrCheck <= 0 {
		c.Adjuster.NumMinIsrCheck = defaultConcurrencyAdjusterNumMinIsrCheck
	}
	if c.Adjuster.UnderMinIsrStopCount <= 0 {
		c.Adjuster.UnderMinIsrStopCount = 1
	}
	if c.Adjuster.MetricRules == nil {
		c.Adjuster.MetricRules = defaultMetricRules()
	}
	if c.MinIsrCache.MaxEntries <= 0 {
		c.MinIsrCache.MaxEntries = defaultMinIsrCacheSize
	}
	if c.MinIsrCache.RetentionMs <= 0 {
		c.MinIsrCache.RetentionMs = defaultMinIsrCacheRetentionMs
	}
	if c.History.DemotionRetentionMs <= 0 {
		c.History.DemotionRetentionMs = defaultDemotionHistoryRetentionMs
	}
	if c.History.RemovalRetentionMs <= 0 {
		c.History.RemovalRetentionMs = defaultRemovalHistoryRetentionMs
	}
	if c.Report.Enabled && c.Report.OutputDir == "" {
		c.Report.OutputDir = defaultReportOutputDir
	}
	if c.SlowTaskAlertingBackoffMs <= 0 {
		c.SlowTaskAlertingBackoffMs = defaultSlowTaskAlertingBackoffMs
	}
}
