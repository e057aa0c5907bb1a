// Package metrics provides in-memory runtime statistics for both pipelines.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpDownload    = "download"
	OpExtract     = "extract"
	OpParse       = "parse"
	OpChunk       = "chunk"
	OpEmbed       = "embed"
	OpStoreUpsert = "store_upsert"
	OpStoreSearch = "store_search"
	OpRerank      = "rerank"
	OpGenerate    = "generate"
	OpQuery       = "query"
)

// operationMetrics holds aggregated metrics for one operation.
type operationMetrics struct {
	count     int64
	errors    int64
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration

	inputTokens  int64
	outputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	InputTokens  *int64 `json:"input_tokens,omitempty"`
	OutputTokens *int64 `json:"output_tokens,omitempty"`
}

// JobCounts tallies ingestion job outcomes.
type JobCounts struct {
	Started      int64 `json:"started"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	ChunksStored int64 `json:"chunks_stored"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                      `json:"uptime_seconds"`
	Operations    map[string]OperationSnapshot `json:"operations"`
	Jobs          JobCounts                    `json:"jobs"`
	TotalCostUSD  float64                      `json:"total_cost_usd"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil receiver.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*operationMetrics
	jobs      JobCounts
	cost      float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*operationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *operationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &operationMetrics{minTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *operationMetrics) observe(d time.Duration, err error) {
	m.count++
	if err != nil {
		m.errors++
	}
	m.totalTime += d
	m.minTime = min(m.minTime, d)
	m.maxTime = max(m.maxTime, d)
}

// RecordTiming records one call of op. A non-nil err counts as a failure.
func (c *Collector) RecordTiming(op string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).observe(duration, err)
}

// RecordLLMUsage records timing and estimated token usage of a generation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration, nil)
	m.inputTokens += inputTokens
	m.outputTokens += outputTokens
}

// RecordCost adds the estimated cost of one answered query.
func (c *Collector) RecordCost(usd float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cost += usd
	c.mu.Unlock()
}

// JobStarted counts a job entering the running state.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobs.Started++
	c.mu.Unlock()
}

// JobFinished counts a terminal job and the chunks it stored.
func (c *Collector) JobFinished(failed bool, chunks int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		c.jobs.Failed++
	} else {
		c.jobs.Completed++
	}
	c.jobs.ChunksStored += int64(chunks)
}

func snapshotOp(m *operationMetrics) OperationSnapshot {
	snap := OperationSnapshot{
		Count:       m.count,
		Errors:      m.errors,
		TotalTimeMs: m.totalTime.Milliseconds(),
		AvgTimeMs:   float64(m.totalTime.Milliseconds()) / float64(m.count),
		MinTimeMs:   m.minTime.Milliseconds(),
		MaxTimeMs:   m.maxTime.Milliseconds(),
	}
	if m.inputTokens > 0 || m.outputTokens > 0 {
		in, out := m.inputTokens, m.outputTokens
		snap.InputTokens = &in
		snap.OutputTokens = &out
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Operations: map[string]OperationSnapshot{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]OperationSnapshot, len(c.ops))
	for name, m := range c.ops {
		if m.count > 0 {
			ops[name] = snapshotOp(m)
		}
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    ops,
		Jobs:          c.jobs,
		TotalCostUSD:  c.cost,
	}
}
