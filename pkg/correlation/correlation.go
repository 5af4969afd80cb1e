// Package correlation implements C6: scanning recent event history for
// multi-event attack patterns and persisting Correlation records
// through C7 (spec §4.6).
package correlation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/eventstore"
	"github.com/sentineld/sentineld/pkg/types"
)

// Detector evaluates one pattern family over a window of events.
type Detector interface {
	Name() types.CorrelationType
	Detect(ctx context.Context, events []types.SecurityEvent, cfg config.CorrelationConfig) ([]types.Correlation, error)
}

// Stats mirrors the statistics block spec §4.6 names.
type Stats struct {
	TotalEventsProcessed   int64
	CorrelationsDetected   int64
	CorrelationsByType     map[types.CorrelationType]int64
	AverageConfidenceScore float64
	AverageProcessingTime  time.Duration
	LastUpdated            time.Time
	TopPatterns            []string
	EventsCorrelated       int64
}

// Engine runs every registered Detector concurrently against the
// store's recent history on a fixed interval, de-duplicates results,
// persists new correlations, and rolls the per-event score fields
// forward to the maximum observed across a SecurityEvent's
// correlations.
type Engine struct {
	store     eventstore.Store
	detectors []Detector
	cfg       config.CorrelationConfig

	mu               sync.Mutex
	seen             map[string]struct{}
	totalProcessed   int64
	totalDetected    int64
	byType           map[types.CorrelationType]int64
	confidenceSum    float64
	processingSum    time.Duration
	processingCycles int64
	eventsCorrelated int64
	topPatterns      []string
	lastUpdated      time.Time
}

// NewEngine wires store and cfg into an Engine running detectors.
func NewEngine(store eventstore.Store, detectors []Detector, cfg config.CorrelationConfig) *Engine {
	return &Engine{
		store:     store,
		detectors: detectors,
		cfg:       cfg,
		seen:      make(map[string]struct{}),
		byType:    make(map[types.CorrelationType]int64),
	}
}

// Run drives the background loop until ctx is cancelled, firing once
// every AnalysisIntervalSeconds. The interval is re-read each cycle so
// a config reload via UpdateConfig takes effect on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.config().AnalysisIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
				continue
			}
			if next := time.Duration(e.config().AnalysisIntervalSeconds) * time.Second; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// UpdateConfig atomically replaces the thresholds detectors and the
// analysis loop read, letting a config watcher reload them without
// restarting the process.
func (e *Engine) UpdateConfig(cfg config.CorrelationConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() config.CorrelationConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// RunOnce executes a single analysis cycle: read the lookback window,
// fan the detectors out concurrently, de-dup and persist fresh
// correlations, and update per-event score fields.
func (e *Engine) RunOnce(ctx context.Context) error {
	start := time.Now()
	cfg := e.config()
	lookback := time.Duration(cfg.LookbackMinutes) * time.Minute
	now := start
	events, err := e.store.GetInRange(ctx, now.Add(-lookback), now, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]types.Correlation, len(e.detectors))
	for i, d := range e.detectors {
		i, d := i, d
		g.Go(func() error {
			cs, err := d.Detect(gctx, events, cfg)
			if err != nil {
				return err
			}
			results[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	e.totalProcessed += int64(len(events))
	e.mu.Unlock()

	for _, cs := range results {
		for _, c := range cs {
			if err := e.persistIfNew(ctx, c); err != nil {
				return err
			}
		}
	}

	e.mu.Lock()
	e.processingSum += time.Since(start)
	e.processingCycles++
	e.lastUpdated = time.Now()
	e.mu.Unlock()
	return nil
}

func dedupKey(c types.Correlation) string {
	ids := append([]string(nil), c.EventIDs...)
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(string(c.CorrelationType)))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) persistIfNew(ctx context.Context, c types.Correlation) error {
	key := dedupKey(c)

	e.mu.Lock()
	if _, ok := e.seen[key]; ok {
		e.mu.Unlock()
		return nil
	}
	e.seen[key] = struct{}{}
	e.totalDetected++
	e.byType[c.CorrelationType]++
	e.confidenceSum += c.ConfidenceScore
	e.eventsCorrelated += int64(len(c.EventIDs))
	e.mu.Unlock()

	if err := e.store.SaveCorrelation(ctx, c); err != nil {
		return err
	}

	for _, id := range c.EventIDs {
		if err := e.store.UpdateScores(ctx, id, c.ConfidenceScore, burstScoreOf(c), anomalyScoreOf(c), c.ID); err != nil {
			return err
		}
	}
	return nil
}

func burstScoreOf(c types.Correlation) float64 {
	if c.CorrelationType == types.CorrelationTemporalBurst {
		return c.ConfidenceScore
	}
	return 0
}

func anomalyScoreOf(c types.Correlation) float64 {
	if c.CorrelationType == types.CorrelationLateralMovement || c.CorrelationType == types.CorrelationPrivilegeEscalation {
		return c.ConfidenceScore
	}
	return 0
}

// Stats snapshots the engine's running statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	avgConfidence := 0.0
	if e.totalDetected > 0 {
		avgConfidence = e.confidenceSum / float64(e.totalDetected)
	}
	avgProcessing := time.Duration(0)
	if e.processingCycles > 0 {
		avgProcessing = e.processingSum / time.Duration(e.processingCycles)
	}

	byType := make(map[types.CorrelationType]int64, len(e.byType))
	for k, v := range e.byType {
		byType[k] = v
	}

	return Stats{
		TotalEventsProcessed:   e.totalProcessed,
		CorrelationsDetected:   e.totalDetected,
		CorrelationsByType:     byType,
		AverageConfidenceScore: avgConfidence,
		AverageProcessingTime:  avgProcessing,
		LastUpdated:            e.lastUpdated,
		TopPatterns:            e.topPatterns,
		EventsCorrelated:       e.eventsCorrelated,
	}
}
