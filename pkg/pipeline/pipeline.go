// Package pipeline implements C9: the orchestrator wiring ignore-filter
// -> detect (C5) -> embed (C2) -> neighbor search (C4) -> analyze (C3)
// -> merge (RulesEngine) -> persist (C7) -> upsert (C4) -> broadcast
// (C8), per spec §4.9.
package pipeline

import (
	"context"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/broadcast"
	"github.com/sentineld/sentineld/pkg/detector"
	"github.com/sentineld/sentineld/pkg/eventstore"
	"github.com/sentineld/sentineld/pkg/llm"
	"github.com/sentineld/sentineld/pkg/types"
	"github.com/sentineld/sentineld/pkg/vectorstore"
)

// Pipeline fans out across a bounded worker group (maxInFlight), while
// preserving per-uniqueId source order (spec §5): two events sharing a
// uniqueId run under the same lock and so never interleave, while
// distinct uniqueIds run concurrently up to the configured bound.
type Pipeline struct {
	cfg config.PipelineConfig

	reloadMu         sync.RWMutex
	ignorePatterns   []compiledIgnorePattern
	minRiskToPersist types.RiskLevel

	detector    *detector.Detector
	embedder    embedderFunc
	vectorStore vectorstore.VectorStore
	llmClient   llm.Client
	rules       *detector.RulesEngine
	store       eventstore.Store
	broadcaster *broadcast.Broadcaster
	logger      *logrus.Logger

	sem *semaphore.Weighted

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex
}

// embedderFunc matches pkg/embedding.Embedder's method, kept narrow so
// this package does not need to import pkg/embedding directly.
type embedderFunc interface {
	Embed(ctx context.Context, text string) (types.Embedding, error)
}

type compiledIgnorePattern struct {
	channel string
	eventID *int
	message *regexp.Regexp
}

// Deps bundles the already-built C1-C8 components the Pipeline
// orchestrates; each is constructed by its own package's Build/New.
type Deps struct {
	Detector    *detector.Detector
	Embedder    embedderFunc
	VectorStore vectorstore.VectorStore
	LLMClient   llm.Client
	Store       eventstore.Store
	Broadcaster *broadcast.Broadcaster
	Logger      *logrus.Logger
}

// New builds a Pipeline from cfg, ignorePatterns, and deps.
func New(cfg config.PipelineConfig, ignorePatterns []config.IgnorePattern, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:              cfg,
		ignorePatterns:   compileIgnorePatterns(ignorePatterns),
		minRiskToPersist: types.RiskLevel(cfg.MinRiskToPersist),
		detector:         deps.Detector,
		embedder:         deps.Embedder,
		vectorStore:      deps.VectorStore,
		llmClient:        deps.LLMClient,
		rules:            detector.NewRulesEngine(),
		store:            deps.Store,
		broadcaster:      deps.Broadcaster,
		logger:           deps.Logger,
		sem:              semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		idLocks:          make(map[string]*sync.Mutex),
	}
}

func compileIgnorePatterns(patterns []config.IgnorePattern) []compiledIgnorePattern {
	compiled := make([]compiledIgnorePattern, 0, len(patterns))
	for _, p := range patterns {
		cp := compiledIgnorePattern{channel: p.Channel, eventID: p.EventID}
		if p.MessagePattern != "" {
			if re, err := regexp.Compile(p.MessagePattern); err == nil {
				cp.message = re
			}
		}
		compiled = append(compiled, cp)
	}
	return compiled
}

// UpdateIgnorePatterns atomically replaces the ignore-filter list,
// letting a config watcher reload it without restarting the process.
func (p *Pipeline) UpdateIgnorePatterns(patterns []config.IgnorePattern) {
	compiled := compileIgnorePatterns(patterns)
	p.reloadMu.Lock()
	p.ignorePatterns = compiled
	p.reloadMu.Unlock()
}

// UpdateMinRiskToPersist atomically replaces the persistence risk
// threshold used by processOne.
func (p *Pipeline) UpdateMinRiskToPersist(level string) {
	p.reloadMu.Lock()
	p.minRiskToPersist = types.RiskLevel(level)
	p.reloadMu.Unlock()
}

// Run consumes events until the channel closes or ctx is cancelled,
// processing each under the bounded worker group and returning the
// first error (other than cancellation) any worker hit.
func (p *Pipeline) Run(ctx context.Context, events <-chan types.LogEvent) error {
	g, gctx := errgroup.WithContext(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return g.Wait()
			}
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return g.Wait()
			}
			event := event
			g.Go(func() error {
				defer p.sem.Release(1)
				p.processOne(gctx, event)
				return nil
			})
		}
	}
}

func (p *Pipeline) lockFor(uniqueID string) *sync.Mutex {
	p.idLocksMu.Lock()
	defer p.idLocksMu.Unlock()
	l, ok := p.idLocks[uniqueID]
	if !ok {
		l = &sync.Mutex{}
		p.idLocks[uniqueID] = l
	}
	return l
}

// processOne never returns an error: every stage degrades per spec §7
// (empty embedding, skipped search, fallback verdict) rather than
// aborting the event. Only context cancellation short-circuits it.
func (p *Pipeline) processOne(ctx context.Context, event types.LogEvent) {
	if event.UniqueID != "" {
		lock := p.lockFor(event.UniqueID)
		lock.Lock()
		defer lock.Unlock()
	}

	if p.isIgnored(event) {
		return
	}

	deadline := time.Duration(p.cfg.PerEventDeadlineMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	verdict, err := p.detector.Detect(ctx, event)
	if err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("uniqueId", event.UniqueID).Warn("deterministic detection failed")
	}

	vec, err := p.embedder.Embed(ctx, event.Message)
	if err != nil {
		vec = types.Embedding{}
	}

	var neighbors []llm.Neighbor
	if !vec.Empty() {
		hits, err := p.vectorStore.Search(ctx, vec, p.cfg.NeighborK)
		if err != nil && p.logger != nil {
			p.logger.WithError(err).Warn("neighbor search failed, continuing without neighbors")
		}
		for _, h := range hits {
			neighbors = append(neighbors, llm.Neighbor{Event: h.Event, Score: h.Score})
		}
	}

	raw, err := p.llmClient.Analyze(ctx, event, neighbors)
	if err != nil {
		raw = ""
		if p.logger != nil {
			p.logger.WithError(err).Warn("llm analysis failed, merging with deterministic verdict only")
		}
	}

	eventType, risk, confidence, summary, mitre, actions, isDeterministic := p.rules.Merge(verdict, raw)
	if verdict == nil && raw == "" {
		return
	}

	secEvent := types.SecurityEvent{
		ID:                 types.PointIDFromUniqueID(event.UniqueID).String(),
		OriginalEvent:      event,
		EventType:          eventType,
		RiskLevel:          risk,
		Confidence:         confidence,
		Summary:            summary,
		MitreTechniques:    mitre,
		RecommendedActions: actions,
		IsDeterministic:    isDeterministic,
		Status:             types.StatusOpen,
		CreatedAt:          time.Now(),
	}

	p.reloadMu.RLock()
	minRisk := p.minRiskToPersist
	p.reloadMu.RUnlock()

	if types.MaxRisk(risk, minRisk) == risk {
		if err := p.store.Save(ctx, secEvent); err != nil && p.logger != nil {
			p.logger.WithError(err).Warn("failed to persist security event")
		}
	}

	if !vec.Empty() {
		if err := p.vectorStore.Upsert(ctx, event, vec); err != nil && p.logger != nil {
			p.logger.WithError(err).Warn("failed to upsert event vector")
		}
	}

	if p.broadcaster != nil {
		p.broadcaster.Publish(broadcast.TopicSecurityEvents, secEvent)
	}
}

func (p *Pipeline) isIgnored(event types.LogEvent) bool {
	p.reloadMu.RLock()
	patterns := p.ignorePatterns
	p.reloadMu.RUnlock()

	for _, pat := range patterns {
		if pat.channel != "" && pat.channel != event.Channel {
			continue
		}
		if pat.eventID != nil && *pat.eventID != event.EventID {
			continue
		}
		if pat.message != nil && !pat.message.MatchString(event.Message) {
			continue
		}
		return true
	}
	return false
}
