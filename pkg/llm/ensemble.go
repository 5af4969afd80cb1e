package llm

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

// ensembleMember pairs a named inner client with its configured voting
// weight.
type ensembleMember struct {
	name   string
	client Client
	weight float64
}

// EnsembleClient runs N inner clients in parallel with a deadline and
// merges their verdicts, per spec §4.3. Analyze is the only method it
// changes; Generate always delegates to the configured default client.
type EnsembleClient struct {
	members []ensembleMember
	cfg     config.EnsembleConfig
	defaultClient Client
}

// NewEnsembleClient builds an EnsembleClient over members, falling back
// to defaultClient's verdict when fewer than cfg.MinQuorum results
// return within cfg.DeadlineMs.
func NewEnsembleClient(members map[string]Client, weights map[string]float64, defaultClient Client, cfg config.EnsembleConfig) *EnsembleClient {
	e := &EnsembleClient{cfg: cfg, defaultClient: defaultClient}
	for name, client := range members {
		w := weights[name]
		if w <= 0 {
			w = 1.0
		}
		e.members = append(e.members, ensembleMember{name: name, client: client, weight: w})
	}
	sort.Slice(e.members, func(i, j int) bool { return e.members[i].name < e.members[j].name })
	return e
}

type memberResult struct {
	verdict types.LLMVerdict
	weight  float64
}

// Analyze fans Analyze out to every member with a shared deadline,
// discards any that time out or error, and merges the rest. Falls back
// to defaultClient's verdict if fewer than cfg.MinQuorum arrive in time.
func (e *EnsembleClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	deadline := time.Duration(e.cfg.DeadlineMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make([]memberResult, 0, len(e.members))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, m := range e.members {
		wg.Add(1)
		go func(m ensembleMember) {
			defer wg.Done()
			raw, err := m.client.Analyze(callCtx, event, neighbors)
			if err != nil {
				return
			}
			var v types.LLMVerdict
			if err := json.Unmarshal([]byte(ExtractJSON(raw)), &v); err != nil {
				return
			}
			mu.Lock()
			results = append(results, memberResult{verdict: v, weight: m.weight})
			mu.Unlock()
		}(m)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-callCtx.Done():
	}

	mu.Lock()
	collected := append([]memberResult(nil), results...)
	mu.Unlock()

	if len(collected) < e.cfg.MinQuorum {
		raw, err := e.defaultClient.Analyze(ctx, event, neighbors)
		return raw, err
	}

	merged := mergeVerdicts(collected)
	return marshal(merged), nil
}

func (e *EnsembleClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return e.defaultClient.Generate(ctx, systemPrompt, userPrompt)
}

// mergeVerdicts implements spec §4.3's merge rule: majority vote on
// risk (ties broken by highest mean confidence), weighted mean on
// confidence, union on mitre, order-preserving deduplicated union on
// recommended_actions, longest summary.
func mergeVerdicts(results []memberResult) types.LLMVerdict {
	riskVotes := map[string]float64{}
	riskConfSum := map[string]float64{}
	riskConfCount := map[string]int{}

	var weightedConfSum, weightSum float64
	mitreSeen := map[string]bool{}
	var mitre []string
	actionSeen := map[string]bool{}
	var actions []string
	var longestSummary string

	for _, r := range results {
		v := r.verdict
		riskVotes[v.Risk] += r.weight
		riskConfSum[v.Risk] += float64(v.Confidence)
		riskConfCount[v.Risk]++

		weightedConfSum += r.weight * float64(v.Confidence)
		weightSum += r.weight

		for _, t := range v.MitreTechniques {
			if !mitreSeen[t] {
				mitreSeen[t] = true
				mitre = append(mitre, t)
			}
		}
		for _, a := range v.RecommendedActions {
			if !actionSeen[a] {
				actionSeen[a] = true
				actions = append(actions, a)
			}
		}
		if len(v.Summary) > len(longestSummary) {
			longestSummary = v.Summary
		}
	}

	bestRisk := ""
	bestVotes := -1.0
	bestMeanConf := -1.0
	for risk, votes := range riskVotes {
		meanConf := riskConfSum[risk] / float64(riskConfCount[risk])
		if votes > bestVotes || (votes == bestVotes && meanConf > bestMeanConf) {
			bestRisk, bestVotes, bestMeanConf = risk, votes, meanConf
		}
	}

	confidence := 0
	if weightSum > 0 {
		confidence = int(weightedConfSum / weightSum)
	}

	return types.LLMVerdict{
		Risk:               bestRisk,
		Confidence:         confidence,
		Summary:            longestSummary,
		MitreTechniques:    mitre,
		RecommendedActions: actions,
	}
}
