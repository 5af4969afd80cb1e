package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

// StrictJSONStats is the counters spec §4.3 names:
// `{totalCalls, successfulParses, failedParses, retriedCalls,
// fallbackUsed, parseSuccessRate}`.
type StrictJSONStats struct {
	TotalCalls       int64
	SuccessfulParses int64
	FailedParses     int64
	RetriedCalls     int64
	FallbackUsed     int64
	ParseSuccessRate float64
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON implements spec §4.3 step 2: pull a JSON object out of a
// raw model response, trying in order a fenced ```json block, the first
// balanced {...} run, then the whole trimmed response.
func ExtractJSON(raw string) string {
	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if obj := firstBalancedObject(raw); obj != "" {
		return obj
	}
	return strings.TrimSpace(raw)
}

func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// rawVerdict mirrors LLMVerdict but with Confidence as json.Number so
// validation can tell "absent" from "zero" and reject non-numeric values.
type rawVerdict struct {
	Risk               *string      `json:"risk"`
	Confidence         *json.Number `json:"confidence"`
	Summary            *string      `json:"summary"`
	Mitre              []string     `json:"mitre"`
	RecommendedActions []string     `json:"recommended_actions"`
}

func validate(candidate string) (types.LLMVerdict, bool) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var rv rawVerdict
	if err := dec.Decode(&rv); err != nil {
		return types.LLMVerdict{}, false
	}
	if rv.Risk == nil || rv.Summary == nil {
		return types.LLMVerdict{}, false
	}

	verdict := types.LLMVerdict{
		Risk:               *rv.Risk,
		Summary:            *rv.Summary,
		MitreTechniques:    rv.Mitre,
		RecommendedActions: rv.RecommendedActions,
	}
	if rv.Confidence != nil {
		f, err := rv.Confidence.Float64()
		if err != nil {
			return types.LLMVerdict{}, false
		}
		verdict.Confidence = int(f)
	}
	return verdict, true
}

// StrictJSONClient wraps an inner Client's Analyze output with
// extraction, schema validation, a single retry on failure, and a
// synthetic fallback verdict on terminal failure (spec §4.3).
type StrictJSONClient struct {
	inner Client
	cfg   config.StrictJSONConfig

	totalCalls, successfulParses, failedParses int64
	retriedCalls, fallbackUsed                 int64
}

// NewStrictJSONClient wraps inner.
func NewStrictJSONClient(inner Client, cfg config.StrictJSONConfig) *StrictJSONClient {
	return &StrictJSONClient{inner: inner, cfg: cfg}
}

// Analyze returns a JSON string that always parses and always contains
// risk and summary, per spec §8's universal invariant. When StrictJSON
// is disabled in its config, the inner client's output is returned
// unvalidated.
func (s *StrictJSONClient) Analyze(ctx context.Context, event types.LogEvent, neighbors []Neighbor) (string, error) {
	atomic.AddInt64(&s.totalCalls, 1)

	raw, err := s.inner.Analyze(ctx, event, neighbors)
	if !s.cfg.Enabled {
		return raw, err
	}
	if err == nil {
		if verdict, ok := validate(ExtractJSON(raw)); ok {
			atomic.AddInt64(&s.successfulParses, 1)
			return marshal(verdict), nil
		}
	}

	if s.cfg.EnableRetryOnFailure {
		atomic.AddInt64(&s.retriedCalls, 1)
		raw2, err2 := s.inner.Analyze(ctx, event, neighbors)
		if err2 == nil {
			if verdict, ok := validate(ExtractJSON(raw2)); ok {
				atomic.AddInt64(&s.successfulParses, 1)
				return marshal(verdict), nil
			}
			raw = raw2
		}
	}

	atomic.AddInt64(&s.failedParses, 1)
	atomic.AddInt64(&s.fallbackUsed, 1)
	return marshal(fallbackFrom(raw, event)), nil
}

func (s *StrictJSONClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.inner.Generate(ctx, systemPrompt, userPrompt)
}

// fallbackFrom builds the synthetic verdict spec §4.3 step 5 describes:
// try a "summary" field match in the raw text, then the first sentence
// up to 200 chars, else the default "Security event detected in..."
// template.
func fallbackFrom(raw string, event types.LogEvent) types.LLMVerdict {
	summary := extractSummaryField(raw)
	if summary == "" {
		summary = types.FirstSentence(strings.TrimSpace(raw), 200)
	}
	if summary == "" {
		summary = types.DefaultFallbackSummary(event.Channel, event.EventID)
	}
	return types.FallbackVerdict(summary)
}

var summaryFieldRe = regexp.MustCompile(`"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)

func extractSummaryField(raw string) string {
	m := summaryFieldRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &s); err != nil {
		return ""
	}
	return s
}

func marshal(v types.LLMVerdict) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Marshal of a plain struct of strings/ints/slices cannot fail;
		// degrade to the documented default shape rather than panic.
		return `{"risk":"low","confidence":25,"summary":"","mitre":[],"recommended_actions":[]}`
	}
	return string(b)
}

// Stats returns a point-in-time snapshot of the parse counters.
func (s *StrictJSONClient) Stats() StrictJSONStats {
	total := atomic.LoadInt64(&s.totalCalls)
	successful := atomic.LoadInt64(&s.successfulParses)
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total)
	}
	return StrictJSONStats{
		TotalCalls:       total,
		SuccessfulParses: successful,
		FailedParses:     atomic.LoadInt64(&s.failedParses),
		RetriedCalls:     atomic.LoadInt64(&s.retriedCalls),
		FallbackUsed:     atomic.LoadInt64(&s.fallbackUsed),
		ParseSuccessRate: rate,
	}
}
