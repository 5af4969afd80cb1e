package llm

import (
	"fmt"
	"strings"

	"github.com/sentineld/sentineld/pkg/types"
)

// analyzeSystemPrompt is the fixed system prompt for Analyze, grounded
// on the teacher's pkg/ai/llm prompt template (client_test.go pins down
// that a system/user split is always sent; the exact wording is this
// repo's own, since the teacher's template text was not retrieved).
const analyzeSystemPrompt = `You are a security analyst reviewing a single host event log. ` +
	`Respond with a single JSON object only, matching this schema: ` +
	`{"risk": "low|medium|high|critical", "confidence": 0-100, "summary": string, ` +
	`"mitre": [string], "recommended_actions": [string]}. ` +
	`Do not include any text outside the JSON object.`

// BuildAnalyzePrompt renders the user turn: the event under review plus
// its nearest neighbors retrieved from the vector store, for context.
func BuildAnalyzePrompt(event types.LogEvent, neighbors []Neighbor) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:\n  time: %s\n  host: %s\n  channel: %s\n  eventId: %d\n  level: %s\n  user: %s\n  message: %s\n",
		event.Time.Format("2006-01-02T15:04:05Z07:00"), event.Host, event.Channel, event.EventID, event.Level, event.User, event.Message)

	if len(neighbors) > 0 {
		b.WriteString("\nSimilar recent events:\n")
		for i, n := range neighbors {
			fmt.Fprintf(&b, "  %d. [score=%.3f] %s (eventId=%d): %s\n",
				i+1, n.Score, n.Event.Channel, n.Event.EventID, n.Event.Message)
		}
	}

	return analyzeSystemPrompt, b.String()
}
