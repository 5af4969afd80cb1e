package detector

import "github.com/sentineld/sentineld/pkg/types"

// DefaultRules returns the seed rule table: PowerShell operational
// channel events (4103/4104/4105) at base risk medium (spec §4.5). The
// table has no entry for Security/4624 (the benign login of the scenario
// 2 fixture), so Detect returns nil for it and the pipeline falls
// through to the LLM-only path.
func DefaultRules() map[RuleKey]Rule {
	powershellRule := Rule{
		EventType:  "PowerShellExecution",
		RiskLevel:  types.RiskMedium,
		Confidence: 60,
		Summary:    "PowerShell script block execution",
		MitreTechniques: []string{
			"T1059.001",
		},
		RecommendedActions: []string{
			"Review the PowerShell script block for malicious intent",
		},
	}

	return map[RuleKey]Rule{
		{Channel: "Microsoft-Windows-PowerShell/Operational", EventID: 4103}: powershellRule,
		{Channel: "Microsoft-Windows-PowerShell/Operational", EventID: 4104}: powershellRule,
		{Channel: "Microsoft-Windows-PowerShell/Operational", EventID: 4105}: powershellRule,
	}
}

// DefaultElevators returns the seed pattern-elevator table (spec §4.5):
// PowerShell suspicious-call patterns, which raise risk to "high" with
// confidence 95 as the scenario 1 fixture requires, and known
// offensive-tooling module names, which raise risk to "critical" with
// confidence 99.
func DefaultElevators() []Elevator {
	return []Elevator{
		{
			Name:          "encoded-command",
			Pattern:       "-encodedcommand|-enc\\s",
			ElevateToStr:  "high",
			AddMitre:      []string{"T1027", "T1140"},
			AddActions:    []string{"Decode the encoded command and inspect for malicious payloads", "Isolate the host pending investigation"},
			MaxConfidence: 95,
		},
		{
			Name:          "download-cradle",
			Pattern:       "downloadstring|invoke-webrequest|iex\\s*\\(",
			ElevateToStr:  "high",
			AddMitre:      []string{"T1059.001", "T1105"},
			AddActions:    []string{"Block outbound connections from the host pending review"},
			MaxConfidence: 95,
		},
		{
			Name:          "offensive-tooling",
			Pattern:       "mimikatz|invoke-mimikatz|powersploit|empire",
			ElevateToStr:  "critical",
			AddMitre:      []string{"T1003", "T1055"},
			AddActions:    []string{"Escalate immediately to incident response"},
			MaxConfidence: 99,
		},
	}
}
