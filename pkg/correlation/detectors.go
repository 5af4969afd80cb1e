package correlation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/pkg/types"
)

// groupBy groups events by a caller supplied key (host, user,
// eventType, ...), each group sorted by time. Events whose key is empty
// are left out.
func groupBy(events []types.SecurityEvent, key func(types.SecurityEvent) string) map[string][]types.SecurityEvent {
	groups := make(map[string][]types.SecurityEvent)
	for _, e := range events {
		k := key(e)
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], e)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].OriginalEvent.Time.Before(g[j].OriginalEvent.Time) })
	}
	return groups
}

// TemporalBurstDetector flags N-or-more events sharing an eventType,
// host, or user within a sliding window (spec §4.6).
type TemporalBurstDetector struct{}

func (TemporalBurstDetector) Name() types.CorrelationType { return types.CorrelationTemporalBurst }

func (TemporalBurstDetector) Detect(_ context.Context, events []types.SecurityEvent, cfg config.CorrelationConfig) ([]types.Correlation, error) {
	window := time.Duration(cfg.BurstWindowSeconds) * time.Second
	var out []types.Correlation

	for _, dim := range []struct {
		name string
		key  func(types.SecurityEvent) string
	}{
		{"eventType", func(e types.SecurityEvent) string { return e.EventType }},
		{"host", func(e types.SecurityEvent) string { return e.OriginalEvent.Host }},
		{"user", func(e types.SecurityEvent) string { return e.OriginalEvent.User }},
	} {
		for key, group := range groupBy(events, dim.key) {
			out = append(out, burstsWithin(group, window, cfg.BurstThreshold, dim.name, key)...)
		}
	}
	return out, nil
}

func burstsWithin(group []types.SecurityEvent, window time.Duration, threshold int, dimName, dimValue string) []types.Correlation {
	var out []types.Correlation
	for i := range group {
		j := i
		for j < len(group) && group[j].OriginalEvent.Time.Sub(group[i].OriginalEvent.Time) <= window {
			j++
		}
		count := j - i
		if count < threshold {
			continue
		}
		ids := make([]string, 0, count)
		for _, e := range group[i:j] {
			ids = append(ids, e.ID)
		}
		confidence := float64(count) / float64(threshold)
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, types.Correlation{
			ID:              fmt.Sprintf("burst-%s-%s-%d", dimName, dimValue, group[i].OriginalEvent.Time.Unix()),
			DetectedAt:      time.Now(),
			CorrelationType: types.CorrelationTemporalBurst,
			ConfidenceScore: confidence,
			Pattern:         fmt.Sprintf("%d events sharing %s=%s within %s", count, dimName, dimValue, window),
			EventIDs:        ids,
			TimeWindow:      window,
			RiskLevel:       types.RiskMedium,
			Summary:         fmt.Sprintf("Burst of %d events for %s %s", count, dimName, dimValue),
		})
	}
	return out
}

// mitreStage is a coarse ATT&CK-tactic bucket used only to order
// AttackChain stages; it is not a full tactic taxonomy.
var mitreStage = map[string]int{
	"T1566": 0, "T1078": 0, // Initial Access
	"T1059": 1, "T1203": 1, // Execution
	"T1547": 2, "T1053": 2, // Persistence
	"T1021": 3, "T1570": 3, // Lateral Movement
}

func stageOf(technique string) (int, bool) {
	for prefix, stage := range mitreStage {
		if len(technique) >= len(prefix) && technique[:len(prefix)] == prefix {
			return stage, true
		}
	}
	return 0, false
}

// AttackChainDetector flags two or more distinct ATT&CK stages observed
// on the same host or user within a window (spec §4.6). Confidence is
// the fraction of expected stages seen, halved when the stages do not
// appear in increasing order.
type AttackChainDetector struct{}

func (AttackChainDetector) Name() types.CorrelationType { return types.CorrelationAttackChain }

func (AttackChainDetector) Detect(_ context.Context, events []types.SecurityEvent, cfg config.CorrelationConfig) ([]types.Correlation, error) {
	window := time.Duration(cfg.ChainWindowMinutes) * time.Minute
	const expectedStages = 4
	var out []types.Correlation

	for _, dim := range []func(types.SecurityEvent) string{
		func(e types.SecurityEvent) string { return "host:" + e.OriginalEvent.Host },
		func(e types.SecurityEvent) string { return "user:" + e.OriginalEvent.User },
	} {
		for key, group := range groupBy(events, dim) {
			out = append(out, chainsWithin(group, window, expectedStages, key)...)
		}
	}
	return out, nil
}

func chainsWithin(group []types.SecurityEvent, window time.Duration, expectedStages int, dimKey string) []types.Correlation {
	var out []types.Correlation
	for i := range group {
		highestStage := -1
		monotonic := true
		var ids []string
		var mitre []string
		stagesSeen := map[int]struct{}{}

		for j := i; j < len(group) && group[j].OriginalEvent.Time.Sub(group[i].OriginalEvent.Time) <= window; j++ {
			for _, t := range group[j].MitreTechniques {
				stage, ok := stageOf(t)
				if !ok {
					continue
				}
				if stage < highestStage {
					monotonic = false
				}
				highestStage = stage
				stagesSeen[stage] = struct{}{}
				ids = append(ids, group[j].ID)
				mitre = append(mitre, t)
			}
		}

		if len(stagesSeen) < 2 {
			continue
		}
		fraction := float64(len(stagesSeen)) / float64(expectedStages)
		monotonicFactor := 1.0
		if !monotonic {
			monotonicFactor = 0.5
		}
		confidence := fraction * monotonicFactor

		out = append(out, types.Correlation{
			ID:              fmt.Sprintf("chain-%s-%d", dimKey, group[i].OriginalEvent.Time.Unix()),
			DetectedAt:      time.Now(),
			CorrelationType: types.CorrelationAttackChain,
			ConfidenceScore: confidence,
			Pattern:         fmt.Sprintf("%d distinct ATT&CK stages observed for %s", len(stagesSeen), dimKey),
			EventIDs:        dedupStrings(ids),
			TimeWindow:      window,
			MitreTechniques: dedupStrings(mitre),
			RiskLevel:       types.RiskHigh,
			Summary:         fmt.Sprintf("Possible attack chain across %d stages for %s", len(stagesSeen), dimKey),
		})
	}
	return out
}

// LateralMovementDetector flags the same user succeeding on K or more
// distinct hosts within a window, after at least one failed logon
// (spec §4.6). Success/failure are read from the Windows Security
// logon event IDs (4624 success, 4625 failure).
type LateralMovementDetector struct{}

func (LateralMovementDetector) Name() types.CorrelationType { return types.CorrelationLateralMovement }

const (
	eventIDLogonSuccess       = 4624
	eventIDLogonFailure       = 4625
	eventIDSpecialPrivileges  = 4672
)

func (LateralMovementDetector) Detect(_ context.Context, events []types.SecurityEvent, cfg config.CorrelationConfig) ([]types.Correlation, error) {
	window := time.Duration(cfg.LateralWindowMinutes) * time.Minute
	byUser := groupBy(events, func(e types.SecurityEvent) string { return e.OriginalEvent.User })

	var out []types.Correlation
	for user, group := range byUser {
		hasFailure := false
		var firstFailure time.Time
		for _, e := range group {
			if e.OriginalEvent.EventID == eventIDLogonFailure {
				hasFailure = true
				firstFailure = e.OriginalEvent.Time
				break
			}
		}
		if !hasFailure {
			continue
		}

		hostsSeen := map[string]struct{}{}
		var ids []string
		for i := range group {
			for j := i; j < len(group) && group[j].OriginalEvent.Time.Sub(group[i].OriginalEvent.Time) <= window; j++ {
				if group[j].OriginalEvent.EventID == eventIDLogonSuccess && !group[j].OriginalEvent.Time.Before(firstFailure) {
					hostsSeen[group[j].OriginalEvent.Host] = struct{}{}
					ids = append(ids, group[j].ID)
				}
			}
		}

		if len(hostsSeen) < cfg.LateralThreshold {
			continue
		}
		confidence := float64(len(hostsSeen)) / float64(cfg.LateralThreshold)
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, types.Correlation{
			ID:              fmt.Sprintf("lateral-%s", user),
			DetectedAt:      time.Now(),
			CorrelationType: types.CorrelationLateralMovement,
			ConfidenceScore: confidence,
			Pattern:         fmt.Sprintf("user %s succeeded on %d distinct hosts after a failed logon", user, len(hostsSeen)),
			EventIDs:        dedupStrings(ids),
			TimeWindow:      window,
			RiskLevel:       types.RiskHigh,
			Summary:         fmt.Sprintf("Lateral movement suspected for user %s", user),
		})
	}
	return out, nil
}

// PrivilegeEscalationDetector flags a successful privileged logon
// (4672) following a non-privileged session by the same user within a
// window (spec §4.6).
type PrivilegeEscalationDetector struct{}

func (PrivilegeEscalationDetector) Name() types.CorrelationType {
	return types.CorrelationPrivilegeEscalation
}

func (PrivilegeEscalationDetector) Detect(_ context.Context, events []types.SecurityEvent, cfg config.CorrelationConfig) ([]types.Correlation, error) {
	window := time.Duration(cfg.ChainWindowMinutes) * time.Minute
	byUser := groupBy(events, func(e types.SecurityEvent) string { return e.OriginalEvent.User })

	var out []types.Correlation
	for user, group := range byUser {
		for i := range group {
			if group[i].OriginalEvent.EventID != eventIDLogonSuccess {
				continue
			}
			for j := i + 1; j < len(group) && group[j].OriginalEvent.Time.Sub(group[i].OriginalEvent.Time) <= window; j++ {
				if group[j].OriginalEvent.EventID != eventIDSpecialPrivileges {
					continue
				}
				out = append(out, types.Correlation{
					ID:              fmt.Sprintf("privesc-%s-%d", user, group[j].OriginalEvent.Time.Unix()),
					DetectedAt:      time.Now(),
					CorrelationType: types.CorrelationPrivilegeEscalation,
					ConfidenceScore: 0.8,
					Pattern:         fmt.Sprintf("privileged logon for %s following a standard session", user),
					EventIDs:        []string{group[i].ID, group[j].ID},
					TimeWindow:      window,
					RiskLevel:       types.RiskHigh,
					Summary:         fmt.Sprintf("Privilege escalation suspected for user %s", user),
				})
				break
			}
		}
	}
	return out, nil
}

func dedupStrings(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DefaultDetectors returns the full C6 detector set.
func DefaultDetectors() []Detector {
	return []Detector{
		TemporalBurstDetector{},
		AttackChainDetector{},
		LateralMovementDetector{},
		PrivilegeEscalationDetector{},
	}
}
