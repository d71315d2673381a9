package policy

// Impact summarizes what a rule set would have done to a batch of sample
// requests. Simulation is read-only: it never touches the request store and
// never emits decision events, so rule authors can preview a policy before
// activating it.
type Impact struct {
	Total             int     `json:"total"`
	MatchCount        int     `json:"match_count"`
	ApproveCount      int     `json:"approve_count"`
	DenyCount         int     `json:"deny_count"`
	MatchPercentage   float64 `json:"match_percentage"`
	ApprovePercentage float64 `json:"approve_percentage"`
	DenyPercentage    float64 `json:"deny_percentage"`
	EfficiencyScore   float64 `json:"efficiency_score"`
	Recommendation    string  `json:"recommendation"`
}

// Recommendation bands for the efficiency score.
const (
	RecommendationHigh   = "high_efficiency"
	RecommendationMedium = "medium_efficiency"
	RecommendationLow    = "low_efficiency"
)

// Simulate runs the match loop over the samples. Rules are treated as active
// for the purpose of the dry run regardless of their stored active flag, so
// authors can simulate a rule before activation; precedence order is the same
// as live matching.
func (m *Matcher) Simulate(rules []Rule, samples []FactMap) Impact {
	dryRun := make([]Rule, len(rules))
	copy(dryRun, rules)
	for i := range dryRun {
		dryRun[i].Active = true
	}

	impact := Impact{Total: len(samples)}
	for _, facts := range samples {
		rule := m.Match(facts, dryRun)
		if rule == nil {
			continue
		}
		impact.MatchCount++
		switch rule.Action {
		case ActionApprove:
			impact.ApproveCount++
		case ActionDeny:
			impact.DenyCount++
		}
	}

	if impact.Total > 0 {
		total := float64(impact.Total)
		impact.MatchPercentage = float64(impact.MatchCount) / total * 100
		impact.ApprovePercentage = float64(impact.ApproveCount) / total * 100
		impact.DenyPercentage = float64(impact.DenyCount) / total * 100
		impact.EfficiencyScore = float64(impact.MatchCount) / total
	}
	impact.Recommendation = recommendationFor(impact.EfficiencyScore)
	return impact
}

func recommendationFor(score float64) string {
	switch {
	case score >= 0.3:
		return RecommendationHigh
	case score >= 0.1:
		return RecommendationMedium
	default:
		return RecommendationLow
	}
}
