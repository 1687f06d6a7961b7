package domain

// RiskProfile is the background-check snapshot for an entity. Scores are
// in [0,1]: higher war risk means higher risk, higher reputation means
// lower risk. Profiles are read-only and never persisted by the core.
type RiskProfile struct {
	EntityName string  `json:"entity_name"`
	WarRisk    float64 `json:"war_risk"`
	Reputation float64 `json:"reputation"`
}

// DefaultRiskProfile is the documented fallback for entities unknown to
// the background-check service. Not an error.
func DefaultRiskProfile(entityName string) RiskProfile {
	return RiskProfile{
		EntityName: entityName,
		WarRisk:    0.5,
		Reputation: 0.0,
	}
}
