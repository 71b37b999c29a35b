package model

// Trend describes how a score moved between two observations
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendWorsening Trend = "worsening"
	TrendStable    Trend = "stable"
	TrendUnknown   Trend = "unknown"
)

// trendEpsilon is the smallest movement that counts as a change
const trendEpsilon = 0.5

// ScoreTrend compares a score where higher is better (opportunity).
// The result is unknown only when previous is absent.
func ScoreTrend(current float64, previous *float64) Trend {
	if previous == nil {
		return TrendUnknown
	}
	delta := current - *previous
	switch {
	case delta > trendEpsilon:
		return TrendImproving
	case delta < -trendEpsilon:
		return TrendWorsening
	default:
		return TrendStable
	}
}

// RiskTrend compares a score where lower is better (risk)
func RiskTrend(current float64, previous *float64) Trend {
	switch t := ScoreTrend(current, previous); t {
	case TrendImproving:
		return TrendWorsening
	case TrendWorsening:
		return TrendImproving
	default:
		return t
	}
}
