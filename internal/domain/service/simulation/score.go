package simulation

import (
	"fmt"
	"math"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// Score aggregates impacts into risk and opportunity on a 0..100 scale.
// Simulation and finished runs share this so their numbers are comparable.
func Score(baseline model.RiskLevel, impacts []run.Impact) (risk, opportunity float64) {
	riskDelta := 0.0
	for _, i := range impacts {
		riskDelta -= 1.2*i.Sentiment() + 0.3*i.Engagement()
		opportunity += 1.0*i.Sentiment() + 0.8*i.Coverage() + 0.6*i.Engagement()
	}
	risk = round2(model.Clamp(baseline.Score()+riskDelta, 0, 100))
	opportunity = round2(model.Clamp(opportunity, 0, 100))
	return risk, opportunity
}

// RunNarrative summarizes a finished run
func RunNarrative(r *run.ScenarioRun, risk, opportunity float64) string {
	done, skipped := 0, 0
	for _, s := range r.Steps {
		switch s.Status {
		case run.StepCompleted:
			done++
		case run.StepSkipped:
			skipped++
		}
	}
	return fmt.Sprintf("Run %s: %d of %d steps completed, %d skipped. Risk %.0f (%s), opportunity %.0f.",
		r.Status, done, len(r.Steps), skipped, risk, model.RiskLevelFromScore(risk), opportunity)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
