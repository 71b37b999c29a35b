package simulation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/scenario"
)

const minutesPerDay = 24 * 60

// default projection baselines when the scenario context carries none
const (
	defaultSentimentBaseline = 50.0
	defaultCoverageBaseline  = 0.0
)

// Priority orders recommendations
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// TimelinePoint is the projection for one horizon day
type TimelinePoint struct {
	Day                int             `json:"day"`
	Date               time.Time       `json:"date"`
	SentimentProjected float64         `json:"sentiment_projected"`
	CoverageProjected  float64         `json:"coverage_projected"`
	RiskLevel          model.RiskLevel `json:"risk_level"`
}

// Recommendation is an advisory produced alongside a projection
type Recommendation struct {
	Priority  Priority `json:"priority"`
	Title     string   `json:"title"`
	Detail    string   `json:"detail"`
	StepIndex *int     `json:"step_index,omitempty"`
}

// StepPreview is the projection of a single step
type StepPreview struct {
	StepIndex        int                 `json:"step_index"`
	StepName         string              `json:"step_name"`
	ActionType       playbook.ActionType `json:"action_type"`
	RiskLevel        model.RiskLevel     `json:"risk_level"`
	PredictedOutcome string              `json:"predicted_outcome"`
	Impact           run.Impact          `json:"impact"`
	DayOffset        int                 `json:"day_offset"`
	PastHorizon      bool                `json:"past_horizon"`
	MissingInputs    []string            `json:"missing_inputs,omitempty"`
}

// Result is an ephemeral projection; it is never persisted
type Result struct {
	ScenarioID       model.ScenarioID `json:"scenario_id"`
	PlaybookID       model.PlaybookID `json:"playbook_id"`
	PlaybookVersion  int              `json:"playbook_version"`
	RiskScore        float64          `json:"risk_score"`
	RiskLevel        model.RiskLevel  `json:"risk_level"`
	OpportunityScore float64          `json:"opportunity_score"`
	ConfidenceScore  float64          `json:"confidence_score"`
	NarrativeSummary string           `json:"narrative_summary"`
	Timeline         []TimelinePoint  `json:"timeline"`
	Recommendations  []Recommendation `json:"recommendations"`
	Steps            []StepPreview    `json:"steps"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Engine projects scenarios over their bound steps.
// It holds no state; equal inputs always produce equal results.
type Engine struct{}

// NewEngine creates a simulation engine
func NewEngine() *Engine {
	return &Engine{}
}

// Simulate projects the scenario over the given step definitions
func (e *Engine) Simulate(sc *scenario.Scenario, steps []playbook.StepDefinition, now time.Time) (*Result, error) {
	if sc == nil {
		return nil, model.NewValidationError("scenario is required")
	}
	steps, err := playbook.NormalizeSteps(steps)
	if err != nil {
		return nil, err
	}

	baseline := sc.Baseline()
	horizon := sc.HorizonDays()
	scCtx := sc.Context()

	previews := make([]StepPreview, len(steps))
	impacts := make([]run.Impact, len(steps))
	cumulativeWait := 0
	known, required := 0, 0

	for i, def := range steps {
		cumulativeWait += def.WaitDurationMinutes
		day := cumulativeWait / minutesPerDay
		past := day >= horizon
		if past {
			day = horizon - 1
		}

		impact := ProjectStep(def, baseline)
		missing := MissingKeys(def)
		required += len(requiredKeys[def.ActionType])
		known += len(requiredKeys[def.ActionType]) - len(missing)

		impacts[i] = impact
		previews[i] = StepPreview{
			StepIndex:        def.StepIndex,
			StepName:         def.Name,
			ActionType:       def.ActionType,
			RiskLevel:        profiles[def.ActionType].risk,
			PredictedOutcome: profiles[def.ActionType].outcome,
			Impact:           impact,
			DayOffset:        day,
			PastHorizon:      past,
			MissingInputs:    missing,
		}
	}

	if required > 0 {
		required++
		if len(scCtx) > 0 {
			known++
		}
	}
	confidence := 1.0
	if required > 0 {
		confidence = round2(model.Clamp(float64(known)/float64(required), 0, 1))
	}

	risk, opportunity := Score(baseline, impacts)
	level := model.RiskLevelFromScore(risk)

	return &Result{
		ScenarioID:       sc.ID(),
		PlaybookID:       sc.Binding().PlaybookID,
		PlaybookVersion:  sc.Binding().Version,
		RiskScore:        risk,
		RiskLevel:        level,
		OpportunityScore: opportunity,
		ConfidenceScore:  confidence,
		NarrativeSummary: narrative(sc, previews, risk, opportunity, confidence),
		Timeline:         timeline(baseline, scCtx, horizon, previews, now),
		Recommendations:  recommend(baseline, level, steps, previews),
		Steps:            previews,
		GeneratedAt:      now,
	}, nil
}

func timeline(baseline model.RiskLevel, scCtx model.Payload, horizon int, previews []StepPreview, now time.Time) []TimelinePoint {
	sentimentBase, ok := scCtx.Float("sentiment_baseline")
	if !ok {
		sentimentBase = defaultSentimentBaseline
	}
	coverageBase, ok := scCtx.Float("coverage_baseline")
	if !ok {
		coverageBase = defaultCoverageBaseline
	}

	start := now.UTC().Truncate(24 * time.Hour)
	points := make([]TimelinePoint, horizon)
	var applied []run.Impact
	next := 0
	sentiment, coverage := sentimentBase, coverageBase

	for d := 0; d < horizon; d++ {
		for next < len(previews) && previews[next].DayOffset <= d {
			imp := previews[next].Impact
			applied = append(applied, imp)
			sentiment += imp.Sentiment()
			coverage += imp.Coverage()
			next++
		}
		risk, _ := Score(baseline, applied)
		points[d] = TimelinePoint{
			Day:                d,
			Date:               start.AddDate(0, 0, d),
			SentimentProjected: round2(model.Clamp(sentiment, 0, 100)),
			CoverageProjected:  round2(model.Clamp(coverage, 0, 100)),
			RiskLevel:          model.RiskLevelFromScore(risk),
		}
	}
	return points
}

func recommend(baseline, projected model.RiskLevel, steps []playbook.StepDefinition, previews []StepPreview) []Recommendation {
	var recs []Recommendation
	highRisk := isHigh(baseline) || isHigh(projected)

	if highRisk {
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Title:    "Escalate to leadership",
			Detail:   fmt.Sprintf("Baseline risk is %s and projected risk is %s; brief the executive sponsor before starting.", baseline, projected),
		})
	}

	for _, s := range steps {
		if !s.RequiresApproval {
			continue
		}
		recs = append(recs, Recommendation{
			Priority:  PriorityMedium,
			Title:     fmt.Sprintf("Pre-brief approvers for %q", s.Name),
			Detail:    fmt.Sprintf("Step %d waits for a decision from: %s.", s.StepIndex, strings.Join(s.ApprovalRoles, ", ")),
			StepIndex: intPtr(s.StepIndex),
		})
	}

	for _, p := range previews {
		if len(p.MissingInputs) == 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Priority:  PriorityHigh,
			Title:     fmt.Sprintf("Complete inputs for %q", p.StepName),
			Detail:    fmt.Sprintf("Step %d (%s) is missing: %s.", p.StepIndex, p.ActionType, strings.Join(p.MissingInputs, ", ")),
			StepIndex: intPtr(p.StepIndex),
		})
	}

	for _, p := range previews {
		if !p.PastHorizon {
			continue
		}
		recs = append(recs, Recommendation{
			Priority:  PriorityMedium,
			Title:     fmt.Sprintf("%q lands past the horizon", p.StepName),
			Detail:    fmt.Sprintf("Step %d is scheduled beyond the scenario horizon; shorten waits or extend the horizon.", p.StepIndex),
			StepIndex: intPtr(p.StepIndex),
		})
	}

	if highRisk && !hasAction(steps, playbook.ActionStakeholderNotify) {
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Title:    "Add a stakeholder notification",
			Detail:   "High-risk scenarios should notify stakeholders before external coverage.",
		})
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Priority: PriorityLow,
			Title:    "Proceed as planned",
			Detail:   "No blocking issues were found in the projection.",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.rank() < recs[j].Priority.rank()
	})
	return recs
}

func narrative(sc *scenario.Scenario, previews []StepPreview, risk, opportunity, confidence float64) string {
	last := 0
	if len(previews) > 0 {
		last = previews[len(previews)-1].DayOffset
	}
	return fmt.Sprintf("%q over %d days: %d steps finishing by day %d. Projected risk %.0f (%s), opportunity %.0f, confidence %.0f%%.",
		sc.Name(), sc.HorizonDays(), len(previews), last, risk, model.RiskLevelFromScore(risk), opportunity, confidence*100)
}

func isHigh(r model.RiskLevel) bool {
	return r == model.RiskHigh || r == model.RiskCritical
}

func hasAction(steps []playbook.StepDefinition, a playbook.ActionType) bool {
	for _, s := range steps {
		if s.ActionType == a {
			return true
		}
	}
	return false
}

func intPtr(v int) *int {
	return &v
}
