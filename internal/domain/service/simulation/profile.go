package simulation

import (
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// impactProfile is the unscaled projected effect of one action type
type impactProfile struct {
	sentiment  float64
	coverage   float64
	engagement float64
	risk       model.RiskLevel
	outcome    string
}

// profiles must carry an entry for every playbook.ActionType
var profiles = map[playbook.ActionType]impactProfile{
	playbook.ActionOutreach:            {2, 4, 5, model.RiskLow, "Target audience reached through the selected channel"},
	playbook.ActionCrisisResponse:      {6, 3, 2, model.RiskHigh, "Holding statement slows negative sentiment"},
	playbook.ActionGovernance:          {1, 0, 0, model.RiskLow, "Policy compliance confirmed"},
	playbook.ActionReportGeneration:    {0, 1, 0, model.RiskLow, "Situation report delivered to recipients"},
	playbook.ActionMediaAlert:          {1, 6, 1, model.RiskMedium, "Outlets alerted to the development"},
	playbook.ActionReputationAction:    {4, 2, 3, model.RiskMedium, "Reputation measure lifts perception"},
	playbook.ActionCompetitiveAnalysis: {0, 0, 0, model.RiskLow, "Competitor positioning assessed"},
	playbook.ActionStakeholderNotify:   {3, 1, 2, model.RiskLow, "Stakeholders briefed ahead of coverage"},
	playbook.ActionContentPublish:      {3, 8, 6, model.RiskMedium, "Published content widens coverage"},
	playbook.ActionEscalation:          {2, 0, 0, model.RiskHigh, "Issue escalated to leadership"},
	playbook.ActionApprovalGate:        {0, 0, 0, model.RiskLow, "Decision recorded by approvers"},
	playbook.ActionWait:                {0, 0, 0, model.RiskLow, "Cool-down period elapses"},
	playbook.ActionConditional:         {0, 0, 0, model.RiskLow, "Branch condition evaluated"},
	playbook.ActionCustom:              {1, 1, 1, model.RiskMedium, "Custom handler invoked"},
}

// requiredKeys lists the payload keys whose absence lowers confidence
var requiredKeys = map[playbook.ActionType][]string{
	playbook.ActionOutreach:            {"audience", "channel"},
	playbook.ActionCrisisResponse:      {"severity", "spokesperson"},
	playbook.ActionGovernance:          {"policy"},
	playbook.ActionReportGeneration:    {"format", "recipients"},
	playbook.ActionMediaAlert:          {"outlets"},
	playbook.ActionReputationAction:    {"target"},
	playbook.ActionCompetitiveAnalysis: {"competitors"},
	playbook.ActionStakeholderNotify:   {"stakeholders", "channel"},
	playbook.ActionContentPublish:      {"channel", "content"},
	playbook.ActionEscalation:          {"level"},
	playbook.ActionConditional:         {"condition"},
	playbook.ActionCustom:              {"handler"},
}

// baselineMultiplier scales projected deltas by how exposed the scenario already is
func baselineMultiplier(baseline model.RiskLevel) float64 {
	switch baseline {
	case model.RiskLow:
		return 0.8
	case model.RiskHigh:
		return 1.2
	case model.RiskCritical:
		return 1.4
	default:
		return 1.0
	}
}

// ProjectStep returns the projected impact of a single step under a baseline
func ProjectStep(def playbook.StepDefinition, baseline model.RiskLevel) run.Impact {
	p := profiles[def.ActionType]
	m := baselineMultiplier(baseline)
	return run.NewImpact(round2(p.sentiment*m), round2(p.coverage*m), round2(p.engagement*m))
}

// ProjectSteps projects every step; the result is aligned with steps
func ProjectSteps(steps []playbook.StepDefinition, baseline model.RiskLevel) []run.Impact {
	out := make([]run.Impact, len(steps))
	for i, s := range steps {
		out[i] = ProjectStep(s, baseline)
	}
	return out
}

// MissingKeys returns the required payload keys a step does not provide, in declaration order
func MissingKeys(def playbook.StepDefinition) []string {
	var missing []string
	for _, k := range requiredKeys[def.ActionType] {
		if !def.ActionPayload.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}
