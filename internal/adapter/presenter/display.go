package presenter

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/playbook"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model/run"
)

// Display is the label and color a value is rendered with
type Display struct {
	Label string
	Color lipgloss.Color
}

var unknownDisplay = Display{Label: "Unknown", Color: lipgloss.Color("#999999")}

var runStatusDisplay = map[run.Status]Display{
	run.StatusPending:          {"Pending", lipgloss.Color("#CCCCCC")},
	run.StatusRunning:          {"Running", lipgloss.Color("#5B8DEF")},
	run.StatusPaused:           {"Paused", lipgloss.Color("#A0AEC0")},
	run.StatusAwaitingApproval: {"Awaiting approval", lipgloss.Color("#F7B801")},
	run.StatusCompleted:        {"Completed", lipgloss.Color("#4CAF50")},
	run.StatusFailed:           {"Failed", lipgloss.Color("#FF6B6B")},
	run.StatusCancelled:        {"Cancelled", lipgloss.Color("#999999")},
}

var stepStatusDisplay = map[run.StepStatus]Display{
	run.StepPending:   {"Pending", lipgloss.Color("#CCCCCC")},
	run.StepReady:     {"Ready", lipgloss.Color("#F7B801")},
	run.StepExecuting: {"Executing", lipgloss.Color("#5B8DEF")},
	run.StepCompleted: {"Completed", lipgloss.Color("#4CAF50")},
	run.StepSkipped:   {"Skipped", lipgloss.Color("#999999")},
	run.StepFailed:    {"Failed", lipgloss.Color("#FF6B6B")},
}

var riskDisplay = map[model.RiskLevel]Display{
	model.RiskLow:      {"Low", lipgloss.Color("#4CAF50")},
	model.RiskMedium:   {"Medium", lipgloss.Color("#F7B801")},
	model.RiskHigh:     {"High", lipgloss.Color("#FF9F43")},
	model.RiskCritical: {"Critical", lipgloss.Color("#FF6B6B")},
}

var trendDisplay = map[model.Trend]Display{
	model.TrendImproving: {"Improving", lipgloss.Color("#4CAF50")},
	model.TrendWorsening: {"Worsening", lipgloss.Color("#FF6B6B")},
	model.TrendStable:    {"Stable", lipgloss.Color("#A0AEC0")},
	model.TrendUnknown:   {"Unknown", lipgloss.Color("#999999")},
}

var actionLabels = map[playbook.ActionType]string{
	playbook.ActionOutreach:            "Outreach",
	playbook.ActionCrisisResponse:      "Crisis response",
	playbook.ActionGovernance:          "Governance",
	playbook.ActionReportGeneration:    "Report generation",
	playbook.ActionMediaAlert:          "Media alert",
	playbook.ActionReputationAction:    "Reputation action",
	playbook.ActionCompetitiveAnalysis: "Competitive analysis",
	playbook.ActionStakeholderNotify:   "Stakeholder notify",
	playbook.ActionContentPublish:      "Content publish",
	playbook.ActionEscalation:          "Escalation",
	playbook.ActionApprovalGate:        "Approval gate",
	playbook.ActionWait:                "Wait",
	playbook.ActionConditional:         "Conditional",
	playbook.ActionCustom:              "Custom",
}

// RunStatusDisplay returns the display of a run status; unknown values fall back
func RunStatusDisplay(status string) Display {
	if d, ok := runStatusDisplay[run.Status(status)]; ok {
		return d
	}
	return unknownDisplay
}

// StepStatusDisplay returns the display of a step status
func StepStatusDisplay(status string) Display {
	if d, ok := stepStatusDisplay[run.StepStatus(status)]; ok {
		return d
	}
	return unknownDisplay
}

// RiskDisplay returns the display of a risk level
func RiskDisplay(level string) Display {
	if d, ok := riskDisplay[model.RiskLevel(level)]; ok {
		return d
	}
	return unknownDisplay
}

// TrendDisplay returns the display of a trend
func TrendDisplay(trend string) Display {
	if d, ok := trendDisplay[model.Trend(trend)]; ok {
		return d
	}
	return unknownDisplay
}

// ActionLabel returns the human label of an action type
func ActionLabel(action string) string {
	if l, ok := actionLabels[playbook.ActionType(action)]; ok {
		return l
	}
	return unknownDisplay.Label
}

// badge renders a display as a bold colored label
func badge(d Display) string {
	return lipgloss.NewStyle().Foreground(d.Color).Bold(true).Render(d.Label)
}
