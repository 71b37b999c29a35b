package presenter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
)

var detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))

// CLIPresenter implements output.Presenter for terminal output
type CLIPresenter struct {
	output io.Writer
}

// NewCLIPresenter creates a new CLI presenter
func NewCLIPresenter(output io.Writer) output.Presenter {
	return &CLIPresenter{output: output}
}

// PresentSuccess presents a successful result
func (p *CLIPresenter) PresentSuccess(message string, data interface{}) error {
	fmt.Fprintf(p.output, "✓ %s\n", message)

	switch v := data.(type) {
	case nil:
	case *dto.PlaybookDTO:
		p.presentPlaybook(v)
	case []*dto.PlaybookDTO:
		p.presentPlaybookList(v)
	case *dto.ScenarioDTO:
		p.presentScenario(v)
	case []*dto.ScenarioDTO:
		p.presentScenarioList(v)
	case *dto.RunDTO:
		p.presentRun(v)
	case *dto.RunStepDTO:
		p.presentStep(*v)
	case *dto.ListRunsResponse:
		p.presentRunList(v)
	case *dto.TrendDTO:
		p.presentTrend(v)
	case *simulation.Result:
		p.presentSimulation(v)
	default:
		fmt.Fprintf(p.output, "%+v\n", data)
	}
	return nil
}

// PresentError presents an error
func (p *CLIPresenter) PresentError(err error) error {
	fmt.Fprintf(p.output, "✗ Error: %v\n", err)
	return err
}

func (p *CLIPresenter) presentPlaybook(pb *dto.PlaybookDTO) {
	fmt.Fprintf(p.output, "\nPlaybook: %s (v%d)\n", pb.Name, pb.Version)
	fmt.Fprintf(p.output, "ID: %s\n", pb.ID)
	fmt.Fprintf(p.output, "Status: %s\n", pb.Status)
	fmt.Fprintf(p.output, "Risk: %s\n", badge(RiskDisplay(pb.RiskLevel)))
	if pb.Category != "" {
		fmt.Fprintf(p.output, "Category: %s\n", pb.Category)
	}
	fmt.Fprintf(p.output, "Trigger: %s\n", pb.TriggerType)
	if pb.Description != "" {
		fmt.Fprintf(p.output, "\n%s\n", pb.Description)
	}

	fmt.Fprintf(p.output, "\nSteps:\n")
	for _, s := range pb.Steps {
		line := fmt.Sprintf("  %d. %s [%s]", s.StepIndex, s.Name, ActionLabel(s.ActionType))
		if s.RequiresApproval {
			line += " approval: " + strings.Join(s.ApprovalRoles, ", ")
		}
		if s.WaitDurationMinutes > 0 {
			line += fmt.Sprintf(" wait %dm", s.WaitDurationMinutes)
		}
		fmt.Fprintln(p.output, line)
	}
}

func (p *CLIPresenter) presentPlaybookList(list []*dto.PlaybookDTO) {
	if len(list) == 0 {
		fmt.Fprintln(p.output, "No playbooks found")
		return
	}
	for _, pb := range list {
		fmt.Fprintf(p.output, "%s  v%-3d %-8s %-10s %s\n",
			pb.ID, pb.Version, pb.Status, badge(RiskDisplay(pb.RiskLevel)), pb.Name)
	}
}

func (p *CLIPresenter) presentScenario(sc *dto.ScenarioDTO) {
	fmt.Fprintf(p.output, "\nScenario: %s\n", sc.Name)
	fmt.Fprintf(p.output, "ID: %s\n", sc.ID)
	if sc.ScenarioType != "" {
		fmt.Fprintf(p.output, "Type: %s\n", sc.ScenarioType)
	}
	fmt.Fprintf(p.output, "Playbook: %s (v%d)\n", sc.PlaybookID, sc.PlaybookVersion)
	fmt.Fprintf(p.output, "Baseline risk: %s\n", badge(RiskDisplay(sc.BaselineRisk)))
	fmt.Fprintf(p.output, "Horizon: %d days\n", sc.HorizonDays)
	if len(sc.ContextParameters) > 0 {
		fmt.Fprintf(p.output, "Context:\n")
		for k, v := range sc.ContextParameters {
			fmt.Fprintf(p.output, "  %s: %v\n", k, v)
		}
	}
}

func (p *CLIPresenter) presentScenarioList(list []*dto.ScenarioDTO) {
	if len(list) == 0 {
		fmt.Fprintln(p.output, "No scenarios found")
		return
	}
	for _, sc := range list {
		fmt.Fprintf(p.output, "%s  %-10s %s\n", sc.ID, badge(RiskDisplay(sc.BaselineRisk)), sc.Name)
	}
}

func (p *CLIPresenter) presentRun(r *dto.RunDTO) {
	fmt.Fprintf(p.output, "\nRun: %s\n", r.ID)
	fmt.Fprintf(p.output, "Status: %s\n", badge(RunStatusDisplay(r.Status)))
	fmt.Fprintf(p.output, "Scenario: %s\n", r.ScenarioID)
	fmt.Fprintf(p.output, "Playbook: %s (v%d)\n", r.PlaybookID, r.PlaybookVersion)
	fmt.Fprintf(p.output, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(p.output, "Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
	}
	if r.RiskScore != nil && r.OpportunityScore != nil {
		fmt.Fprintf(p.output, "Risk score: %.2f  Opportunity score: %.2f\n", *r.RiskScore, *r.OpportunityScore)
	}
	if r.NarrativeSummary != "" {
		fmt.Fprintf(p.output, "\n%s\n", r.NarrativeSummary)
	}
	if r.CancelReason != "" {
		fmt.Fprintf(p.output, "Cancel reason: %s\n", r.CancelReason)
	}
	if r.ErrorMessage != "" {
		fmt.Fprintf(p.output, "Error: %s\n", r.ErrorMessage)
	}

	fmt.Fprintf(p.output, "\nSteps:\n")
	for _, s := range r.Steps {
		p.presentStep(s)
	}
}

func (p *CLIPresenter) presentStep(s dto.RunStepDTO) {
	fmt.Fprintf(p.output, "  %d. %-24s %-20s %s\n", s.StepIndex, s.Name, ActionLabel(s.ActionType), badge(StepStatusDisplay(s.Status)))
	var details []string
	if s.RequiresApproval {
		details = append(details, "step "+s.ID)
	}
	if s.WaitUntil != nil {
		details = append(details, "ready at "+s.WaitUntil.Format(time.RFC3339))
	}
	if s.WaitRemaining != "" {
		details = append(details, "remaining "+s.WaitRemaining)
	}
	if s.Approved != nil {
		decision := "approved"
		if !*s.Approved {
			decision = "rejected"
		}
		if s.ApprovalNotes != "" {
			decision += ": " + s.ApprovalNotes
		}
		details = append(details, decision)
	}
	if s.ErrorMessage != "" {
		details = append(details, "error: "+s.ErrorMessage)
	}
	if len(details) > 0 {
		fmt.Fprintf(p.output, "     %s\n", detailStyle.Render(strings.Join(details, "; ")))
	}
}

func (p *CLIPresenter) presentRunList(resp *dto.ListRunsResponse) {
	if len(resp.Runs) == 0 {
		fmt.Fprintln(p.output, "No runs found")
		return
	}
	for _, r := range resp.Runs {
		fmt.Fprintf(p.output, "%s  %-20s scenario %s  started %s\n",
			r.ID, badge(RunStatusDisplay(r.Status)), r.ScenarioID, r.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(p.output, "\nShowing %d of %d", len(resp.Runs), resp.Total)
	if resp.HasMore {
		fmt.Fprint(p.output, " (more available)")
	}
	fmt.Fprintln(p.output)
}

func (p *CLIPresenter) presentTrend(t *dto.TrendDTO) {
	fmt.Fprintf(p.output, "\nScenario: %s\n", t.ScenarioID)
	fmt.Fprintf(p.output, "Risk: %s %s\n", formatScore(t.RiskScore), badge(TrendDisplay(t.RiskTrend)))
	fmt.Fprintf(p.output, "Opportunity: %s %s\n", formatScore(t.OpportunityScore), badge(TrendDisplay(t.OpportunityTrend)))
}

func (p *CLIPresenter) presentSimulation(r *simulation.Result) {
	fmt.Fprintf(p.output, "\nSimulation of scenario %s (playbook %s v%d)\n", r.ScenarioID, r.PlaybookID, r.PlaybookVersion)
	fmt.Fprintf(p.output, "Risk: %.2f %s\n", r.RiskScore, badge(RiskDisplay(r.RiskLevel.String())))
	fmt.Fprintf(p.output, "Opportunity: %.2f  Confidence: %.2f\n", r.OpportunityScore, r.ConfidenceScore)
	fmt.Fprintf(p.output, "\n%s\n", r.NarrativeSummary)

	fmt.Fprintf(p.output, "\nSteps:\n")
	for _, s := range r.Steps {
		fmt.Fprintf(p.output, "  %s [%s] %s\n", s.StepName, ActionLabel(s.ActionType.String()), badge(RiskDisplay(s.RiskLevel.String())))
		fmt.Fprintf(p.output, "     %s\n", detailStyle.Render(s.PredictedOutcome))
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(p.output, "\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(p.output, "  - [%s] %s\n", rec.Priority, rec.Title)
		}
	}
	fmt.Fprintf(p.output, "\nTimeline: %d days\n", len(r.Timeline))
}

func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
