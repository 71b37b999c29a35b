package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
)

func newRunCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and steer scenario runs",
		Long: `Start and steer scenario runs.

A one-shot command drives a run until it waits on a timer or an approval.
Timers of waiting runs fire in a long-lived "deeplay serve" process, which
also picks up changes made directly against the store. Pass --server (or
set server_url) to send these commands to that process instead.`,
	}
	cmd.AddCommand(newRunStartCommand(s))
	cmd.AddCommand(newRunSimpleCommand(s, "pause", "Pause a run, keeping the remaining wait", "Run paused",
		func(c commandCtx, id string) (*dto.RunDTO, error) { return c.runs.PauseRun(c.ctx, c.tenant, id) }))
	cmd.AddCommand(newRunSimpleCommand(s, "resume", "Resume a paused run", "Run resumed",
		func(c commandCtx, id string) (*dto.RunDTO, error) { return c.runs.ResumeRun(c.ctx, c.tenant, id) }))
	cmd.AddCommand(newRunSimpleCommand(s, "show", "Show a run and its steps", "Run loaded",
		func(c commandCtx, id string) (*dto.RunDTO, error) { return c.runs.GetRun(c.ctx, c.tenant, id) }))
	cmd.AddCommand(newRunCancelCommand(s))
	cmd.AddCommand(newRunApproveCommand(s))
	cmd.AddCommand(newRunListCommand(s))
	return cmd
}

func newRunStartCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "start <scenarioId>",
		Short: "Start a run of a scenario's bound playbook version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			r, err := c.runs.StartRun(c.ctx, c.tenant, args[0])
			return s.present("Run started", r, err)
		},
	}
}

func newRunSimpleCommand(s *session, use, short, message string, fn func(c commandCtx, id string) (*dto.RunDTO, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <runId>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			r, err := fn(c, args[0])
			return s.present(message, r, err)
		},
	}
}

// runCancelFlags holds the flags for run cancel
type runCancelFlags struct {
	reason string
}

func newRunCancelCommand(s *session) *cobra.Command {
	flags := &runCancelFlags{}
	cmd := &cobra.Command{
		Use:   "cancel <runId>",
		Short: "Cancel a run, skipping every step not yet started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			r, err := c.runs.CancelRun(c.ctx, c.tenant, args[0], flags.reason)
			return s.present("Run cancelled", r, err)
		},
	}
	cmd.Flags().StringVar(&flags.reason, "reason", "", "Why the run is cancelled")
	return cmd
}

// runApproveFlags holds the flags for run approve
type runApproveFlags struct {
	reject bool
	notes  string
	role   string
}

func newRunApproveCommand(s *session) *cobra.Command {
	flags := &runApproveFlags{}
	cmd := &cobra.Command{
		Use:   "approve <stepId>",
		Short: "Record a decision on a step awaiting approval",
		Example: `  # Approve as legal
  deeplay run approve <stepId> --role legal --notes "wording cleared"

  # Reject, skipping the step
  deeplay run approve <stepId> --reject --notes "too risky"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			step, err := c.approvals.ApproveStep(c.ctx, c.tenant, dto.ApproveStepRequest{
				StepID:    args[0],
				Approved:  !flags.reject,
				Notes:     flags.notes,
				ActorRole: flags.role,
			})
			message := "Step approved"
			if flags.reject {
				message = "Step rejected"
			}
			return s.present(message, step, err)
		},
	}
	cmd.Flags().BoolVar(&flags.reject, "reject", false, "Reject instead of approve")
	cmd.Flags().StringVar(&flags.notes, "notes", "", "Notes recorded with the decision")
	cmd.Flags().StringVar(&flags.role, "role", "", "Role of the approver")
	return cmd
}

// runListFlags holds the flags for run list
type runListFlags struct {
	scenarioID string
	playbookID string
	status     string
	limit      int
	offset     int
	sortBy     string
	sortOrder  string
}

func newRunListCommand(s *session) *cobra.Command {
	flags := &runListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			resp, err := c.runs.ListRuns(c.ctx, c.tenant, dto.ListRunsRequest{
				ScenarioID: flags.scenarioID,
				PlaybookID: flags.playbookID,
				Status:     flags.status,
				SortBy:     flags.sortBy,
				SortOrder:  flags.sortOrder,
				Limit:      flags.limit,
				Offset:     flags.offset,
			})
			return s.present("Runs", resp, err)
		},
	}
	cmd.Flags().StringVar(&flags.scenarioID, "scenario", "", "Filter by scenario")
	cmd.Flags().StringVar(&flags.playbookID, "playbook", "", "Filter by playbook")
	cmd.Flags().StringVar(&flags.status, "status", "", "Filter by run status")
	cmd.Flags().IntVar(&flags.limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Number of runs to skip")
	cmd.Flags().StringVar(&flags.sortBy, "sort", "started_at", "Sort by started_at or completed_at")
	cmd.Flags().StringVar(&flags.sortOrder, "order", "desc", "Sort order asc or desc")
	return cmd
}
