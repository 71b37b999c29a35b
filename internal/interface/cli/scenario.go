package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

func newScenarioCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Manage scenarios and their dry-run projections",
	}
	cmd.AddCommand(newScenarioCreateCommand(s))
	cmd.AddCommand(newScenarioListCommand(s))
	cmd.AddCommand(newScenarioShowCommand(s))
	cmd.AddCommand(newScenarioDeleteCommand(s))
	cmd.AddCommand(newScenarioSimulateCommand(s))
	cmd.AddCommand(newScenarioTrendCommand(s))
	return cmd
}

// scenarioCreateFlags holds the flags for scenario create
type scenarioCreateFlags struct {
	name         string
	scenarioType string
	playbookID   string
	risk         string
	horizon      int
	params       []string
}

func newScenarioCreateCommand(s *session) *cobra.Command {
	flags := &scenarioCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Bind a context to the current version of a playbook",
		Example: `  deeplay scenario create --name "Q3 recall" --playbook <id> --risk high --horizon 14 \
    --param region=emea --param severity=3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			params, err := parseParams(flags.params)
			if err != nil {
				return s.present("", nil, err)
			}
			sc, err := c.scenarios.CreateScenario(c.ctx, c.tenant, dto.CreateScenarioRequest{
				Name:              flags.name,
				ScenarioType:      flags.scenarioType,
				PlaybookID:        flags.playbookID,
				ContextParameters: params,
				BaselineRisk:      flags.risk,
				HorizonDays:       flags.horizon,
			})
			return s.present("Scenario created", sc, err)
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "Scenario name")
	cmd.Flags().StringVar(&flags.scenarioType, "type", "", "Scenario type")
	cmd.Flags().StringVar(&flags.playbookID, "playbook", "", "Playbook to bind")
	cmd.Flags().StringVar(&flags.risk, "risk", "medium", "Baseline risk (low, medium, high, critical)")
	cmd.Flags().IntVar(&flags.horizon, "horizon", 7, "Projection horizon in days")
	cmd.Flags().StringArrayVar(&flags.params, "param", nil, "Context parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

// parseParams turns key=value pairs into a payload, decoding values as YAML scalars
func parseParams(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, model.NewValidationError("parameter %q must be key=value", pair)
		}
		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// scenarioListFlags holds the flags for scenario list
type scenarioListFlags struct {
	playbookID string
	limit      int
	offset     int
}

func newScenarioListCommand(s *session) *cobra.Command {
	flags := &scenarioListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			list, err := c.scenarios.ListScenarios(c.ctx, c.tenant, dto.ListScenariosRequest{
				PlaybookID: flags.playbookID,
				Limit:      flags.limit,
				Offset:     flags.offset,
			})
			return s.present("Scenarios", list, err)
		},
	}
	cmd.Flags().StringVar(&flags.playbookID, "playbook", "", "Filter by bound playbook")
	cmd.Flags().IntVar(&flags.limit, "limit", 50, "Maximum number of scenarios")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Number of scenarios to skip")
	return cmd
}

func newScenarioShowCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			sc, err := c.scenarios.GetScenario(c.ctx, c.tenant, args[0])
			return s.present("Scenario loaded", sc, err)
		},
	}
}

func newScenarioDeleteCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a scenario without live runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			err = c.scenarios.DeleteScenario(c.ctx, c.tenant, args[0])
			return s.present("Scenario deleted", nil, err)
		},
	}
}

func newScenarioSimulateCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <id>",
		Short: "Project a scenario without running anything",
		Long: `Project the scenario over its bound playbook version.

Nothing is persisted and no action is dispatched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			result, err := c.container.GetSimulationUseCase().SimulateScenario(c.ctx, c.tenant, args[0])
			return s.present("Simulation complete", result, err)
		},
	}
}

func newScenarioTrendCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "trend <id>",
		Short: "Compare the two most recent completed runs of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			trend, err := c.runs.Trend(c.ctx, c.tenant, args[0])
			return s.present("Trend", trend, err)
		},
	}
}
