package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
)

func newPlaybookCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Manage versioned playbook templates",
	}
	cmd.AddCommand(newPlaybookImportCommand(s))
	cmd.AddCommand(newPlaybookTransitionCommand(s, "activate", "Make the latest draft version runnable", "Playbook activated",
		func(c commandCtx, id string) (interface{}, error) {
			return c.playbooks.ActivatePlaybook(c.ctx, c.tenant, id)
		}))
	cmd.AddCommand(newPlaybookTransitionCommand(s, "archive", "Stop new runs from starting against the playbook", "Playbook archived",
		func(c commandCtx, id string) (interface{}, error) {
			return c.playbooks.ArchivePlaybook(c.ctx, c.tenant, id)
		}))
	cmd.AddCommand(newPlaybookTransitionCommand(s, "delete", "Delete every version of a playbook", "Playbook deleted",
		func(c commandCtx, id string) (interface{}, error) {
			return nil, c.playbooks.DeletePlaybook(c.ctx, c.tenant, id)
		}))
	cmd.AddCommand(newPlaybookEditCommand(s))
	cmd.AddCommand(newPlaybookShowCommand(s))
	cmd.AddCommand(newPlaybookListCommand(s))
	cmd.AddCommand(newPlaybookExportCommand(s))
	return cmd
}

// playbookImportFlags holds the flags for playbook import
type playbookImportFlags struct {
	activate bool
}

func newPlaybookImportCommand(s *session) *cobra.Command {
	flags := &playbookImportFlags{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a playbook from a YAML or JSON definition",
		Example: `  # Import a draft
  deeplay playbook import recall.yaml

  # Import and activate in one step
  deeplay playbook import recall.yaml --activate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			req, err := c.container.GetPlaybookFile().Load(args[0])
			if err != nil {
				return s.present("", nil, err)
			}
			pb, err := c.playbooks.CreatePlaybook(c.ctx, c.tenant, *req)
			if err != nil || !flags.activate {
				return s.present("Playbook imported", pb, err)
			}
			pb, err = c.playbooks.ActivatePlaybook(c.ctx, c.tenant, pb.ID)
			return s.present("Playbook imported and activated", pb, err)
		},
	}
	cmd.Flags().BoolVar(&flags.activate, "activate", false, "Activate the imported version")
	return cmd
}

func newPlaybookTransitionCommand(s *session, use, short, message string, fn func(c commandCtx, id string) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			data, err := fn(c, args[0])
			return s.present(message, data, err)
		},
	}
}

// playbookEditFlags holds the flags for playbook edit
type playbookEditFlags struct {
	expectedVersion int
}

func newPlaybookEditCommand(s *session) *cobra.Command {
	flags := &playbookEditFlags{}
	cmd := &cobra.Command{
		Use:   "edit <id> <file>",
		Short: "Replace the step list of a playbook, producing a new version",
		Long: `Replace the full step list with the steps of a definition file.

The edit only commits when --expected-version matches the latest version.
Runs already started keep the steps they were created with.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			steps, err := c.container.GetPlaybookFile().LoadSteps(args[1])
			if err != nil {
				return s.present("", nil, err)
			}
			pb, err := c.playbooks.EditPlaybook(c.ctx, c.tenant, dto.EditPlaybookRequest{
				PlaybookID:      args[0],
				Steps:           steps,
				ExpectedVersion: flags.expectedVersion,
			})
			return s.present("Playbook edited", pb, err)
		},
	}
	cmd.Flags().IntVar(&flags.expectedVersion, "expected-version", 0, "Version the edit is based on")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}

// playbookShowFlags holds the flags for playbook show and export
type playbookShowFlags struct {
	version int
}

func newPlaybookShowCommand(s *session) *cobra.Command {
	flags := &playbookShowFlags{}
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the latest or a given version of a playbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			pb, err := c.playbooks.GetPlaybook(c.ctx, c.tenant, args[0], flags.version)
			return s.present("Playbook loaded", pb, err)
		},
	}
	cmd.Flags().IntVar(&flags.version, "version", 0, "Version to show (default latest)")
	return cmd
}

func newPlaybookExportCommand(s *session) *cobra.Command {
	flags := &playbookShowFlags{}
	cmd := &cobra.Command{
		Use:   "export <id> <file>",
		Short: "Write a playbook version as a YAML definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			pb, err := c.playbooks.GetPlaybook(c.ctx, c.tenant, args[0], flags.version)
			if err == nil {
				err = c.container.GetPlaybookFile().Export(args[1], pb)
			}
			return s.present("Playbook exported to "+args[1], nil, err)
		},
	}
	cmd.Flags().IntVar(&flags.version, "version", 0, "Version to export (default latest)")
	return cmd
}

// playbookListFlags holds the flags for playbook list
type playbookListFlags struct {
	status   string
	category string
	limit    int
	offset   int
}

func newPlaybookListCommand(s *session) *cobra.Command {
	flags := &playbookListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the latest version of each playbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.commandCtx(cmd)
			if err != nil {
				return err
			}
			list, err := c.playbooks.ListPlaybooks(c.ctx, c.tenant, dto.ListPlaybooksRequest{
				Status:   flags.status,
				Category: flags.category,
				Limit:    flags.limit,
				Offset:   flags.offset,
			})
			return s.present("Playbooks", list, err)
		},
	}
	cmd.Flags().StringVar(&flags.status, "status", "", "Filter by status (draft, active, archived)")
	cmd.Flags().StringVar(&flags.category, "category", "", "Filter by category")
	cmd.Flags().IntVar(&flags.limit, "limit", 50, "Maximum number of playbooks")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "Number of playbooks to skip")
	return cmd
}
