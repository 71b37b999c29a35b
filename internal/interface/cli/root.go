package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deeplay/internal/app/config"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
	infraConfig "github.com/YoshitsuguKoike/deeplay/internal/infra/config"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/di"
	"github.com/YoshitsuguKoike/deeplay/internal/interface/cli/version"
)

// rootFlags holds the persistent flags shared by every command
type rootFlags struct {
	home     string
	tenant   string
	db       string
	format   string
	logLevel string
	server   string
}

// session carries what a single invocation loads once: settings, logger and container
type session struct {
	flags     rootFlags
	fs        afero.Fs
	stdout    io.Writer
	stderr    io.Writer
	config    config.Config
	logger    *logrus.Logger
	container *di.Container
}

// Option customizes the root command, mainly for tests
type Option func(*session)

// WithFs replaces the file system used for settings and playbook files
func WithFs(fs afero.Fs) Option {
	return func(s *session) { s.fs = fs }
}

// WithOutput replaces stdout and stderr
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *session) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// Execute runs the command tree with args and releases the container
// whether or not the command succeeded
func Execute(ctx context.Context, args []string, opts ...Option) error {
	cmd, s := newRoot(opts...)
	defer s.close()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRoot builds the deeplay command tree
func NewRoot(opts ...Option) *cobra.Command {
	cmd, _ := newRoot(opts...)
	return cmd
}

func newRoot(opts ...Option) (*cobra.Command, *session) {
	s := &session{fs: afero.NewOsFs(), stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}

	cmd := &cobra.Command{
		Use:           "deeplay",
		Short:         "Scenario playbook orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.close()
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.SetOut(s.stdout)
	cmd.SetErr(s.stderr)

	f := cmd.PersistentFlags()
	f.StringVar(&s.flags.home, "home", "", "Base directory holding setting.yaml (default $DEEPLAY_HOME or .deeplay)")
	f.StringVar(&s.flags.tenant, "tenant", "", "Tenant to act for (default from settings)")
	f.StringVar(&s.flags.db, "db", "", "SQLite database path (default from settings)")
	f.StringVar(&s.flags.format, "format", "", "Output format: cli or json (default from settings)")
	f.StringVar(&s.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from settings)")
	f.StringVar(&s.flags.server, "server", "", "URL of a running deeplay serve; run commands go through it (default from settings)")

	cmd.AddCommand(newPlaybookCommand(s))
	cmd.AddCommand(newScenarioCommand(s))
	cmd.AddCommand(newRunCommand(s))
	cmd.AddCommand(newServeCommand(s))
	cmd.AddCommand(version.NewCommand())
	return cmd, s
}

// load reads settings before any command runs.
// Priority: flags > environment > setting.yaml > defaults
func (s *session) load() error {
	baseDir := s.flags.home
	if baseDir == "" {
		baseDir = os.Getenv(infraConfig.EnvPrefix + "HOME")
	}
	if baseDir == "" {
		baseDir = ".deeplay"
	}

	cfg, err := infraConfig.LoadSettings(s.fs, baseDir)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	s.config = cfg

	s.logger = NewLogger(s.logLevel(), s.stderr, s.format() == "json")
	s.logger.WithFields(logrus.Fields{"source": cfg.ConfigSource(), "path": cfg.SettingPath()}).Debug("settings loaded")
	return nil
}

func (s *session) tenant() (model.TenantID, error) {
	v := s.flags.tenant
	if v == "" {
		v = s.config.Tenant()
	}
	t, err := model.NewTenantID(v)
	if err != nil {
		return model.TenantID{}, model.NewValidationError("%v", err)
	}
	return t, nil
}

func (s *session) format() string {
	if s.flags.format != "" {
		return s.flags.format
	}
	return s.config.OutputFormat()
}

func (s *session) logLevel() string {
	if s.flags.logLevel != "" {
		return s.flags.logLevel
	}
	return s.config.LogLevel()
}

func (s *session) serverURL() string {
	if s.flags.server != "" {
		return s.flags.server
	}
	return s.config.ServerURL()
}

func (s *session) dbPath() string {
	if s.flags.db != "" {
		return s.flags.db
	}
	return s.config.DBPath()
}

// Container initializes the DI container on first use
func (s *session) Container() (*di.Container, error) {
	if s.container != nil {
		return s.container, nil
	}
	c, err := di.NewContainer(di.Config{
		DBPath:       s.dbPath(),
		OutputFormat: s.format(),
		OutputWriter: s.stdout,
		Dispatcher:   s.config.Dispatcher(),
		Logger:       s.logger,
		FS:           s.fs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	s.container = c
	return c, nil
}

func (s *session) close() error {
	if s.container == nil {
		return nil
	}
	err := s.container.Close()
	s.container = nil
	return err
}

// present renders the outcome of a command through the configured presenter
func (s *session) present(message string, data interface{}, err error) error {
	c, cerr := s.Container()
	if cerr != nil {
		return cerr
	}
	if err != nil {
		_ = c.GetPresenter().PresentError(err)
		return err
	}
	return c.GetPresenter().PresentSuccess(message, data)
}
