package di

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/clock"

	"github.com/YoshitsuguKoike/deeplay/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/input"
	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/application/service"
	playbookusecase "github.com/YoshitsuguKoike/deeplay/internal/application/usecase/playbook"
	scenariousecase "github.com/YoshitsuguKoike/deeplay/internal/application/usecase/scenario"
	simulationusecase "github.com/YoshitsuguKoike/deeplay/internal/application/usecase/simulation"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/service/simulation"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/dispatcher"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/metrics"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/parser"
	sqliterepo "github.com/YoshitsuguKoike/deeplay/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/deeplay/internal/infrastructure/transaction"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	// Infrastructure Layer - Database
	db *sql.DB

	// Infrastructure Layer - Repositories (SQLite implementations)
	playbookRepo repository.PlaybookRepository
	scenarioRepo repository.ScenarioRepository
	runRepo      repository.RunRepository

	// Infrastructure Layer - Transaction Manager
	txManager output.TransactionManager

	// Infrastructure Layer - Dispatch, metrics and files
	dispatcher   output.ActionDispatcher
	registry     *prometheus.Registry
	metrics      output.MetricsRecorder
	playbookFile *parser.PlaybookFile

	// Domain Layer - Services
	engine *simulation.Engine

	// Application Layer - Use Cases and Services
	playbookUseCase   input.PlaybookUseCase
	scenarioUseCase   input.ScenarioUseCase
	simulationUseCase input.SimulationUseCase
	orchestrator      *service.Orchestrator
	approvalGateway   *service.ApprovalGateway

	// Adapter Layer - Presenters
	presenter output.Presenter

	// Configuration
	config Config
}

// Config holds configuration for the container
type Config struct {
	DBPath       string // Path to SQLite database file, or a sqlite DSN
	OutputFormat string // Output format (cli, json)
	OutputWriter io.Writer
	Dispatcher   string // Dispatcher kind (log, noop)

	// Optional collaborators; defaults are used when nil
	Dispatch output.ActionDispatcher
	Logger   logrus.FieldLogger
	Clock    clock.WithDelayedExecution
	FS       afero.Fs
}

// NewContainer creates and initializes the DI container
func NewContainer(config Config) (*Container, error) {
	c := &Container{
		config: config,
	}

	if c.config.OutputWriter == nil {
		c.config.OutputWriter = os.Stdout
	}
	if c.config.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)
		c.config.Logger = logger
	}
	if c.config.Clock == nil {
		c.config.Clock = clock.RealClock{}
	}
	if c.config.FS == nil {
		c.config.FS = afero.NewOsFs()
	}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	if err := c.initializeDomain(); err != nil {
		return nil, fmt.Errorf("failed to initialize domain: %w", err)
	}

	if err := c.initializeApplication(); err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := c.initializeAdapters(); err != nil {
		return nil, fmt.Errorf("failed to initialize adapters: %w", err)
	}

	return c, nil
}

// initializeInfrastructure initializes infrastructure layer components
func (c *Container) initializeInfrastructure() error {
	// 1. Resolve the database location
	dbPath := c.config.DBPath
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".deeplay", "deeplay.db")
	}
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// 2. Open SQLite database connection and run migrations
	db, err := sqliterepo.Open(dbPath)
	if err != nil {
		return err
	}
	c.db = db

	// 3. Initialize SQLite Repositories
	c.playbookRepo = sqliterepo.NewPlaybookRepository(db)
	c.scenarioRepo = sqliterepo.NewScenarioRepository(db)
	c.runRepo = sqliterepo.NewRunRepository(db)

	// 4. Initialize SQLite Transaction Manager
	c.txManager = transaction.NewSQLiteTransactionManager(db)

	// 5. Initialize the action dispatcher
	c.dispatcher = c.config.Dispatch
	if c.dispatcher == nil {
		d, err := dispatcher.New(c.config.Dispatcher, c.config.Logger)
		if err != nil {
			return err
		}
		c.dispatcher = d
	}

	// 6. Initialize metrics on a registry owned by this container
	c.registry = prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(c.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	c.metrics = recorder

	// 7. Initialize playbook file reader
	c.playbookFile = parser.NewPlaybookFile(c.config.FS)

	return nil
}

// initializeDomain initializes domain layer components
func (c *Container) initializeDomain() error {
	c.engine = simulation.NewEngine()
	return nil
}

// initializeApplication initializes application layer components
func (c *Container) initializeApplication() error {
	logger := c.config.Logger

	c.playbookUseCase = playbookusecase.NewPlaybookUseCase(
		c.playbookRepo,
		c.runRepo,
		c.txManager,
		c.config.Clock,
		logger,
	)

	c.scenarioUseCase = scenariousecase.NewScenarioUseCase(
		c.scenarioRepo,
		c.playbookRepo,
		c.runRepo,
		c.txManager,
		c.config.Clock,
		logger,
	)

	c.simulationUseCase = simulationusecase.NewSimulationUseCase(
		c.scenarioRepo,
		c.playbookRepo,
		c.engine,
		c.config.Clock,
		logger,
	)

	c.orchestrator = service.NewOrchestrator(service.OrchestratorDeps{
		RunRepo:      c.runRepo,
		ScenarioRepo: c.scenarioRepo,
		PlaybookRepo: c.playbookRepo,
		TxManager:    c.txManager,
		Dispatcher:   c.dispatcher,
		Clock:        c.config.Clock,
		Metrics:      c.metrics,
		Logger:       logger,
	})
	c.approvalGateway = service.NewApprovalGateway(c.orchestrator, logger)

	return nil
}

// initializeAdapters initializes adapter layer components
func (c *Container) initializeAdapters() error {
	switch c.config.OutputFormat {
	case "json":
		c.presenter = presenter.NewJSONPresenter(c.config.OutputWriter)
	case "", "cli":
		c.presenter = presenter.NewCLIPresenter(c.config.OutputWriter)
	default:
		return fmt.Errorf("unknown output format: %s", c.config.OutputFormat)
	}
	return nil
}

// GetPlaybookUseCase returns the playbook use case
func (c *Container) GetPlaybookUseCase() input.PlaybookUseCase {
	return c.playbookUseCase
}

// GetScenarioUseCase returns the scenario use case
func (c *Container) GetScenarioUseCase() input.ScenarioUseCase {
	return c.scenarioUseCase
}

// GetSimulationUseCase returns the simulation use case
func (c *Container) GetSimulationUseCase() input.SimulationUseCase {
	return c.simulationUseCase
}

// GetRunUseCase returns the orchestrator as a run use case
func (c *Container) GetRunUseCase() input.RunUseCase {
	return c.orchestrator
}

// GetApprovalUseCase returns the approval gateway
func (c *Container) GetApprovalUseCase() input.ApprovalUseCase {
	return c.approvalGateway
}

// GetOrchestrator returns the orchestrator for recovery and shutdown
func (c *Container) GetOrchestrator() *service.Orchestrator {
	return c.orchestrator
}

// GetPresenter returns the presenter
func (c *Container) GetPresenter() output.Presenter {
	return c.presenter
}

// GetPlaybookFile returns the playbook file reader
func (c *Container) GetPlaybookFile() *parser.PlaybookFile {
	return c.playbookFile
}

// GetRegistry returns the metrics registry, for exposition
func (c *Container) GetRegistry() *prometheus.Registry {
	return c.registry
}

// Start recovers every run left non-terminal by a previous process.
// Only long-lived hosts should call it; one-shot commands leave timers to them.
func (c *Container) Start(ctx context.Context) error {
	if _, err := c.orchestrator.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover runs: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable
func (c *Container) Ping() error {
	return c.db.Ping()
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	if c.orchestrator != nil {
		c.orchestrator.Stop()
	}

	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
