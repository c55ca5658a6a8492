package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/logimos/reactor/internal/api"
	"github.com/logimos/reactor/internal/audit"
	"github.com/logimos/reactor/internal/config"
	"github.com/logimos/reactor/internal/engine"
	"github.com/logimos/reactor/internal/housekeeping"
	"github.com/logimos/reactor/internal/lock"
	"github.com/logimos/reactor/internal/logging"
	"github.com/logimos/reactor/internal/metrics"
	"github.com/logimos/reactor/internal/persistence"
	"github.com/logimos/reactor/internal/registration"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	workflowDir string
	port        int
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "reactor",
	Short: "Durable concurrency-aware workflow engine",
	Long:  "Reactor is a Go-native workflow engine for defining, orchestrating, and executing state-machine-shaped workflows with group-level concurrency control.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the reactor daemon",
	Long:  "Start the reactor daemon: loads workflows, serves the HTTP API, and watches the workflow directory for changes",
	RunE:  runDaemon,
}

var validateCmd = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Validate a workflow YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  validateWorkflow,
}

var executeCmd = &cobra.Command{
	Use:   "execute [workflow-name]",
	Short: "Execute a registered workflow against the running daemon's data directory",
	Args:  cobra.ExactArgs(1),
	RunE:  executeWorkflow,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.reactor.yaml)")
	rootCmd.PersistentFlags().StringVar(&workflowDir, "workflows", "./workflows", "directory containing workflow definition files")

	runCmd.Flags().IntVarP(&port, "port", "p", 8000, "HTTP API port")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(executeCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".reactor")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	var err error
	logger, err = logging.New(viper.GetString("log_level"))
	if err != nil {
		panic(err)
	}
}

func loadConfig() *config.Config {
	cfg := config.Default()
	cfg.WorkflowDir = workflowDir
	cfg.HTTPPort = port
	if err := viper.Unmarshal(cfg); err != nil {
		logger.Warn("failed to unmarshal config, using defaults merged with flags", zap.Error(err))
	}
	return cfg
}

func buildStore(cfg *config.Config) (engine.Store, error) {
	switch cfg.Persistence {
	case config.PersistenceJSON:
		return persistence.NewJSONStore(cfg.DataDir)
	case config.PersistenceSQL:
		return persistence.NewSQLStore(cfg.SQLDriver, cfg.SQLDSN)
	default:
		return persistence.NewMemoryStore(), nil
	}
}

func buildLockAdapter(cfg *config.Config) lock.Adapter {
	if cfg.LockBackend == config.LockRedis {
		return lock.NewRedisAdapter(lock.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.LockTTL,
		}, logger)
	}
	return lock.NewMemoryAdapter()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	lockAdapter := buildLockAdapter(cfg)
	eng := engine.New(store, lockAdapter, logger)

	var auditSink *audit.KafkaSink
	if cfg.AuditEnabled {
		auditSink = audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}

	var collectors *metrics.Collectors
	if cfg.MetricsEnabled {
		collectors = metrics.NewCollectors(prometheus.DefaultRegisterer)
	}

	var defaultPlugins []engine.Plugin
	if auditSink != nil {
		defaultPlugins = append(defaultPlugins, audit.NewPlugin(auditSink))
	}
	if collectors != nil {
		defaultPlugins = append(defaultPlugins, metrics.NewPlugin(collectors))
	}

	resolve := func(workflowName, stateID string) (func() engine.State, bool) {
		factory, ok := lookupStateFactory(workflowName, stateID)
		return factory, ok
	}

	watcher := registration.NewWatcher(eng, resolve, defaultPlugins, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := watcher.Start(ctx, cfg.WorkflowDir); err != nil {
		return fmt.Errorf("failed to start workflow watcher: %w", err)
	}

	janitor := housekeeping.NewLockJanitor(concurrencyOf(eng), lockAdapter, logger)
	if err := janitor.Start(cfg.JanitorSchedule); err != nil {
		return fmt.Errorf("failed to start lock janitor: %w", err)
	}

	apiServer := api.NewServer(eng, cfg.HTTPPort, logger)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()

	logger.Info("reactor daemon started",
		zap.Int("port", cfg.HTTPPort),
		zap.String("workflow_dir", cfg.WorkflowDir))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("shutting down reactor daemon...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	watcher.Stop()
	janitor.Stop()
	if auditSink != nil {
		_ = auditSink.Close()
	}
	return apiServer.Stop(shutdownCtx)
}

func validateWorkflow(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	spec, err := registration.LoadYAML(data)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for i := range spec.States {
		spec.States[i].Factory = func() engine.State { return nil }
	}
	if _, _, err := registration.NewBuilder(*spec).Compile(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("workflow %q is valid\n", spec.Name)
	fmt.Printf("  initial: %s\n", spec.Initial)
	fmt.Printf("  states: %d\n", len(spec.States))
	fmt.Printf("  transitions: %d\n", len(spec.Transitions))
	return nil
}

func executeWorkflow(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg := loadConfig()

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	eng := engine.New(store, buildLockAdapter(cfg), logger)

	resolve := func(workflowName, stateID string) (func() engine.State, bool) {
		return lookupStateFactory(workflowName, stateID)
	}
	watcher := registration.NewWatcher(eng, resolve, nil, logger)
	ctx := context.Background()
	if err := watcher.Start(ctx, cfg.WorkflowDir); err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	execution, err := eng.Execute(ctx, name, engine.ExecuteOptions{})
	if err != nil {
		return fmt.Errorf("workflow execution failed: %w", err)
	}

	fmt.Printf("workflow %q completed (execution: %s, status: %s)\n", name, execution.ID, execution.Status)
	return nil
}

// lookupStateFactory resolves the code-side State constructor for a
// workflow's declared state id. Operators wire real factories here for
// their own State implementations; this default has none registered.
func lookupStateFactory(workflowName, stateID string) (func() engine.State, bool) {
	return nil, false
}

func concurrencyOf(eng *engine.Engine) *engine.ConcurrencyManager {
	return eng.Concurrency()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
