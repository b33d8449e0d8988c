package commands

import (
	"database/sql"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/cli/config"
	"github.com/conduit-lang/persistence/internal/cli/ui"
	"github.com/conduit-lang/persistence/internal/orm/exec"
	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/schema"
	"github.com/conduit-lang/persistence/internal/orm/transaction"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "persist",
		Short: "Entity mapping and criteria query tooling",
		Long: color.CyanString(`persist - entity mapping and criteria queries

Loads a persistence unit (persistence.yml) and its entity mapping,
validates the mapping, shows how entities and associations map onto
tables, and renders or runs criteria queries written as YAML documents.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file (default: nearest persistence.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log resolution and rendering details")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewMappingCommand())
	rootCmd.AddCommand(NewQueryCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the persist version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "persist version: ")
			valueColor.Fprintln(out, Version)

			titleColor.Fprint(out, "Git commit: ")
			valueColor.Fprintln(out, GitCommit)

			titleColor.Fprint(out, "Build date: ")
			valueColor.Fprintln(out, BuildDate)

			titleColor.Fprint(out, "Go version: ")
			valueColor.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// environment is the loaded persistence unit shared by the subcommands
type environment struct {
	config   *config.Config
	registry *schema.Registry
	logger   *zap.Logger
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), nil, noColor))
		return nil, nil, err
	}
	return cfg, newLogger(), nil
}

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	registry, err := schema.LoadRegistry(cfg.Mapping.File, schema.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping %s: %w", cfg.Mapping.File, err)
	}
	logger.Debug("loaded persistence unit",
		zap.String("unit", cfg.Unit.Name),
		zap.String("mapping", cfg.Mapping.File),
		zap.Int("entities", registry.Count()),
	)
	return &environment{config: cfg, registry: registry, logger: logger}, nil
}

// openDatabase opens the configured database together with a transaction
// manager set up for the unit's transaction type
func (env *environment) openDatabase(extra ...transaction.Option) (*sql.DB, query.Dialect, *transaction.Manager, error) {
	db, dialect, err := exec.Open(env.config.ExecConfig())
	if err != nil {
		return nil, 0, nil, err
	}

	opts := []transaction.Option{
		transaction.WithTransactionType(env.config.TransactionType()),
		transaction.WithTimeout(env.config.Database.Timeout),
		transaction.WithLogger(env.logger),
	}
	if env.config.Database.Retries > 0 {
		retry := transaction.DefaultRetryConfig()
		retry.MaxRetries = env.config.Database.Retries
		opts = append(opts, transaction.WithRetry(retry))
	}
	opts = append(opts, extra...)
	return db, dialect, transaction.NewManager(db, opts...), nil
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
