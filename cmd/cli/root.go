// Package cli provides the Cobra command tree for PertScan: one-shot scans,
// the API service, the service registry and saved scan history.
package cli

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/freaksdesign/PertScan/internal/config"
	"github.com/freaksdesign/PertScan/internal/errors"
	"github.com/freaksdesign/PertScan/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. PERTSCAN_DATABASE_HOST.
const EnvPrefix = "PERTSCAN"

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// app carries state shared by every subcommand once the root has loaded
// configuration.
type app struct {
	viper      *viper.Viper
	configFile string
	envFile    string
	verbose    bool

	cfg    *config.Config
	logger *logging.Logger
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{viper: viper.New()}

	cmd := &cobra.Command{
		Use:   "pertscan",
		Short: "TCP connect port scanner",
		Long: `PertScan probes a contiguous range of TCP ports on one host with plain
connect attempts, labels every port with its well-known service, and can
run as an HTTP service with saved history and scheduled scans.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is ./config.yaml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	a.bindFlags(flags, map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
	})

	cmd.AddCommand(
		newScanCommand(a),
		newServeCommand(a),
		newServicesCommand(a),
		newHistoryCommand(a),
		newMigrateCommand(a),
		newConfigCommand(a),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// bindFlags maps config keys to flags so a changed flag overrides both the
// file and the environment.
func (a *app) bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", name, err)
		}
	}
}

// init loads .env, the config file and PERTSCAN_* overrides, then sets up
// logging.
func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	}

	v := a.viper
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := a.resolveConfigFile()
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyOverrides(v, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.Config{
		Level:     logging.LogLevel(strings.ToLower(cfg.Logging.Level)),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.Level == "debug",
	}
	if a.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	logger.Debug("Configuration loaded", "file", path)
	return nil
}

// resolveConfigFile returns the explicit --config path, or the first
// config.yaml viper finds, or "" for built-in defaults.
func (a *app) resolveConfigFile() (string, error) {
	if a.configFile != "" {
		if _, err := os.Stat(a.configFile); err != nil {
			return "", errors.WrapConfigError(errors.CodeFileNotFound,
				fmt.Sprintf("config file %s", a.configFile), err)
		}
		return a.configFile, nil
	}

	v := a.viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.pertscan")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", errors.WrapConfigError(errors.CodeConfiguration, "failed to read config", err)
	}
	return v.ConfigFileUsed(), nil
}

// applyOverrides copies environment and flag values that were explicitly
// set over the loaded configuration.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setInt("scanning.pool_size", &cfg.Scanning.PoolSize)
	setInt("scanning.queue_size", &cfg.Scanning.QueueSize)
	if v.IsSet("scanning.probe_timeout") {
		cfg.Scanning.ProbeTimeout = v.GetDuration("scanning.probe_timeout")
	}
	if v.IsSet("scanning.poll_interval") {
		cfg.Scanning.PollInterval = v.GetDuration("scanning.poll_interval")
	}
	setString("scanning.default_target", &cfg.Scanning.DefaultTarget)
	setString("scanning.default_ports", &cfg.Scanning.DefaultPorts)

	setString("services.registry_file", &cfg.Services.RegistryFile)

	setString("database.host", &cfg.Database.Host)
	setInt("database.port", &cfg.Database.Port)
	setString("database.database", &cfg.Database.Database)
	setString("database.username", &cfg.Database.Username)
	setString("database.password", &cfg.Database.Password)
	setString("database.ssl_mode", &cfg.Database.SSLMode)

	setString("api.listen_addr", &cfg.API.ListenAddr)
	setInt("api.port", &cfg.API.Port)

	setString("logging.level", &cfg.Logging.Level)
	setString("logging.format", &cfg.Logging.Format)
	setString("logging.output", &cfg.Logging.Output)
}
