package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fluentlens/fluentlens/internal/config"
	"github.com/fluentlens/fluentlens/internal/observability"
	"github.com/fluentlens/fluentlens/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records link-time build metadata for the version command
// and the HTTP /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Per-user language error frequency aggregation",
	Long: `fluentlens aggregates the language errors detected in learner utterances.

Reports update fast live counters and a coalescing batch accumulator; a
periodic flush folds the accumulated deltas into the durable store, which
answers "top errors" queries used to pick practice exercises.

Use the subcommands to perform specific operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve installs the real telemetry system.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	v := viper.GetViper()
	config.Bind(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Could not find home directory", err)
			}
			v.AddConfigPath(filepath.Join(home, "."+config.AppName))
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	case errors.As(err, &notFound):
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	case cfgFile != "":
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", err)
	default:
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}
}

// loadConfig decodes the effective settings bound in initConfig.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
