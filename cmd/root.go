package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dermascan/dermascan/cmd/config"
	"github.com/dermascan/dermascan/cmd/examine"
	"github.com/dermascan/dermascan/cmd/export"
	"github.com/dermascan/dermascan/cmd/migrate"
	"github.com/dermascan/dermascan/cmd/serve"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configFile string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "dermascan",
		Short:         "Dermascan melanoma screening service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the dermascan version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}
	configCmd := config.Command(settings)

	rootCmd.AddCommand(
		serve.Command(settings, build),
		migrate.Command(settings),
		examine.Command(settings, build),
		export.Command(settings, build),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !needsSettings(cmd) {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initLogging(settings)
		if err != nil {
			return err
		}
		logger.SetGlobal(central)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// needsSettings reports whether cmd reads the configuration. Commands that
// create the configuration or only print metadata must run without one.
func needsSettings(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[config.SkipSettings] == "true" {
			return false
		}
	}
	switch cmd.Name() {
	case "version", "help", "completion":
		return false
	}
	return true
}

func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		cfg.Console.Level = string(logger.LogLevelDebug)
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}
	return central, nil
}
