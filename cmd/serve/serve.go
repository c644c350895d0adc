package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dermascan/dermascan/internal/app"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
)

// Command creates the command that runs the HTTP API.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the examination API",
		Long:  "Start the HTTP API and serve doctors until SIGINT or SIGTERM is received.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(ctx)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags binds listener flags to their configuration keys.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("host", viper.GetString("webserver.host"), "Address to listen on")
	cmd.Flags().String("port", viper.GetString("webserver.port"), "Port to listen on")
	cmd.Flags().Bool("metrics", viper.GetBool("webserver.metrics"), "Expose Prometheus metrics")

	for flag, key := range map[string]string{
		"host":    "webserver.host",
		"port":    "webserver.port",
		"metrics": "webserver.metrics",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
