package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/datastore"
)

// Command creates the command that prepares the database schema.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := datastore.New(settings)
			if err != nil {
				return err
			}
			// Open migrates.
			if err := store.Open(); err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}

			driver := settings.Database.Driver
			if driver == "" {
				driver = conf.DriverSQLite
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database schema is up to date (%s)\n", driver)
			return nil
		},
	}
}
