package export

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dermascan/dermascan/internal/app"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/history"
)

const defaultOutput = "examinations.xlsx"

// Command creates the command that exports examinations to a workbook.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var q history.Query

	cmd := &cobra.Command{
		Use:   "export [output.xlsx]",
		Short: "Export examinations to an Excel workbook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultOutput
			if len(args) == 1 {
				path = args[0]
			}

			a, err := app.New(cmd.Context(), settings, build, app.WithoutBroker())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.ExportFile(cmd.Context(), path, q)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d examinations to %s\n", n, path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "Only examinations whose patient name or ID matches")
	cmd.Flags().StringVar(&q.Sort, "sort", history.SortDate, "Sort key: date, id, patient, prediction or confidence")
	cmd.Flags().StringVar(&q.Order, "order", "desc", "Sort order: asc or desc")

	return cmd
}
