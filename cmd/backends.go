package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vaclisinc/VTR-plugin-sub000/internal/app"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List extraction backends and their availability",
	Long: `Show every feature extraction backend, whether it can run on this
host, and the order the configured backend would be tried in.`,
	Args: cobra.NoArgs,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	application, err := app.NewApp(newAppContext())
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Emit(application.BackendsOutput(application.Backends()))
}
