package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand, which collects a directory into blob
// storage as one tracked batch run.
func newRunCmd() *cobra.Command {
	var (
		source string
		label  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collects every file under a directory as one batch run",
		Long: `Uploads every regular file under --source to the configured blob store,
reporting progress through the configured webhook (or the log when none is set).
The final status is --label when every upload succeeds, "done with failures"
when some fail, and "aborted" when the run is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.RunBackup(cmd.Context(), source, label)
			if summary.RunID != uuid.Nil && summary.Label != "" {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s finished: %s (succeeded %d, failed %d, skipped %d)\n",
					summary.RunID, summary.Label,
					summary.Report.Succeeded, summary.Report.Failed, summary.Report.Skipped,
				)
				for _, f := range summary.Report.Failures {
					fmt.Fprintf(out, "  failed: %s: %s\n", f.Task, f.Err)
				}
				if summary.ReportURI != "" {
					fmt.Fprintf(out, "report: %s\n", summary.ReportURI)
				}
			}
			if err != nil {
				appInstance.Logger().Error("backup run failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "directory to collect (default batch.source_dir)")
	cmd.Flags().StringVarP(&label, "label", "l", "", "final status label for a clean run (default \"done\")")
	return cmd
}
