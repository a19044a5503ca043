package cmd

import (
	"github.com/spf13/cobra"

	"github.com/signalnine/judgebench/internal/pricing"
	"github.com/signalnine/judgebench/internal/report"
	"github.com/signalnine/judgebench/internal/result"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize the artifacts of a run (default: the latest)",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			var runDir string
			if len(args) > 0 {
				runDir = args[0]
			} else if runDir, err = result.LatestRunDir(cfg.Results.Dir); err != nil {
				return err
			}
			table, err := pricing.LoadOrDefault(cfg.Pricing.File)
			if err != nil {
				return err
			}
			return report.Generate(runDir, format, opts.stdout, table)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format (table, markdown, json)")
	return cmd
}
