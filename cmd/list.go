package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalnine/judgebench/internal/evaluator"
	"github.com/signalnine/judgebench/internal/result"
)

var listedArtifacts = []struct {
	file, label string
}{
	{result.RawResponsesFile, "raw"},
	{result.ProcessedResponsesFile, "processed"},
	{result.ParametersFile, "parameters"},
	{evaluator.SummaryFile, "evaluation"},
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored runs and the artifacts each one holds",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			dirs, err := result.ListRunDirs(cfg.Results.Dir)
			if err != nil {
				return err
			}
			w := opts.stdout
			if len(dirs) == 0 {
				fmt.Fprintf(w, "No runs in %s\n", cfg.Results.Dir)
				return nil
			}
			fmt.Fprintf(w, "Runs in %s:\n", cfg.Results.Dir)
			for _, dir := range dirs {
				var have []string
				for _, a := range listedArtifacts {
					if _, err := os.Stat(filepath.Join(dir, a.file)); err == nil {
						have = append(have, a.label)
					}
				}
				if len(have) == 0 {
					have = []string{"empty"}
				}
				fmt.Fprintf(w, "  - %s [%s]\n", filepath.Base(dir), strings.Join(have, ", "))
			}
			return nil
		},
	}
}
