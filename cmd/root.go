package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/judgebench/internal/config"
)

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

type rootOptions struct {
	configPath string
	stdout     io.Writer
}

// usageError marks a command line cobra could not parse.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Stdout)
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout}
	root := &cobra.Command{
		Use:           "judgebench",
		Short:         "Run LLM test batches and score the responses with a semantic judge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "config file path")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newReportCmd(opts))
	return root
}

// Execute runs the command line in os.Args and returns the process exit code.
func Execute() int {
	return execute(os.Args[1:], os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteC()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	code := exitCode(err)
	if code == exitUsage {
		fmt.Fprintln(stderr, cmd.UsageString())
	}
	return code
}

// exitCode maps a command error to the process exit code. A caught
// evaluation failure never reaches here; it exits 0.
func exitCode(err error) int {
	var (
		usageErr *usageError
		cfgErr   *config.ConfigurationError
		credErr  *config.CredentialError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usageErr), errors.As(err, &cfgErr), errors.As(err, &credErr):
		return exitUsage
	}
	return exitFatal
}

// loadConfig reads the --config file. The default path may be absent.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	return config.LoadOptional(opts.configPath, cmd.Flags().Changed("config"))
}
