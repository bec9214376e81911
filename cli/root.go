// Package cli provides the cobra command tree for the portal binary.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/pkg/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const defaultConfigPath = "config.yaml"

// Exit codes
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 2
)

// exitError carries a non-default exit code out of a command
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

type rootOpts struct {
	configPath string
	cfg        *config.Config
}

// loadConfig reads the config file. A missing default file falls back to
// defaults; a missing explicit one is an error.
func (o *rootOpts) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
			cfg = config.Default()
		} else {
			return fmt.Errorf("load config %s: %w", o.configPath, err)
		}
	}
	o.cfg = cfg

	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// NewRootCmd creates the root cobra command
func NewRootCmd() *cobra.Command {
	opts := &rootOpts{}

	rootCmd := &cobra.Command{
		Use:   "contractsign",
		Short: "MR3X external signing and document verification portal",
		Long: `contractsign - MR3X external signing and document verification portal

Serves the pages an external signer uses to sign a contract from an invitation
link, and the public pages anyone uses to check that a contract, agreement,
inspection or extrajudicial notification is authentic.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newServeCmd(opts),
		newVerifyCmd(opts),
		newSignCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}
