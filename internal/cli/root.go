// Package cli holds the anchord command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	logx "timeanchor/pkg/logx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for anchord.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "anchord",
		Short: "anchord - time anchors for contexts, frames and routines",
		Long: `anchord keeps a sorted set of time anchors per context and frame, fed by
providers (cron entries, recurring runs built from stored sequences), and
emits ETA ticks against a movable cursor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "./anchord.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSequencesCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewJumpCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// cliLogger is quiet unless --verbose is set; logs go to stderr.
func cliLogger(opts *RootOptions) logx.Logger {
	if opts.Verbose {
		return logx.NewConsole("debug")
	}
	return logx.Nop()
}
