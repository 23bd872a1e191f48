package cli

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"timeanchor/internal/anchor"
)

type jumpResult struct {
	From  time.Time    `json:"from"`
	Delta anchor.Delta `json:"delta"`
	To    time.Time    `json:"to"`
}

// NewJumpCommand shows where a cursor jump lands. Month and year overflow is
// normalized the same way the engine does it.
func NewJumpCommand(rootOpts *RootOptions) *cobra.Command {
	var from string
	var d anchor.Delta
	cmd := &cobra.Command{
		Use:     "jump",
		Short:   "Show the result of moving a cursor by days, weeks, months and years",
		Example: `  anchord jump --from 2024-01-31T10:00:00Z --months 1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseInstant(from, time.Local)
			if err != nil {
				return err
			}
			res := jumpResult{From: start, Delta: d, To: d.Apply(start)}

			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if out.JSON() {
				return out.Emit(res)
			}
			out.Printf("%s -> %s (%s)\n",
				res.From.Format(time.RFC3339),
				res.To.Format(time.RFC3339),
				humanize.RelTime(res.From, res.To, "later", "earlier"),
			)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "start instant (RFC3339 or YYYY-MM-DD, default now)")
	f.IntVar(&d.Days, "days", 0, "days to add (negative to go back)")
	f.IntVar(&d.Weeks, "weeks", 0, "weeks to add")
	f.IntVar(&d.Months, "months", 0, "months to add")
	f.IntVar(&d.Years, "years", 0, "years to add")
	return cmd
}
