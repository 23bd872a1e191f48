package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"timeanchor/internal/anchor"
	"timeanchor/internal/app"
	"timeanchor/internal/runner"
)

type planOptions struct {
	sequence     string
	runID        string
	dailyAt      string
	everyMinutes int
	cron         string
	days         int
	start        string
	tz           string
}

// NewPlanCommand previews the anchors a recurring run would produce for a
// stored sequence, without touching the engine.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview a recurring run built from a stored sequence",
		Example: `  anchord plan --sequence morning --daily-at 06:30 --days 3
  anchord plan --sequence standup --cron "0 9 * * 1-5" --days 7 --tz Europe/Berlin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, rootOpts, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.sequence, "sequence", "", "sequence id (required)")
	f.StringVar(&opts.runID, "id", "plan", "run id used in anchor ids")
	f.StringVar(&opts.dailyAt, "daily-at", "", "fire once a day at HH:MM")
	f.IntVar(&opts.everyMinutes, "every-minutes", 0, "fire every N minutes from 00:00")
	f.StringVar(&opts.cron, "cron", "", "fire on a 5-field cron expression")
	f.IntVar(&opts.days, "days", 1, "horizon in days")
	f.StringVar(&opts.start, "start", "", "horizon start (RFC3339 or YYYY-MM-DD, default now)")
	f.StringVar(&opts.tz, "tz", "", "IANA time zone for day boundaries (default local)")
	_ = cmd.MarkFlagRequired("sequence")
	return cmd
}

func runPlan(cmd *cobra.Command, rootOpts *RootOptions, opts *planOptions) error {
	loc := time.Local
	if tz := strings.TrimSpace(opts.tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("--tz: %w", err)
		}
		loc = l
	}
	start, err := parseInstant(opts.start, loc)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	pattern := runner.Pattern{
		DailyAt:      opts.dailyAt,
		EveryMinutes: opts.everyMinutes,
		Cron:         opts.cron,
		StartDate:    start,
		Location:     loc,
	}
	if err := pattern.Validate(); err != nil {
		return err
	}

	lib, closeFn, err := app.OpenLibrary(cmd.Context(), rootOpts.Config, cliLogger(rootOpts))
	if err != nil {
		return err
	}
	defer closeFn()
	found := lib.Get(opts.sequence)
	if len(found) == 0 {
		return fmt.Errorf("sequence %q not found", opts.sequence)
	}
	seq := found[0]

	list, err := runner.New().BuildRecurringRun(runner.RecurringRun{
		ID:           opts.runID,
		Label:        seq.Label,
		Pattern:      pattern,
		StepTemplate: seq.Steps,
		HorizonDays:  opts.days,
	})
	if err != nil {
		return err
	}

	out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.VerboseLog("%d anchor(s) over %d day(s) from %s", len(list), opts.days, start.Format(time.RFC3339))
	if out.JSON() {
		return out.Emit(list)
	}
	printAnchors(out, list, start)
	return nil
}

func printAnchors(out *OutputFormatter, list []anchor.Anchor, ref time.Time) {
	if len(list) == 0 {
		out.Printf("no anchors\n")
		return
	}
	tw := out.Table()
	fmt.Fprintln(tw, "AT\tSTEP\tLABEL\tRELATIVE")
	for _, a := range list {
		step, _ := a.Meta[runner.MetaStep].(string)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.At.Format("Mon 2006-01-02 15:04"),
			step,
			a.Label,
			humanize.RelTime(a.At, ref, "before start", "after start"),
		)
	}
	_ = tw.Flush()
}

// parseInstant accepts RFC3339 or a bare date (midnight in loc). Empty means now.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, loc)
}
