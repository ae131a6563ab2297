package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	memoryx "github.com/tanpawarit/agentic-research-assistant/agent/memory"
	statex "github.com/tanpawarit/agentic-research-assistant/agent/state"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or end persisted sessions",
}

var showHistory int

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print memory tiers and recent requests of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load session %s: %w", args[0], err)
		}
		mem, err := memoryx.New(rec.Memory.Limits)
		if err != nil {
			return err
		}
		if err := mem.Restore(rec.Memory); err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), rec, mem.Stats(), showHistory)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session and remove its persisted state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s ended\n", args[0])
		return nil
	},
}

func init() {
	sessionShowCmd.Flags().IntVarP(&showHistory, "history", "n", 5, "number of recent requests to list")
	sessionCmd.AddCommand(sessionShowCmd, sessionEndCmd)
	rootCmd.AddCommand(sessionCmd)
}

func printSession(w io.Writer, rec *statex.SessionRecord, stats memoryx.Stats, recent int) {
	fmt.Fprintf(w, "session   %s\n", rec.SessionID)
	fmt.Fprintf(w, "created   %s\n", humanize.Time(rec.CreatedAt))
	fmt.Fprintf(w, "updated   %s\n", humanize.Time(rec.UpdatedAt))
	fmt.Fprintf(w, "requests  %s\n\n", humanize.Comma(int64(len(rec.History))))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tTURNS\tSUMMARIES\tNEWEST")
	for _, t := range stats.Tiers {
		newest := "-"
		if !t.Newest.IsZero() {
			newest = humanize.Time(t.Newest)
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%s\n", t.Tier, t.Count, t.Capacity, t.Summaries, newest)
	}
	_ = tw.Flush()

	if recent <= 0 || len(rec.History) == 0 {
		return
	}
	history := rec.History
	if len(history) > recent {
		history = history[len(history)-recent:]
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTEPS\tREPLANS\tDEGRADED\tREQUEST")
	for _, r := range history {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", humanize.Time(r.FinishedAt), len(r.Results), r.Replans, r.Degraded, ellipsize(r.Request, 60))
	}
	_ = tw.Flush()
}

func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
