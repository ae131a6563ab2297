package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/agentic-research-assistant/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

const closeTimeout = 10 * time.Second

var (
	askSession string
	askTrace   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one request and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		o, err := newOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer closeOrchestrator(cmd, o)

		sessionID := strings.TrimSpace(askSession)
		if sessionID == "" {
			sessionID = uuid.NewString()
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
		}

		resp, err := o.Submit(ctx, sessionID, strings.Join(args, " "))
		if resp.Text != "" {
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
		}
		if askTrace {
			printTrace(cmd.ErrOrStderr(), resp.Outcome)
		}
		return err
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id (a new one is generated when empty)")
	askCmd.Flags().BoolVar(&askTrace, "trace", false, "print plans and step results to stderr")
	rootCmd.AddCommand(askCmd)
}

func closeOrchestrator(cmd *cobra.Command, o *orchestrator.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
	}
}

func printTrace(w io.Writer, out contractx.Outcome) {
	for _, plan := range out.Plans {
		fmt.Fprintf(w, "plan %s (revision %d)\n", plan.ID, plan.Revision)
		for _, st := range plan.Steps {
			fmt.Fprintf(w, "  %d. %s %v deps=%v\n", st.ID, st.Tool, st.Input, st.DependsOn)
		}
	}
	for _, r := range out.Results {
		line := fmt.Sprintf("  step %d/%d %s: %s", r.PlanRevision, r.StepID, r.Tool, r.Status)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if out.Degraded && out.Cause != nil {
		fmt.Fprintf(w, "degraded: %v\n", out.Cause)
	}
	if errors.Is(out.Cause, contractx.ErrRateLimitExceeded) {
		fmt.Fprintln(w, "daily request budget exhausted")
	}
}
