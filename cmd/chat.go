package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	contractx "github.com/tanpawarit/agentic-research-assistant/agent/contract"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session; /stats shows memory, /exit quits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		o, err := newOrchestrator(ctx)
		if err != nil {
			return err
		}
		defer closeOrchestrator(cmd, o)

		sessionID := strings.TrimSpace(chatSession)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session %s\n", sessionID)

		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/exit", "/quit":
				return nil
			case "/stats":
				stats, err := o.Stats(ctx, sessionID)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				fmt.Fprintf(out, "%s requests, %s turns in memory, %s of %s model calls used today\n",
					humanize.Comma(int64(stats.Requests)),
					humanize.Comma(int64(stats.Memory.Total)),
					humanize.Comma(int64(stats.Usage.Used)),
					humanize.Comma(int64(stats.Usage.Limit)))
				continue
			}

			reply, err := o.SubmitRequest(ctx, sessionID, line)
			if reply != "" {
				fmt.Fprintln(out, reply)
			}
			switch {
			case errors.Is(err, contractx.ErrCancelledRequest):
				return err
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id to resume")
	rootCmd.AddCommand(chatCmd)
}
