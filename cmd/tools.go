package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the planner can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry, err := newTools()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, spec := range registry.Specs() {
			fmt.Fprintf(out, "%s\n  %s\n", spec.Name, spec.Description)
			names := make([]string, 0, len(spec.Params))
			for name := range spec.Params {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p := spec.Params[name]
				flags := []string{p.Type}
				if p.Required {
					flags = append(flags, "required")
				}
				fmt.Fprintf(out, "  - %s (%s) %s\n", name, strings.Join(flags, ", "), p.Description)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
