package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/EDR-POC/analyzer/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect detection rule files",
	}
	cmd.AddCommand(newRulesValidateCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Load and validate a rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := rules.LoadFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rules OK\n", args[0], len(list))
			for _, r := range list {
				fmt.Fprintf(out, "  %-32s severity=%-4d conditions=%d\n", r.ID, r.Severity, len(r.Conditions))
			}
			return nil
		},
	}
}
