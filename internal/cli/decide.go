package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var decideChain string

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Simulate and decide for a single chain without submitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if decideChain == "" {
			return fmt.Errorf("--chain is required")
		}

		return getApp().Decide(cmd.Context(), decideChain)
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideChain, "chain", "", "Chain to evaluate")
}
