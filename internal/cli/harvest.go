package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vault-harvester/internal/app"
)

var (
	harvestChain  string
	harvestDryRun bool
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one immediate harvest pass for a single chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if harvestChain == "" {
			return fmt.Errorf("--chain is required")
		}

		return getApp().Harvest(cmd.Context(), app.HarvestOptions{
			Chain:  harvestChain,
			DryRun: harvestDryRun,
		})
	},
}

func init() {
	harvestCmd.Flags().StringVar(&harvestChain, "chain", "", "Chain to harvest")
	harvestCmd.Flags().BoolVar(&harvestDryRun, "dry-run", false, "Stop after the decision stage; submit nothing")
}
