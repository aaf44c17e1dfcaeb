package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

var planOpts planFlags

var planCmd = &cobra.Command{
	Use:   "plan <manifest>",
	Short: "Print the build plan of a manifest",
	Long: `Plan resolves the recipes a manifest requires and prints, per architecture,
the order they would be built in. Nothing is fetched or built.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planOpts.register(planCmd)
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	_, plan, err := planOpts.load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), plan.String())
	return nil
}
