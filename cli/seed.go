package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/seed"
)

func init() {
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load users and opening grants from a YAML file",
	Long: `Load demo users and opening grants from a YAML seed file. Grants are
applied through the ledger like any other adjustment. Applying the same file
again does not grant twice.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.Load(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := seed.Apply(cmd.Context(), f, a.store, a.ledger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d user(s), %d grant(s)\n", res.Users, res.Grants)
		return nil
	},
}
