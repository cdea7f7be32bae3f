package cmd

import (
	"fmt"
	"os"

	"escrow-backend/core/identity"

	"github.com/spf13/cobra"
)

var (
	keygenOut   string
	keygenForce bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a wallet keypair file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(keygenOut); err == nil && !keygenForce {
			return fmt.Errorf("%s exists, use --force to overwrite", keygenOut)
		}
		kp, err := identity.Generate()
		if err != nil {
			return err
		}
		if err := identity.Save(keygenOut, kp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\nwritten to %s\n", kp.Pubkey(), keygenOut)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "escrow-keypair.json", "output path")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(keygenCmd)
}
