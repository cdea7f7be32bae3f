package cmd

import (
	"encoding/json"
	"fmt"

	"escrow-backend/core/escrow"

	"github.com/spf13/cobra"
)

var (
	addressProgramID string
	addressOwner     string
)

var addressCmd = &cobra.Command{
	Use:   "address <task-id-hex>",
	Short: "Derive the record and vault addresses of a task",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		programID := escrow.DefaultProgramID
		if addressProgramID != "" {
			pk, err := escrow.PubkeyFromBase58(addressProgramID)
			if err != nil {
				return err
			}
			programID = pk
		}

		out := map[string]any{"program_id": programID}
		if len(args) == 1 {
			id, err := escrow.TaskIDFromHex(args[0])
			if err != nil {
				return err
			}
			addrs, err := escrow.DeriveTaskAddresses(programID, id)
			if err != nil {
				return err
			}
			out["task"] = addrs
		}
		if addressOwner != "" {
			owner, err := escrow.PubkeyFromBase58(addressOwner)
			if err != nil {
				return err
			}
			acct, err := escrow.AccountAddress(programID, owner)
			if err != nil {
				return err
			}
			out["account"] = acct
		}
		if len(out) == 1 {
			return fmt.Errorf("pass a task id or --owner")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	addressCmd.Flags().StringVar(&addressProgramID, "program-id", "", "program identity (base58); default is the built-in id")
	addressCmd.Flags().StringVar(&addressOwner, "owner", "", "also derive the token account of this owner")
	rootCmd.AddCommand(addressCmd)
}
