package cmd

import (
	"fmt"

	"escrow-backend/container"
	"escrow-backend/mcp"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the escrow agent tools over stdio",
	Long: `mcp serves the escrow as MCP tools on stdin/stdout. Every state-changing
tool signs as the wallet in --key-file. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// NewMCPCommand returns the stdio tool server as a standalone root command.
func NewMCPCommand() *cobra.Command {
	c := &cobra.Command{
		Use:          "mcpserver",
		Short:        mcpCmd.Short,
		Long:         mcpCmd.Long,
		Version:      Version,
		SilenceUsage: true,
		RunE:         runMCP,
	}
	addGlobalFlags(c)
	return c
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := container.NewCore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	s := mcp.NewMCPServer(c.Program, c.Wallet, Version)
	log.Info().
		Str("driver", cfg.StoreDriver).
		Str("wallet", c.Wallet.Pubkey().String()).
		Str("program_id", c.Program.ProgramID().String()).
		Msg("escrow MCP server starting")

	if err := server.ServeStdio(s.GetMCPServer()); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
