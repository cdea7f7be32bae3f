package cmd

import (
	"fmt"

	"escrow-backend/config"
	"escrow-backend/logging"

	"github.com/spf13/cobra"
)

var (
	// Version information
	Version   = "1.0.0"
	CommitSHA = "unknown"
	BuildTime = "unknown"

	// Global flags
	envFile   string
	keyFile   string
	logLevel  string
	debugMode bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "escrowd",
	Short: "Agent task bounty escrow",
	Long: `escrowd runs the agent task bounty escrow.

A poster locks a bounty in a vault only the escrow program can sign for, an
agent claims the task and submits a content hash of the deliverable, and the
poster approves (agent paid, 3% platform fee) or cancels an unclaimed task
(full refund).

Configuration comes from ESCROW_* environment variables and an optional .env file.`,
	Version:       fmt.Sprintf("%s (Build: %s, Commit: %s)", Version, BuildTime, CommitSHA),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addGlobalFlags(rootCmd)
	rootCmd.SetVersionTemplate(`Version: {{.Version}}
`)
}

func addGlobalFlags(c *cobra.Command) {
	c.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	c.PersistentFlags().StringVar(&keyFile, "key-file", "", "wallet keypair file (overrides ESCROW_KEY_FILE)")
	c.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides ESCROW_LOG_LEVEL)")
	c.PersistentFlags().BoolVar(&debugMode, "debug", false, "debug logging with console output")
}

// loadConfig reads configuration and applies flag overrides, then sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if keyFile != "" {
		cfg.KeyFile = keyFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debugMode {
		cfg.LogLevel = "debug"
		cfg.LogPretty = true
	}
	logging.Init(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}
