package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
)

const (
	AppName = "mcp-chat-gateway"
	Version = "0.3.0"

	// ConfigDirEnv overrides the configuration directory.
	ConfigDirEnv = "MCPGW_CONFIG_DIR"
	logFilename  = "mcpgw.log"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	baseDir = os.Getenv(ConfigDirEnv)
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("Failed to get home directory", "error", err)
			os.Exit(1)
		}
		baseDir = filepath.Join(homeDir, "."+AppName)
	}
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:     "mcpgw",
	Short:   "MCP Chat Gateway - tool-calling LLM gateway",
	Long:    `An OpenAI-compatible chat gateway that runs multi-turn tool loops against MCP servers on top of Bedrock Converse, OpenAI-compatible and tag-protocol upstreams.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logFile, _ := cmd.Flags().GetBool("log-file")
		if err := setupLogging(verbose, logFile); err != nil {
			return err
		}
		return config.LoadDotEnv(".env", filepath.Join(baseDir, ".env"))
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("log-file", "l", false, "also write logs to "+logFilename+" in the config directory")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose, logFile bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logFile {
		if err := os.MkdirAll(baseDir, 0750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(baseDir, logFilename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found in %s", baseDir)
		fmt.Println("Please run 'mcpgw config init' to set up your configuration")
		return fmt.Errorf("configuration required")
	}
	return nil
}
