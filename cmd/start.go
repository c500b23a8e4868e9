package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/process"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the chat gateway in the foreground, or in the background with --background.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolP("background", "b", false, "run the service detached")
}

func runStart(cmd *cobra.Command, _ []string) error {
	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	procMgr := process.NewManager(baseDir)

	if background, _ := cmd.Flags().GetBool("background"); background {
		started, err := procMgr.StartBackground(os.Args[0], "start")
		if err != nil {
			return err
		}
		if !started {
			color.Yellow("Service is already running (PID %d)", procMgr.ReadPID())
			return nil
		}
		color.Green("Service started in the background (PID %d)", procMgr.ReadPID())
		return nil
	}

	if procMgr.IsRunning() {
		return fmt.Errorf("service already running with PID %d", procMgr.ReadPID())
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"upstreams", len(cfg.Upstreams),
		"mcp_servers", len(cfg.MCPServers),
	)

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, Version, logger)
	return srv.Start()
}
