package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway service",
	Long: `Stop the running chat gateway service.

In-flight streams are given the server's shutdown grace period before the
process exits.`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir)

	pid := procMgr.ReadPID()
	if pid == 0 || !procMgr.IsRunning() {
		color.Yellow("%s is not running", AppName)
		procMgr.CleanupPID()

		return nil
	}

	color.Yellow("Stopping %s (PID %d)...", AppName, pid)

	if err := procMgr.Stop(); err != nil {
		return err
	}

	color.Green("%s stopped", AppName)

	return nil
}
