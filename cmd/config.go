package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the chat gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for one upstream, or write an example YAML file with --example.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration and list every problem found.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("example", false, "write an example config.yaml instead of prompting")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if example, _ := cmd.Flags().GetBool("example"); example {
		if err := cfgMgr.CreateExampleYAML(); err != nil {
			return fmt.Errorf("failed to write example configuration: %w", err)
		}
		color.Green("Example configuration written to: %s", cfgMgr.GetPath())
		color.Cyan("Edit the upstream keys, then start the gateway with: mcpgw start")
		return nil
	}

	color.Blue("MCP Chat Gateway Configuration Setup")
	color.Yellow("Follow the prompts to configure one upstream. Add more by editing the file.")

	cfg, err := promptConfig(bufio.NewReader(os.Stdin), os.Stdout)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfgMgr.SaveAsYAML(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: mcpgw start")

	return nil
}

func promptConfig(reader *bufio.Reader, out io.Writer) (*config.Config, error) {
	ask := func(label string) (string, error) {
		fmt.Fprintf(out, "%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	name, err := ask("\nUpstream name (e.g., bedrock, openai, deepseek)")
	if err != nil {
		return nil, err
	}
	protocol, err := ask("Protocol (converse, openai, tag)")
	if err != nil {
		return nil, err
	}

	upstream := config.Upstream{Name: name, Protocol: protocol}
	if strings.EqualFold(protocol, "converse") || strings.EqualFold(protocol, "bedrock") {
		if upstream.Region, err = ask("AWS region"); err != nil {
			return nil, err
		}
	} else {
		if upstream.APIBase, err = ask("API base URL"); err != nil {
			return nil, err
		}
		if upstream.APIKey, err = ask("API key"); err != nil {
			return nil, err
		}
	}

	models, err := ask("Models (comma separated)")
	if err != nil {
		return nil, err
	}
	for _, m := range strings.Split(models, ",") {
		if m = strings.TrimSpace(m); m != "" {
			upstream.Models = append(upstream.Models, m)
		}
	}

	gatewayKey, err := ask("Gateway API key (optional, for authentication)")
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Host:      config.DefaultHost,
		Port:      config.DefaultPort,
		APIKey:    gatewayKey,
		Upstreams: []config.Upstream{upstream},
	}, nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run 'mcpgw config init' to create one.")
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-18s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-18s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-18s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-18s: %d\n", "Max Turns", cfg.MaxTurns)
	fmt.Printf("  %-18s: %d\n", "Max Parallel Tools", cfg.MaxParallelTools)
	if cfg.OnlyNMostRecentImages != nil {
		fmt.Printf("  %-18s: %d\n", "Recent Images", *cfg.OnlyNMostRecentImages)
	}
	fmt.Printf("  %-18s: %d min\n", "Session Idle", cfg.SessionIdleMinutes)
	fmt.Printf("  %-18s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nUpstreams:")
	for _, u := range cfg.Upstreams {
		fmt.Printf("  - Name: %s\n", u.Name)
		fmt.Printf("    Protocol: %s\n", u.Protocol)
		if u.Region != "" {
			fmt.Printf("    Region: %s\n", u.Region)
		}
		if u.APIBase != "" {
			fmt.Printf("    API Base: %s\n", u.APIBase)
		}
		fmt.Printf("    API Key: %s\n", maskString(u.APIKey))
		fmt.Printf("    Models: %v\n", u.Models)
		fmt.Printf("    Stream: %v\n", u.Streaming())
		fmt.Println()
	}

	if len(cfg.MCPServers) > 0 {
		fmt.Println("MCP Servers:")
		for _, s := range cfg.MCPServers {
			fmt.Printf("  - ID: %s\n", s.ID)
			if s.Description != "" {
				fmt.Printf("    Description: %s\n", s.Description)
			}
			if s.URL != "" {
				fmt.Printf("    URL: %s\n", s.URL)
			} else {
				fmt.Printf("    Command: %s %s\n", s.Command, strings.Join(s.Args, " "))
			}
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
