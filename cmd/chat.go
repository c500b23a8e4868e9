package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/orchestrator"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/server"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Send one prompt through the gateway in-process",
	Long: `Build the gateway from the current configuration and run a single prompt
through the tool loop, printing reasoning, tool calls and the answer as they stream.
Press Ctrl-C once to stop the stream gracefully.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("model", "m", "", "model ID, or provider,model")
	chatCmd.Flags().StringSlice("mcp", nil, "MCP server IDs whose tools are offered")
	chatCmd.Flags().String("system", "", "system prompt")
	chatCmd.Flags().Int("max-tokens", 4000, "maximum output tokens per turn")
	chatCmd.Flags().Float32("temperature", 0.5, "sampling temperature")
	_ = chatCmd.MarkFlagRequired("model")
}

func runChat(cmd *cobra.Command, args []string) error {
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

	model, _ := cmd.Flags().GetString("model")
	serverIDs, _ := cmd.Flags().GetStringSlice("mcp")
	system, _ := cmd.Flags().GetString("system")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	temperature, _ := cmd.Flags().GetFloat32("temperature")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	gw, err := server.Build(ctx, cfg, Version, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	provider, upstreamModel, err := gw.Providers.ForModel(model)
	if err != nil {
		return err
	}

	toolConfig, err := gw.Tools.Shared().ToolConfig(ctx, serverIDs)
	if err != nil {
		return err
	}
	if toolConfig.Empty() {
		toolConfig = nil
	}

	req := orchestrator.RunRequest{
		Provider:              provider,
		Model:                 upstreamModel,
		MaxTokens:             maxTokens,
		Temperature:           temperature,
		Messages:              []message.Message{{Role: message.RoleUser, Content: []message.Block{message.TextBlock(strings.Join(args, " "))}}},
		ToolConfig:            toolConfig,
		Tools:                 gw.Tools.Shared(),
		Stream:                cfg.UpstreamStreaming(provider.Name()),
		OnlyNMostRecentImages: cfg.OnlyNMostRecentImages,
		StreamID:              fmt.Sprintf("cli_%d", time.Now().UnixNano()),
		Owner:                 "cli",
	}
	if system != "" {
		req.System = []message.Block{message.TextBlock(system)}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()

	stream := gw.Orchestrator.RunStream(ctx, req)
	go func() {
		if _, ok := <-sigs; ok {
			gw.Streams.RequestStop(req.StreamID)
		}
	}()

	p := newEventPrinter(os.Stdout)
	for ev := range stream.Events() {
		p.Print(ev)
	}
	p.Finish()

	result := stream.Result()
	logger.Debug("Chat finished", "turns", result.Turns, "stop_reason", result.StopReason)
	return result.Err
}

// eventPrinter renders canonical events for a terminal.
type eventPrinter struct {
	out io.Writer

	reasoning *color.Color
	tool      *color.Color
	result    *color.Color
	failure   *color.Color
	notice    *color.Color

	inReasoning bool
	inToolInput bool
}

func newEventPrinter(out io.Writer) *eventPrinter {
	return &eventPrinter{
		out:       out,
		reasoning: color.New(color.Faint, color.Italic),
		tool:      color.New(color.FgCyan),
		result:    color.New(color.FgYellow),
		failure:   color.New(color.FgRed, color.Bold),
		notice:    color.New(color.FgMagenta),
	}
}

func (p *eventPrinter) Print(ev message.StreamEvent) {
	switch ev.Type {
	case message.EventBlockStart:
		if ev.ToolStart != nil {
			p.endReasoning()
			p.tool.Fprintf(p.out, "\n→ %s ", ev.ToolStart.Name)
			p.inToolInput = true
		}

	case message.EventBlockDelta:
		if ev.Delta == nil {
			return
		}
		switch ev.Delta.Kind {
		case message.DeltaReasoning:
			p.inReasoning = true
			p.reasoning.Fprint(p.out, ev.Delta.Value)
		case message.DeltaToolInput:
			p.tool.Fprint(p.out, ev.Delta.Value)
		case message.DeltaText:
			p.endReasoning()
			fmt.Fprint(p.out, ev.Delta.Value)
		}

	case message.EventBlockStop:
		if p.inToolInput {
			p.inToolInput = false
			fmt.Fprintln(p.out)
		}

	case message.EventMessageStop:
		p.endReasoning()
		for _, r := range ev.ToolResults {
			p.result.Fprintf(p.out, "← %s [%s] %s\n", r.ToolUse.Name, r.ToolResult.Status, summarize(r.ToolResult))
		}

	case message.EventError:
		p.failure.Fprintf(p.out, "\nError: %s\n", ev.Error)

	case message.EventStopped:
		p.notice.Fprintf(p.out, "\n%s\n", ev.Message)
	}
}

// Finish terminates the last line.
func (p *eventPrinter) Finish() {
	p.endReasoning()
	fmt.Fprintln(p.out)
}

func (p *eventPrinter) endReasoning() {
	if p.inReasoning {
		p.inReasoning = false
		fmt.Fprintln(p.out)
	}
}

const summaryLimit = 120

func summarize(tr message.ToolResult) string {
	var parts []string
	images := 0
	for _, c := range tr.Content {
		switch {
		case c.Text != nil:
			parts = append(parts, *c.Text)
		case c.Image != nil:
			images++
		}
	}
	s := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if len(s) > summaryLimit {
		s = s[:summaryLimit] + "…"
	}
	if images > 0 {
		s += fmt.Sprintf(" (+%d image(s))", images)
	}
	return s
}
