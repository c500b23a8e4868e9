package main

import "github.com/mihaisavezi/mcp-chat-gateway/cmd"

func main() {
	cmd.Execute()
}
