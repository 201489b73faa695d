// Command fileinfo-mcp runs the bundled file-info MCP server over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bladecode/blade/pkg/mcpserver/fileinfo"
)

func main() {
	s := fileinfo.NewServer()
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
