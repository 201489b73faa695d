// Package fileinfo provides a small stdio MCP server exposing file
// inspection tools. It exists to exercise the external tool protocol client
// end to end.
package fileinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates the MCP server with the file-info tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"fileinfo",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	statTool := mcp.NewTool("stat",
		mcp.WithDescription("Returns size, mode, and modification time for a path"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to inspect"),
		),
	)
	s.AddTool(statTool, handleStat)

	countTool := mcp.NewTool("line_count",
		mcp.WithDescription("Counts the lines in a text file"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file"),
		),
	)
	s.AddTool(countTool, handleLineCount)

	return s
}

// pathArg extracts the required path argument.
func pathArg(req mcp.CallToolRequest) (string, bool) {
	args := req.GetArguments()
	path, ok := args["path"].(string)
	return path, ok && path != ""
}

func handleStat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := pathArg(req)
	if !ok {
		return mcp.NewToolResultError("path argument is required"), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stat failed: %v", err)), nil
	}

	out := fmt.Sprintf("name: %s\nsize: %d\nmode: %s\nmodified: %s\ndir: %v",
		filepath.Base(path), info.Size(), info.Mode(), info.ModTime().Format("2006-01-02 15:04:05"), info.IsDir())
	return mcp.NewToolResultText(out), nil
}

func handleLineCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, ok := pathArg(req)
	if !ok {
		return mcp.NewToolResultError("path argument is required"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read failed: %v", err)), nil
	}

	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lines++
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", lines)), nil
}
