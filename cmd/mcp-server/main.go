package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/damworks/aem-assets-mcp/internal/app"
	"github.com/damworks/aem-assets-mcp/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadEnv(".env")

	a, err := app.New(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	addr := fmt.Sprintf(":%d", a.Config.Port)
	logger.Info("MCP server listening", "addr", addr, "transport", "streamable-http")

	httpServer := server.NewStreamableHTTPServer(a.Server)
	if err := httpServer.Start(addr); err != nil {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}
