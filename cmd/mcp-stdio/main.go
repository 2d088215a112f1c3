package main

import (
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/damworks/aem-assets-mcp/internal/app"
	"github.com/damworks/aem-assets-mcp/internal/config"
)

func main() {
	// Stdout carries the MCP protocol; everything else goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	config.LoadEnv(".env")

	a, err := app.New(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := server.ServeStdio(a.Server); err != nil {
		logger.Error("stdio server stopped", "error", err)
		os.Exit(1)
	}
}
