// Package app assembles the MCP server from configuration: token providers,
// the AEM client, the bulk updater, and the optional audit backends. Both
// entrypoints (stdio and streamable HTTP) share this wiring.
package app

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/damworks/aem-assets-mcp/internal/aem"
	"github.com/damworks/aem-assets-mcp/internal/auth"
	"github.com/damworks/aem-assets-mcp/internal/config"
	"github.com/damworks/aem-assets-mcp/internal/events"
	"github.com/damworks/aem-assets-mcp/internal/handlers"
	"github.com/damworks/aem-assets-mcp/internal/history"
)

const serverName = "aem-assets-mcp"

// Version is stamped at build time.
var Version = "dev"

// App holds the assembled server and everything that needs closing.
type App struct {
	Config *config.Config
	Server *server.MCPServer

	history *history.Store
	events  *events.Publisher
}

// New loads configuration and wires the whole server.
func New(logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	providers := map[aem.Scheme]auth.Provider{}
	if cfg.OAuth.ClientID != "" {
		providers[aem.SchemeOAuth] = auth.NewOAuthTokenProvider(auth.OAuthCredentials{
			ClientID:      cfg.OAuth.ClientID,
			ClientSecret:  cfg.OAuth.ClientSecret,
			Scopes:        cfg.OAuth.Scopes,
			TokenEndpoint: cfg.OAuth.TokenEndpoint,
		}, httpClient)
	}
	if cfg.JWT.ClientID != "" {
		providers[aem.SchemeJWT] = auth.NewJWTTokenProvider(auth.JWTCredentials{
			OrgID:              cfg.JWT.OrgID,
			TechnicalAccountID: cfg.JWT.TechnicalAccountID,
			ClientID:           cfg.JWT.ClientID,
			ClientSecret:       cfg.JWT.ClientSecret,
			PrivateKeyPEM:      cfg.JWT.PrivateKeyPEM,
			IMSHost:            cfg.JWT.IMSHost,
			Metascope:          cfg.JWT.Metascope,
			ExchangeEndpoint:   cfg.JWT.ExchangeEndpoint,
		}, httpClient)
	}

	tokens := auth.NewTokenStore(providers, logger)
	client := aem.NewClient(aem.Config{
		BaseURL: cfg.AEMBaseURL,
		APIKey:  cfg.APIKey(),
		Timeout: cfg.Timeout,
	}, tokens, logger)
	bulk := aem.NewBulkMetadataUpdater(client, cfg.BulkConcurrency, cfg.BulkAuthFailureLimit, logger)

	runs, err := history.New(history.Options{
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
		TTL:         cfg.HistoryTTL,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	publisher, err := events.Connect(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		runs.Close()
		return nil, err
	}

	mcpServer := server.NewMCPServer(
		serverName,
		Version,
		server.WithToolCapabilities(true),
	)
	handlers.Register(mcpServer, handlers.Deps{
		Client:  client,
		Bulk:    bulk,
		History: runs,
		Events:  publisher,
		Logger:  logger,
	})

	logger.Info("AEM assets MCP server assembled",
		"baseURL", cfg.AEMBaseURL,
		"oauth", cfg.OAuth.ClientID != "",
		"serviceAccount", cfg.JWT.ClientID != "")

	return &App{
		Config:  cfg,
		Server:  mcpServer,
		history: runs,
		events:  publisher,
	}, nil
}

// Close releases audit backends.
func (a *App) Close() {
	if a.history != nil {
		_ = a.history.Close()
	}
	a.events.Close()
}
