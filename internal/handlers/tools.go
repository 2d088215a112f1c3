// Package handlers registers the MCP tools and dispatches them to the AEM
// client. It owns argument coercion and result serialization only; all
// domain behavior lives in internal/aem.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/damworks/aem-assets-mcp/internal/aem"
	"github.com/damworks/aem-assets-mcp/internal/events"
	"github.com/damworks/aem-assets-mcp/internal/history"
)

type assetClient interface {
	ListFolders(ctx context.Context, path string) ([]aem.Folder, error)
	ListAssetsByFolder(ctx context.Context, folderPath string) ([]aem.Asset, error)
	ListAllAssets(ctx context.Context, path string, limit int) ([]aem.Asset, error)
	ListPublishedAssets(ctx context.Context, limit int) ([]aem.Asset, error)
	ListAssetsByCreator(ctx context.Context, createdBy string, limit int) ([]aem.Asset, error)
	SearchAssets(ctx context.Context, query string, limit int) ([]aem.Asset, error)
	GetAssetDetails(ctx context.Context, assetPath string) (aem.Asset, error)
	UpdateMetadata(ctx context.Context, assetPath string, patch map[string]string) (aem.Asset, error)
}

type bulkUpdater interface {
	BulkUpdateMetadata(ctx context.Context, folderPath string, patch map[string]string) (aem.BulkUpdateResult, error)
}

type runHistory interface {
	Record(ctx context.Context, result aem.BulkUpdateResult, startedAt, finishedAt time.Time) (string, error)
	Get(ctx context.Context, runID string) (*history.Run, error)
}

// Deps wires the tool handlers to the core and the audit supplements.
// History and Events may be nil.
type Deps struct {
	Client  assetClient
	Bulk    bulkUpdater
	History runHistory
	Events  *events.Publisher
	Logger  *slog.Logger
}

// Register adds every AEM tool to the MCP server.
func Register(s *server.MCPServer, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s.AddTool(
		mcp.NewTool("ping",
			mcp.WithDescription("Health check - returns pong"),
		),
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("pong"), nil
		},
	)

	s.AddTool(listFoldersTool(), listFoldersHandler(deps))
	s.AddTool(listAssetsTool(), listAssetsHandler(deps))
	s.AddTool(listAllAssetsTool(), listAllAssetsHandler(deps))
	s.AddTool(listPublishedTool(), listPublishedHandler(deps))
	s.AddTool(listByCreatorTool(), listByCreatorHandler(deps))
	s.AddTool(searchAssetsTool(), searchAssetsHandler(deps))
	s.AddTool(getAssetTool(), getAssetHandler(deps))
	s.AddTool(updateMetadataTool(), updateMetadataHandler(deps))
	s.AddTool(bulkUpdateTool(), bulkUpdateHandler(deps))
	s.AddTool(getBulkRunTool(), getBulkRunHandler(deps))
}

// --- list_folders ---

func listFoldersTool() mcp.Tool {
	return mcp.NewTool("list_folders",
		mcp.WithDescription("List all folders in the specified AEM path."),
		mcp.WithString("path",
			mcp.Description("The AEM folder path to list (e.g. \"/content/dam\"). Defaults to the DAM root."),
		),
	)
}

func listFoldersHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "/")
		folders, err := deps.Client.ListFolders(ctx, path)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(folders)
	}
}

// --- list_assets_by_folder ---

func listAssetsTool() mcp.Tool {
	return mcp.NewTool("list_assets_by_folder",
		mcp.WithDescription("List all assets directly inside a folder (non-recursive)."),
		mcp.WithString("folder_path",
			mcp.Description("The full AEM folder path (e.g. \"/content/dam/products\")."),
			mcp.Required(),
		),
	)
}

func listAssetsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folderPath := req.GetString("folder_path", "")
		assets, err := deps.Client.ListAssetsByFolder(ctx, folderPath)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(assets)
	}
}

// --- list_all_assets ---

func listAllAssetsTool() mcp.Tool {
	return mcp.NewTool("list_all_assets",
		mcp.WithDescription("List assets across the DAM, optionally scoped to a path."),
		mcp.WithString("path",
			mcp.Description("Optional repository path to scope the listing to."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results"),
			mcp.DefaultNumber(100),
		),
	)
}

func listAllAssetsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		limit := req.GetInt("limit", 100)
		assets, err := deps.Client.ListAllAssets(ctx, path, limit)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(assets)
	}
}

// --- list_published_assets ---

func listPublishedTool() mcp.Tool {
	return mcp.NewTool("list_published_assets",
		mcp.WithDescription("List assets that have been published."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results"),
			mcp.DefaultNumber(100),
		),
	)
}

func listPublishedHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 100)
		assets, err := deps.Client.ListPublishedAssets(ctx, limit)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(assets)
	}
}

// --- list_assets_by_creator ---

func listByCreatorTool() mcp.Tool {
	return mcp.NewTool("list_assets_by_creator",
		mcp.WithDescription("List assets created by a specific user."),
		mcp.WithString("created_by",
			mcp.Description("The creator's user id (e.g. \"admin\")."),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results"),
			mcp.DefaultNumber(100),
		),
	)
}

func listByCreatorHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		createdBy := req.GetString("created_by", "")
		limit := req.GetInt("limit", 100)
		assets, err := deps.Client.ListAssetsByCreator(ctx, createdBy, limit)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(assets)
	}
}

// --- search_assets ---

func searchAssetsTool() mcp.Tool {
	return mcp.NewTool("search_assets",
		mcp.WithDescription("Full-text search for assets across the DAM."),
		mcp.WithString("query",
			mcp.Description("Search keywords"),
			mcp.Required(),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results"),
			mcp.DefaultNumber(100),
		),
	)
}

func searchAssetsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		limit := req.GetInt("limit", 100)
		assets, err := deps.Client.SearchAssets(ctx, query, limit)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(assets)
	}
}

// --- get_asset_details ---

func getAssetTool() mcp.Tool {
	return mcp.NewTool("get_asset_details",
		mcp.WithDescription("Get detailed information about a specific asset, including all metadata."),
		mcp.WithString("asset_path",
			mcp.Description("The asset path (e.g. \"/content/dam/products/image.jpg\")."),
			mcp.Required(),
		),
	)
}

func getAssetHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assetPath := req.GetString("asset_path", "")
		asset, err := deps.Client.GetAssetDetails(ctx, assetPath)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(asset)
	}
}

// --- update_asset_metadata ---

func updateMetadataTool() mcp.Tool {
	return mcp.NewTool("update_asset_metadata",
		mcp.WithDescription("Update metadata fields on a single asset."),
		mcp.WithString("asset_path",
			mcp.Description("The asset path."),
			mcp.Required(),
		),
		mcp.WithObject("metadata",
			mcp.Description("Metadata fields to set (e.g. {\"dc:title\": \"New Title\"})."),
			mcp.Required(),
		),
	)
}

func updateMetadataHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assetPath := req.GetString("asset_path", "")
		patch, err := metadataArg(req)
		if err != nil {
			return toolError(err)
		}
		asset, err := deps.Client.UpdateMetadata(ctx, assetPath, patch)
		if err != nil {
			return toolError(err)
		}
		return jsonResult(asset)
	}
}

// --- bulk_update_metadata ---

func bulkUpdateTool() mcp.Tool {
	return mcp.NewTool("bulk_update_metadata",
		mcp.WithDescription("Apply one metadata patch to every asset in a folder, or to a single asset. Reports per-asset success and failure."),
		mcp.WithObject("metadata",
			mcp.Description("Metadata fields to set on each asset."),
			mcp.Required(),
		),
		mcp.WithString("folder_path",
			mcp.Description("Folder whose assets should be updated (non-recursive)."),
		),
		mcp.WithString("asset_path",
			mcp.Description("Single asset to update instead of a folder."),
		),
	)
}

func bulkUpdateHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patch, err := metadataArg(req)
		if err != nil {
			return toolError(err)
		}
		folderPath := req.GetString("folder_path", "")
		assetPath := req.GetString("asset_path", "")

		if folderPath == "" && assetPath == "" {
			return toolError(&aem.ValidationError{Field: "folder_path", Msg: "either folder_path or asset_path must be provided"})
		}

		if assetPath != "" {
			asset, err := deps.Client.UpdateMetadata(ctx, assetPath, patch)
			if err != nil {
				return toolError(err)
			}
			return jsonResult(asset)
		}

		startedAt := time.Now()
		result, err := deps.Bulk.BulkUpdateMetadata(ctx, folderPath, patch)
		if err != nil {
			return toolError(err)
		}
		finishedAt := time.Now()

		runID := ""
		if deps.History != nil {
			id, err := deps.History.Record(ctx, result, startedAt, finishedAt)
			if err != nil {
				deps.Logger.Warn("failed to record bulk run", "folder", folderPath, "error", err)
			} else {
				runID = id
			}
		}
		deps.Events.PublishBulkCompleted(ctx, runID, result, finishedAt)

		return jsonResult(result)
	}
}

// --- get_bulk_run ---

func getBulkRunTool() mcp.Tool {
	return mcp.NewTool("get_bulk_run",
		mcp.WithDescription("Look up a recorded bulk metadata update run by its id."),
		mcp.WithString("run_id",
			mcp.Description("The run id returned when the bulk update was recorded."),
			mcp.Required(),
		),
	)
}

func getBulkRunHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID := req.GetString("run_id", "")
		if runID == "" {
			return toolError(&aem.ValidationError{Field: "run_id", Msg: "must not be empty"})
		}
		if deps.History == nil {
			return toolError(&aem.NotFoundError{Path: runID})
		}
		run, err := deps.History.Get(ctx, runID)
		if err != nil {
			return toolError(err)
		}
		if run == nil {
			return toolError(&aem.NotFoundError{Path: runID})
		}
		return jsonResult(run)
	}
}

// metadataArg coerces the metadata object argument into the flat string map
// the core expects.
func metadataArg(req mcp.CallToolRequest) (map[string]string, error) {
	raw, ok := req.GetArguments()["metadata"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, &aem.ValidationError{Field: "metadata", Msg: "must be a non-empty object"}
	}
	patch := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			patch[key] = v
		case float64, bool:
			patch[key] = fmt.Sprint(v)
		default:
			return nil, &aem.ValidationError{Field: "metadata", Msg: fmt.Sprintf("value for %q must be a scalar", key)}
		}
	}
	return patch, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", aem.ErrorKind(err), err.Error())), nil
}
