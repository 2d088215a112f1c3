package aem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every outbound AEM call.
const DefaultTimeout = 30 * time.Second

// Config carries the connection settings for one AEM instance.
type Config struct {
	// BaseURL is the author instance origin, e.g.
	// https://author-p1234-e5678.adobeaemcloud.com
	BaseURL string
	// APIKey is sent as x-api-key on every call regardless of scheme; AEM
	// expects it to equal the OAuth client id.
	APIKey string
	// Timeout per outbound call; DefaultTimeout when zero.
	Timeout time.Duration
}

// Shared HTTP client with connection pooling.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client is the single entry point for AEM operations. It selects the
// backend protocol and authentication scheme per operation, attaches a valid
// bearer token, and retries exactly once on a 401.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenSource
	classic    *classicAPI
	modern     *modernAPI
	logger     *slog.Logger
}

// NewClient builds a client over the given token source.
func NewClient(cfg Config, tokens TokenSource, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: sharedHTTPClient,
		tokens:     tokens,
		classic:    &classicAPI{baseURL: cfg.BaseURL},
		modern:     &modernAPI{baseURL: cfg.BaseURL},
		logger:     logger,
	}
}

// ListFolders lists the child folders directly under path.
func (c *Client) ListFolders(ctx context.Context, path string) ([]Folder, error) {
	if err := requirePath("path", path); err != nil {
		return nil, err
	}
	body, err := c.send(ctx, "listFolders", path, SchemeJWT, func(ctx context.Context) (*http.Request, error) {
		return c.classic.listingRequest(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	folders, _, err := c.classic.parseListing(body)
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// ListAssetsByFolder lists the assets directly inside a folder,
// non-recursively.
func (c *Client) ListAssetsByFolder(ctx context.Context, folderPath string) ([]Asset, error) {
	if err := requirePath("folderPath", folderPath); err != nil {
		return nil, err
	}
	body, err := c.send(ctx, "listAssetsByFolder", folderPath, SchemeJWT, func(ctx context.Context) (*http.Request, error) {
		return c.classic.listingRequest(ctx, folderPath)
	})
	if err != nil {
		return nil, err
	}
	_, assets, err := c.classic.parseListing(body)
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// SearchAssets runs a full-text query through the modern API.
func (c *Client) SearchAssets(ctx context.Context, query string, limit int) ([]Asset, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "query", Msg: "must not be empty"}
	}
	if limit <= 0 {
		limit = 100
	}
	body, err := c.send(ctx, "searchAssets", "", SchemeOAuth, func(ctx context.Context) (*http.Request, error) {
		return c.modern.searchRequest(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	return c.modern.parseSearch(body)
}

// ListAllAssets lists assets through the modern API, optionally scoped to a
// repository path.
func (c *Client) ListAllAssets(ctx context.Context, path string, limit int) ([]Asset, error) {
	if limit <= 0 {
		limit = 100
	}
	body, err := c.send(ctx, "listAllAssets", path, SchemeOAuth, func(ctx context.Context) (*http.Request, error) {
		return c.modern.listRequest(ctx, path, limit)
	})
	if err != nil {
		return nil, err
	}
	return c.modern.parseSearch(body)
}

// ListPublishedAssets lists assets that have been published. The publication
// flag may arrive top-level or as dam:published metadata depending on the
// instance version.
func (c *Client) ListPublishedAssets(ctx context.Context, limit int) ([]Asset, error) {
	assets, err := c.ListAllAssets(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	published := make([]Asset, 0, len(assets))
	for _, asset := range assets {
		if asset.Published || asset.Metadata["dam:published"] == "true" {
			published = append(published, asset)
		}
	}
	return published, nil
}

// ListAssetsByCreator lists assets created by the given principal, matching
// either the createdBy property or dc:creator metadata.
func (c *Client) ListAssetsByCreator(ctx context.Context, createdBy string, limit int) ([]Asset, error) {
	if strings.TrimSpace(createdBy) == "" {
		return nil, &ValidationError{Field: "createdBy", Msg: "must not be empty"}
	}
	assets, err := c.ListAllAssets(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	matched := make([]Asset, 0, len(assets))
	for _, asset := range assets {
		if asset.CreatedBy == createdBy || asset.Metadata["dc:creator"] == createdBy {
			matched = append(matched, asset)
		}
	}
	return matched, nil
}

// GetAssetDetails fetches a single asset with its full metadata.
func (c *Client) GetAssetDetails(ctx context.Context, assetPath string) (Asset, error) {
	if err := requirePath("assetPath", assetPath); err != nil {
		return Asset{}, err
	}
	body, err := c.send(ctx, "getAssetDetails", assetPath, SchemeJWT, func(ctx context.Context) (*http.Request, error) {
		return c.classic.listingRequest(ctx, assetPath)
	})
	if err != nil {
		return Asset{}, err
	}
	return c.classic.parseAsset(body)
}

// UpdateMetadata applies a key-value patch to one asset's metadata and
// returns the updated canonical asset.
func (c *Client) UpdateMetadata(ctx context.Context, assetPath string, patch map[string]string) (Asset, error) {
	if err := requirePath("assetPath", assetPath); err != nil {
		return Asset{}, err
	}
	if len(patch) == 0 {
		return Asset{}, &ValidationError{Field: "metadata", Msg: "must not be empty"}
	}
	body, err := c.send(ctx, "updateMetadata", assetPath, SchemeOAuth, func(ctx context.Context) (*http.Request, error) {
		return c.modern.updateMetadataRequest(ctx, assetPath, patch)
	})
	if err != nil {
		return Asset{}, err
	}
	return c.modern.parseAsset(body)
}

// send performs one authenticated call: token, headers, status mapping, and
// a single retry with a fresh token when the first response is a 401.
func (c *Client) send(ctx context.Context, op, path string, scheme Scheme, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	status, body, err := c.do(ctx, op, scheme, build)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("401 from AEM, refreshing token and retrying once", "op", op, "scheme", scheme)
		c.tokens.Invalidate(scheme)
		status, body, err = c.do(ctx, op, scheme, build)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{Reason: "unauthorized_after_retry", HTTPStatus: status}
		}
	}

	switch {
	case status >= 200 && status <= 299:
		return body, nil
	case status == http.StatusNotFound:
		return nil, &NotFoundError{Path: path}
	case status == http.StatusForbidden:
		return nil, &ForbiddenError{Path: path}
	default:
		return nil, &UpstreamError{Status: status, Body: truncate(string(body), 512)}
	}
}

func (c *Client) do(ctx context.Context, op string, scheme Scheme, build func(context.Context) (*http.Request, error)) (int, []byte, error) {
	token, err := c.tokens.GetValidToken(ctx, scheme)
	if err != nil {
		return 0, nil, err
	}

	req, err := build(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, &TimeoutError{Op: op}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return 0, nil, &TimeoutError{Op: op}
			}
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	return resp.StatusCode, body, nil
}

func requirePath(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Msg: "must not be empty"}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
