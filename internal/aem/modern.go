package aem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// modernAPI talks to the flat-JSON assets API (/adobe/assets). It serves
// keyword search and metadata mutation; it has no path-addressed folder
// listing, and the client never routes such calls here.
type modernAPI struct {
	baseURL string
}

const modernBasePath = "/adobe/assets"

type modernItem struct {
	Path       string            `json:"path"`
	Name       string            `json:"name"`
	MimeType   string            `json:"mimeType"`
	Published  bool              `json:"published"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  string            `json:"createdAt"`
	CreatedBy  string            `json:"createdBy"`
	ModifiedAt string            `json:"modifiedAt"`
}

type modernListing struct {
	Items []modernItem `json:"items"`
}

func (m *modernAPI) searchRequest(ctx context.Context, query string, limit int) (*http.Request, error) {
	params := url.Values{
		"fulltext": {query},
		"limit":    {strconv.Itoa(limit)},
	}
	u := m.baseURL + modernBasePath + "?" + params.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (m *modernAPI) listRequest(ctx context.Context, path string, limit int) (*http.Request, error) {
	params := url.Values{
		"limit": {strconv.Itoa(limit)},
	}
	if path != "" {
		params.Set("path", path)
	}
	u := m.baseURL + modernBasePath + "?" + params.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (m *modernAPI) parseSearch(body []byte) ([]Asset, error) {
	var listing modernListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	assets := make([]Asset, 0, len(listing.Items))
	for _, item := range listing.Items {
		assets = append(assets, assetFromItem(item))
	}
	return assets, nil
}

func (m *modernAPI) updateMetadataRequest(ctx context.Context, assetPath string, patch map[string]string) (*http.Request, error) {
	payload, err := json.Marshal(map[string]any{"metadata": patch})
	if err != nil {
		return nil, err
	}
	u := m.baseURL + modernBasePath + escapePath(assetPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (m *modernAPI) parseAsset(body []byte) (Asset, error) {
	var item modernItem
	if err := json.Unmarshal(body, &item); err != nil {
		return Asset{}, fmt.Errorf("decoding asset response: %w", err)
	}
	return assetFromItem(item), nil
}

func assetFromItem(item modernItem) Asset {
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return Asset{
		Path:       item.Path,
		Name:       item.Name,
		MimeType:   item.MimeType,
		Published:  item.Published,
		Metadata:   metadata,
		CreatedAt:  item.CreatedAt,
		CreatedBy:  item.CreatedBy,
		ModifiedAt: item.ModifiedAt,
	}
}
