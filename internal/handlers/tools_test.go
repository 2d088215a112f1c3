package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damworks/aem-assets-mcp/internal/aem"
	"github.com/damworks/aem-assets-mcp/internal/history"
)

type fakeAssetClient struct {
	listFoldersPath string
	listAllPath     string
	listAllLimit    int
	publishedLimit  int
	creator         string
	searchQuery     string
	searchLimit     int
	updatedPath     string
	updatedPatch    map[string]string
	err             error
}

func (f *fakeAssetClient) ListFolders(ctx context.Context, path string) ([]aem.Folder, error) {
	f.listFoldersPath = path
	if f.err != nil {
		return nil, f.err
	}
	return []aem.Folder{{Path: "/content/dam/marketing", Name: "marketing"}}, nil
}

func (f *fakeAssetClient) ListAssetsByFolder(ctx context.Context, folderPath string) ([]aem.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []aem.Asset{{Path: folderPath + "/a.jpg", Name: "a.jpg", Metadata: map[string]string{}}}, nil
}

func (f *fakeAssetClient) ListAllAssets(ctx context.Context, path string, limit int) ([]aem.Asset, error) {
	f.listAllPath = path
	f.listAllLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []aem.Asset{{Path: "/content/dam/a.jpg", Name: "a.jpg", Metadata: map[string]string{}}}, nil
}

func (f *fakeAssetClient) ListPublishedAssets(ctx context.Context, limit int) ([]aem.Asset, error) {
	f.publishedLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []aem.Asset{{Path: "/content/dam/pub.jpg", Name: "pub.jpg", Published: true, Metadata: map[string]string{}}}, nil
}

func (f *fakeAssetClient) ListAssetsByCreator(ctx context.Context, createdBy string, limit int) ([]aem.Asset, error) {
	f.creator = createdBy
	if f.err != nil {
		return nil, f.err
	}
	if createdBy == "" {
		return nil, &aem.ValidationError{Field: "createdBy", Msg: "must not be empty"}
	}
	return []aem.Asset{}, nil
}

func (f *fakeAssetClient) SearchAssets(ctx context.Context, query string, limit int) ([]aem.Asset, error) {
	f.searchQuery = query
	f.searchLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []aem.Asset{}, nil
}

func (f *fakeAssetClient) GetAssetDetails(ctx context.Context, assetPath string) (aem.Asset, error) {
	if f.err != nil {
		return aem.Asset{}, f.err
	}
	return aem.Asset{Path: assetPath, Metadata: map[string]string{}}, nil
}

func (f *fakeAssetClient) UpdateMetadata(ctx context.Context, assetPath string, patch map[string]string) (aem.Asset, error) {
	f.updatedPath = assetPath
	f.updatedPatch = patch
	if f.err != nil {
		return aem.Asset{}, f.err
	}
	return aem.Asset{Path: assetPath, Metadata: patch}, nil
}

type fakeBulk struct {
	folderPath string
	patch      map[string]string
	result     aem.BulkUpdateResult
	err        error
	calls      int
}

func (f *fakeBulk) BulkUpdateMetadata(ctx context.Context, folderPath string, patch map[string]string) (aem.BulkUpdateResult, error) {
	f.calls++
	f.folderPath = folderPath
	f.patch = patch
	if f.err != nil {
		return aem.BulkUpdateResult{}, f.err
	}
	return f.result, nil
}

type fakeHistory struct {
	recorded int
	lastID   string
	runs     map[string]*history.Run
	getErr   error
}

func (f *fakeHistory) Record(ctx context.Context, result aem.BulkUpdateResult, startedAt, finishedAt time.Time) (string, error) {
	f.recorded++
	f.lastID = "run-1"
	return f.lastID, nil
}

func (f *fakeHistory) Get(ctx context.Context, runID string) (*history.Run, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.runs[runID], nil
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content type %T", res.Content[0])
	return ""
}

func TestMetadataArgCoercesScalars(t *testing.T) {
	req := toolRequest(map[string]any{
		"metadata": map[string]any{
			"dc:title":    "Hero",
			"dc:rating":   4.5,
			"dc:approved": true,
		},
	})

	patch, err := metadataArg(req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"dc:title":    "Hero",
		"dc:rating":   "4.5",
		"dc:approved": "true",
	}, patch)
}

func TestMetadataArgRejectsNonScalar(t *testing.T) {
	req := toolRequest(map[string]any{
		"metadata": map[string]any{"dc:nested": map[string]any{"a": "b"}},
	})

	_, err := metadataArg(req)
	var validation *aem.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestMetadataArgRejectsMissingOrEmpty(t *testing.T) {
	var validation *aem.ValidationError

	_, err := metadataArg(toolRequest(map[string]any{}))
	require.ErrorAs(t, err, &validation)

	_, err = metadataArg(toolRequest(map[string]any{"metadata": map[string]any{}}))
	require.ErrorAs(t, err, &validation)
}

func TestListFoldersDefaultsToRoot(t *testing.T) {
	client := &fakeAssetClient{}
	handler := listFoldersHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "/", client.listFoldersPath)
	assert.Contains(t, textOf(t, res), "/content/dam/marketing")
}

func TestSearchAssetsDefaultsLimit(t *testing.T) {
	client := &fakeAssetClient{}
	handler := searchAssetsHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{"query": "beach"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "beach", client.searchQuery)
	assert.Equal(t, 100, client.searchLimit)
}

func TestDomainErrorsBecomeToolErrors(t *testing.T) {
	client := &fakeAssetClient{err: &aem.NotFoundError{Path: "/content/dam/gone.jpg"}}
	handler := getAssetHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{"asset_path": "/content/dam/gone.jpg"}))
	require.NoError(t, err, "domain failures are tool errors, not protocol errors")
	require.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "NotFoundError:")
}

func TestUpdateMetadataHandler(t *testing.T) {
	client := &fakeAssetClient{}
	handler := updateMetadataHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"asset_path": "/content/dam/hero.jpg",
		"metadata":   map[string]any{"dc:title": "Updated"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "/content/dam/hero.jpg", client.updatedPath)
	assert.Equal(t, map[string]string{"dc:title": "Updated"}, client.updatedPatch)
}

func TestBulkUpdateRequiresATarget(t *testing.T) {
	handler := bulkUpdateHandler(Deps{Client: &fakeAssetClient{}, Bulk: &fakeBulk{}})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"metadata": map[string]any{"k": "v"},
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "ValidationError:")
}

func TestBulkUpdateSingleAssetPassthrough(t *testing.T) {
	client := &fakeAssetClient{}
	bulk := &fakeBulk{}
	handler := bulkUpdateHandler(Deps{Client: client, Bulk: bulk})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"asset_path": "/content/dam/one.jpg",
		"metadata":   map[string]any{"k": "v"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "/content/dam/one.jpg", client.updatedPath)
	assert.Zero(t, bulk.calls, "a single asset never goes through the folder pipeline")
}

func TestListAllAssetsPassesScope(t *testing.T) {
	client := &fakeAssetClient{}
	handler := listAllAssetsHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"path":  "/content/dam/marketing",
		"limit": 25.0,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "/content/dam/marketing", client.listAllPath)
	assert.Equal(t, 25, client.listAllLimit)
}

func TestListPublishedAssetsDefaultsLimit(t *testing.T) {
	client := &fakeAssetClient{}
	handler := listPublishedHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, 100, client.publishedLimit)
	assert.Contains(t, textOf(t, res), "/content/dam/pub.jpg")
}

func TestListAssetsByCreatorRequiresCreator(t *testing.T) {
	client := &fakeAssetClient{}
	handler := listByCreatorHandler(Deps{Client: client})

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "ValidationError:")
}

func TestBulkUpdateRecordsRun(t *testing.T) {
	hist := &fakeHistory{}
	handler := bulkUpdateHandler(Deps{Client: &fakeAssetClient{}, Bulk: &fakeBulk{}, History: hist})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"folder_path": "/campaign",
		"metadata":    map[string]any{"k": "v"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, 1, hist.recorded)
}

func TestGetBulkRunReturnsRecordedRun(t *testing.T) {
	hist := &fakeHistory{runs: map[string]*history.Run{
		"run-1": {
			ID:         "run-1",
			FolderPath: "/campaign",
			Requested:  2,
			Succeeded:  1,
			Failed:     1,
		},
	}}
	handler := getBulkRunHandler(Deps{History: hist})

	res, err := handler(context.Background(), toolRequest(map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var run history.Run
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "/campaign", run.FolderPath)
	assert.Equal(t, 2, run.Requested)
}

func TestGetBulkRunUnknownID(t *testing.T) {
	handler := getBulkRunHandler(Deps{History: &fakeHistory{}})

	res, err := handler(context.Background(), toolRequest(map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "NotFoundError:")
}

func TestBulkUpdateFolderReportsResult(t *testing.T) {
	bulk := &fakeBulk{result: aem.BulkUpdateResult{
		FolderPath: "/campaign",
		Requested:  2,
		Succeeded:  []string{"/content/dam/campaign/a.jpg"},
		Failed: []aem.BulkFailure{{
			Path:      "/content/dam/campaign/b.jpg",
			ErrorKind: "ForbiddenError",
			Message:   "forbidden",
		}},
	}}
	handler := bulkUpdateHandler(Deps{Client: &fakeAssetClient{}, Bulk: bulk})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"folder_path": "/campaign",
		"metadata":    map[string]any{"dc:rights": "ACME"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	assert.Equal(t, "/campaign", bulk.folderPath)
	assert.Equal(t, map[string]string{"dc:rights": "ACME"}, bulk.patch)

	var decoded aem.BulkUpdateResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &decoded))
	assert.Equal(t, 2, decoded.Requested)
	require.Len(t, decoded.Failed, 1)
	assert.Equal(t, "ForbiddenError", decoded.Failed[0].ErrorKind)
}
