package aem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBulkClient struct {
	mu          sync.Mutex
	assets      []Asset
	listErr     error
	updateErrs  map[string]error
	updateDelay map[string]time.Duration
	updated     []string
}

func (f *fakeBulkClient) ListAssetsByFolder(ctx context.Context, folderPath string) ([]Asset, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.assets, nil
}

func (f *fakeBulkClient) UpdateMetadata(ctx context.Context, assetPath string, patch map[string]string) (Asset, error) {
	if d := f.updateDelay[assetPath]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Asset{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.updated = append(f.updated, assetPath)
	err := f.updateErrs[assetPath]
	f.mu.Unlock()
	if err != nil {
		return Asset{}, err
	}
	return Asset{Path: assetPath, Metadata: patch}, nil
}

func (f *fakeBulkClient) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updated)
}

func folderAssets(paths ...string) []Asset {
	assets := make([]Asset, 0, len(paths))
	for _, p := range paths {
		assets = append(assets, Asset{Path: p})
	}
	return assets
}

func TestBulkUpdateReportsPerAssetOutcomes(t *testing.T) {
	client := &fakeBulkClient{
		assets: folderAssets(
			"/content/dam/campaign/a.jpg",
			"/content/dam/campaign/b.jpg",
		),
		updateErrs: map[string]error{
			"/content/dam/campaign/b.jpg": &ForbiddenError{Path: "/content/dam/campaign/b.jpg"},
		},
	}
	updater := NewBulkMetadataUpdater(client, 0, 0, nil)

	result, err := updater.BulkUpdateMetadata(context.Background(), "/campaign", map[string]string{"dc:rights": "ACME"})
	require.NoError(t, err, "per-asset failures never fail the whole run")

	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, []string{"/content/dam/campaign/a.jpg"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "/content/dam/campaign/b.jpg", result.Failed[0].Path)
	assert.Equal(t, "ForbiddenError", result.Failed[0].ErrorKind)
}

func TestBulkUpdatePreservesListingOrderUnderConcurrency(t *testing.T) {
	paths := make([]string, 12)
	delays := make(map[string]time.Duration, 12)
	for i := range paths {
		paths[i] = fmt.Sprintf("/content/dam/batch/%02d.jpg", i)
		// Later assets finish earlier.
		delays[paths[i]] = time.Duration(len(paths)-i) * 5 * time.Millisecond
	}
	client := &fakeBulkClient{assets: folderAssets(paths...), updateDelay: delays}
	updater := NewBulkMetadataUpdater(client, 4, 0, nil)

	result, err := updater.BulkUpdateMetadata(context.Background(), "/batch", map[string]string{"k": "v"})
	require.NoError(t, err)

	assert.Equal(t, paths, result.Succeeded, "completion order must not leak into the result")
	assert.Empty(t, result.Failed)
}

func TestBulkUpdateListingFailureFailsFast(t *testing.T) {
	client := &fakeBulkClient{listErr: &NotFoundError{Path: "/nope"}}
	updater := NewBulkMetadataUpdater(client, 0, 0, nil)

	_, err := updater.BulkUpdateMetadata(context.Background(), "/nope", map[string]string{"k": "v"})
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Zero(t, client.updateCount())
}

func TestBulkUpdateEmptyPatchRejected(t *testing.T) {
	client := &fakeBulkClient{assets: folderAssets("/content/dam/a.jpg")}
	updater := NewBulkMetadataUpdater(client, 0, 0, nil)

	_, err := updater.BulkUpdateMetadata(context.Background(), "/x", map[string]string{})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "metadata", validation.Field)
}

func TestBulkUpdateAuthBreakerSkipsRemainder(t *testing.T) {
	paths := make([]string, 10)
	updateErrs := make(map[string]error, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("/content/dam/batch/%02d.jpg", i)
		updateErrs[paths[i]] = &AuthError{Reason: "unauthorized_after_retry", HTTPStatus: 401}
	}
	client := &fakeBulkClient{assets: folderAssets(paths...), updateErrs: updateErrs}
	updater := NewBulkMetadataUpdater(client, 1, 3, nil)

	result, err := updater.BulkUpdateMetadata(context.Background(), "/batch", map[string]string{"k": "v"})
	require.NoError(t, err)

	attempts := client.updateCount()
	assert.GreaterOrEqual(t, attempts, 3, "the breaker needs three consecutive failures to trip")
	assert.LessOrEqual(t, attempts, 4, "once tripped no further updates may start")

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 10)
	skipped := 0
	for _, failure := range result.Failed {
		assert.Equal(t, "AuthError", failure.ErrorKind)
		if failure.Message == "skipped after repeated authentication failures" {
			skipped++
		}
	}
	assert.Equal(t, 10-attempts, skipped)
}

func TestBulkUpdateMixedErrorsResetBreaker(t *testing.T) {
	client := &fakeBulkClient{
		assets: folderAssets(
			"/content/dam/m/a.jpg",
			"/content/dam/m/b.jpg",
			"/content/dam/m/c.jpg",
			"/content/dam/m/d.jpg",
		),
		updateErrs: map[string]error{
			"/content/dam/m/a.jpg": &AuthError{Reason: "unauthorized_after_retry"},
			"/content/dam/m/c.jpg": &AuthError{Reason: "unauthorized_after_retry"},
		},
	}
	updater := NewBulkMetadataUpdater(client, 1, 3, nil)

	result, err := updater.BulkUpdateMetadata(context.Background(), "/m", map[string]string{"k": "v"})
	require.NoError(t, err)

	// Successes in between keep the consecutive count below the limit, so
	// every asset is attempted.
	assert.Equal(t, 4, client.updateCount())
	assert.Equal(t, []string{"/content/dam/m/b.jpg", "/content/dam/m/d.jpg"}, result.Succeeded)
	assert.Len(t, result.Failed, 2)
}

func TestBulkUpdateCancellationDiscardsPartialResult(t *testing.T) {
	paths := make([]string, 8)
	delays := make(map[string]time.Duration, 8)
	for i := range paths {
		paths[i] = fmt.Sprintf("/content/dam/slow/%02d.jpg", i)
		delays[paths[i]] = 200 * time.Millisecond
	}
	client := &fakeBulkClient{assets: folderAssets(paths...), updateDelay: delays}
	updater := NewBulkMetadataUpdater(client, 2, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := updater.BulkUpdateMetadata(ctx, "/slow", map[string]string{"k": "v"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BulkUpdateResult{}, result, "cancellation must not return a partial result")
	assert.Less(t, client.updateCount(), len(paths))
}
