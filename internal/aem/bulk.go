package aem

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBulkConcurrency bounds the per-asset update fan-out.
	DefaultBulkConcurrency = 4

	// DefaultAuthFailureLimit is how many consecutive authentication
	// failures trip the circuit breaker: once a token is fully revoked,
	// retrying every remaining asset individually is pointless.
	DefaultAuthFailureLimit = 3
)

type bulkClient interface {
	ListAssetsByFolder(ctx context.Context, folderPath string) ([]Asset, error)
	UpdateMetadata(ctx context.Context, assetPath string, patch map[string]string) (Asset, error)
}

// BulkMetadataUpdater applies one metadata patch to every asset directly
// inside a folder. Subfolders are not descended into. Updates run on a
// bounded worker pool; individual failures become result entries instead of
// aborting the run.
type BulkMetadataUpdater struct {
	client           bulkClient
	concurrency      int
	authFailureLimit int
	logger           *slog.Logger
}

// NewBulkMetadataUpdater builds an updater over the client. Zero values for
// concurrency and authFailureLimit select the defaults.
func NewBulkMetadataUpdater(client bulkClient, concurrency, authFailureLimit int, logger *slog.Logger) *BulkMetadataUpdater {
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}
	if authFailureLimit <= 0 {
		authFailureLimit = DefaultAuthFailureLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkMetadataUpdater{
		client:           client,
		concurrency:      concurrency,
		authFailureLimit: authFailureLimit,
		logger:           logger,
	}
}

type bulkOutcome struct {
	path    string
	err     error
	skipped bool
}

// authBreaker counts consecutive authentication failures across workers.
type authBreaker struct {
	mu          sync.Mutex
	limit       int
	consecutive int
	tripped     bool
}

func (b *authBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var authErr *AuthError
	if err != nil && errors.As(err, &authErr) {
		b.consecutive++
		if b.consecutive >= b.limit {
			b.tripped = true
		}
		return
	}
	b.consecutive = 0
}

func (b *authBreaker) isTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// BulkUpdateMetadata lists the folder's assets and patches each one. The
// reported Succeeded/Failed sequences preserve listing order regardless of
// completion order. A listing failure fails the whole operation; so does
// cancellation, in which case in-flight updates complete but no partial
// result is returned.
func (u *BulkMetadataUpdater) BulkUpdateMetadata(ctx context.Context, folderPath string, patch map[string]string) (BulkUpdateResult, error) {
	if len(patch) == 0 {
		return BulkUpdateResult{}, &ValidationError{Field: "metadata", Msg: "must not be empty"}
	}

	assets, err := u.client.ListAssetsByFolder(ctx, folderPath)
	if err != nil {
		return BulkUpdateResult{}, err
	}

	u.logger.Info("starting bulk metadata update",
		"folder", folderPath, "assets", len(assets), "keys", len(patch))

	outcomes := make([]bulkOutcome, len(assets))
	breaker := &authBreaker{limit: u.authFailureLimit}

	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for i, asset := range assets {
		if ctx.Err() != nil {
			break
		}
		i, asset := i, asset
		if breaker.isTripped() {
			outcomes[i] = bulkOutcome{path: asset.Path, skipped: true}
			continue
		}
		g.Go(func() error {
			_, err := u.client.UpdateMetadata(ctx, asset.Path, patch)
			breaker.record(err)
			outcomes[i] = bulkOutcome{path: asset.Path, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return BulkUpdateResult{}, err
	}

	result := BulkUpdateResult{
		FolderPath: folderPath,
		Requested:  len(assets),
		Succeeded:  []string{},
		Failed:     []BulkFailure{},
	}
	for _, outcome := range outcomes {
		switch {
		case outcome.skipped:
			result.Failed = append(result.Failed, BulkFailure{
				Path:      outcome.path,
				ErrorKind: "AuthError",
				Message:   "skipped after repeated authentication failures",
			})
		case outcome.err != nil:
			result.Failed = append(result.Failed, BulkFailure{
				Path:      outcome.path,
				ErrorKind: ErrorKind(outcome.err),
				Message:   outcome.err.Error(),
			})
		default:
			result.Succeeded = append(result.Succeeded, outcome.path)
		}
	}

	u.logger.Info("bulk metadata update finished",
		"folder", folderPath,
		"requested", result.Requested,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed))
	return result, nil
}
