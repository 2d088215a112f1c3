// Package history records bulk metadata update runs so operators can audit
// what an agent changed. Redis is used when configured (keys expire after
// the retention window), otherwise Postgres; with neither, recording is a
// no-op. Recording failures never fail the bulk operation itself.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/damworks/aem-assets-mcp/internal/aem"
)

// Run is one recorded bulk update.
type Run struct {
	ID         string               `json:"id"`
	FolderPath string               `json:"folderPath"`
	Requested  int                  `json:"requested"`
	Succeeded  int                  `json:"succeeded"`
	Failed     int                  `json:"failed"`
	Result     aem.BulkUpdateResult `json:"result"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Store persists bulk runs.
type Store struct {
	db     *sql.DB
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Options selects the backend. RedisURL wins when both are set.
type Options struct {
	RedisURL    string
	DatabaseURL string
	TTL         time.Duration
	Logger      *slog.Logger
}

// New connects to the configured backend. With neither URL set the returned
// store discards runs silently.
func New(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{ttl: opts.TTL, logger: logger}

	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		store.redis = redis.NewClient(redisOpts)
		if err := store.redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return store, nil
	}

	if opts.DatabaseURL != "" {
		db, err := sql.Open("postgres", opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		store.db = db
		if err := store.initSchema(); err != nil {
			return nil, err
		}
		return store, nil
	}

	logger.Info("bulk run history disabled: no REDIS_URL or DATABASE_URL")
	return store, nil
}

// Record stores one finished bulk run and returns its id.
func (s *Store) Record(ctx context.Context, result aem.BulkUpdateResult, startedAt, finishedAt time.Time) (string, error) {
	run := Run{
		ID:         uuid.NewString(),
		FolderPath: result.FolderPath,
		Requested:  result.Requested,
		Succeeded:  len(result.Succeeded),
		Failed:     len(result.Failed),
		Result:     result,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	switch {
	case s.redis != nil:
		payload, err := json.Marshal(run)
		if err != nil {
			return "", err
		}
		key := fmt.Sprintf("aem:bulkrun:%s", run.ID)
		if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
			return "", err
		}
		return run.ID, nil

	case s.db != nil:
		payload, err := json.Marshal(run.Result)
		if err != nil {
			return "", err
		}
		query := `
			INSERT INTO bulk_update_runs
				(run_id, folder_path, requested, succeeded, failed, result, started_at, finished_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`
		_, err = s.db.ExecContext(ctx, query,
			run.ID,
			run.FolderPath,
			run.Requested,
			run.Succeeded,
			run.Failed,
			payload,
			run.StartedAt,
			run.FinishedAt,
		)
		if err != nil {
			return "", err
		}
		return run.ID, nil

	default:
		return run.ID, nil
	}
}

// Get retrieves a recorded run by id. A missing run (expired Redis key, no
// Postgres row) returns nil, nil.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	switch {
	case s.redis != nil:
		val, err := s.redis.Get(ctx, fmt.Sprintf("aem:bulkrun:%s", runID)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var run Run
		if err := json.Unmarshal([]byte(val), &run); err != nil {
			return nil, err
		}
		return &run, nil

	case s.db != nil:
		query := `
			SELECT run_id, folder_path, requested, succeeded, failed, result, started_at, finished_at
			FROM bulk_update_runs
			WHERE run_id = $1
		`
		var run Run
		var payload []byte
		err := s.db.QueryRowContext(ctx, query, runID).Scan(
			&run.ID,
			&run.FolderPath,
			&run.Requested,
			&run.Succeeded,
			&run.Failed,
			&payload,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &run.Result); err != nil {
			return nil, err
		}
		return &run, nil

	default:
		return nil, nil
	}
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS bulk_update_runs (
		run_id VARCHAR(36) PRIMARY KEY,
		folder_path TEXT NOT NULL,
		requested INT NOT NULL,
		succeeded INT NOT NULL,
		failed INT NOT NULL,
		result JSONB NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bulk_update_runs_folder ON bulk_update_runs(folder_path);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes backend connections.
func (s *Store) Close() error {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
