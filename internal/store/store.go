package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/engram/internal/config"
	"github.com/nidhogg/engram/internal/memory"
)

// ErrNotFound is returned when an operation references a row that does not
// exist. Callers treat it as "nothing to update", not a failure.
var ErrNotFound = errors.New("not found")

// Indexer receives memory text for out-of-band semantic indexing and is
// told when rows disappear so stale points get cleaned up. Indexing is best
// effort; the store logs and continues on error.
type Indexer interface {
	Index(ctx context.Context, agentID, memoryID string, memType memory.Type, text string) error
	Remove(ctx context.Context, memoryIDs []string)
	RemoveAgent(ctx context.Context, agentID string)
}

// Notifier is told after a new memory is written. Notification is a
// secondary write; the store never fails an operation over it.
type Notifier interface {
	MemoryStored(ctx context.Context, agentID, memoryID string, memType memory.Type)
}

// Store owns the five memory collections and the association graph.
// All mutation goes through it.
type Store struct {
	db       *pgxpool.Pool
	cfg      config.MemoryConfig
	indexer  Indexer
	notifier Notifier
	logger   *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, cfg config.MemoryConfig, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, cfg: cfg, logger: logger}, nil
}

// SetIndexer attaches an optional semantic-search indexer.
func (s *Store) SetIndexer(idx Indexer) { s.indexer = idx }

// SetNotifier attaches an optional stored-memory notifier.
func (s *Store) SetNotifier(n Notifier) { s.notifier = n }

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Compact reclaims space after large deletions.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `VACUUM ANALYZE`); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}

// index hands text to the attached indexer, logging failures without
// propagating them to the caller.
func (s *Store) index(ctx context.Context, agentID, memoryID string, memType memory.Type, text string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(ctx, agentID, memoryID, memType, text); err != nil {
		s.logger.Warn("semantic indexing skipped",
			zap.String("agent", agentID),
			zap.String("memory_id", memoryID),
			zap.String("type", string(memType)),
			zap.Error(err))
	}
}

// notifyStored announces a committed write to the notifier, when one is
// attached. Restores stay silent: replayed rows are not new memories.
func (s *Store) notifyStored(ctx context.Context, agentID, memoryID string, memType memory.Type) {
	if s.notifier == nil {
		return
	}
	s.notifier.MemoryStored(ctx, agentID, memoryID, memType)
}

// unindex mirrors deletions into the indexer, when one is attached.
func (s *Store) unindex(ctx context.Context, memoryIDs []string) {
	if s.indexer == nil || len(memoryIDs) == 0 {
		return
	}
	s.indexer.Remove(ctx, memoryIDs)
}

// touchRows applies the read-through access side effect: every retrieved row
// gets accessed_at refreshed and access_count incremented.
func (s *Store) touchRows(ctx context.Context, table string, ids []string) {
	if len(ids) == 0 {
		return
	}
	_, err := s.db.Exec(ctx,
		`UPDATE `+table+` SET accessed_at = $1, access_count = access_count + 1 WHERE id = ANY($2)`,
		time.Now(), ids)
	if err != nil {
		s.logger.Warn("access tracking failed",
			zap.String("table", table),
			zap.Int("rows", len(ids)),
			zap.Error(err))
	}
}

// marshalJSON encodes v for a JSONB column, falling back to the given
// empty literal on error.
func marshalJSON(v any, empty string) []byte {
	data, err := json.Marshal(v)
	if err != nil || v == nil {
		return []byte(empty)
	}
	return data
}

// decodeJSON decodes a JSONB column, returning the fallback on absent or
// malformed data rather than an error.
func decodeJSON[T any](data []byte, fallback T) T {
	if len(data) == 0 {
		return fallback
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback
	}
	return v
}

// clamp01 bounds scores to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
