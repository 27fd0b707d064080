package dictionary

import (
	"context"
	"database/sql"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

// SQLiteStore serves lookups from a dictionary database on disk.
//
// Expected schema:
//
//	CREATE TABLE entries (
//	    id             INTEGER PRIMARY KEY,
//	    surface        TEXT NOT NULL,
//	    reading        TEXT NOT NULL DEFAULT '',
//	    part_of_speech TEXT NOT NULL DEFAULT '',
//	    glosses        TEXT NOT NULL DEFAULT '[]'
//	);
//	CREATE INDEX idx_entries_surface ON entries(surface);
//	CREATE INDEX idx_entries_reading ON entries(reading);
//
// glosses holds a JSON array of strings.
type SQLiteStore struct {
	db     *sql.DB
	logger types.Logger
	config *types.DictionaryConfig
	state  atomic.Value
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.DictionaryConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, types.Errorf(types.ErrStoreTypeUnknown, "sqlite backend requires a path")
	}

	db, err := sql.Open("sqlite3", config.Path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite dictionary")
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		config: config,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (s *SQLiteStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if err := s.db.Ping(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to ping sqlite dictionary")
	}

	s.logger.Info("SQLite dictionary started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite dictionary")
	}

	s.logger.Info("SQLite dictionary stopped gracefully")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.getState() == StateRunning
}

const lookupExactQuery = `
SELECT id, surface, reading, part_of_speech, glosses
FROM entries
WHERE surface = ? OR reading = ?
ORDER BY id`

func (s *SQLiteStore) LookupExact(ctx context.Context, form string) ([]types.DefinitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, lookupExactQuery, form, form)
	if err != nil {
		return nil, types.Errorf(types.ErrStoreQueryFailed, "exact lookup: %v", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

// LIKE has no default escape character, so every pattern names one.
const searchFuzzyQuery = `
SELECT id, surface, reading, part_of_speech, glosses
FROM entries
WHERE surface LIKE ? ESCAPE '\' OR reading LIKE ? ESCAPE '\'
   OR surface LIKE ? ESCAPE '\' OR reading LIKE ? ESCAPE '\'
ORDER BY
    CASE WHEN surface LIKE ? ESCAPE '\' OR reading LIKE ? ESCAPE '\' THEN 0 ELSE 1 END,
    length(surface),
    surface
LIMIT ?`

func (s *SQLiteStore) SearchFuzzy(ctx context.Context, query string, limit int) ([]types.DefinitionRecord, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}

	prefix := escapeLike(query) + "%"
	substring := "%" + escapeLike(query) + "%"

	rows, err := s.db.QueryContext(ctx, searchFuzzyQuery,
		prefix, prefix, substring, substring, prefix, prefix, limit)
	if err != nil {
		return nil, types.Errorf(types.ErrStoreQueryFailed, "fuzzy search: %v", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

func (s *SQLiteStore) scanRecords(rows *sql.Rows) ([]types.DefinitionRecord, error) {
	var records []types.DefinitionRecord

	for rows.Next() {
		var record types.DefinitionRecord
		var glosses string

		if err := rows.Scan(&record.ID, &record.Surface, &record.Reading,
			&record.PartOfSpeech, &glosses); err != nil {
			return nil, types.Errorf(types.ErrStoreQueryFailed, "scan: %v", err)
		}

		if err := utils.Unmarshal([]byte(glosses), &record.Glosses); err != nil {
			s.logger.Warn("Skipping entry with malformed glosses",
				zap.Int64("id", record.ID),
				zap.Error(err))
			continue
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrStoreQueryFailed, "rows: %v", err)
	}

	return records, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// State management helpers

func (s *SQLiteStore) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
