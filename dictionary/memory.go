package dictionary

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
	"github.com/kotoba-works/kotoba-engine/utils"
)

// MemoryStore keeps the full dictionary in memory, indexed by surface form
// and by reading. Suitable for tests and small curated dictionaries.
type MemoryStore struct {
	logger types.Logger
	config *types.DictionaryConfig

	mutex     sync.RWMutex
	bySurface map[string][]types.DefinitionRecord
	byReading map[string][]types.DefinitionRecord
	ordered   []types.DefinitionRecord

	state atomic.Value
}

func NewMemoryStore(logger types.Logger, config *types.DictionaryConfig) (*MemoryStore, error) {
	store := &MemoryStore{
		logger:    logger,
		config:    config,
		bySurface: make(map[string][]types.DefinitionRecord),
		byReading: make(map[string][]types.DefinitionRecord),
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	if m.config.Path != "" {
		if err := m.loadFile(m.config.Path); err != nil {
			m.setState(StateStopped)
			return err
		}
	}

	m.logger.Info("Memory dictionary started",
		zap.Int("entries", len(m.ordered)))
	return nil
}

// loadFile reads a JSON array of definition records into the indexes.
func (m *MemoryStore) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WrapError(err, "failed to read dictionary file")
	}

	var records []types.DefinitionRecord
	if err := utils.Unmarshal(data, &records); err != nil {
		return types.WrapError(err, "failed to parse dictionary file")
	}

	m.AddRecords(records...)
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.logger.Info("Memory dictionary stopped gracefully")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

// AddRecords loads entries into the indexes. Entries are matchable by both
// their surface form and their reading.
func (m *MemoryStore) AddRecords(records ...types.DefinitionRecord) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, record := range records {
		m.bySurface[record.Surface] = append(m.bySurface[record.Surface], record)
		if record.Reading != "" && record.Reading != record.Surface {
			m.byReading[record.Reading] = append(m.byReading[record.Reading], record)
		}
		m.ordered = append(m.ordered, record)
	}
}

func (m *MemoryStore) LookupExact(ctx context.Context, form string) ([]types.DefinitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if records, ok := m.bySurface[form]; ok {
		return append([]types.DefinitionRecord(nil), records...), nil
	}
	if records, ok := m.byReading[form]; ok {
		return append([]types.DefinitionRecord(nil), records...), nil
	}

	return nil, nil
}

// SearchFuzzy scans for entries whose surface or reading starts with or
// contains the query. Prefix matches come first, then shorter surfaces,
// then lexicographic order, so results are deterministic.
func (m *MemoryStore) SearchFuzzy(ctx context.Context, query string, limit int) ([]types.DefinitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == "" || limit <= 0 {
		return nil, nil
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	type scored struct {
		record types.DefinitionRecord
		prefix bool
	}

	var matches []scored
	for _, record := range m.ordered {
		switch {
		case strings.HasPrefix(record.Surface, query) || strings.HasPrefix(record.Reading, query):
			matches = append(matches, scored{record: record, prefix: true})
		case strings.Contains(record.Surface, query) || strings.Contains(record.Reading, query):
			matches = append(matches, scored{record: record})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].prefix != matches[j].prefix {
			return matches[i].prefix
		}
		li, lj := len([]rune(matches[i].record.Surface)), len([]rune(matches[j].record.Surface))
		if li != lj {
			return li < lj
		}
		return matches[i].record.Surface < matches[j].record.Surface
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	records := make([]types.DefinitionRecord, len(matches))
	for i, match := range matches {
		records[i] = match.record
	}

	return records, nil
}

// State management helpers

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
