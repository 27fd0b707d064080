package dictionary

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/types"
)

const cloverCollection = "entries"

// CloverStore serves lookups from a CloverDB document database. Documents
// carry the same fields as DefinitionRecord.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	config *types.DictionaryConfig
	state  atomic.Value
}

func NewCloverStore(logger types.Logger, config *types.DictionaryConfig) (*CloverStore, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover dictionary")
	}

	store := &CloverStore{
		db:     db,
		logger: logger,
		config: config,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (c *CloverStore) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrEngineAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	exists, err := c.db.HasCollection(cloverCollection)
	if err != nil {
		c.setState(StateStopped)
		return types.WrapError(err, "failed to check entries collection")
	}

	if !exists {
		if err := c.db.CreateCollection(cloverCollection); err != nil {
			c.setState(StateStopped)
			return types.WrapError(err, "failed to create entries collection")
		}
	}

	c.logger.Info("Clover dictionary started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrEngineNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover dictionary")
	}

	c.logger.Info("Clover dictionary stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.getState() == StateRunning
}

// AddRecords inserts entries. Used by loaders and tests.
func (c *CloverStore) AddRecords(records ...types.DefinitionRecord) error {
	docs := make([]*clover.Document, 0, len(records))
	for _, record := range records {
		doc := clover.NewDocument()
		doc.Set("id", record.ID)
		doc.Set("surface", record.Surface)
		doc.Set("reading", record.Reading)
		doc.Set("part_of_speech", record.PartOfSpeech)
		glosses := make([]interface{}, len(record.Glosses))
		for i, g := range record.Glosses {
			glosses[i] = g
		}
		doc.Set("glosses", glosses)
		docs = append(docs, doc)
	}

	if err := c.db.Insert(cloverCollection, docs...); err != nil {
		return types.WrapError(err, "failed to insert dictionary entries")
	}
	return nil
}

func (c *CloverStore) LookupExact(ctx context.Context, form string) ([]types.DefinitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := c.db.Query(cloverCollection).
		Where(clover.Field("surface").Eq(form).Or(clover.Field("reading").Eq(form))).
		FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreQueryFailed, "exact lookup: %v", err)
	}

	return c.toRecords(docs), nil
}

func (c *CloverStore) SearchFuzzy(ctx context.Context, query string, limit int) ([]types.DefinitionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == "" || limit <= 0 {
		return nil, nil
	}

	// Clover's Like takes a regex; anchor a literal substring match.
	pattern := ".*" + regexQuote(query) + ".*"
	docs, err := c.db.Query(cloverCollection).
		Where(clover.Field("surface").Like(pattern).Or(clover.Field("reading").Like(pattern))).
		FindAll()
	if err != nil {
		return nil, types.Errorf(types.ErrStoreQueryFailed, "fuzzy search: %v", err)
	}

	records := c.toRecords(docs)

	sort.SliceStable(records, func(i, j int) bool {
		pi := strings.HasPrefix(records[i].Surface, query) || strings.HasPrefix(records[i].Reading, query)
		pj := strings.HasPrefix(records[j].Surface, query) || strings.HasPrefix(records[j].Reading, query)
		if pi != pj {
			return pi
		}
		li, lj := len([]rune(records[i].Surface)), len([]rune(records[j].Surface))
		if li != lj {
			return li < lj
		}
		return records[i].Surface < records[j].Surface
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (c *CloverStore) toRecords(docs []*clover.Document) []types.DefinitionRecord {
	var records []types.DefinitionRecord

	for _, doc := range docs {
		var record types.DefinitionRecord
		if err := doc.Unmarshal(&record); err != nil {
			c.logger.Warn("Skipping malformed dictionary document", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records
}

func regexQuote(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// State management helpers

func (c *CloverStore) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStore) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStore) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
