package lookup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/breaker"
	"github.com/kotoba-works/kotoba-engine/cache"
	"github.com/kotoba-works/kotoba-engine/types"
)

const (
	DefaultMaxCandidates = 12
	DefaultFuzzyLimit    = 5
	DefaultNegativeTTL   = 15 * time.Minute
)

// Pipeline resolves a surface form to a definition through staged
// fallbacks: cache, exact store lookups over generated variant candidates,
// then one bounded fuzzy query. Hits are memoized under both the query and
// the matched form; confirmed misses are negative-cached.
type Pipeline struct {
	logger   types.Logger
	registry *cache.Registry
	store    types.DictionaryStore
	breaker  *breaker.Breaker
	metrics  types.MetricsManager

	maxCandidates int
	fuzzyLimit    int
	negativeTTL   time.Duration
}

func NewPipeline(
	logger types.Logger,
	registry *cache.Registry,
	store types.DictionaryStore,
	guard *breaker.Breaker,
	metrics types.MetricsManager,
	cfg *types.LookupConfig,
) *Pipeline {
	maxCandidates := DefaultMaxCandidates
	fuzzyLimit := DefaultFuzzyLimit
	negativeTTL := DefaultNegativeTTL

	if cfg != nil {
		if cfg.MaxCandidates > 0 {
			maxCandidates = cfg.MaxCandidates
		}
		if cfg.FuzzyLimit > 0 {
			fuzzyLimit = cfg.FuzzyLimit
		}
		if cfg.NegativeTTL > 0 {
			negativeTTL = cfg.NegativeTTL
		}
	}

	return &Pipeline{
		logger:        logger,
		registry:      registry,
		store:         store,
		breaker:       guard,
		metrics:       metrics,
		maxCandidates: maxCandidates,
		fuzzyLimit:    fuzzyLimit,
		negativeTTL:   negativeTTL,
	}
}

// Lookup resolves query to a definition, or (nil, nil) when the word is
// confirmed absent from the dictionary.
func (p *Pipeline) Lookup(ctx context.Context, query string) (*types.DefinitionResult, error) {
	if query == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	if cached, ok := p.registry.Get(types.TierDefinitions, query); ok {
		if cached.Absent {
			p.count("lookup_results_total", "negative_cache")
			return nil, nil
		}
		if cached.Definition != nil {
			p.count("lookup_results_total", "cache")
			return cached.Definition, nil
		}
	}

	candidates := GenerateCandidates(query)
	if len(candidates) > p.maxCandidates {
		candidates = candidates[:p.maxCandidates]
	}

	result, err := p.resolveExact(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	if result == nil {
		result, err = p.resolveFuzzy(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	if result == nil {
		p.count("lookup_results_total", "miss")
		p.cacheSet(query, types.ConfirmedAbsent(), p.negativeTTL)
		return nil, nil
	}

	p.count("lookup_results_total", result.MatchType)

	// Memoize under both keys so either form resolves from cache next time.
	cached := types.CachedDefinition(result)
	p.cacheSet(query, cached, 0)
	if result.MatchedForm != query {
		p.cacheSet(result.MatchedForm, cached, 0)
	}

	return result, nil
}

// resolveExact tries the original query and then each candidate against
// the store's exact index, stopping at the first hit.
func (p *Pipeline) resolveExact(ctx context.Context, query string, candidates []string) (*types.DefinitionResult, error) {
	forms := make([]string, 0, len(candidates)+1)
	forms = append(forms, query)
	forms = append(forms, candidates...)

	for _, form := range forms {
		records, err := p.lookupStore(ctx, form)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}

		matchType := types.MatchVariant
		if form == query {
			matchType = types.MatchExact
		}

		p.logger.Debug("Lookup resolved in exact tier",
			zap.String("query", query),
			zap.String("matched_form", form),
			zap.String("match_type", matchType))

		return &types.DefinitionResult{
			Query:       query,
			MatchedForm: form,
			MatchType:   matchType,
			Record:      records[0],
		}, nil
	}

	return nil, nil
}

// resolveFuzzy issues the single bounded fuzzy query. Results arrive
// ranked shortest-surface-first; the top one wins.
func (p *Pipeline) resolveFuzzy(ctx context.Context, query string) (*types.DefinitionResult, error) {
	records, err := p.searchStore(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	p.logger.Debug("Lookup resolved in fuzzy tier",
		zap.String("query", query),
		zap.String("matched_form", records[0].Surface))

	return &types.DefinitionResult{
		Query:       query,
		MatchedForm: records[0].Surface,
		MatchType:   types.MatchFuzzy,
		Record:      records[0],
	}, nil
}

func (p *Pipeline) lookupStore(ctx context.Context, form string) ([]types.DefinitionRecord, error) {
	if p.breaker == nil {
		return p.store.LookupExact(ctx, form)
	}

	result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return p.store.LookupExact(ctx, form)
	}, nil)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]types.DefinitionRecord), nil
}

func (p *Pipeline) searchStore(ctx context.Context, query string) ([]types.DefinitionRecord, error) {
	if p.breaker == nil {
		return p.store.SearchFuzzy(ctx, query, p.fuzzyLimit)
	}

	result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return p.store.SearchFuzzy(ctx, query, p.fuzzyLimit)
	}, nil)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]types.DefinitionRecord), nil
}

// cacheSet failures degrade to an uncached result, never a lookup error.
func (p *Pipeline) cacheSet(key string, value types.CachedValue, ttl time.Duration) {
	if err := p.registry.Set(types.TierDefinitions, key, value, ttl); err != nil {
		p.logger.Warn("Failed to cache lookup result",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (p *Pipeline) count(name, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Counter(name, map[string]string{"result": result}).Inc()
}
