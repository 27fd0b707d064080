package engine

import (
	"context"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/kotoba-works/kotoba-engine/dedup"
	"github.com/kotoba-works/kotoba-engine/types"
)

// Analyze runs morphological analysis on a text. The analysis service is the
// primary source; when it is unavailable or its breaker is open, a degraded
// local segmentation is returned instead. Only service results are cached so
// a degraded answer never outlives the outage that produced it.
func (e *Engine) Analyze(ctx context.Context, req *types.AnalyzeRequest) (*types.AnalysisResult, error) {
	if !e.IsRunning() {
		return nil, types.ErrEngineNotRunning
	}
	if req == nil || req.Text == "" {
		return nil, types.ErrAnalyzeTextEmpty
	}

	started := time.Now()
	params := map[string]string{"text": req.Text}
	if req.Detailed {
		params["detailed"] = "true"
	}
	signature := dedup.Signature("POST", "/analyze", params)

	result, err := e.dedup.Do(ctx, signature, func(ctx context.Context) (interface{}, error) {
		return e.analyze(ctx, req, signature)
	})

	e.metrics.RecordRequest("analyze", time.Since(started), err)

	if err != nil {
		return nil, err
	}
	return result.(*types.AnalysisResult), nil
}

func (e *Engine) analyze(ctx context.Context, req *types.AnalyzeRequest, cacheKey string) (*types.AnalysisResult, error) {
	if cached, ok := e.registry.Get(types.TierAnalysis, cacheKey); ok && cached.Analysis != nil {
		return cached.Analysis, nil
	}

	if !e.clients.Has(analysisDependency) {
		return e.analyzeLocal(req), nil
	}

	var result types.AnalysisResult
	var degraded *types.AnalysisResult

	err := e.clients.Post(ctx, analysisDependency, "/analyze", req, &result,
		func(ctx context.Context, cause error) (interface{}, error) {
			e.logger.Warn("Analysis service unavailable, using local fallback",
				zap.String("text", req.Text),
				zap.Error(cause))
			degraded = e.analyzeLocal(req)
			return degraded, nil
		})
	if err != nil {
		return nil, err
	}

	if degraded != nil {
		return degraded, nil
	}

	result.Source = types.AnalysisSourceService
	if cacheErr := e.registry.Set(types.TierAnalysis, cacheKey, types.CachedAnalysis(&result), 0); cacheErr != nil {
		e.logger.Warn("Failed to cache analysis result", zap.Error(cacheErr))
	}

	return &result, nil
}

// analyzeLocal segments a text into runs of the same script class. It knows
// nothing about morphology, but it keeps search and highlighting working
// while the analysis service is down.
func (e *Engine) analyzeLocal(req *types.AnalyzeRequest) *types.AnalysisResult {
	result := &types.AnalysisResult{
		Text:   req.Text,
		Source: types.AnalysisSourceFallback,
	}

	var current []rune
	currentClass := scriptNone

	flush := func() {
		if len(current) == 0 {
			return
		}
		if currentClass != scriptSpace {
			result.Tokens = append(result.Tokens, types.AnalysisToken{Surface: string(current)})
		}
		current = current[:0]
	}

	for _, r := range req.Text {
		class := classifyScript(r)
		if class != currentClass {
			flush()
			currentClass = class
		}
		current = append(current, r)
	}
	flush()

	return result
}

type scriptClass int

const (
	scriptNone scriptClass = iota
	scriptSpace
	scriptKanji
	scriptHiragana
	scriptKatakana
	scriptLatin
	scriptDigit
	scriptOther
)

func classifyScript(r rune) scriptClass {
	switch {
	case unicode.IsSpace(r):
		return scriptSpace
	case unicode.In(r, unicode.Han):
		return scriptKanji
	case unicode.In(r, unicode.Hiragana):
		return scriptHiragana
	case unicode.In(r, unicode.Katakana) || r == 'ー':
		return scriptKatakana
	case unicode.IsLetter(r):
		return scriptLatin
	case unicode.IsDigit(r):
		return scriptDigit
	default:
		return scriptOther
	}
}
