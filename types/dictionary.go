package types

import (
	"context"
)

// DefinitionRecord is one row of the backing dictionary store: an exact
// orthographic form with its reading, part of speech and glosses.
type DefinitionRecord struct {
	ID           int64    `json:"id"`
	Surface      string   `json:"surface"`
	Reading      string   `json:"reading,omitempty"`
	PartOfSpeech string   `json:"part_of_speech,omitempty"`
	Glosses      []string `json:"glosses,omitempty"`
}

// Match kinds reported by the lookup pipeline.
const (
	MatchExact   = "exact"
	MatchVariant = "variant"
	MatchFuzzy   = "fuzzy"
)

// DefinitionResult carries the original query, the candidate form that
// actually matched in the store, and the matched record.
type DefinitionResult struct {
	Query       string           `json:"query"`
	MatchedForm string           `json:"matched_form"`
	MatchType   string           `json:"match_type"`
	Record      DefinitionRecord `json:"record"`
}

// DictionaryStore is the read-only backing store boundary. LookupExact
// returns zero or more records indexed under the exact form; SearchFuzzy
// issues one bounded prefix/substring query ranked shortest-surface-first.
// Both must honor ctx cancellation and deadlines.
type DictionaryStore interface {
	LifecycleManager
	LookupExact(ctx context.Context, form string) ([]DefinitionRecord, error)
	SearchFuzzy(ctx context.Context, query string, limit int) ([]DefinitionRecord, error)
}

const (
	AnalysisSourceService  = "service"
	AnalysisSourceFallback = "fallback"
)

type AnalyzeRequest struct {
	Text     string `json:"text"`
	Detailed bool   `json:"detailed,omitempty"`
}

type AnalysisToken struct {
	Surface      string `json:"surface"`
	Reading      string `json:"reading,omitempty"`
	Lemma        string `json:"lemma,omitempty"`
	PartOfSpeech string `json:"part_of_speech,omitempty"`
}

type AnalysisResult struct {
	Text   string          `json:"text"`
	Tokens []AnalysisToken `json:"tokens"`
	// Source reports whether the result came from the analysis service or a
	// degraded local fallback.
	Source string `json:"source"`
}
