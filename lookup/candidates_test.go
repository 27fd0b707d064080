package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCandidatesIsDeterministic(t *testing.T) {
	queries := []string{"取り除いて", "沢山", "カタカナ", "食べました", "猫が"}

	for _, query := range queries {
		first := GenerateCandidates(query)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, GenerateCandidates(query), "query %s", query)
		}
	}
}

func TestGenerateCandidatesExcludesQueryAndDuplicates(t *testing.T) {
	for _, query := range []string{"取り除いて", "なんて", "たくさん"} {
		candidates := GenerateCandidates(query)

		seen := make(map[string]bool)
		for _, candidate := range candidates {
			assert.NotEqual(t, query, candidate)
			assert.False(t, seen[candidate], "duplicate candidate %s for %s", candidate, query)
			seen[candidate] = true
		}
	}
}

func TestGenerateCandidatesInflectionStripping(t *testing.T) {
	assert.Contains(t, GenerateCandidates("取り除いて"), "取り除く")
	assert.Contains(t, GenerateCandidates("食べました"), "食べる")
	assert.Contains(t, GenerateCandidates("読んで"), "読む")
	assert.Contains(t, GenerateCandidates("高かった"), "高い")
}

func TestGenerateCandidatesVariantTable(t *testing.T) {
	assert.Contains(t, GenerateCandidates("沢山"), "たくさん")
	assert.Contains(t, GenerateCandidates("たくさん"), "沢山")
	assert.Contains(t, GenerateCandidates("何"), "なに")
}

func TestGenerateCandidatesVariantsComeFirst(t *testing.T) {
	candidates := GenerateCandidates("沢山")
	assert.Equal(t, "たくさん", candidates[0])
}

func TestGenerateCandidatesScriptConversion(t *testing.T) {
	assert.Contains(t, GenerateCandidates("ネコ"), "ねこ")
	assert.Contains(t, GenerateCandidates("ねこ"), "ネコ")
}

func TestGenerateCandidatesParticleTrimming(t *testing.T) {
	assert.Contains(t, GenerateCandidates("猫が"), "猫")
	assert.Contains(t, GenerateCandidates("本を"), "本")
}

func TestGenerateCandidatesParticleAppending(t *testing.T) {
	candidates := GenerateCandidates("少なくと")
	assert.Contains(t, candidates, "少なくとも")

	// The trimmed form stays ahead of the appended ones.
	candidates = GenerateCandidates("猫が")
	assert.Less(t, indexOf(candidates, "猫"), indexOf(candidates, "猫がは"))
}

func indexOf(list []string, target string) int {
	for i, s := range list {
		if s == target {
			return i
		}
	}
	return len(list)
}

func TestGenerateCandidatesMasuStem(t *testing.T) {
	assert.Contains(t, GenerateCandidates("食べ"), "食べる")
}

func TestGenerateCandidatesCompoundSplits(t *testing.T) {
	candidates := GenerateCandidates("日本語学校")

	assert.Contains(t, candidates, "日本語学")
	assert.Contains(t, candidates, "本語学校")
	assert.Contains(t, candidates, "日本")
	assert.Contains(t, candidates, "語学校")
}

func TestGenerateCandidatesEmptyQuery(t *testing.T) {
	assert.Empty(t, GenerateCandidates(""))
}

func TestKanaConversionRoundTrip(t *testing.T) {
	assert.Equal(t, "ねこ", KatakanaToHiragana("ネコ"))
	assert.Equal(t, "ネコ", HiraganaToKatakana("ねこ"))

	// Mixed text: only kana characters convert.
	assert.Equal(t, "漢字とかな", KatakanaToHiragana("漢字トカナ"))
	assert.Equal(t, "abc", KatakanaToHiragana("abc"))
}
