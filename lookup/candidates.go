package lookup

import (
	"strings"
)

// Known orthographic variant pairs: common kanji spellings and the kana
// forms they are conventionally written with. Both directions are indexed
// so either spelling finds the other.
var variantPairs = [][2]string{
	{"何て", "なんて"},
	{"何だか", "なんだか"},
	{"何処", "どこ"},
	{"沢山", "たくさん"},
	{"一杯", "いっぱい"},
	{"全然", "ぜんぜん"},
	{"皆", "みんな"},
	{"誰", "だれ"},
	{"何", "なに"},
}

var variantTable = buildVariantTable()

func buildVariantTable() map[string][]string {
	table := make(map[string][]string, len(variantPairs)*2)
	for _, pair := range variantPairs {
		table[pair[0]] = append(table[pair[0]], pair[1])
		table[pair[1]] = append(table[pair[1]], pair[0])
	}
	return table
}

// inflectionRules map common verb and adjective endings back to plausible
// dictionary forms. Longer suffixes are listed first so the most specific
// rule wins; a rule may yield several stems (って could be 会う, 待つ or
// 取る).
var inflectionRules = []struct {
	suffix       string
	replacements []string
}{
	{"かった", []string{"い"}},
	{"くない", []string{"い"}},
	{"ました", []string{"る"}},
	{"ません", []string{"る"}},
	{"られる", []string{"る"}},
	{"させる", []string{"る"}},
	{"って", []string{"う", "つ", "る"}},
	{"いて", []string{"く"}},
	{"いで", []string{"ぐ"}},
	{"して", []string{"す", "する"}},
	{"んで", []string{"む", "ぶ", "ぬ"}},
	{"った", []string{"う", "つ", "る"}},
	{"いた", []string{"く"}},
	{"いだ", []string{"ぐ"}},
	{"した", []string{"す", "する"}},
	{"んだ", []string{"む", "ぶ", "ぬ"}},
	{"ます", []string{"る"}},
	{"ない", []string{"る"}},
	{"れる", []string{"る"}},
	{"せる", []string{"す"}},
	{"て", []string{"る"}},
	{"た", []string{"る"}},
	{"く", []string{"い"}},
	{"さ", []string{"い"}},
}

// trailingParticles are short particles that often cling to a word when
// text is segmented loosely.
var trailingParticles = []string{"は", "が", "を", "に", "で", "と", "も", "の", "へ", "や"}

// GenerateCandidates expands a query into an ordered, duplicate-free list
// of alternate forms to try against the dictionary. Transformations run in
// fixed priority order, closest to the original form first: known variant
// spellings, script conversion, inflection stripping, particle trimming and
// appending, then compound splits. The function is pure; the query itself is
// never included.
func GenerateCandidates(query string) []string {
	if query == "" {
		return nil
	}

	var candidates []string
	seen := map[string]bool{query: true}

	add := func(form string) {
		if form == "" || seen[form] {
			return
		}
		seen[form] = true
		candidates = append(candidates, form)
	}

	// Known variant spellings.
	for _, variant := range variantTable[query] {
		add(variant)
	}

	// Script conversion, only for pure kana words. Mixed kanji text would
	// produce half-converted forms no dictionary indexes.
	if isPureKana(query) {
		if converted := KatakanaToHiragana(query); converted != query {
			add(converted)
		}
		if converted := HiraganaToKatakana(query); converted != query {
			add(converted)
		}
	}

	// Inflection stripping.
	for _, rule := range inflectionRules {
		stem, ok := strings.CutSuffix(query, rule.suffix)
		if !ok || stem == "" {
			continue
		}
		for _, replacement := range rule.replacements {
			add(stem + replacement)
		}
	}

	// A bare masu-stem often just needs る appended (食べ -> 食べる).
	if !strings.HasSuffix(query, "る") {
		add(query + "る")
	}

	// Particle trimming, then appending: a loosely segmented token may carry
	// a clinging particle, or have lost one an indexed expression keeps.
	for _, particle := range trailingParticles {
		if stem, ok := strings.CutSuffix(query, particle); ok && stem != "" {
			add(stem)
		}
	}
	for _, particle := range trailingParticles {
		add(query + particle)
	}

	// Compound splits for longer words: peel one rune off either end, then
	// try the halves.
	runes := []rune(query)
	if len(runes) >= 4 {
		add(string(runes[:len(runes)-1]))
		add(string(runes[1:]))
		mid := len(runes) / 2
		add(string(runes[:mid]))
		add(string(runes[mid:]))
	}

	return candidates
}

const (
	katakanaFirst = rune(0x30A1) // ァ
	katakanaLast  = rune(0x30F6) // ヶ
	hiraganaFirst = rune(0x3041) // ぁ
	hiraganaLast  = rune(0x3096) // ゖ
	kanaOffset    = rune(0x60)
)

func isPureKana(text string) bool {
	for _, r := range text {
		isHiragana := r >= hiraganaFirst && r <= hiraganaLast
		isKatakana := r >= katakanaFirst && r <= katakanaLast
		if !isHiragana && !isKatakana && r != 'ー' {
			return false
		}
	}
	return text != ""
}

// KatakanaToHiragana converts katakana characters to their hiragana
// counterparts; other characters pass through unchanged.
func KatakanaToHiragana(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r >= katakanaFirst && r <= katakanaLast {
			r -= kanaOffset
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// HiraganaToKatakana is the inverse conversion.
func HiraganaToKatakana(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r >= hiraganaFirst && r <= hiraganaLast {
			r += kanaOffset
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
