// Package search provides the query-side stages of the retrieval pipeline:
// preprocessing, intent classification, and strategy templates.
package search

import (
	"regexp"
	"strings"
)

var (
	uriRE        = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)
	whitespaceRE = regexp.MustCompile(`\s+`)
	tokenRE      = regexp.MustCompile(`[a-z0-9_-]+`)
)

// Preprocessed is the output of query preprocessing. Original is preserved
// for display; Effective is the normalized form used for matching.
type Preprocessed struct {
	Original  string   `json:"query"`
	Effective string   `json:"query_effective"`
	Tokens    []string `json:"-"`
	Steps     []string `json:"query_preprocess"`
}

// maxQueryTokens bounds the token list handed to the matching stages.
const maxQueryTokens = 16

// Preprocess normalizes a raw query: trims, collapses whitespace, strips
// URI-like sequences, lowercases for matching, and dedupes the token list
// to at most 16 entries.
func Preprocess(raw string) Preprocessed {
	steps := make([]string, 0, 4)
	effective := strings.TrimSpace(raw)
	if effective != raw {
		steps = append(steps, "trim")
	}

	if uriRE.MatchString(strings.ToLower(effective)) {
		effective = uriRE.ReplaceAllString(strings.ToLower(effective), " ")
		steps = append(steps, "strip_uri")
	}

	collapsed := whitespaceRE.ReplaceAllString(effective, " ")
	if collapsed != effective {
		steps = append(steps, "collapse_whitespace")
	}
	effective = strings.TrimSpace(collapsed)

	lowered := strings.ToLower(effective)
	if lowered != effective {
		steps = append(steps, "lowercase")
	}
	effective = lowered

	tokens := Tokenize(effective)
	deduped := dedupeTokens(tokens)
	if len(deduped) < len(tokens) {
		steps = append(steps, "dedupe_tokens")
	}
	if len(deduped) > maxQueryTokens {
		deduped = deduped[:maxQueryTokens]
		steps = append(steps, "token_cap")
	}

	return Preprocessed{
		Original:  raw,
		Effective: effective,
		Tokens:    deduped,
		Steps:     steps,
	}
}

// dedupeTokens drops repeated tokens, keeping first-occurrence order.
func dedupeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// Tokenize splits normalized text into matching tokens.
func Tokenize(s string) []string {
	return tokenRE.FindAllString(strings.ToLower(s), -1)
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

// TokenOverlap returns |A ∩ B| / |A| for the token sets of a and b.
// Returns 0 when a has no tokens.
func TokenOverlap(a, b string) float64 {
	as := TokenSet(a)
	if len(as) == 0 {
		return 0
	}
	bs := TokenSet(b)
	hits := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(as))
}

// Jaccard returns |A ∩ B| / |A ∪ B| for the token sets of a and b.
func Jaccard(a, b string) float64 {
	as, bs := TokenSet(a), TokenSet(b)
	if len(as) == 0 && len(bs) == 0 {
		return 0
	}
	inter := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}
