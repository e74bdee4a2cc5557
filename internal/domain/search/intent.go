package search

import (
	"math"
	"regexp"
	"strings"
)

// Intent classifies the purpose of a query.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentExploratory Intent = "exploratory"
	IntentTemporal    Intent = "temporal"
	IntentCausal      Intent = "causal"
	IntentUnknown     Intent = "unknown"
)

// ClassifierVersion names the scoring scheme reported in search responses.
const ClassifierVersion = "keyword_scoring_v2"

// Intent selection margins. Scores are integer keyword-hit counts, so the
// margins are small integers rather than tuned floats.
const (
	intentStrongMargin    = 2
	intentAmbiguousMargin = 1
	intentFloor           = 1
	lowSignalTop          = 2
)

var (
	temporalWords = []string{
		"yesterday", "today", "tomorrow", "week", "month", "year", "ago",
		"recent", "recently", "latest", "last", "when", "before", "after",
		"since", "date", "morning", "evening", "night",
	}
	causalWords = []string{
		"why", "because", "cause", "caused", "reason", "due", "led",
		"result", "consequence", "explain",
	}
	exploratoryWords = []string{
		"list", "kinds", "types", "examples", "options", "all", "every",
		"overview", "explore", "show", "enumerate", "what", "which",
	}

	dateRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`)
)

// Classification is the intent classifier output.
type Classification struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Scores     map[Intent]int `json:"-"`
}

// Classify assigns keyword-hit scores to each intent and selects one.
// Ties at the top and low-signal near-ties route to unknown.
func Classify(p Preprocessed) Classification {
	scores := map[Intent]int{
		IntentTemporal:    0,
		IntentCausal:      0,
		IntentExploratory: 0,
		IntentFactual:     0,
	}

	for _, tok := range p.Tokens {
		if containsToken(temporalWords, tok) {
			scores[IntentTemporal]++
		}
		if containsToken(causalWords, tok) {
			scores[IntentCausal]++
		}
		if containsToken(exploratoryWords, tok) {
			scores[IntentExploratory]++
		}
	}
	if dateRE.MatchString(p.Effective) {
		scores[IntentTemporal] += 2
	}
	if strings.Contains(p.Effective, "what kinds") || strings.Contains(p.Effective, "what kind") {
		scores[IntentExploratory]++
	}

	top, second, topIntent, tied := rank(scores)

	// No keyword signal at all defaults to factual.
	if top < intentFloor {
		return Classification{Intent: IntentFactual, Confidence: 0.55, Scores: scores}
	}
	if tied {
		return Classification{Intent: IntentUnknown, Confidence: 0.42, Scores: scores}
	}
	// Weak overall signal needs a strong margin; near-ties are ambiguous.
	margin := top - second
	if top <= lowSignalTop && margin < intentStrongMargin && margin <= intentAmbiguousMargin {
		return Classification{Intent: IntentUnknown, Confidence: 0.46, Scores: scores}
	}

	conf := math.Min(0.96, 0.58+0.07*float64(top)+0.04*float64(margin))
	return Classification{Intent: topIntent, Confidence: conf, Scores: scores}
}

// rank returns the top and runner-up scores, the top intent, and whether two
// intents share the top score. Iteration order is fixed for determinism.
func rank(scores map[Intent]int) (top, second int, topIntent Intent, tied bool) {
	order := []Intent{IntentTemporal, IntentCausal, IntentExploratory, IntentFactual}
	top, second = -1, -1
	for _, in := range order {
		s := scores[in]
		switch {
		case s > top:
			second = top
			top = s
			topIntent = in
			tied = false
		case s == top:
			tied = true
			if s > second {
				second = s
			}
		case s > second:
			second = s
		}
	}
	if second < 0 {
		second = 0
	}
	return top, second, topIntent, tied
}

func containsToken(list []string, tok string) bool {
	for _, w := range list {
		if w == tok {
			return true
		}
	}
	return false
}
