package search

import "time"

// Mode is the retrieval mode requested by the caller or applied after
// degradation.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Template names the strategy parameter bundle selected by intent.
type Template string

const (
	TemplateFactual     Template = "factual_high_precision"
	TemplateExploratory Template = "exploratory_high_recall"
	TemplateTemporal    Template = "temporal_time_filtered"
	TemplateCausal      Template = "causal_wide_pool"
	TemplateDefault     Template = "default"
)

// Weights blends the per-signal scores into one ranking score.
type Weights struct {
	Vector     float64
	Text       float64
	Priority   float64
	Recency    float64
	PathPrefix float64
}

// Strategy parameterizes the candidate pool and merge stage for one search.
type Strategy struct {
	Template            Template
	CandidateMultiplier int
	Weights             Weights
	TimeWindow          time.Duration
	MinScore            float64
}

// hybridWeights maps each template to its hybrid-mode weight table.
var hybridWeights = map[Template]Weights{
	TemplateFactual:     {Vector: 0.22, Text: 0.58, Priority: 0.12, Recency: 0.06, PathPrefix: 0.02},
	TemplateExploratory: {Vector: 0.58, Text: 0.24, Priority: 0.08, Recency: 0.07, PathPrefix: 0.03},
	TemplateTemporal:    {Vector: 0.28, Text: 0.22, Priority: 0.08, Recency: 0.38, PathPrefix: 0.04},
	TemplateCausal:      {Vector: 0.52, Text: 0.28, Priority: 0.08, Recency: 0.08, PathPrefix: 0.04},
	TemplateDefault:     {Vector: 0.40, Text: 0.40, Priority: 0.10, Recency: 0.07, PathPrefix: 0.03},
}

// Single-signal modes keep a fixed weight table regardless of template.
var (
	keywordWeights  = Weights{Text: 0.80, Priority: 0.12, Recency: 0.06, PathPrefix: 0.02}
	semanticWeights = Weights{Vector: 0.82, Priority: 0.10, Recency: 0.06, PathPrefix: 0.02}
)

// TemplateFor maps a classified intent to its strategy template.
func TemplateFor(in Intent) Template {
	switch in {
	case IntentFactual:
		return TemplateFactual
	case IntentExploratory:
		return TemplateExploratory
	case IntentTemporal:
		return TemplateTemporal
	case IntentCausal:
		return TemplateCausal
	default:
		return TemplateDefault
	}
}

// Select builds the strategy for a template, mode, and base multiplier.
// Each template clamps the multiplier toward its recall profile. In hybrid
// mode a non-zero hybrid.Text or hybrid.Vector overrides the template
// table's keyword and semantic components.
func Select(tmpl Template, mode Mode, baseMultiplier int, hybrid Weights) Strategy {
	s := Strategy{Template: tmpl, CandidateMultiplier: baseMultiplier}

	switch tmpl {
	case TemplateFactual:
		s.CandidateMultiplier = min(baseMultiplier, 2)
		s.MinScore = 0.05
	case TemplateExploratory:
		s.CandidateMultiplier = max(baseMultiplier, 6)
	case TemplateTemporal:
		s.CandidateMultiplier = max(baseMultiplier, 5)
		s.TimeWindow = 14 * 24 * time.Hour
	case TemplateCausal:
		s.CandidateMultiplier = max(baseMultiplier, 8)
	}
	if s.CandidateMultiplier < 1 {
		s.CandidateMultiplier = 1
	}

	switch mode {
	case ModeKeyword:
		s.Weights = keywordWeights
	case ModeSemantic:
		s.Weights = semanticWeights
	default:
		w := hybridWeights[tmpl]
		if hybrid.Text > 0 {
			w.Text = hybrid.Text
		}
		if hybrid.Vector > 0 {
			w.Vector = hybrid.Vector
		}
		s.Weights = w
	}
	return s
}

// ValidMode reports whether m is a recognized retrieval mode.
func ValidMode(m Mode) bool {
	return m == ModeKeyword || m == ModeSemantic || m == ModeHybrid
}
