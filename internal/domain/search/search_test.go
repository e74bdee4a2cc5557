package search

import (
	"testing"
	"time"
)

func TestPreprocess(t *testing.T) {
	p := Preprocess("  Meetings   LAST Week  ")
	if p.Effective != "meetings last week" {
		t.Errorf("Effective = %q", p.Effective)
	}
	if p.Original != "  Meetings   LAST Week  " {
		t.Errorf("Original must be preserved, got %q", p.Original)
	}
	if len(p.Tokens) != 3 {
		t.Errorf("Tokens = %v", p.Tokens)
	}
}

func TestPreprocessStripsURIs(t *testing.T) {
	p := Preprocess("see core://agent/style for details")
	for _, tok := range p.Tokens {
		if tok == "core" {
			t.Errorf("URI should be stripped, tokens = %v", p.Tokens)
		}
	}
	found := false
	for _, s := range p.Steps {
		if s == "strip_uri" {
			found = true
		}
	}
	if !found {
		t.Errorf("Steps = %v, want strip_uri", p.Steps)
	}
}

func TestTokenOverlap(t *testing.T) {
	if got := TokenOverlap("alpha beta", "alpha beta gamma"); got != 1.0 {
		t.Errorf("overlap = %v, want 1.0", got)
	}
	if got := TokenOverlap("alpha beta", "gamma delta"); got != 0 {
		t.Errorf("overlap = %v, want 0", got)
	}
	if got := TokenOverlap("", "anything"); got != 0 {
		t.Errorf("empty overlap = %v, want 0", got)
	}
}

func TestJaccard(t *testing.T) {
	if got := Jaccard("a b c", "b c d"); got != 0.5 {
		t.Errorf("Jaccard = %v, want 0.5", got)
	}
	if got := Jaccard("a b", "a b"); got != 1.0 {
		t.Errorf("Jaccard identical = %v, want 1.0", got)
	}
}

func TestClassifyTemporal(t *testing.T) {
	c := Classify(Preprocess("meetings last week"))
	if c.Intent != IntentTemporal {
		t.Errorf("intent = %v (scores %v), want temporal", c.Intent, c.Scores)
	}
	if c.Confidence < 0.5 {
		t.Errorf("confidence = %v", c.Confidence)
	}
}

func TestClassifyCausal(t *testing.T) {
	c := Classify(Preprocess("why did the deploy fail because of the cause"))
	if c.Intent != IntentCausal {
		t.Errorf("intent = %v (scores %v), want causal", c.Intent, c.Scores)
	}
}

func TestClassifyExploratory(t *testing.T) {
	c := Classify(Preprocess("list all examples and options"))
	if c.Intent != IntentExploratory {
		t.Errorf("intent = %v (scores %v), want exploratory", c.Intent, c.Scores)
	}
}

func TestClassifyNoSignalDefaultsFactual(t *testing.T) {
	c := Classify(Preprocess("quarterly revenue numbers"))
	if c.Intent != IntentFactual {
		t.Errorf("intent = %v, want factual", c.Intent)
	}
	if c.Confidence != 0.55 {
		t.Errorf("confidence = %v, want 0.55", c.Confidence)
	}
}

func TestClassifyTieIsUnknown(t *testing.T) {
	// One temporal hit and one causal hit tie at the top.
	c := Classify(Preprocess("why yesterday"))
	if c.Intent != IntentUnknown {
		t.Errorf("intent = %v (scores %v), want unknown on tie", c.Intent, c.Scores)
	}
}

func TestClassifyDateBoost(t *testing.T) {
	c := Classify(Preprocess("status report 2026-08-24"))
	if c.Intent != IntentTemporal {
		t.Errorf("intent = %v (scores %v), want temporal for date token", c.Intent, c.Scores)
	}
}

func TestTemplateFor(t *testing.T) {
	tests := []struct {
		in   Intent
		want Template
	}{
		{IntentFactual, TemplateFactual},
		{IntentExploratory, TemplateExploratory},
		{IntentTemporal, TemplateTemporal},
		{IntentCausal, TemplateCausal},
		{IntentUnknown, TemplateDefault},
	}
	for _, tt := range tests {
		if got := TemplateFor(tt.in); got != tt.want {
			t.Errorf("TemplateFor(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSelectClampsMultiplier(t *testing.T) {
	if s := Select(TemplateFactual, ModeHybrid, 4, Weights{}); s.CandidateMultiplier != 2 {
		t.Errorf("factual multiplier = %d, want 2", s.CandidateMultiplier)
	}
	if s := Select(TemplateExploratory, ModeHybrid, 4, Weights{}); s.CandidateMultiplier != 6 {
		t.Errorf("exploratory multiplier = %d, want 6", s.CandidateMultiplier)
	}
	if s := Select(TemplateCausal, ModeHybrid, 4, Weights{}); s.CandidateMultiplier != 8 {
		t.Errorf("causal multiplier = %d, want 8", s.CandidateMultiplier)
	}
	if s := Select(TemplateDefault, ModeHybrid, 4, Weights{}); s.CandidateMultiplier != 4 {
		t.Errorf("default multiplier = %d, want 4", s.CandidateMultiplier)
	}
}

func TestSelectTemporalWindow(t *testing.T) {
	s := Select(TemplateTemporal, ModeHybrid, 4, Weights{})
	if s.TimeWindow != 14*24*time.Hour {
		t.Errorf("TimeWindow = %v", s.TimeWindow)
	}
}

func TestSelectModeWeights(t *testing.T) {
	kw := Select(TemplateFactual, ModeKeyword, 4, Weights{})
	if kw.Weights.Vector != 0 || kw.Weights.Text != 0.80 {
		t.Errorf("keyword weights = %+v", kw.Weights)
	}
	sem := Select(TemplateFactual, ModeSemantic, 4, Weights{})
	if sem.Weights.Vector != 0.82 || sem.Weights.Text != 0 {
		t.Errorf("semantic weights = %+v", sem.Weights)
	}
	hy := Select(TemplateFactual, ModeHybrid, 4, Weights{})
	if hy.Weights.Text != 0.58 {
		t.Errorf("hybrid factual weights = %+v", hy.Weights)
	}
}

func TestSelectHybridWeightOverride(t *testing.T) {
	s := Select(TemplateFactual, ModeHybrid, 4, Weights{Vector: 0.70, Text: 0.15})
	if s.Weights.Vector != 0.70 || s.Weights.Text != 0.15 {
		t.Errorf("overridden weights = %+v", s.Weights)
	}
	if s.Weights.Priority != hybridWeights[TemplateFactual].Priority {
		t.Errorf("priority weight changed: %+v", s.Weights)
	}
	// Single-signal modes ignore the hybrid override.
	kw := Select(TemplateFactual, ModeKeyword, 4, Weights{Vector: 0.70, Text: 0.15})
	if kw.Weights.Text != 0.80 {
		t.Errorf("keyword weights = %+v", kw.Weights)
	}
}

func TestPreprocessDedupesAndCapsTokens(t *testing.T) {
	p := Preprocess("build build deploy deploy release")
	if len(p.Tokens) != 3 {
		t.Fatalf("Tokens = %v, want 3 distinct", p.Tokens)
	}
	if p.Tokens[0] != "build" || p.Tokens[1] != "deploy" || p.Tokens[2] != "release" {
		t.Errorf("token order not preserved: %v", p.Tokens)
	}
	if !hasStep(p.Steps, "dedupe_tokens") {
		t.Errorf("Steps = %v, want dedupe_tokens", p.Steps)
	}

	long := ""
	for i := 0; i < 20; i++ {
		long += " token" + string(rune('a'+i))
	}
	p = Preprocess(long)
	if len(p.Tokens) != 16 {
		t.Errorf("len(Tokens) = %d, want 16", len(p.Tokens))
	}
	if !hasStep(p.Steps, "token_cap") {
		t.Errorf("Steps = %v, want token_cap", p.Steps)
	}
}

func hasStep(steps []string, want string) bool {
	for _, s := range steps {
		if s == want {
			return true
		}
	}
	return false
}
