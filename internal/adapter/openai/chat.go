package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mnemolabs/palace/internal/domain/guard"
	"github.com/mnemolabs/palace/internal/port/llm"
)

const arbiterSystemPrompt = `You classify whether a proposed memory duplicates existing memories.
Respond with a single JSON object: {"action": "ADD"|"UPDATE"|"NOOP"|"DELETE", "target": <candidate number or -1>, "reason": "<short reason>"}.
NOOP means the proposal adds nothing over the target. UPDATE means the proposal supersedes the target.`

const gistSystemPrompt = `You compress session notes into a short gist.
Write at most %d bullet points and at most %d characters total. Output only the gist text.`

// Chat implements LLM arbitration and gist generation over an
// OpenAI-compatible /chat/completions endpoint.
type Chat struct {
	client *openai.Client
	model  string
	remote *remote
}

// NewChat creates a chat-backed arbiter/gister.
func NewChat(apiBase, apiKey, model string, limits Limits) *Chat {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	return &Chat{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		remote: newRemote(limits),
	}
}

var _ llm.Arbiter = (*Chat)(nil)
var _ llm.Gister = (*Chat)(nil)

type arbiterReply struct {
	Action string `json:"action"`
	Target int    `json:"target"`
	Reason string `json:"reason"`
}

// Classify asks the model to pick a verdict for the proposal against the
// candidate list. Candidates are numbered from zero in the prompt.
func (c *Chat) Classify(ctx context.Context, proposal string, candidates []llm.Candidate) (guard.Verdict, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Proposal:\n%s\n\nCandidates:\n", truncate(proposal, 2000))
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "[%d] %s (score %.2f)\n%s\n\n", i, cand.URI, cand.Score, truncate(cand.Content, 800))
	}

	content, err := c.complete(ctx, arbiterSystemPrompt, sb.String(), 200)
	if err != nil {
		return guard.Verdict{}, err
	}

	var reply arbiterReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		return guard.Verdict{}, fmt.Errorf("parse arbiter reply %q: %w", content, err)
	}

	v := guard.Verdict{
		Action:     guard.Action(strings.ToUpper(reply.Action)),
		Method:     guard.MethodLLM,
		Reason:     reply.Reason,
		Confidence: 0.85,
	}
	switch v.Action {
	case guard.ActionAdd, guard.ActionUpdate, guard.ActionNoop, guard.ActionDelete:
	default:
		return guard.Verdict{}, fmt.Errorf("arbiter returned unknown action %q", reply.Action)
	}
	if reply.Target >= 0 && reply.Target < len(candidates) {
		v.TargetID = candidates[reply.Target].ID
		v.TargetURI = candidates[reply.Target].URI
	}
	return v, nil
}

// Gist summarizes session content. Quality is derived from how well the
// model respected the length budget.
func (c *Chat) Gist(ctx context.Context, content string, maxPoints, maxChars int) (string, float64, error) {
	system := fmt.Sprintf(gistSystemPrompt, maxPoints, maxChars)
	text, err := c.complete(ctx, system, truncate(content, 8000), maxChars/2+64)
	if err != nil {
		return "", 0, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", 0, fmt.Errorf("gist: model returned empty text")
	}

	quality := 0.9
	if len(text) > maxChars {
		text = text[:maxChars]
		quality = 0.6
	}
	return text, quality, nil
}

func (c *Chat) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var resp openai.ChatCompletionResponse
	err := c.remote.call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   maxTokens,
			Temperature: 0,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON cuts the first balanced-looking JSON object out of a reply
// that may be wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
