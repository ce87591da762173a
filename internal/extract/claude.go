package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recalld/recalld/internal/model"
)

// summaryPrompt instructs the model to emit a strict JSON list. Anything that
// fails to parse is rejected at the boundary rather than propagated.
const summaryPrompt = `You distill coding-session activity logs into durable memory entries. Given a transcript, extract the items worth remembering across sessions.

Each item has:
- "kind": one of "summary" (what happened), "decision" (a choice made and why), "learning" (a reusable fact or technique discovered), "blocker" (an unresolved obstacle)
- "text": one or two sentences, self-contained, understandable without the transcript
- "tags": up to 8 short lowercase topic tags

Return ONLY a JSON array of these objects. Return [] if nothing is worth remembering. Skip chit-chat, progress narration, and anything already obvious from the code itself.`

// ClaudeSummarizer implements Summarizer using the Anthropic API.
type ClaudeSummarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeSummarizer creates a summarizer. The model name defaults to a
// small fast model; extraction quality matters less than cost here because
// records are deduplicated downstream.
func NewClaudeSummarizer(apiKey, mdl string, maxTokens int64) *ClaudeSummarizer {
	if mdl == "" {
		mdl = "claude-3-5-haiku-latest"
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &ClaudeSummarizer{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     mdl,
		maxTokens: maxTokens,
	}
}

// Summarize makes one API call for the whole batch.
func (s *ClaudeSummarizer) Summarize(ctx context.Context, entries []model.LogEntry, contextWindow string) ([]model.CandidateInsight, error) {
	var sb strings.Builder
	if contextWindow != "" {
		sb.WriteString("Context from earlier in this session:\n")
		sb.WriteString(contextWindow)
		sb.WriteString("\nNew activity:\n")
	}
	for _, e := range entries {
		if e.Role != "" {
			sb.WriteString(e.Role)
			sb.WriteString(": ")
		}
		sb.WriteString(e.Text)
		sb.WriteString("\n")
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: summaryPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return nil, &model.TransientError{Op: "summarize", Err: err}
	}

	var text strings.Builder
	for _, blk := range resp.Content {
		if blk.Type == "text" {
			text.WriteString(blk.Text)
		}
	}

	return parseInsights(text.String())
}

// parseInsights extracts the JSON array from model output. Models sometimes
// wrap JSON in prose or code fences; everything outside the outermost
// brackets is ignored.
func parseInsights(out string) ([]model.CandidateInsight, error) {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, &model.ValidationError{Reason: "no JSON array in summarizer output"}
	}

	var insights []model.CandidateInsight
	if err := json.Unmarshal([]byte(out[start:end+1]), &insights); err != nil {
		return nil, &model.ValidationError{Reason: fmt.Sprintf("unparseable summarizer output: %v", err)}
	}
	return insights, nil
}
