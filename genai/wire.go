package genai

import (
	"encoding/json"
	"fmt"
	"strings"

	gemini "google.golang.org/genai"
)

// newContentConfig asks for JSON output with thinking disabled.
func newContentConfig(req Request) (*gemini.GenerateContentConfig, error) {
	config := &gemini.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ThinkingConfig:   &gemini.ThinkingConfig{ThinkingBudget: gemini.Ptr[int32](0)},
	}
	if len(req.Schema) > 0 {
		var schema gemini.Schema
		if err := json.Unmarshal(req.Schema, &schema); err != nil {
			return nil, fmt.Errorf("genai: decode response schema: %w", err)
		}
		config.ResponseSchema = &schema
	}
	return config, nil
}

// result extracts the first candidate's text and checks it is JSON.
func result(resp *gemini.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Response{}, fmt.Errorf("%w: prompt blocked (%s)", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return Response{}, ErrEmptyResponse
	}
	cand := resp.Candidates[0]

	var text strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			text.WriteString(p.Text)
		}
	}
	value := strings.TrimSpace(text.String())
	if value == "" {
		return Response{}, fmt.Errorf("%w: finish reason %s", ErrEmptyResponse, cand.FinishReason)
	}
	if !json.Valid([]byte(value)) {
		return Response{}, fmt.Errorf("%w: %s", ErrInvalidJSON, truncate(value, 200))
	}

	out := Response{
		Value:        json.RawMessage(value),
		FinishReason: string(cand.FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens: int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
