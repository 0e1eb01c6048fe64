package llm

import (
	"context"
	"fmt"
	"strings"

	"forge/pkg/utils"
)

const summarizerSystemPrompt = `You summarize source files for a repository index. Respond with one or two
plain sentences describing what the file contains and its role. No markdown,
no preamble.`

// summaryInputTokenCap bounds how much of a file is sent for summarization.
const summaryInputTokenCap = 6000

// FileSummarizer produces one-line file summaries for the repository index.
// It satisfies repoindex.Summarizer.
type FileSummarizer struct {
	client  Client
	tracker *CostTracker
	counter *utils.TokenCounter
}

// NewFileSummarizer creates a summarizer backed by client.
func NewFileSummarizer(client Client, tracker *CostTracker) *FileSummarizer {
	// A nil counter falls back to character-based estimation.
	counter, _ := utils.NewTokenCounter()
	return &FileSummarizer{
		client:  client,
		tracker: tracker,
		counter: counter,
	}
}

// Summarize returns a short natural-language summary of a file.
func (s *FileSummarizer) Summarize(ctx context.Context, path, content string) (string, error) {
	content = s.counter.TruncateToTokenLimit(content, summaryInputTokenCap)
	prompt := fmt.Sprintf("File: %s\n\n%s", path, content)

	resp, err := s.client.Complete(ctx, Request{
		System:      summarizerSystemPrompt,
		Messages:    []Message{NewUserMessage(prompt)},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if s.tracker != nil {
		s.tracker.Add(resp.Usage)
	}
	return strings.TrimSpace(resp.Content), nil
}
