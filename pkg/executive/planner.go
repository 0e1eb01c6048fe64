package executive

import (
	"context"
	"fmt"
	"strings"

	"forge/pkg/llm"
)

// Step is one unit of the plan: a goal narrow enough for a single
// generate-verify loop.
type Step struct {
	Number int
	Goal   string
}

// Planner decomposes a goal into steps.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]Step, error)
}

// SingleStepPlanner treats the whole goal as one step.
type SingleStepPlanner struct{}

// Plan implements Planner.
func (SingleStepPlanner) Plan(_ context.Context, goal string) ([]Step, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal cannot be empty")
	}
	return []Step{{Number: 1, Goal: goal}}, nil
}

const plannerSystemPrompt = `You decompose a code-change goal into a short ordered list of independent
steps, each achievable as one focused code change. Respond with one step per
line, no numbering, no commentary. For a simple goal respond with a single
line restating it.`

// LLMPlanner asks the model to decompose the goal. Falls back to a single
// step when the response is unusable.
type LLMPlanner struct {
	client   Client
	maxSteps int
}

// Client is the completion surface the planner needs.
type Client interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// NewLLMPlanner creates a planner capped at maxSteps steps.
func NewLLMPlanner(client Client, maxSteps int) *LLMPlanner {
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &LLMPlanner{client: client, maxSteps: maxSteps}
}

// Plan implements Planner.
func (p *LLMPlanner) Plan(ctx context.Context, goal string) ([]Step, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal cannot be empty")
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		System:      plannerSystemPrompt,
		Messages:    []llm.Message{llm.NewUserMessage(goal)},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var steps []Step
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, Step{Number: len(steps) + 1, Goal: line})
		if len(steps) == p.maxSteps {
			break
		}
	}
	if len(steps) == 0 {
		return []Step{{Number: 1, Goal: goal}}, nil
	}
	return steps, nil
}
