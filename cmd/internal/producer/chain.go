package producer

import (
	"context"
	"encoding/json"
	"fmt"

	v1 "github.com/Karen86Tonoyan/automatzyacja/shared/contracts/realtime/v1"
)

// SearchResult is one hit of the search step.
type SearchResult struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearchOutput is what the search step contributes to the chain context.
type SearchOutput struct {
	Query   string         `json:"query"`
	Sources []string       `json:"sources"`
	Results []SearchResult `json:"results"`
}

// ResearchOutput is what the research step contributes to the chain context.
type ResearchOutput struct {
	Topic    string   `json:"topic"`
	Findings []string `json:"findings"`
}

// ChainResult accumulates step outputs. Later steps see earlier outputs in their prompts.
type ChainResult struct {
	SearchResults *SearchOutput   `json:"searchResults,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Generated     string          `json:"generated,omitempty"`
	Research      *ResearchOutput `json:"research,omitempty"`
	Transformed   string          `json:"transformed,omitempty"`
}

// RunChain executes steps in order against conversation.
// search and research are local and never call the model.
func RunChain(ctx context.Context, r Runner, conversation string, steps []v1.Step) (*ChainResult, error) {
	if err := v1.ValidateSteps(steps); err != nil {
		return nil, err
	}

	res := &ChainResult{}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		switch step.Type {
		case v1.StepSearch:
			res.SearchResults = search(step.Query, step.Sources)
		case v1.StepSummarize:
			res.Summary, err = withContext(ctx, r, conversation, step.Prompt, res)
		case v1.StepGenerate:
			res.Generated, err = withContext(ctx, r, conversation, step.Prompt, res)
		case v1.StepResearch:
			res.Research = &ResearchOutput{Topic: step.Topic, Findings: []string{}}
		case v1.StepTransform:
			res.Transformed, err = transform(ctx, r, conversation, step, res)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Type, err)
		}
	}
	return res, nil
}

func search(query string, sources []string) *SearchOutput {
	if sources == nil {
		sources = []string{}
	}
	return &SearchOutput{
		Query:   query,
		Sources: sources,
		Results: []SearchResult{
			{Source: "reddit", Title: "Sample post", Content: "..."},
			{Source: "twitter", Title: "Sample tweet", Content: "..."},
		},
	}
}

func withContext(ctx context.Context, r Runner, conversation, prompt string, res *ChainResult) (string, error) {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return r.Run(ctx, conversation, fmt.Sprintf("%s\n\nContent:\n%s", prompt, b), nil)
}

func transform(ctx context.Context, r Runner, conversation string, step v1.Step, res *ChainResult) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Transform this content for %s in %s style:\n\n%s", step.Platform, step.Style, b)
	return r.Run(ctx, conversation, prompt, nil)
}
