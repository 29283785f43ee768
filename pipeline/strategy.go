// ABOUTME: Execution strategies for a step's model call: Standard, Candidate (judge + feedback), ImageSearch.
// ABOUTME: One Strategy interface; Candidate composes any inner strategy rather than subclassing it.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/2389-research/stampede/llm"
)

// StrategyRequest carries everything a strategy needs for one model result.
type StrategyRequest struct {
	Row       Row
	Index     int
	StepIndex int
	Def       *StepDefinition
	History   []llm.Message
	// ExtraContent is prompt content accumulated by plugins this step.
	ExtraContent []string
	WorkDir      string
}

// StrategyResult is one model result plus the conversation turns to record.
type StrategyResult struct {
	// Output is the structured result (parsed JSON when a schema applies,
	// raw text otherwise).
	Output any
	// Content is the scalar column value when the step writes a column.
	Content string
	// UserTurn and AssistantTurn are appended to the branch's conversation.
	UserTurn      string
	AssistantTurn string
}

// Strategy produces one model result for a step.
type Strategy interface {
	Execute(ctx context.Context, req *StrategyRequest) (*StrategyResult, error)
}

// buildUserPrompt joins the rendered step prompt with accumulated plugin
// content and any aspect-ratio instruction.
func buildUserPrompt(req *StrategyRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Def.Prompt)
	for _, part := range req.ExtraContent {
		sb.WriteString("\n\n")
		sb.WriteString(part)
	}
	if ar := req.Def.Model.AspectRatio; ar != "" {
		sb.WriteString("\n\nProduce output for aspect ratio ")
		sb.WriteString(ar)
		sb.WriteString(".")
	}
	return sb.String()
}

// StandardStrategy issues a single model call through the validation loop.
type StandardStrategy struct {
	Caller ModelCaller
}

// Execute builds system + history + user prompt, runs the validated call,
// and returns the single result.
func (s *StandardStrategy) Execute(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	prompt := buildUserPrompt(req)

	var msgs []llm.Message
	if req.Def.System != "" {
		msgs = append(msgs, llm.SystemMessage(req.Def.System))
	}
	msgs = append(msgs, req.History...)
	msgs = append(msgs, llm.UserMessage(prompt))

	validated, err := RunValidated(ctx, s.Caller, msgs, validatorForStep(req.Def, req.WorkDir), req.Def.MaxRetries)
	if err != nil {
		return nil, err
	}

	return &StrategyResult{
		Output:        validated.Data,
		Content:       validated.Content,
		UserTurn:      prompt,
		AssistantTurn: validated.Raw,
	}, nil
}

// CandidateStrategy runs the inner strategy N times in parallel and selects
// one result, optionally via a judge model, then refines the selection
// through feedback rounds.
type CandidateStrategy struct {
	Inner      Strategy
	Judge      ModelCaller // nil: first candidate wins
	Critic     ModelCaller // nil: no feedback rounds
	Candidates int
	// FeedbackLoops bounds critique-and-regenerate rounds after selection.
	FeedbackLoops int
}

// Execute generates candidates, selects one, and runs feedback refinement.
func (c *CandidateStrategy) Execute(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	selected, err := c.generateAndSelect(ctx, req)
	if err != nil {
		return nil, err
	}

	for round := 0; round < c.FeedbackLoops && c.Critic != nil; round++ {
		critique, satisfied, err := c.critique(ctx, req, selected)
		if err != nil {
			return nil, err
		}
		if satisfied {
			break
		}
		refined := *req
		refined.ExtraContent = append(append([]string{}, req.ExtraContent...),
			fmt.Sprintf("A reviewer critiqued a previous attempt at this task:\n%s\n\nAddress the critique in your answer.", critique))
		selected, err = c.generateAndSelect(ctx, &refined)
		if err != nil {
			return nil, err
		}
	}

	return selected, nil
}

// generateAndSelect fans out candidate generations and picks one.
func (c *CandidateStrategy) generateAndSelect(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	n := c.Candidates
	if n < 1 {
		n = 1
	}

	results := make([]*StrategyResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			r, err := c.Inner.Execute(gctx, req)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if n == 1 || c.Judge == nil {
		return results[0], nil
	}
	return c.selectWithJudge(ctx, req, results)
}

// selectWithJudge presents all candidates to the judge model and uses its
// pick. An unparseable verdict falls back to the first candidate.
func (c *CandidateStrategy) selectWithJudge(ctx context.Context, req *StrategyRequest, candidates []*StrategyResult) (*StrategyResult, error) {
	var sb strings.Builder
	sb.WriteString("You are judging candidate responses to the following request:\n\n")
	sb.WriteString(buildUserPrompt(req))
	sb.WriteString("\n\nCandidates:\n")
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "\n--- Candidate %d ---\n%s\n", i+1, cand.AssistantTurn)
	}
	sb.WriteString("\nReply with only the number of the best candidate.")

	verdict, err := c.Judge.PromptText(ctx, []llm.Message{llm.UserMessage(sb.String())})
	if err != nil {
		return nil, fmt.Errorf("judge call: %w", err)
	}

	pick := parseCandidatePick(verdict, len(candidates))
	return candidates[pick], nil
}

// parseCandidatePick extracts a 1-based candidate number from the judge's
// reply, returning a 0-based index. Defaults to 0 when no number is found.
func parseCandidatePick(verdict string, n int) int {
	fields := strings.FieldsFunc(verdict, func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		if v, err := strconv.Atoi(f); err == nil && v >= 1 && v <= n {
			return v - 1
		}
	}
	return 0
}

// critique asks the critic model to review the selected result against the
// original request. A reply beginning with "SATISFIED" ends the loop.
func (c *CandidateStrategy) critique(ctx context.Context, req *StrategyRequest, selected *StrategyResult) (string, bool, error) {
	prompt := fmt.Sprintf(
		"Review this response against the original request.\n\nRequest:\n%s\n\nResponse:\n%s\n\nIf the response fully satisfies the request, reply with exactly SATISFIED. Otherwise reply with a concise critique of what to improve.",
		buildUserPrompt(req), selected.AssistantTurn)

	reply, err := c.Critic.PromptText(ctx, []llm.Message{llm.UserMessage(prompt)})
	if err != nil {
		return "", false, fmt.Errorf("critic call: %w", err)
	}
	if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(reply)), "SATISFIED") {
		return "", true, nil
	}
	return reply, false, nil
}

// ImageSearchStrategy drives generation from image search: it queries the
// collaborator with the rendered prompt, offers the hits to the model, and
// returns the model's pick as the column value.
type ImageSearchStrategy struct {
	Caller ModelCaller
	Search ImageSearcher
	Limit  int
}

// Execute runs the search and asks the model to choose the best match.
func (s *ImageSearchStrategy) Execute(ctx context.Context, req *StrategyRequest) (*StrategyResult, error) {
	if s.Search == nil {
		// Declared-dependency failure; the engine checks this at startup, so
		// reaching here means a wiring bug rather than a runtime condition.
		return nil, NewConfigurationError("image search strategy invoked without an image search collaborator")
	}

	limit := s.Limit
	if limit <= 0 {
		limit = 8
	}
	query := buildUserPrompt(req)
	hits, err := s.Search.SearchImages(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("image search returned no results for %q", query)
	}

	var sb strings.Builder
	sb.WriteString("Choose the image that best satisfies this request:\n\n")
	sb.WriteString(query)
	sb.WriteString("\n\nImages:\n")
	for i, hit := range hits {
		fmt.Fprintf(&sb, "%d. %s (%s, %dx%d)\n", i+1, hit.URL, hit.Title, hit.Width, hit.Height)
	}
	sb.WriteString("\nReply with only the number of the best image.")

	prompt := sb.String()
	var msgs []llm.Message
	if req.Def.System != "" {
		msgs = append(msgs, llm.SystemMessage(req.Def.System))
	}
	msgs = append(msgs, req.History...)
	msgs = append(msgs, llm.UserMessage(prompt))

	reply, err := s.Caller.PromptText(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("image selection call: %w", err)
	}
	chosen := hits[parseCandidatePick(reply, len(hits))]

	return &StrategyResult{
		Output:        chosen.URL,
		Content:       chosen.URL,
		UserTurn:      prompt,
		AssistantTurn: reply,
	}, nil
}
