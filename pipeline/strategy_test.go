// ABOUTME: Tests for execution strategies: standard prompt assembly, candidate judging,
// ABOUTME: feedback rounds, judge-verdict parsing, and image-search fail-fast.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/2389-research/stampede/llm"
)

func stdRequest(prompt string) *StrategyRequest {
	return &StrategyRequest{
		Row: Row{"id": "a"},
		Def: &StepDefinition{Prompt: prompt, MaxRetries: 3},
	}
}

func TestStandardStrategyAssemblesPrompt(t *testing.T) {
	var got []llm.Message
	caller := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		got = append([]llm.Message{}, msgs...)
		return "reply", nil
	}}

	req := stdRequest("main prompt")
	req.Def.System = "be terse"
	req.History = []llm.Message{llm.UserMessage("earlier"), llm.AssistantMessage("before")}
	req.ExtraContent = []string{"note one", "note two"}

	res, err := (&StandardStrategy{Caller: caller}).Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("model saw %d messages, want 4", len(got))
	}
	if got[0].Role != llm.RoleSystem || got[0].Content != "be terse" {
		t.Errorf("system turn = %+v", got[0])
	}
	final := got[3].Content
	if !strings.HasPrefix(final, "main prompt") {
		t.Errorf("user turn does not start with the prompt: %q", final)
	}
	if !strings.Contains(final, "note one") || !strings.Contains(final, "note two") {
		t.Errorf("extra content missing from prompt: %q", final)
	}
	if res.AssistantTurn != "reply" || res.Content != "reply" {
		t.Errorf("result = %+v", res)
	}
}

func TestStandardStrategyAppendsAspectRatio(t *testing.T) {
	caller := echoCaller()
	req := stdRequest("draw a cat")
	req.Def.Model.AspectRatio = "16:9"

	res, err := (&StandardStrategy{Caller: caller}).Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.UserTurn, "16:9") {
		t.Errorf("aspect ratio missing from prompt: %q", res.UserTurn)
	}
}

func TestCandidateStrategyFansOut(t *testing.T) {
	var calls int32
	inner := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "candidate", nil
	}}
	judge := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		return "2", nil
	}}

	cs := &CandidateStrategy{
		Inner:      &StandardStrategy{Caller: inner},
		Judge:      judge,
		Candidates: 3,
	}
	if _, err := cs.Execute(context.Background(), stdRequest("p")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("inner called %d times, want 3", n)
	}
	if judge.callCount() != 1 {
		t.Errorf("judge called %d times, want 1", judge.callCount())
	}
}

func TestCandidateStrategyJudgePicks(t *testing.T) {
	var n int32
	inner := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		return "candidate-" + string(rune('a'+atomic.AddInt32(&n, 1)-1)), nil
	}}
	judge := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		prompt := msgs[len(msgs)-1].Content
		if !strings.Contains(prompt, "Candidate 1") || !strings.Contains(prompt, "Candidate 2") {
			t.Errorf("judge prompt missing candidates: %q", prompt)
		}
		return "The best is candidate 2.", nil
	}}

	cs := &CandidateStrategy{
		Inner:      &StandardStrategy{Caller: inner},
		Judge:      judge,
		Candidates: 2,
	}
	res, err := cs.Execute(context.Background(), stdRequest("p"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(res.AssistantTurn, "candidate-") {
		t.Errorf("selected = %q", res.AssistantTurn)
	}
}

func TestCandidateStrategyNoJudgeTakesFirst(t *testing.T) {
	inner := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		return "only", nil
	}}
	cs := &CandidateStrategy{Inner: &StandardStrategy{Caller: inner}, Candidates: 2}
	res, err := cs.Execute(context.Background(), stdRequest("p"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.AssistantTurn != "only" {
		t.Errorf("selected = %q", res.AssistantTurn)
	}
}

func TestCandidateStrategyFeedbackLoop(t *testing.T) {
	var generations int32
	inner := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		if atomic.AddInt32(&generations, 1) == 1 {
			return "rough draft", nil
		}
		prompt := msgs[len(msgs)-1].Content
		if !strings.Contains(prompt, "too vague") {
			t.Errorf("regeneration prompt missing critique: %q", prompt)
		}
		return "polished", nil
	}}
	criticCalls := 0
	critic := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		criticCalls++
		if criticCalls == 1 {
			return "too vague", nil
		}
		return "SATISFIED", nil
	}}

	cs := &CandidateStrategy{
		Inner:         &StandardStrategy{Caller: inner},
		Critic:        critic,
		Candidates:    1,
		FeedbackLoops: 3,
	}
	res, err := cs.Execute(context.Background(), stdRequest("write"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.AssistantTurn != "polished" {
		t.Errorf("final = %q, want the regenerated result", res.AssistantTurn)
	}
	if criticCalls != 2 {
		t.Errorf("critic called %d times, want 2 (critique then satisfied)", criticCalls)
	}
}

func TestParseCandidatePick(t *testing.T) {
	cases := []struct {
		verdict string
		n       int
		want    int
	}{
		{"2", 3, 1},
		{"Candidate 3 is best.", 3, 2},
		{"none of these", 3, 0},
		{"99", 3, 0},
		{"1", 1, 0},
	}
	for _, tc := range cases {
		if got := parseCandidatePick(tc.verdict, tc.n); got != tc.want {
			t.Errorf("parseCandidatePick(%q, %d) = %d, want %d", tc.verdict, tc.n, got, tc.want)
		}
	}
}

// fakeImageSearch returns scripted hits and records the requested limit.
type fakeImageSearch struct {
	hits      []ImageResult
	lastLimit int
}

func (f *fakeImageSearch) SearchImages(ctx context.Context, query string, limit int) ([]ImageResult, error) {
	f.lastLimit = limit
	return f.hits, nil
}

func TestImageSearchStrategyPicksFromHits(t *testing.T) {
	search := &fakeImageSearch{hits: []ImageResult{
		{URL: "https://img/one.png", Title: "one"},
		{URL: "https://img/two.png", Title: "two"},
	}}
	caller := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		return "2", nil
	}}

	res, err := (&ImageSearchStrategy{Caller: caller, Search: search}).Execute(context.Background(), stdRequest("a red logo"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "https://img/two.png" {
		t.Errorf("Content = %q, want the judged URL", res.Content)
	}
}

func TestStepExecutorAppliesImageSearchLimit(t *testing.T) {
	search := &fakeImageSearch{hits: []ImageResult{{URL: "https://img/one.png", Title: "one"}}}
	caller := &fakeCaller{replyFn: func(msgs []llm.Message) (string, error) {
		return "1", nil
	}}
	exec := &StepExecutor{Factory: fixedFactory(caller), ImageSearch: search}

	req := &StrategyRequest{
		Row: Row{"id": "a"},
		Def: &StepDefinition{Prompt: "a red logo", UseImageSearch: true, ImageSearchLimit: 3, MaxRetries: 3},
	}
	if _, err := exec.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if search.lastLimit != 3 {
		t.Errorf("search limit = %d, want the configured 3", search.lastLimit)
	}

	// Unset falls back to the strategy default.
	req.Def.ImageSearchLimit = 0
	if _, err := exec.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if search.lastLimit != 8 {
		t.Errorf("search limit = %d, want the default 8", search.lastLimit)
	}
}

func TestStepExecutorRefusesImageSearchWithoutCollaborator(t *testing.T) {
	exec := &StepExecutor{Factory: fixedFactory(echoCaller())}
	_, err := exec.Execute(context.Background(), &StrategyRequest{
		Def: &StepDefinition{Prompt: "p", UseImageSearch: true},
	})
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}
