package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/altocentral/backend/analytics/pkg/metrics"
)

const (
	defaultMaxIterations    = 10
	defaultBudget           = 90 * time.Second
	defaultMaxParallelTools = 4

	maxIterationsText = "Maximum iterations reached"
	budgetText        = "Time budget exceeded"
)

// Config is the configuration for the Agent.
type Config struct {
	Logger     *slog.Logger
	LLM        LLMClient
	ToolClient ToolClient
	Clock      clockwork.Clock

	// System is the system prompt sent with every model turn.
	System string

	// MaxIterations bounds the number of model turns.
	MaxIterations int

	// Budget bounds the wall-clock time of a run, measured on Clock.
	Budget time.Duration

	// MaxParallelTools bounds concurrent tool calls within one turn.
	MaxParallelTools int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM is required")
	}
	if cfg.ToolClient == nil {
		return errors.New("tool client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxIterations <= 0 {
		return errors.New("max iterations must be greater than 0")
	}
	if cfg.Budget == 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.Budget <= 0 {
		return errors.New("budget must be greater than 0")
	}
	if cfg.MaxParallelTools == 0 {
		cfg.MaxParallelTools = defaultMaxParallelTools
	}
	if cfg.MaxParallelTools <= 0 {
		return errors.New("max parallel tools must be greater than 0")
	}
	return nil
}

// Agent runs the tool-calling loop: ask the model, run the tools it asks
// for, feed the results back, until it answers without tools.
type Agent struct {
	log  *slog.Logger
	cfg  *Config
	pool pond.ResultPool[ToolResult]
}

// NewAgent creates a new agent. Close releases its tool worker pool.
func NewAgent(cfg *Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[ToolResult](cfg.MaxParallelTools),
	}, nil
}

func (a *Agent) Close() {
	a.pool.StopAndWait()
}

// ForSession returns an agent sharing a's model and worker pool that sends
// system and dispatches to tools. An empty system keeps a's prompt.
func (a *Agent) ForSession(system string, tools ToolClient) *Agent {
	cfg := *a.cfg
	if system != "" {
		cfg.System = system
	}
	if tools != nil {
		cfg.ToolClient = tools
	}
	return &Agent{log: a.log, cfg: &cfg, pool: a.pool}
}

// Run starts a conversation from a single user prompt.
func (a *Agent) Run(ctx context.Context, prompt string) (*RunResult, error) {
	return a.RunWithMessages(ctx, []Message{a.cfg.LLM.CreateUserMessage(prompt)})
}

// RunWithMessages executes the loop on top of an existing conversation. A
// failing model call is returned as an error; tool failures are reported to
// the model and recorded in the result.
func (a *Agent) RunWithMessages(ctx context.Context, initialMessages []Message) (*RunResult, error) {
	started := a.cfg.Clock.Now()
	budgetCtx, cancel := clockwork.WithTimeout(ctx, a.cfg.Clock, a.cfg.Budget)
	defer cancel()

	msgs := make([]Message, len(initialMessages))
	copy(msgs, initialMessages)

	tools, err := a.cfg.ToolClient.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	result := &RunResult{}
	finish := func(reason StopReason, text string) *RunResult {
		result.StopReason = reason
		result.FinalText = text
		result.FullConversation = msgs
		metrics.OrchestratorRunsTotal.WithLabelValues(string(reason)).Inc()
		a.log.Info("react: run finished", "stop_reason", reason, "iterations", result.Iterations, "tool_calls", len(result.ToolCalls))
		return result
	}
	// Done is polled rather than Err: a fake clock's context blocks in Err
	// until its deadline fires.
	overBudget := func() bool {
		select {
		case <-budgetCtx.Done():
			return true
		default:
		}
		return a.cfg.Clock.Since(started) >= a.cfg.Budget
	}

	for round := 0; round < a.cfg.MaxIterations; round++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if overBudget() {
			return finish(StopBudgetExceeded, budgetText), nil
		}

		roundNum := round + 1
		a.log.Debug("react: starting round", "round", roundNum, "max_rounds", a.cfg.MaxIterations)

		result.Iterations = roundNum
		metrics.OrchestratorTurnsTotal.Inc()
		response, err := a.cfg.LLM.Call(budgetCtx, a.cfg.System, msgs, tools)
		if err != nil {
			if ctx.Err() == nil && overBudget() {
				return finish(StopBudgetExceeded, budgetText), nil
			}
			return nil, fmt.Errorf("failed to get response: %w", err)
		}
		msgs = append(msgs, response.ToMessage())

		toolUses := extractToolUses(response.Content())
		if len(toolUses) == 0 {
			return finish(StopEndTurn, joinText(response.Content())), nil
		}

		// A started batch always completes; the budget is checked between rounds.
		a.log.Debug("react: executing tools", "round", roundNum, "count", len(toolUses))
		toolResults := a.executeTools(ctx, toolUses, result)

		toolResultMsgs, err := a.cfg.LLM.ConvertToolResults(toolUses, toolResults)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool results: %w", err)
		}
		msgs = append(msgs, toolResultMsgs...)
	}

	return finish(StopMaxIterations, maxIterationsText), nil
}

func joinText(content []ContentBlock) string {
	var parts []string
	for _, blk := range content {
		if text, ok := blk.AsText(); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// extractToolUses extracts tool use requests from response content blocks.
// Blocks whose input is not a JSON object are dropped.
func extractToolUses(content []ContentBlock) []ToolUse {
	var toolUses []ToolUse
	for _, blk := range content {
		id, name, inputBytes, ok := blk.AsToolUse()
		if !ok || id == "" || name == "" {
			continue
		}
		input := map[string]any{}
		if len(inputBytes) > 0 {
			if err := json.Unmarshal(inputBytes, &input); err != nil {
				continue
			}
		}
		toolUses = append(toolUses, ToolUse{ID: id, Name: name, Input: input})
	}
	return toolUses
}

// executeTools runs all tool uses of a turn concurrently and waits for every
// one of them. Results and audit records keep request order.
func (a *Agent) executeTools(ctx context.Context, toolUses []ToolUse, result *RunResult) []ToolResult {
	group := a.pool.NewGroupContext(ctx)
	for _, tu := range toolUses {
		group.Submit(func() ToolResult {
			return a.callTool(ctx, tu)
		})
	}
	results, err := group.Wait()
	if err != nil {
		a.log.Warn("react: tool dispatch interrupted", "error", err)
		results = make([]ToolResult, len(toolUses))
		for i, tu := range toolUses {
			results[i] = ToolResult{ID: tu.ID, Content: fmt.Sprintf("Error: %v", err), IsError: true}
		}
	}

	for i, tu := range toolUses {
		rec := ToolCallRecord{Tool: tu.Name, Input: tu.Input, Success: !results[i].IsError}
		if results[i].IsError {
			rec.Error = strings.TrimPrefix(results[i].Content, "Error: ")
		} else {
			rec.Result = results[i].Content
		}
		result.ToolCalls = append(result.ToolCalls, rec)
	}
	return results
}

func (a *Agent) callTool(ctx context.Context, tu ToolUse) ToolResult {
	out, isErr, err := a.cfg.ToolClient.CallToolText(ctx, tu.Name, tu.Input)
	if err != nil {
		a.log.Warn("react: tool execution error", "tool", tu.Name, "tool_id", tu.ID, "error", err)
		return ToolResult{ID: tu.ID, Content: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	if isErr {
		return ToolResult{ID: tu.ID, Content: "Error: " + out, IsError: true}
	}
	return ToolResult{ID: tu.ID, Content: out}
}
