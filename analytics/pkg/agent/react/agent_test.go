package react

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/logger"
)

// mockLLMClient is a mock LLM client for testing.
type mockLLMClient struct {
	responses []mockResponse
	callIndex int
	err       error
	systems   []string

	// onCall runs before each response is returned.
	onCall func(call int)
}

type mockResponse struct {
	text      string
	toolCalls []mockToolCall
}

type mockToolCall struct {
	id    string
	name  string
	input map[string]any
}

func (m *mockLLMClient) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	m.systems = append(m.systems, system)
	if m.onCall != nil {
		m.onCall(m.callIndex)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.callIndex >= len(m.responses) {
		// Keep asking for the same tool so runs hit their limits.
		last := m.responses[len(m.responses)-1]
		m.callIndex++
		return &mockLLMResponse{text: last.text, toolCalls: last.toolCalls}, nil
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return &mockLLMResponse{text: resp.text, toolCalls: resp.toolCalls}, nil
}

func (m *mockLLMClient) ConvertToMessage(msg any) Message {
	return GenericMessage{Role: "user", Content: ""}
}

func (m *mockLLMClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	var msgs []Message
	for i, tu := range toolUses {
		msgs = append(msgs, GenericMessage{Role: "tool", Content: "Tool " + tu.Name + ": " + results[i].Content})
	}
	return msgs, nil
}

func (m *mockLLMClient) CreateUserMessage(content string) Message {
	return GenericMessage{Role: "user", Content: content}
}

type mockLLMResponse struct {
	text      string
	toolCalls []mockToolCall
}

func (r *mockLLMResponse) Content() []ContentBlock {
	var blocks []ContentBlock
	if r.text != "" {
		blocks = append(blocks, &mockTextBlock{text: r.text})
	}
	for _, tc := range r.toolCalls {
		blocks = append(blocks, &mockToolUseBlock{id: tc.id, name: tc.name, input: tc.input})
	}
	return blocks
}

func (r *mockLLMResponse) ToMessage() Message {
	return GenericMessage{Role: "assistant", Content: r.text}
}

type mockTextBlock struct {
	text string
}

func (b *mockTextBlock) AsText() (string, bool) {
	return b.text, true
}

func (b *mockTextBlock) AsToolUse() (string, string, []byte, bool) {
	return "", "", nil, false
}

type mockToolUseBlock struct {
	id    string
	name  string
	input map[string]any
}

func (b *mockToolUseBlock) AsText() (string, bool) {
	return "", false
}

func (b *mockToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	inputBytes, _ := json.Marshal(b.input)
	return b.id, b.name, inputBytes, true
}

// mockToolClient allows per-call control of results.
type mockToolClient struct {
	tools    []Tool
	callFunc func(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

func (m *mockToolClient) ListTools(ctx context.Context) ([]Tool, error) {
	return m.tools, nil
}

func (m *mockToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if m.callFunc == nil {
		return "no result", false, nil
	}
	return m.callFunc(ctx, name, args)
}

var testTools = []Tool{
	{Name: "query_timeseries", Description: "Query", InputSchema: map[string]any{}},
	{Name: "create_line_chart", Description: "Chart", InputSchema: map[string]any{}},
}

func newTestAgent(t *testing.T, cfg *Config) *Agent {
	t.Helper()
	cfg.Logger = logger.Discard()
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClock()
	}
	agent, err := NewAgent(cfg)
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	return agent
}

func TestAgent_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewAgent(&Config{})
	require.EqualError(t, err, "logger is required")
	_, err = NewAgent(&Config{Logger: logger.Discard()})
	require.EqualError(t, err, "LLM is required")
	_, err = NewAgent(&Config{Logger: logger.Discard(), LLM: &mockLLMClient{}})
	require.EqualError(t, err, "tool client is required")

	cfg := &Config{Logger: logger.Discard(), LLM: &mockLLMClient{}, ToolClient: &mockToolClient{}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Budget)
}

func TestAgent_Run_FinalAnswerWithoutTools(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{{text: "Plant efficiency averaged 0.62 kW/RT."}}}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: &mockToolClient{tools: testTools}})

	result, err := agent.Run(t.Context(), "How efficient was the plant?")
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, result.StopReason)
	assert.Equal(t, "Plant efficiency averaged 0.62 kW/RT.", result.FinalText)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.ToolCalls)
	assert.Len(t, result.FullConversation, 2)
}

func TestAgent_Run_ToolsThenAnswer(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{
		responses: []mockResponse{
			{
				text: "Fetching data.",
				toolCalls: []mockToolCall{
					{id: "1", name: "query_timeseries", input: map[string]any{"device_id": "plant"}},
					{id: "2", name: "query_timeseries", input: map[string]any{"device_id": "chiller_1"}},
				},
			},
			{
				text:      "Charting.",
				toolCalls: []mockToolCall{{id: "3", name: "create_line_chart", input: map[string]any{"title": "Power"}}},
			},
			{text: "Here is the chart."},
		},
	}
	tools := &mockToolClient{
		tools: testTools,
		callFunc: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
			if name == "query_timeseries" {
				return `{"device_id":"` + args["device_id"].(string) + `","row_count":3}`, false, nil
			}
			return `{"success":true}`, false, nil
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: tools})

	result, err := agent.Run(t.Context(), "Chart plant power")
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, result.StopReason)
	assert.Equal(t, "Here is the chart.", result.FinalText)
	assert.Equal(t, 3, result.Iterations)

	require.Len(t, result.ToolCalls, 3)
	assert.Equal(t, "plant", result.ToolCalls[0].Input["device_id"])
	assert.Equal(t, "chiller_1", result.ToolCalls[1].Input["device_id"])
	assert.Equal(t, "create_line_chart", result.ToolCalls[2].Tool)
	for _, rec := range result.ToolCalls {
		assert.True(t, rec.Success)
		assert.Empty(t, rec.Error)
	}
	assert.JSONEq(t, `{"device_id":"chiller_1","row_count":3}`, result.ToolCalls[1].Result)
}

func TestAgent_Run_ToolFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{
				{id: "1", name: "query_timeseries", input: map[string]any{"device_id": "plant"}},
				{id: "2", name: "missing_tool", input: map[string]any{}},
				{id: "3", name: "create_line_chart", input: map[string]any{}},
			}},
			{text: "Could only partially answer."},
		},
	}
	tools := &mockToolClient{
		tools: testTools,
		callFunc: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
			switch name {
			case "query_timeseries":
				return "ok", false, nil
			case "create_line_chart":
				return "missing required field: data", true, nil
			}
			return "", true, errors.New("unknown tool: " + name)
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: tools})

	result, err := agent.Run(t.Context(), "Chart it")
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, result.StopReason)

	require.Len(t, result.ToolCalls, 3)
	assert.Equal(t, ToolCallRecord{Tool: "query_timeseries", Input: map[string]any{"device_id": "plant"}, Result: "ok", Success: true}, result.ToolCalls[0])
	assert.Equal(t, ToolCallRecord{Tool: "missing_tool", Input: map[string]any{}, Error: "unknown tool: missing_tool"}, result.ToolCalls[1])
	assert.Equal(t, ToolCallRecord{Tool: "create_line_chart", Input: map[string]any{}, Error: "missing required field: data"}, result.ToolCalls[2])

	// The model sees the failures as error results.
	require.Len(t, result.FullConversation, 6)
	assert.Equal(t, "Tool missing_tool: Error: unknown tool: missing_tool", result.FullConversation[3].(GenericMessage).Content)
}

func TestAgent_Run_ToolsRunInParallel(t *testing.T) {
	t.Parallel()

	const n = 3
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{
				{id: "1", name: "query_timeseries", input: map[string]any{}},
				{id: "2", name: "query_timeseries", input: map[string]any{}},
				{id: "3", name: "query_timeseries", input: map[string]any{}},
			}},
			{text: "done"},
		},
	}

	var (
		started atomic.Int32
		wg      sync.WaitGroup
	)
	wg.Add(n)
	tools := &mockToolClient{
		tools: testTools,
		callFunc: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
			started.Add(1)
			wg.Done()
			// Every call waits for all calls of the turn to be running.
			waitCh := make(chan struct{})
			go func() { wg.Wait(); close(waitCh) }()
			select {
			case <-waitCh:
				return "ok", false, nil
			case <-time.After(5 * time.Second):
				return "timed out waiting for siblings", true, nil
			}
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: tools, MaxParallelTools: n})

	result, err := agent.Run(t.Context(), "parallel")
	require.NoError(t, err)
	assert.Equal(t, int32(n), started.Load())
	for _, rec := range result.ToolCalls {
		assert.True(t, rec.Success, rec.Error)
	}
}

func TestAgent_Run_MaxIterations(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{
		responses: []mockResponse{
			{text: "again", toolCalls: []mockToolCall{{id: "x", name: "query_timeseries", input: map[string]any{}}}},
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: &mockToolClient{tools: testTools}, MaxIterations: 3})

	result, err := agent.Run(t.Context(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.StopReason)
	assert.Equal(t, "Maximum iterations reached", result.FinalText)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, llm.callIndex)
	assert.Len(t, result.ToolCalls, 3)
}

func TestAgent_Run_BudgetExceeded(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "x", name: "query_timeseries", input: map[string]any{}}}},
		},
		onCall: func(int) { clock.Advance(40 * time.Second) },
	}
	agent := newTestAgent(t, &Config{
		LLM:        llm,
		ToolClient: &mockToolClient{tools: testTools},
		Clock:      clock,
		Budget:     90 * time.Second,
	})

	result, err := agent.Run(t.Context(), "slow model")
	require.NoError(t, err)
	assert.Equal(t, StopBudgetExceeded, result.StopReason)
	// 40s per turn: the third turn ends at 120s, so no fourth starts.
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.ToolCalls, 3)
}

func TestAgent_Run_DefaultIterationCap(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{
				{id: "a", name: "query_timeseries", input: map[string]any{"device_id": "plant"}},
				{id: "b", name: "create_line_chart", input: map[string]any{}},
			}},
		},
	}
	var calls atomic.Int32
	tools := &mockToolClient{
		tools: testTools,
		callFunc: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
			calls.Add(1)
			return "ok", false, nil
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: tools})

	result, err := agent.Run(t.Context(), "never stop")
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, result.StopReason)
	assert.Equal(t, "Maximum iterations reached", result.FinalText)
	assert.Equal(t, 10, result.Iterations)
	assert.Equal(t, 10, llm.callIndex)
	assert.Equal(t, int32(20), calls.Load())
	require.Len(t, result.ToolCalls, 20)
	for i, rec := range result.ToolCalls {
		want := "query_timeseries"
		if i%2 == 1 {
			want = "create_line_chart"
		}
		assert.Equal(t, want, rec.Tool, "record %d", i)
		assert.True(t, rec.Success, "record %d", i)
	}
}

func TestAgent_Run_BudgetCrossedDuringToolsFinishesTurn(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "x", name: "query_timeseries", input: map[string]any{}}}},
			{text: "never reached"},
		},
	}
	tools := &mockToolClient{
		tools: testTools,
		callFunc: func(ctx context.Context, name string, args map[string]any) (string, bool, error) {
			clock.Advance(2 * time.Minute)
			if err := ctx.Err(); err != nil {
				return "", false, err
			}
			return `{"row_count": 24}`, false, nil
		},
	}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: tools, Clock: clock, Budget: 90 * time.Second})

	result, err := agent.Run(t.Context(), "slow query")
	require.NoError(t, err)
	assert.Equal(t, StopBudgetExceeded, result.StopReason)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, llm.callIndex)
	require.Len(t, result.ToolCalls, 1)
	assert.True(t, result.ToolCalls[0].Success)
	assert.Equal(t, `{"row_count": 24}`, result.ToolCalls[0].Result)
}

func TestAgent_Run_ModelErrorIsReturned(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{err: errors.New("connection refused")}
	agent := newTestAgent(t, &Config{LLM: llm, ToolClient: &mockToolClient{tools: testTools}})

	_, err := agent.Run(t.Context(), "anything")
	require.ErrorContains(t, err, "connection refused")
}

func TestAgent_ExtractToolUses_SkipsMalformedInput(t *testing.T) {
	t.Parallel()

	uses := extractToolUses([]ContentBlock{
		&mockTextBlock{text: "hi"},
		&mockToolUseBlock{id: "1", name: "query_timeseries", input: map[string]any{"a": 1.0}},
		&rawToolUseBlock{id: "2", name: "bad", input: []byte("[1,2]")},
		&rawToolUseBlock{id: "3", name: "empty"},
	})
	require.Len(t, uses, 2)
	assert.Equal(t, "query_timeseries", uses[0].Name)
	assert.Equal(t, map[string]any{"a": 1.0}, uses[0].Input)
	assert.Equal(t, "empty", uses[1].Name)
	assert.Empty(t, uses[1].Input)
}

type rawToolUseBlock struct {
	id, name string
	input    []byte
}

func (b *rawToolUseBlock) AsText() (string, bool) { return "", false }

func (b *rawToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	return b.id, b.name, b.input, true
}

func TestAgent_RequiredFields(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a"}, requiredFields([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, requiredFields([]any{"a", "b", 3}))
	assert.Nil(t, requiredFields(nil))
}

func TestAgent_ForSession(t *testing.T) {
	t.Parallel()

	llm := &mockLLMClient{responses: []mockResponse{{text: "done"}}}
	base := newTestAgent(t, &Config{LLM: llm, ToolClient: &mockToolClient{}, System: "base prompt"})

	siteTools := &mockToolClient{tools: testTools}
	session := base.ForSession("site prompt", siteTools)
	_, err := session.Run(t.Context(), "chart power")
	require.NoError(t, err)
	_, err = base.Run(t.Context(), "chart power")
	require.NoError(t, err)

	assert.Equal(t, []string{"site prompt", "base prompt"}, llm.systems)
	assert.Same(t, siteTools, session.cfg.ToolClient)
	assert.Equal(t, "base prompt", base.ForSession("", nil).cfg.System)
}
