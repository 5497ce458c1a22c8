package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultModel           = anthropic.Model("claude-3-haiku-20240307")
	DefaultMaxOutputTokens = 4096

	defaultMaxCallAttempts = 3
)

type AnthropicConfig struct {
	Logger          *slog.Logger
	Client          anthropic.Client
	Model           anthropic.Model
	MaxOutputTokens int64

	// MaxAttempts bounds retries of rate-limited or overloaded calls.
	MaxAttempts uint
}

func (cfg *AnthropicConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.MaxOutputTokens < 0 {
		return errors.New("max output tokens must be greater than 0")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxCallAttempts
	}
	return nil
}

// AnthropicAgent implements LLMClient for Anthropic.
type AnthropicAgent struct {
	log *slog.Logger
	cfg *AnthropicConfig
}

// NewAnthropicAgent creates a new Anthropic LLM client. Responses are
// deterministic (temperature 0).
func NewAnthropicAgent(cfg *AnthropicConfig) (*AnthropicAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AnthropicAgent{log: cfg.Logger, cfg: cfg}, nil
}

// Call sends messages to Anthropic and returns a response.
func (a *AnthropicAgent) Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error) {
	anthropicMsgs := make([]anthropic.MessageParam, len(messages))
	for i, msg := range messages {
		param, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("expected anthropic.MessageParam, got %T", msg.ToParam())
		}
		anthropicMsgs[i] = param
	}

	params := anthropic.MessageNewParams{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxOutputTokens,
		Messages:    anthropicMsgs,
		Tools:       toAnthropicTools(tools),
		Temperature: anthropic.Float(0),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*anthropic.Message, error) {
		attempt++
		if attempt > 1 {
			a.log.Warn("react: model call failed, retrying", "attempt", attempt)
		}
		resp, err := a.cfg.Client.Messages.New(ctx, params)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(a.cfg.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	return anthropicResponse{resp: resp}, nil
}

// retryable reports rate limiting, overload and server errors.
func retryable(err error) bool {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
}

// ConvertToMessage converts an Anthropic message to a react.Message.
func (a *AnthropicAgent) ConvertToMessage(msg any) Message {
	switch m := msg.(type) {
	case anthropic.MessageParam:
		return AnthropicMessage{Msg: m}
	case AnthropicMessage:
		return m
	case GenericMessage:
		if m.Role == "assistant" {
			return AnthropicMessage{Msg: anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))}
		}
		return a.CreateUserMessage(m.Content)
	default:
		return AnthropicMessage{Msg: anthropic.MessageParam{}}
	}
}

// ConvertToolResults converts tool results to Anthropic messages.
func (a *AnthropicAgent) ConvertToolResults(_ []ToolUse, results []ToolResult) ([]Message, error) {
	toolResults := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, result := range results {
		toolResults = append(toolResults, anthropic.NewToolResultBlock(result.ID, result.Content, result.IsError))
	}
	return []Message{AnthropicMessage{Msg: anthropic.NewUserMessage(toolResults...)}}, nil
}

// CreateUserMessage creates a user message in Anthropic format.
func (a *AnthropicAgent) CreateUserMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewUserMessage(anthropic.NewTextBlock(content))}
}

// AnthropicMessage wraps Anthropic's MessageParam to implement react.Message.
type AnthropicMessage struct {
	Msg anthropic.MessageParam
}

func (m AnthropicMessage) ToParam() any {
	return m.Msg
}

type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, len(r.resp.Content))
	for i, blk := range r.resp.Content {
		blocks[i] = anthropicContentBlock{blk}
	}
	return blocks
}

func (r anthropicResponse) ToMessage() Message {
	return AnthropicMessage{Msg: r.resp.ToParam()}
}

type anthropicContentBlock struct {
	blk anthropic.ContentBlockUnion
}

func (b anthropicContentBlock) AsText() (string, bool) {
	text := b.blk.AsText()
	if text.Text == "" {
		return "", false
	}
	return text.Text, true
}

func (b anthropicContentBlock) AsToolUse() (string, string, []byte, bool) {
	tu := b.blk.AsToolUse()
	if tu.ID == "" || tu.Name == "" {
		return "", "", nil, false
	}
	return tu.ID, tu.Name, tu.Input, true
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   requiredFields(t.InputSchema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

// requiredFields accepts both []string and the []any produced by decoding a
// JSON schema.
func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, s := range r {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
