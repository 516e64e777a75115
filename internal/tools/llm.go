package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearthd/voice-pipeline/internal/resilience"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional override for self-hosted gateways
}

// Completion is one finished model turn: the streamed text plus any tool
// calls the model requested.
type Completion struct {
	Text      string
	ToolCalls []LLMToolCall
}

// LLMToolCall is one function call requested by the model.
type LLMToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// LLM streams chat completions from the language-model provider. Token
// output is relayed verbatim through the emit callback without
// reinterpretation.
type LLM struct {
	client oai.Client
	model  string
	logger zerolog.Logger
}

// NewLLM creates the provider client.
func NewLLM(cfg LLMConfig, logger zerolog.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tools: llm api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("tools: llm model must not be empty")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &LLM{client: oai.NewClient(opts...), model: cfg.Model, logger: logger}, nil
}

// callServiceTool is the one function the model may invoke: a service
// call on the home-automation control plane.
var callServiceTool = oai.ChatCompletionToolParam{
	Function: oai.FunctionDefinitionParam{
		Name:        "call_service",
		Description: oai.String("Execute a home-automation service, e.g. turning lights on or setting a thermostat."),
		Parameters: oai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"domain":  map[string]any{"type": "string", "description": "Service domain, e.g. light, switch, climate"},
				"service": map[string]any{"type": "string", "description": "Service name, e.g. turn_on"},
				"data":    map[string]any{"type": "object", "description": "Service payload, e.g. entity_id and attributes"},
			},
			"required": []string{"domain", "service"},
		},
	},
}

// StreamChat streams one completion. Text deltas are passed to emit as
// they arrive; tool-call fragments are accumulated by index the way the
// API delivers them and returned whole.
func (l *LLM) StreamChat(ctx context.Context, system, user string, emit func(chunk string)) (*Completion, error) {
	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(l.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Tools: []oai.ChatCompletionToolParam{callServiceTool},
	}

	stream := l.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text string
	accum := map[int]*LLMToolCall{}

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			text += delta.Content
			if emit != nil {
				emit(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := int(tc.Index)
			if _, ok := accum[idx]; !ok {
				accum[idx] = &LLMToolCall{ID: tc.ID, Name: tc.Function.Name}
			}
			existing := accum[idx]
			if tc.ID != "" {
				existing.ID = tc.ID
			}
			if tc.Function.Name != "" {
				existing.Name = tc.Function.Name
			}
			existing.Arguments += tc.Function.Arguments
		}
	}

	if err := stream.Err(); err != nil {
		return nil, classifyLLMError(err)
	}

	completion := &Completion{Text: text}
	for i := 0; i < len(accum); i++ {
		if tc, ok := accum[i]; ok {
			completion.ToolCalls = append(completion.ToolCalls, *tc)
		}
	}
	return completion, nil
}

// classifyLLMError marks provider overload and transport failures as
// transient; everything else (bad request, auth) fails fast.
func classifyLLMError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 || apiErr.StatusCode == 408 {
			return resilience.Transient(err)
		}
		return err
	}
	// Non-API errors are transport-level.
	return resilience.Transient(err)
}
