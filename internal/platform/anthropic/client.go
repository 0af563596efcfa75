package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"

	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/platform/promptstyle"
)

// DefaultToolName is the single tool the model is asked to call with its JSON.
const DefaultToolName = "emit_json"

// Client is the tool-call provider. When a schema is supplied the model is
// bound to one tool whose parameters mirror it, and the tool arguments become
// the output.
type Client struct {
	log          *logger.Logger
	apiKey       string
	baseURL      string
	defaultModel string
	maxTokens    int

	mu     sync.Mutex
	models map[string]*claude.ChatModel
}

var _ llm.Backend = (*Client)(nil)

func NewClient(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	return &Client{
		log:          log.With("service", "AnthropicClient"),
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(envutil.String("ANTHROPIC_BASE_URL", ""), "/"),
		defaultModel: envutil.String("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		maxTokens:    envutil.IntRange("ANTHROPIC_MAX_TOKENS", 8000, 256, 64000),
		models:       map[string]*claude.ChatModel{},
	}, nil
}

func (c *Client) chatModel(ctx context.Context, model string) (*claude.ChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cm, ok := c.models[model]; ok {
		return cm, nil
	}
	cfg := &claude.Config{
		APIKey:    c.apiKey,
		Model:     model,
		MaxTokens: c.maxTokens,
	}
	if c.baseURL != "" {
		base := c.baseURL
		cfg.BaseURL = &base
	}
	cm, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create claude chat model %q: %w", model, err)
	}
	c.models[model] = cm
	return cm, nil
}

func (c *Client) Generate(ctx context.Context, call llm.Call) (llm.Output, error) {
	model := strings.TrimSpace(call.Model)
	if model == "" {
		model = c.defaultModel
	}
	cm, err := c.chatModel(ctx, model)
	if err != nil {
		return llm.Output{}, err
	}

	mode := "json"
	var chat einomodel.BaseChatModel = cm
	if call.Schema != nil {
		mode = "tool"
		tc, err := cm.WithTools([]*schema.ToolInfo{ToolInfo(call.SchemaName, call.Schema)})
		if err != nil {
			return llm.Output{}, fmt.Errorf("bind tool: %w", err)
		}
		chat = tc
	}

	opts := []einomodel.Option{}
	if call.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(call.MaxTokens))
	}
	msg, err := chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(promptstyle.ApplySystem(call.System, mode)),
		schema.UserMessage(call.User),
	}, opts...)
	if err != nil {
		return llm.Output{}, err
	}
	if msg == nil {
		return llm.Output{}, fmt.Errorf("claude returned no message")
	}

	out := llm.Output{Text: msg.Content}
	if msg.ResponseMeta != nil {
		out.StopReason = msg.ResponseMeta.FinishReason
	}
	for _, tcall := range msg.ToolCalls {
		if strings.TrimSpace(tcall.Function.Arguments) != "" {
			out.ToolArguments = append(out.ToolArguments, tcall.Function.Arguments)
		}
	}
	c.log.Debug("Claude response",
		"model", model,
		"tool_calls", len(out.ToolArguments),
		"text_chars", len(out.Text),
		"stop_reason", out.StopReason,
	)
	return out, nil
}

// ToolInfo converts a JSON-schema style object into an eino tool definition.
// The schema is passed through whole so array bounds reach the provider; the
// ParameterInfo mapping is only used when it does not decode.
func ToolInfo(name string, jsonSchema map[string]any) *schema.ToolInfo {
	if strings.TrimSpace(name) == "" {
		name = DefaultToolName
	}
	desc, _ := jsonSchema["description"].(string)
	if desc == "" {
		desc = "Return the requested JSON object."
	}
	info := &schema.ToolInfo{Name: name, Desc: desc}
	if js, err := decodeJSONSchema(jsonSchema); err == nil {
		info.ParamsOneOf = schema.NewParamsOneOfByJSONSchema(js)
	} else {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(ParamsFromSchema(jsonSchema))
	}
	return info
}

func decodeJSONSchema(m map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	js := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, js); err != nil {
		return nil, err
	}
	return js, nil
}

// ParamsFromSchema maps the properties of an object schema. Only the subset
// of JSON schema the prompts emit is understood: type, description,
// properties, required, items and enum. Array bounds are lost.
func ParamsFromSchema(jsonSchema map[string]any) map[string]*schema.ParameterInfo {
	props, _ := jsonSchema["properties"].(map[string]any)
	required := requiredSet(jsonSchema)
	out := make(map[string]*schema.ParameterInfo, len(props))
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sub, _ := props[k].(map[string]any)
		p := paramFromSchema(sub)
		p.Required = required[k]
		out[k] = p
	}
	return out
}

func paramFromSchema(s map[string]any) *schema.ParameterInfo {
	p := &schema.ParameterInfo{}
	if s == nil {
		p.Type = schema.String
		return p
	}
	p.Desc, _ = s["description"].(string)
	switch t, _ := s["type"].(string); t {
	case "object":
		p.Type = schema.Object
		p.SubParams = ParamsFromSchema(s)
	case "array":
		p.Type = schema.Array
		items, _ := s["items"].(map[string]any)
		p.ElemInfo = paramFromSchema(items)
	case "integer":
		p.Type = schema.Integer
	case "number":
		p.Type = schema.Number
	case "boolean":
		p.Type = schema.Boolean
	default:
		p.Type = schema.String
	}
	switch enum := s["enum"].(type) {
	case []string:
		p.Enum = append([]string(nil), enum...)
	case []any:
		for _, v := range enum {
			if str, ok := v.(string); ok {
				p.Enum = append(p.Enum, str)
			}
		}
	}
	return p
}

func requiredSet(s map[string]any) map[string]bool {
	out := map[string]bool{}
	switch req := s["required"].(type) {
	case []string:
		for _, r := range req {
			out[r] = true
		}
	case []any:
		for _, r := range req {
			if str, ok := r.(string); ok {
				out[str] = true
			}
		}
	}
	return out
}
