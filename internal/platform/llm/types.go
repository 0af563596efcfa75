package llm

import (
	"context"
	"fmt"
	"strings"
)

type Provider string

const (
	// ProviderOpenAI returns the model's JSON as plain output text.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic returns the JSON as tool-call arguments.
	ProviderAnthropic Provider = "anthropic"
)

// Call is what a backend receives. System/User are final prompt strings.
type Call struct {
	Model      string
	System     string
	User       string
	MaxTokens  int
	SchemaName string
	Schema     map[string]any
}

// Output is a provider response before normalization. Exactly one of Text or
// ToolArguments is usually populated.
type Output struct {
	Text          string
	ToolArguments []string
	StopReason    string
}

// Backend is one provider transport.
type Backend interface {
	Generate(ctx context.Context, call Call) (Output, error)
}

// Request is the provider-agnostic gateway input.
type Request struct {
	Provider   Provider
	Model      string
	System     string
	User       string
	MaxTokens  int
	SchemaName string
	Schema     map[string]any
}

// ModelSpec is a parsed "provider:model" selector.
type ModelSpec struct {
	Provider Provider
	Model    string
}

func (s ModelSpec) String() string {
	if s.Model == "" {
		return string(s.Provider)
	}
	return string(s.Provider) + ":" + s.Model
}

// ParseModelSpec accepts "openai:gpt-4.1", "anthropic:claude-sonnet-4-5",
// the aliases "gpt"/"claude", or a bare provider name (model left empty so
// the backend default applies).
func ParseModelSpec(raw string) (ModelSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ModelSpec{}, fmt.Errorf("model spec is empty")
	}
	providerPart, model, _ := strings.Cut(raw, ":")
	p, err := parseProvider(providerPart)
	if err != nil {
		return ModelSpec{}, err
	}
	return ModelSpec{Provider: p, Model: strings.TrimSpace(model)}, nil
}

func parseProvider(raw string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	default:
		return "", fmt.Errorf("unknown llm provider %q (allowed: openai, anthropic)", raw)
	}
}
