package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

type backendFunc func(ctx context.Context, call Call) (Output, error)

func (f backendFunc) Generate(ctx context.Context, call Call) (Output, error) { return f(ctx, call) }

func TestParseModelOutput(t *testing.T) {
	cases := []struct {
		name string
		out  Output
		want string
	}{
		{"plain", Output{Text: `{"title":"A"}`}, "A"},
		{"fenced", Output{Text: "```json\n{\"title\":\"B\"}\n```"}, "B"},
		{"prose around", Output{Text: `Here you go: {"title":"C {x}","n":"\"}"} thanks`}, "C {x}"},
		{"tool args win", Output{Text: `{"title":"ignored"}`, ToolArguments: []string{`{"title":"D"}`}}, "D"},
		{"tool envelope", Output{ToolArguments: []string{`{"input":{"title":"E"}}`}}, "E"},
		{"bad tool then text", Output{Text: `{"title":"F"}`, ToolArguments: []string{`not json`}}, "F"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := ParseModelOutput(tc.out)
			require.NoError(t, err)
			assert.Equal(t, tc.want, obj["title"])
		})
	}

	_, err := ParseModelOutput(Output{Text: "sorry, no"})
	assert.True(t, errors.Is(err, ErrNoJSON))

	// Balanced but not JSON: still a draft problem, not a provider failure.
	_, err = ParseModelOutput(Output{Text: "Here is the section: {title: '3.1 Hygiëne', blocks: []}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoJSON))
}

func TestParseModelSpec(t *testing.T) {
	spec, err := ParseModelSpec("claude:claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, spec.Provider)
	assert.Equal(t, "claude-sonnet-4-5", spec.Model)
	assert.Equal(t, "anthropic:claude-sonnet-4-5", spec.String())

	spec, err = ParseModelSpec("openai")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, spec.Provider)
	assert.Empty(t, spec.Model)

	_, err = ParseModelSpec("gemini:pro")
	assert.Error(t, err)
	_, err = ParseModelSpec(" ")
	assert.Error(t, err)
}

func TestGatewayTimeoutIsDistinguishable(t *testing.T) {
	slow := backendFunc(func(ctx context.Context, call Call) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	})
	g := NewGateway(logger.NewNop(), map[Provider]Backend{ProviderOpenAI: slow}).WithTimeout(20 * time.Millisecond)

	_, err := g.Generate(context.Background(), Request{Provider: ProviderOpenAI, Model: "m", MaxTokens: 100})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.After)
}

func TestGatewayHardErrorIsNotTimeout(t *testing.T) {
	boom := backendFunc(func(ctx context.Context, call Call) (Output, error) {
		return Output{}, errors.New("http 500")
	})
	g := NewGateway(logger.NewNop(), map[Provider]Backend{ProviderAnthropic: boom})

	_, err := g.Generate(context.Background(), Request{Provider: ProviderAnthropic})
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
}

func TestGatewayPassesCallThrough(t *testing.T) {
	var got Call
	echo := backendFunc(func(ctx context.Context, call Call) (Output, error) {
		got = call
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return Output{ToolArguments: []string{`{"ok":true}`}}, nil
	})
	g := NewGateway(logger.NewNop(), map[Provider]Backend{ProviderAnthropic: echo, ProviderOpenAI: nil})

	schema := map[string]any{"type": "object"}
	obj, err := g.Generate(context.Background(), Request{
		Provider: ProviderAnthropic, Model: "m", System: "s", User: "u", MaxTokens: 42, SchemaName: "section", Schema: schema,
	})
	require.NoError(t, err)
	assert.Equal(t, true, obj["ok"])
	assert.Equal(t, Call{Model: "m", System: "s", User: "u", MaxTokens: 42, SchemaName: "section", Schema: schema}, got)

	_, err = g.Generate(context.Background(), Request{Provider: ProviderOpenAI})
	assert.ErrorContains(t, err, "not configured")
}
