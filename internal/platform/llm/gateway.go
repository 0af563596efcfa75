package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/bookdraft-backend/internal/observability"
	"github.com/yungbote/bookdraft-backend/internal/platform/ctxutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// DefaultCallTimeout stays below the worker's per-tick budget so a stalled
// call is observed as a timeout instead of the tick being killed.
const DefaultCallTimeout = 110 * time.Second

// TimeoutError marks a call that hit the gateway deadline.
type TimeoutError struct {
	Provider Provider
	Model    string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llm %s:%s timed out after %s", e.Provider, e.Model, e.After)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ErrProviderNotConfigured is returned for a provider without a backend.
var ErrProviderNotConfigured = errors.New("llm provider is not configured")

// Generator is the capability the drafting engine consumes.
type Generator interface {
	Generate(ctx context.Context, req Request) (map[string]any, error)
}

type Gateway struct {
	log      *logger.Logger
	backends map[Provider]Backend
	timeout  time.Duration
}

var _ Generator = (*Gateway)(nil)

// NewGateway wires the available backends. A provider with a nil backend is
// treated as not configured.
func NewGateway(log *logger.Logger, backends map[Provider]Backend) *Gateway {
	clean := map[Provider]Backend{}
	for p, b := range backends {
		if b != nil {
			clean[p] = b
		}
	}
	return &Gateway{
		log:      log.With("service", "LLMGateway"),
		backends: clean,
		timeout:  envutil.Seconds("LLM_CALL_TIMEOUT_SECONDS", DefaultCallTimeout),
	}
}

// WithTimeout returns a copy using a different call ceiling.
func (g *Gateway) WithTimeout(d time.Duration) *Gateway {
	cp := *g
	cp.timeout = d
	return &cp
}

func (g *Gateway) Timeout() time.Duration { return g.timeout }

func (g *Gateway) Generate(ctx context.Context, req Request) (map[string]any, error) {
	backend, ok := g.backends[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, req.Provider)
	}

	ctx, span := otel.Tracer(observability.TracerLLM).Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", string(req.Provider)),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
		attribute.Bool("llm.schema", req.Schema != nil),
	)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	log := g.log.With(ctxutil.GetTraceData(ctx).KV()...)
	start := time.Now()
	out, err := backend.Generate(callCtx, Call{
		Model:      req.Model,
		System:     req.System,
		User:       req.User,
		MaxTokens:  req.MaxTokens,
		SchemaName: req.SchemaName,
		Schema:     req.Schema,
	})
	elapsed := time.Since(start)
	metrics := observability.Current()

	if err != nil {
		if isDeadline(callCtx, err) && ctx.Err() == nil {
			metrics.ObserveLLMRequest(string(req.Provider), "timeout", elapsed)
			terr := &TimeoutError{Provider: req.Provider, Model: req.Model, After: g.timeout}
			span.SetStatus(codes.Error, "timeout")
			log.Warn("LLM call timed out", "provider", req.Provider, "model", req.Model, "max_tokens", req.MaxTokens, "elapsed", elapsed.String())
			return nil, terr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("LLM call failed", "provider", req.Provider, "model", req.Model, "error", err)
		metrics.ObserveLLMRequest(string(req.Provider), "error", elapsed)
		return nil, fmt.Errorf("llm %s generate: %w", req.Provider, err)
	}

	obj, err := ParseModelOutput(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse")
		metrics.ObserveLLMRequest(string(req.Provider), "no_json", elapsed)
		return nil, err
	}
	metrics.ObserveLLMRequest(string(req.Provider), "ok", elapsed)
	log.Debug("LLM call done",
		"provider", req.Provider,
		"model", req.Model,
		"elapsed", elapsed.String(),
		"stop_reason", out.StopReason,
	)
	return obj, nil
}

func isDeadline(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
