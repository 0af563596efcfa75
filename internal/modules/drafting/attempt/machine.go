package attempt

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindDone  Kind = "done"
	KindYield Kind = "yield"
)

// Outcome is the non-fatal result of a tick. Fatal results are returned as
// errors instead.
type Outcome struct {
	Kind    Kind
	Message string
	// Next is the state the requeued unit resumes with (Yield only).
	Next Context
	// Result is the completion summary (Done only).
	Result map[string]any
}

func (o Outcome) Patch() map[string]any { return o.Next.Patch() }

func Done(message string, result map[string]any) Outcome {
	return Outcome{Kind: KindDone, Message: message, Result: result}
}

func Yield(message string, next Context) Outcome {
	return Outcome{Kind: KindYield, Message: message, Next: next}
}

type ErrorKind string

const (
	ErrConfig      ErrorKind = "config"
	ErrProvider    ErrorKind = "provider"
	ErrExhausted   ErrorKind = "exhausted"
	ErrPersistence ErrorKind = "persistence"
)

// TerminalError ends a unit of work. The job system marks it failed and does
// not requeue.
type TerminalError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s error at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

func Terminal(kind ErrorKind, stage string, err error) error {
	return &TerminalError{Kind: kind, Stage: stage, Err: err}
}

func Configf(stage, format string, args ...any) error {
	return Terminal(ErrConfig, stage, fmt.Errorf(format, args...))
}

// KindOf returns the terminal kind of err, or "" when err is not terminal.
func KindOf(err error) ErrorKind {
	var te *TerminalError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Policy holds the ceilings and token budget schedule.
type Policy struct {
	MaxTimeoutAttempts      int
	MaxDraftAttempts        int
	DefaultMaxTokens        int
	MinMaxTokens            int
	TokenDecay              float64
	ForceSplitAfterTimeouts int
}

// Budget is the token budget for the current attempt.
func (p Policy) Budget(c Context) int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return p.DefaultMaxTokens
}

func (p Policy) reduce(budget int) int {
	next := int(float64(budget) * p.TokenDecay)
	if next >= budget {
		next = budget - 1
	}
	if next < p.MinMaxTokens {
		next = p.MinMaxTokens
	}
	return next
}

// OnTimeout requeues with a smaller budget, or fails once the timeout
// ceiling would be exceeded. splitEligible lets repeated timeouts on a
// locked outline switch the unit to split mode.
func (p Policy) OnTimeout(c Context, stage string, splitEligible bool) (Outcome, error) {
	n := c.TimeoutAttempts + 1
	if n > p.MaxTimeoutAttempts {
		return Outcome{}, Terminal(ErrExhausted, stage,
			fmt.Errorf("llm timed out %d times (max %d)", n, p.MaxTimeoutAttempts))
	}
	budget := p.Budget(c)
	next := c
	next.TimeoutAttempts = n
	next.MaxTokens = p.reduce(budget)
	next.LastFailure = "llm_timeout"
	if splitEligible && p.ForceSplitAfterTimeouts > 0 && n >= p.ForceSplitAfterTimeouts {
		next.ForceSplit = true
	}
	msg := fmt.Sprintf("LLM timed out (attempt %d/%d); retrying with max_tokens=%d", n, p.MaxTimeoutAttempts, next.MaxTokens)
	if next.ForceSplit && !c.ForceSplit {
		msg += " in split mode"
	}
	return Yield(msg, next), nil
}

// OnValidationFailure requeues with the failure recorded as must-fix hints,
// or fails once the draft ceiling would be exceeded.
func (p Policy) OnValidationFailure(c Context, stage string, hints []Hint) (Outcome, error) {
	reason := summarize(hints)
	n := c.DraftAttempts + 1
	if n > p.MaxDraftAttempts {
		return Outcome{}, Terminal(ErrExhausted, stage,
			fmt.Errorf("draft failed validation %d times (max %d): %s", n, p.MaxDraftAttempts, reason))
	}
	next := c.withHints(hints)
	next.DraftAttempts = n
	next.LastFailure = reason
	return Yield(fmt.Sprintf("Draft failed validation (attempt %d/%d): %s", n, p.MaxDraftAttempts, reason), next), nil
}

// OnFinalFailure requeues after the assembled split-mode section failed its
// whole-section check. The caller clears the offending node before yielding.
func (p Policy) OnFinalFailure(c Context, stage string, hints []Hint) (Outcome, error) {
	reason := summarize(hints)
	n := c.FinalAttempts + 1
	if n > p.MaxDraftAttempts {
		return Outcome{}, Terminal(ErrExhausted, stage,
			fmt.Errorf("assembled section failed validation %d times (max %d): %s", n, p.MaxDraftAttempts, reason))
	}
	next := c.withHints(hints)
	next.FinalAttempts = n
	next.DraftAttempts = c.DraftAttempts + 1
	next.LastFailure = reason
	return Yield(fmt.Sprintf("Assembled section failed validation (attempt %d/%d): %s", n, p.MaxDraftAttempts, reason), next), nil
}

// OnNodeDone requeues after a split-mode node is persisted. The draft counter
// and hints belong to the node just finished, so they reset.
func (p Policy) OnNodeDone(c Context, done, total int, nextTitle string) Outcome {
	next := c
	next.DraftAttempts = 0
	next.MustFix = nil
	next.LastFailure = ""
	next.NextTitle = nextTitle
	return Yield(fmt.Sprintf("Drafted %d/%d subparagraphs; next %q", done, total, nextTitle), next)
}

// Wait requeues without touching any counter.
func Wait(c Context, message string) Outcome {
	return Yield(message, c)
}

func summarize(hints []Hint) string {
	if len(hints) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, h.Rule+": "+h.Message)
	}
	return strings.Join(parts, "; ")
}
