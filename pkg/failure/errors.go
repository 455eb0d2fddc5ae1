package failure

import (
	"errors"
	"fmt"
	"strings"
)

// RunnerError is the normalized error type carried through a cycle. Every raw
// error entering the core is wrapped in one via Normalize, so downstream code
// can rely on Category/Code being present.
type RunnerError struct {
	Category    Category
	Code        Code
	Retryable   bool
	UserMessage string
	Err         error
}

func (e *RunnerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %v", e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("%s/%s", e.Category, e.Code)
}

func (e *RunnerError) Unwrap() error { return e.Err }

// New builds a RunnerError with the given classification wrapping err.
// err may be nil when the classification itself is the whole story
// (e.g. a policy violation).
func New(category Category, code Code, err error) *RunnerError {
	var raw string
	if err != nil {
		raw = err.Error()
	}
	return &RunnerError{
		Category:    category,
		Code:        code,
		Retryable:   category.Retryable(),
		UserMessage: UserMessage(raw),
		Err:         err,
	}
}

// Newf builds a RunnerError from a formatted message.
func Newf(category Category, code Code, format string, args ...any) *RunnerError {
	return New(category, code, fmt.Errorf(format, args...))
}

// FromViolationError builds a RunnerError from a guardrail violation.
func FromViolationError(v ViolationCode, message string) *RunnerError {
	category, code := FromViolation(v)
	return New(category, code, errors.New(message))
}

// Normalize returns err as a RunnerError, classifying it if it is not one
// already. Normalize(nil) returns nil.
func Normalize(err error) *RunnerError {
	if err == nil {
		return nil
	}
	var re *RunnerError
	if errors.As(err, &re) {
		return re
	}
	category, code := FromError(err.Error())
	return New(category, code, err)
}

// UserMessage derives a user-visible message from a raw error string.
// Raw RPC URLs, stack traces, and internal codes never leak: the output is
// always one of a fixed set of substituted sentences.
func UserMessage(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case containsAny(lower, "rate limit", "rate-limit", "429", "too many requests"):
		return "Network is busy right now — your agent will retry shortly."
	case containsAny(lower, "execution reverted", "reverted"):
		return "Transaction was rejected by the contract — no funds were moved."
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return "The network took too long to respond — your agent will retry."
	case containsAny(lower, "insufficient funds", "insufficient gas"):
		return "The operator wallet does not have enough gas for this action."
	case containsAny(lower, "insufficient balance", "balance too low"):
		return "The vault balance is too low for this action."
	case containsAny(lower, "safety policy", "policy violation", "policy"):
		return "The action was blocked by your safety settings."
	case containsAny(lower, "paused"):
		return "Your agent is paused on-chain."
	default:
		return "Something unexpected happened; your agent will retry on its next cycle."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
