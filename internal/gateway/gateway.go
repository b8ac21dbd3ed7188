// Package gateway sends the running conversation context to a
// text-completion service and parses the structured reply. It owns the
// transport retry budget and the content validation layer; the two keep
// independent failure accounting so either can be exercised alone.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pascalcad/pascal-agent/internal/schema"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindMalformed Kind = "malformed"
	KindExhausted Kind = "exhausted"
)

// Error is a typed gateway failure. Raw transport errors never cross the
// gateway boundary unwrapped.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is one prompt message. The gateway is stateless: all context is
// passed explicitly on every call.
type Message struct {
	Role    string
	Content string
}

// Completer performs one raw completion round-trip.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Gateway wraps a Completer with retry, validation and fallback synthesis.
type Gateway struct {
	completer   Completer
	maxAttempts int
	backoffBase time.Duration
	callTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxAttempts sets the retry budget (default 3).
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff interval (default 500ms).
func WithBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.backoffBase = d }
}

// WithCallTimeout sets the per-attempt timeout, enforced separately from
// the retry budget so retries cannot stall a turn unboundedly.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// New creates a Gateway around a Completer.
func New(c Completer, opts ...Option) *Gateway {
	g := &Gateway{
		completer:   c,
		maxAttempts: 3,
		backoffBase: 500 * time.Millisecond,
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete runs the call-parse-validate loop up to the retry budget. A
// content-invalid response counts as a failed attempt and the model is
// asked again with a corrective message appended. On exhaustion the fixed
// fallback reply is returned together with a KindExhausted error, so the
// caller always has a user-safe reply to hand out.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (*schema.AgentReply, error) {
	working := make([]Message, len(messages))
	copy(working, messages)

	var reply *schema.AgentReply
	var lastErr error

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		raw, err := g.completer.Complete(callCtx, working)
		if err != nil {
			lastErr = &Error{Kind: KindNetwork, Err: err}
			return lastErr
		}

		parsed, err := ParseReply(raw)
		if err != nil {
			// The model is asked again, not assumed broken.
			working = append(working, Message{Role: "system", Content: retryCorrection})
			lastErr = &Error{Kind: KindMalformed, Err: err}
			return lastErr
		}

		reply = parsed
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.backoffBase
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(g.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		slog.Warn("gateway retry budget exhausted", "attempts", g.maxAttempts, "error", lastErr)
		return FallbackReply(), &Error{Kind: KindExhausted, Err: lastErr}
	}
	return reply, nil
}

// ParseReply extracts and validates a structured AgentReply from raw model
// output. Extraction tolerates code fences and surrounding prose; content
// validation does not tolerate payload/status mismatches.
func ParseReply(raw string) (*schema.AgentReply, error) {
	text := extractJSON(raw)

	var reply schema.AgentReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if err := reply.ValidateModelReply(); err != nil {
		return nil, fmt.Errorf("validate reply: %w", err)
	}
	return &reply, nil
}

// FallbackReply is the fixed degraded reply synthesized when the retry
// budget is exhausted.
func FallbackReply() *schema.AgentReply {
	return &schema.AgentReply{
		Status:  schema.StatusError,
		Message: fallbackMessage,
	}
}
