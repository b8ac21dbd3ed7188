package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pascalcad/pascal-agent/internal/schema"
)

const validReplyJSON = `{"status":"planned","message":"Here is the plan.","plan":[{"step_number":1,"description":"Create sketch on XY plane","rationale":"base"}]}`

// scriptedCompleter returns canned responses or errors in order.
type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	seen      [][]Message
}

func (c *scriptedCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	c.seen = append(c.seen, msgs)

	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func fastGateway(c Completer) *Gateway {
	return New(c, WithBackoff(time.Millisecond), WithCallTimeout(time.Second))
}

func TestCompleteSucceedsAfterTwoInvalidAttempts(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{responses: []string{"not json", "{\"status\":\"planned\"}", validReplyJSON}}
	reply, err := fastGateway(c).Complete(context.Background(), []Message{{Role: "user", Content: "square"}})
	if err != nil {
		t.Fatalf("expected success on third attempt, got error: %v", err)
	}
	if reply.Status != schema.StatusPlanned {
		t.Errorf("expected planned reply, got %s", reply.Status)
	}
	if reply.Message == fallbackMessage {
		t.Error("got fallback reply instead of the successful one")
	}
	if c.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", c.calls)
	}
}

func TestCompleteAppendsCorrectionOnInvalidContent(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{responses: []string{"garbage", validReplyJSON}}
	if _, err := fastGateway(c).Complete(context.Background(), []Message{{Role: "user", Content: "square"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.seen) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(c.seen))
	}
	second := c.seen[1]
	last := second[len(second)-1]
	if last.Role != "system" || last.Content != retryCorrection {
		t.Errorf("expected corrective system message on retry, got %+v", last)
	}
}

func TestCompleteExhaustionYieldsFallback(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{responses: []string{"bad", "worse", "still bad"}}
	reply, err := fastGateway(c).Complete(context.Background(), []Message{{Role: "user", Content: "square"}})
	if reply == nil || reply.Status != schema.StatusError || reply.Message != fallbackMessage {
		t.Errorf("expected fixed fallback reply, got %+v", reply)
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindExhausted {
		t.Errorf("expected KindExhausted error, got %v", err)
	}
	if c.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", c.calls)
	}
}

func TestCompleteRetriesNetworkFailures(t *testing.T) {
	t.Parallel()

	c := &scriptedCompleter{
		errs:      []error{fmt.Errorf("connection reset"), nil},
		responses: []string{"", validReplyJSON},
	}
	reply, err := fastGateway(c).Complete(context.Background(), []Message{{Role: "user", Content: "square"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Status != schema.StatusPlanned {
		t.Errorf("expected planned reply, got %s", reply.Status)
	}
}

func TestParseReplyExtractsFencedJSON(t *testing.T) {
	t.Parallel()

	raw := "```json\n" + validReplyJSON + "\n```"
	reply, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Status != schema.StatusPlanned || len(reply.Plan) != 1 {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestParseReplyExtractsEmbeddedObject(t *testing.T) {
	t.Parallel()

	raw := "Sure, here you go: " + validReplyJSON + " Let me know!"
	reply, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Message != "Here is the plan." {
		t.Errorf("unexpected message: %q", reply.Message)
	}
}

func TestParseReplyRejectsInconsistentPayload(t *testing.T) {
	t.Parallel()

	if _, err := ParseReply(`{"status":"planned","message":"Plan follows."}`); err == nil {
		t.Fatal("expected planned reply with empty plan to be rejected")
	}
	if _, err := ParseReply(`{"status":"executed","message":"All done."}`); err == nil {
		t.Fatal("expected model-claimed executed status to be rejected")
	}
}

func TestExtractJSONIgnoresBracesInsideStrings(t *testing.T) {
	t.Parallel()

	raw := `{"status":"error","message":"brace } inside"}`
	got := extractJSON("noise " + raw + " trailing")
	if got != raw {
		t.Errorf("extraction mangled the object: %q", got)
	}
}
