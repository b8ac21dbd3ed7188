// Package conversation owns the per-session state machine: it routes each
// user turn to clarification, plan conversion or execution, and is the only
// writer of session state. Status moves need_clarification -> planned ->
// ready_to_execute -> executed, with error reachable from any step and
// recoverable by the next user request.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/executor"
	"github.com/pascalcad/pascal-agent/internal/gateway"
	"github.com/pascalcad/pascal-agent/internal/schema"
	"github.com/pascalcad/pascal-agent/internal/store"
)

// historyWindow caps how many recent turns are replayed to the model.
const historyWindow = 8

// WelcomeMessage greets a freshly created session.
const WelcomeMessage = `Hi! I'm PASCAL, your CAD assistant. Tell me what you'd like to create, with sizes in centimeters, and I'll plan it out before touching the model.`

const (
	promptForRequestMessage = `Tell me what you'd like to create and I'll put a plan together.`

	alreadyExecutedMessage = `That batch has already been executed, so I didn't run it again. Describe the next thing you'd like to build.`

	invalidReplyMessage = `I couldn't produce a valid next step for that request. Nothing was changed in the model or in our conversation. Please rephrase and try again.`

	stateLostMessage = `I couldn't read or save this conversation's state, so I stopped before changing anything else. Please try again in a moment.`
)

// LLMGateway produces a validated structured reply for a prompt.
type LLMGateway interface {
	Complete(ctx context.Context, messages []gateway.Message) (*schema.AgentReply, error)
}

// ActionRunner executes a validated action batch against the CAD host.
type ActionRunner interface {
	Execute(ctx context.Context, actions []schema.Action, mc *domain.ModelContext) []executor.Result
}

// TurnRequest is one user turn addressed to a session. Confirmed is the
// explicit approval flag from the UI; plain confirmation phrases in
// UserText count as approval too.
type TurnRequest struct {
	SessionID string
	UserText  string
	Confirmed bool
}

// Orchestrator coordinates store, gateway and executor for a turn.
type Orchestrator struct {
	repo   store.Repository
	gw     LLMGateway
	runner ActionRunner
	locks  *sessionLocks
}

// New wires an Orchestrator from its collaborators.
func New(repo store.Repository, gw LLMGateway, runner ActionRunner) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		gw:     gw,
		runner: runner,
		locks:  newSessionLocks(),
	}
}

// BusyReply is the reply handed out alongside ErrSessionBusy.
func BusyReply() *schema.AgentReply {
	return &schema.AgentReply{
		Status:  schema.StatusError,
		Message: `I'm still working on your previous message for this session. Wait for it to finish, then send again.`,
	}
}

func stateLostReply() *schema.AgentReply {
	return &schema.AgentReply{Status: schema.StatusError, Message: stateLostMessage}
}

func invalidReply() *schema.AgentReply {
	return &schema.AgentReply{Status: schema.StatusError, Message: invalidReplyMessage}
}

// Session returns the current state of a session (a fresh default if it
// was never saved).
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return o.repo.Load(ctx, sessionID)
}

// Reset discards a session's stored state. The next turn starts from the
// first-turn default.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if !o.locks.acquire(sessionID) {
		return ErrSessionBusy
	}
	defer o.locks.release(sessionID)
	return o.repo.Delete(ctx, sessionID)
}

// Turn processes one user turn. Exactly one turn per session runs at a
// time; concurrent turns get ErrSessionBusy. A failed turn (gateway
// exhaustion, invalid model reply) leaves the session untouched so the
// user can simply retry.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*schema.AgentReply, error) {
	if !o.locks.acquire(req.SessionID) {
		return BusyReply(), ErrSessionBusy
	}
	defer o.locks.release(req.SessionID)

	sess, err := o.repo.Load(ctx, req.SessionID)
	if err != nil {
		return stateLostReply(), err
	}

	text := strings.TrimSpace(req.UserText)
	confirmed := req.Confirmed || isConfirmation(text)

	status := sess.Status
	if status == schema.StatusError {
		// Errors are recoverable: the next input restarts clarification.
		status = schema.StatusNeedClarification
	}

	switch status {
	case schema.StatusExecuted:
		if confirmed && (text == "" || isConfirmation(text)) {
			// Duplicate confirmation after completion. Never re-execute.
			return &schema.AgentReply{Status: schema.StatusExecuted, Message: alreadyExecutedMessage}, nil
		}
		sess.Status = schema.StatusNeedClarification
		sess.Plan, sess.Actions = nil, nil
		return o.clarify(ctx, sess, text)

	case schema.StatusPlanned:
		if confirmed {
			return o.convertPlan(ctx, sess, text)
		}
		return o.clarify(ctx, sess, text)

	case schema.StatusReadyToExecute:
		if confirmed {
			return o.execute(ctx, sess, text)
		}
		// Free-form text instead of approval: the staged batch is stale.
		sess.Plan, sess.Actions = nil, nil
		return o.clarify(ctx, sess, text)

	default:
		return o.clarify(ctx, sess, text)
	}
}

// clarify sends the user's text to the model and applies the resulting
// clarification or plan to the session.
func (o *Orchestrator) clarify(ctx context.Context, sess *domain.Session, text string) (*schema.AgentReply, error) {
	if text == "" {
		return &schema.AgentReply{Status: schema.StatusNeedClarification, Message: promptForRequestMessage}, nil
	}

	reply, err := o.gw.Complete(ctx, o.buildMessages(sess, text))
	if err != nil {
		slog.Warn("gateway failed, session left unchanged", "session_id", sess.SessionID, "error", err)
		return reply, nil
	}

	switch reply.Status {
	case schema.StatusNeedClarification, schema.StatusError:
		sess.Status = reply.Status
		sess.Plan, sess.Actions = nil, nil
	case schema.StatusPlanned:
		sess.Status = schema.StatusPlanned
		sess.Plan = reply.Plan
		sess.Actions = nil
	default:
		// The model skipped plan approval. Refuse the shortcut and keep
		// the session where it was.
		slog.Warn("model skipped plan approval", "session_id", sess.SessionID, "status", reply.Status)
		return invalidReply(), nil
	}

	return o.commitExchange(ctx, sess, text, reply)
}

// convertPlan asks the model to translate the approved plan into an
// executable action batch.
func (o *Orchestrator) convertPlan(ctx context.Context, sess *domain.Session, text string) (*schema.AgentReply, error) {
	msgs := o.buildMessages(sess, text)
	msgs = append(msgs, gateway.Message{Role: "system", Content: gateway.ConvertPlanInstruction})

	reply, err := o.gw.Complete(ctx, msgs)
	if err != nil {
		slog.Warn("gateway failed, session left unchanged", "session_id", sess.SessionID, "error", err)
		return reply, nil
	}

	switch reply.Status {
	case schema.StatusReadyToExecute:
		sess.Status = schema.StatusReadyToExecute
		sess.Actions = reply.Actions
		if len(reply.Plan) > 0 {
			sess.Plan = reply.Plan
		}
	case schema.StatusNeedClarification, schema.StatusError:
		// Conversion surfaced a gap in the plan. Back to clarification.
		sess.Status = reply.Status
		sess.Plan, sess.Actions = nil, nil
	default:
		slog.Warn("plan conversion returned no actions", "session_id", sess.SessionID, "status", reply.Status)
		return invalidReply(), nil
	}

	return o.commitExchange(ctx, sess, text, reply)
}

// execute runs the staged batch. It persists whatever the executor
// managed to create even when some actions failed, because successful
// host mutations are real and the context must reflect them.
func (o *Orchestrator) execute(ctx context.Context, sess *domain.Session, text string) (*schema.AgentReply, error) {
	if len(sess.Actions) == 0 {
		slog.Error("ready_to_execute session has no staged actions", "session_id", sess.SessionID)
		return invalidReply(), nil
	}

	results := o.runner.Execute(ctx, sess.Actions, &sess.Context)
	reply := summarize(results)
	if reply.Status == schema.StatusError {
		if kept := describeContext(sess.Context); kept != "" {
			reply.Message += "\nStill in the model: " + kept + "."
		}
	}

	sess.Status = reply.Status
	sess.Plan, sess.Actions = nil, nil

	if text == "" {
		text = "confirmed"
	}
	return o.commitExchange(ctx, sess, text, reply)
}

// commitExchange appends the user/assistant turn pair and persists the
// session. Persistence failure is surfaced, not hidden: continuity is
// part of the product.
func (o *Orchestrator) commitExchange(ctx context.Context, sess *domain.Session, userText string, reply *schema.AgentReply) (*schema.AgentReply, error) {
	sess.AppendTurn(domain.RoleUser, userText)
	sess.AppendTurn(domain.RoleAssistant, serializeReply(reply))
	sess.UpdatedAt = time.Now()

	if err := o.repo.Save(ctx, sess); err != nil {
		slog.Error("session save failed", "session_id", sess.SessionID, "error", err)
		return stateLostReply(), err
	}
	return reply, nil
}

// buildMessages assembles the prompt: fixed system instruction, the
// recent history window, then the new user text.
func (o *Orchestrator) buildMessages(sess *domain.Session, text string) []gateway.Message {
	msgs := make([]gateway.Message, 0, historyWindow+2)
	msgs = append(msgs, gateway.Message{Role: "system", Content: gateway.SystemPrompt})
	for _, turn := range sess.RecentTurns(historyWindow) {
		msgs = append(msgs, gateway.Message{Role: string(turn.Role), Content: turn.Text})
	}
	return append(msgs, gateway.Message{Role: "user", Content: text})
}

// summarize folds executor results into the final reply: executed when
// every action succeeded, error with a per-step account otherwise.
func summarize(results []executor.Result) *schema.AgentReply {
	failed := 0
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Succeeded {
			lines = append(lines, fmt.Sprintf("step %d: %s", r.ActionIndex+1, r.Detail))
			continue
		}
		failed++
		lines = append(lines, fmt.Sprintf("step %d FAILED: %s", r.ActionIndex+1, r.Detail))
	}

	if failed == 0 {
		return &schema.AgentReply{
			Status:  schema.StatusExecuted,
			Message: fmt.Sprintf("Done! Executed %d action(s).\n%s", len(results), strings.Join(lines, "\n")),
		}
	}
	return &schema.AgentReply{
		Status: schema.StatusError,
		Message: fmt.Sprintf("Executed %d of %d action(s); %d failed. Work already created was kept.\n%s",
			len(results)-failed, len(results), failed, strings.Join(lines, "\n")),
	}
}

// describeContext names the entity references still held by the session,
// so a partial-failure report tells the user what already exists.
func describeContext(mc domain.ModelContext) string {
	var parts []string
	if mc.LastSketch != nil {
		parts = append(parts, "sketch "+mc.LastSketch.ID)
	}
	if mc.LastProfile != nil {
		parts = append(parts, "profile "+mc.LastProfile.ID)
	}
	if mc.LastBody != nil {
		parts = append(parts, "body "+mc.LastBody.ID)
	}
	return strings.Join(parts, ", ")
}

// serializeReply stores the assistant turn as the reply's JSON form so
// later prompts replay exactly what the model previously committed to.
func serializeReply(reply *schema.AgentReply) string {
	data, err := json.Marshal(reply)
	if err != nil {
		return reply.Message
	}
	return string(data)
}

// confirmationPhrases are treated as plan/batch approval when they make
// up the entire message.
var confirmationPhrases = map[string]struct{}{
	"yes": {}, "y": {}, "yep": {}, "yeah": {}, "ok": {}, "okay": {},
	"sure": {}, "confirm": {}, "confirmed": {}, "approve": {}, "approved": {},
	"go ahead": {}, "do it": {}, "proceed": {}, "run it": {}, "execute": {},
	"looks good": {}, "sounds good": {}, "yes please": {},
}

func isConfirmation(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!")
	_, ok := confirmationPhrases[normalized]
	return ok
}
