package schema

import "fmt"

// Status is a conversation state. Sessions move through the full set;
// model replies are restricted to the subset checked by ValidateModelReply.
type Status string

const (
	StatusNeedClarification Status = "need_clarification"
	StatusPlanned           Status = "planned"
	StatusReadyToExecute    Status = "ready_to_execute"
	StatusExecuted          Status = "executed"
	StatusError             Status = "error"
)

// PlanStep is one human-readable step of a plan.
type PlanStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Rationale   string `json:"rationale,omitempty"`
}

// AgentReply is one turn decision: a status plus exactly one active
// payload (questions, plan, or actions) matching that status.
type AgentReply struct {
	Status    Status     `json:"status"`
	Message   string     `json:"message"`
	Questions []string   `json:"questions,omitempty"`
	Plan      []PlanStep `json:"plan,omitempty"`
	Actions   []Action   `json:"actions,omitempty"`
}

// ValidateModelReply checks a reply parsed from model output against the
// payload/status consistency rules. Mismatches are rejected rather than
// accepted best-effort: downstream execution is irreversible.
func (r *AgentReply) ValidateModelReply() error {
	if r.Message == "" {
		return fmt.Errorf("reply message is required")
	}
	switch r.Status {
	case StatusNeedClarification:
		if len(r.Questions) == 0 {
			return fmt.Errorf("status %q requires at least one question", r.Status)
		}
		if len(r.Plan) > 0 || len(r.Actions) > 0 {
			return fmt.Errorf("status %q must not carry a plan or actions", r.Status)
		}
	case StatusPlanned:
		if len(r.Plan) == 0 {
			return fmt.Errorf("status %q requires a non-empty plan", r.Status)
		}
		if len(r.Questions) > 0 || len(r.Actions) > 0 {
			return fmt.Errorf("status %q must not carry questions or actions", r.Status)
		}
	case StatusReadyToExecute:
		if len(r.Actions) == 0 {
			return fmt.Errorf("status %q requires a non-empty action list", r.Status)
		}
		if len(r.Questions) > 0 {
			return fmt.Errorf("status %q must not carry questions", r.Status)
		}
		for i, action := range r.Actions {
			if err := action.Validate(); err != nil {
				return fmt.Errorf("action %d (%s): %w", i, action.Name, err)
			}
		}
	case StatusError:
		if len(r.Questions) > 0 || len(r.Plan) > 0 || len(r.Actions) > 0 {
			return fmt.Errorf("status %q must not carry a payload", r.Status)
		}
	case StatusExecuted:
		// Only the orchestrator produces executed replies, after a real
		// execution pass. The model claiming it is a validation failure.
		return fmt.Errorf("model replies may not claim status %q", r.Status)
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
