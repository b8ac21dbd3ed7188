// Package schema defines the contract between the planner output and the
// action executor: the closed action set, per-action parameter rules, and
// the structured agent reply.
package schema

import (
	"encoding/json"
	"fmt"
)

// ActionName identifies one executable geometry operation. The set is
// closed and versioned: adding a name requires extending the parameter
// rules below, the gateway instruction text, and the host capability
// handler in lockstep.
type ActionName string

const (
	ActionCreateSketch       ActionName = "create_sketch"
	ActionAddRectangle       ActionName = "add_rectangle"
	ActionAddCircle          ActionName = "add_circle"
	ActionAddText            ActionName = "add_text"
	ActionExtrudeLastProfile ActionName = "extrude_last_profile"
	ActionCreateHole         ActionName = "create_hole"
)

// Action is one executable unit: a name plus a typed parameter bag.
type Action struct {
	Name   ActionName     `json:"action"`
	Params map[string]any `json:"params"`
}

// Planes accepted by create_sketch and add_text.
var validPlanes = map[string]bool{"XY": true, "YZ": true, "XZ": true}

// Operations accepted by extrude_last_profile.
var validOperations = map[string]bool{"new_body": true, "cut": true, "join": true}

// Hole types accepted by create_hole.
var validHoleTypes = map[string]bool{"simple": true, "counterbore": true, "countersink": true}

// Text returns the named string parameter.
func (a Action) Text(key string) (string, error) {
	v, ok := a.Params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, v)
	}
	return s, nil
}

// Number returns the named numeric parameter. JSON numbers arrive as
// float64; json.Number is accepted for callers that decode with UseNumber.
func (a Action) Number(key string) (float64, error) {
	v, ok := a.Params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q is not a valid number: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
}

// Positive returns the named numeric parameter, rejecting zero and
// negative values. Used for physically meaningful magnitudes.
func (a Action) Positive(key string) (float64, error) {
	n, err := a.Number(key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("parameter %q must be positive, got %v", key, n)
	}
	return n, nil
}

// Validate checks that the action name is known and every required
// parameter is present with the right type and range. It runs before any
// host call is attempted.
func (a Action) Validate() error {
	switch a.Name {
	case ActionCreateSketch:
		return a.validateEnum("plane", validPlanes)
	case ActionAddRectangle:
		if _, err := a.Text("sketch_id"); err != nil {
			return err
		}
		return a.requireNumbers("x1", "y1", "x2", "y2")
	case ActionAddCircle:
		if _, err := a.Text("sketch_id"); err != nil {
			return err
		}
		if err := a.requireNumbers("cx", "cy"); err != nil {
			return err
		}
		_, err := a.Positive("r")
		return err
	case ActionAddText:
		if err := a.validateEnum("plane", validPlanes); err != nil {
			return err
		}
		text, err := a.Text("text")
		if err != nil {
			return err
		}
		if text == "" {
			return fmt.Errorf("parameter %q must not be empty", "text")
		}
		if _, err := a.Positive("height"); err != nil {
			return err
		}
		return a.requireNumbers("x", "y")
	case ActionExtrudeLastProfile:
		if _, err := a.Positive("distance"); err != nil {
			return err
		}
		return a.validateEnum("operation", validOperations)
	case ActionCreateHole:
		return a.validateHole()
	default:
		return fmt.Errorf("unknown action %q", a.Name)
	}
}

func (a Action) validateHole() error {
	if _, err := a.Positive("diameter"); err != nil {
		return err
	}
	if _, err := a.Positive("depth"); err != nil {
		return err
	}
	if err := a.requireNumbers("x", "y", "z"); err != nil {
		return err
	}
	if err := a.validateEnum("hole_type", validHoleTypes); err != nil {
		return err
	}
	// Secondary dimensions are optional; when supplied they must still be
	// physically meaningful.
	for _, key := range []string{"counterbore_diameter", "counterbore_depth", "countersink_diameter", "countersink_angle"} {
		if _, ok := a.Params[key]; ok {
			if _, err := a.Positive(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a Action) validateEnum(key string, allowed map[string]bool) error {
	s, err := a.Text(key)
	if err != nil {
		return err
	}
	if !allowed[s] {
		return fmt.Errorf("parameter %q has unsupported value %q", key, s)
	}
	return nil
}

func (a Action) requireNumbers(keys ...string) error {
	for _, key := range keys {
		if _, err := a.Number(key); err != nil {
			return err
		}
	}
	return nil
}
