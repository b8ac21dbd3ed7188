// Package executor consumes a validated action list and dispatches each
// action to a geometry primitive handler. Actions run strictly in order;
// a failed action is recorded and the batch continues, because earlier
// successful creations are real host-side mutations that cannot be
// rolled back generically.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/host"
	"github.com/pascalcad/pascal-agent/internal/schema"
)

// Derived-dimension defaults for composite holes. These are part of the
// contract and must stay stable across releases.
const (
	counterboreDiameterRatio = 2.0
	counterboreDepthRatio    = 0.5
	countersinkDiameterRatio = 2.0
	countersinkAngleDegrees  = 82.0
)

// faceLevelTolerance is the allowed gap, in centimeters, between a face's
// planar level and the requested hole coordinate.
const faceLevelTolerance = 0.01

// Result is the outcome of one action, ordered 1:1 with the input list.
type Result struct {
	ActionIndex int    `json:"action_index"`
	Succeeded   bool   `json:"succeeded"`
	Detail      string `json:"detail"`
}

// Executor drives the host capability.
type Executor struct {
	host host.Capability
}

// New creates an Executor around an injected capability.
func New(h host.Capability) *Executor {
	return &Executor{host: h}
}

// batch tracks references created during one execution request. Sketch
// ids follow the "sk_N" convention in creation order.
type batch struct {
	sketches   map[string]host.EntityRef
	lastSketch *host.EntityRef
}

// Execute runs the actions in list order against the host, updating mc
// after every successful creation. One result is returned per action, in
// the same order.
func (e *Executor) Execute(ctx context.Context, actions []schema.Action, mc *domain.ModelContext) []Result {
	results := make([]Result, 0, len(actions))
	b := &batch{sketches: make(map[string]host.EntityRef)}

	for i, action := range actions {
		if err := action.Validate(); err != nil {
			results = append(results, Result{ActionIndex: i, Detail: fmt.Sprintf("invalid action: %v", err)})
			continue
		}

		detail, err := e.apply(ctx, action, b, mc)
		if err != nil {
			slog.Warn("action failed", "index", i, "action", action.Name, "error", err)
			results = append(results, Result{ActionIndex: i, Detail: err.Error()})
			continue
		}
		results = append(results, Result{ActionIndex: i, Succeeded: true, Detail: detail})
	}
	return results
}

// apply dispatches one validated action. The switch is exhaustive over
// the closed action set; extending the set will not compile until a
// handler exists.
func (e *Executor) apply(ctx context.Context, a schema.Action, b *batch, mc *domain.ModelContext) (string, error) {
	switch a.Name {
	case schema.ActionCreateSketch:
		return e.createSketch(ctx, a, b, mc)
	case schema.ActionAddRectangle:
		return e.addRectangle(ctx, a, b, mc)
	case schema.ActionAddCircle:
		return e.addCircle(ctx, a, b, mc)
	case schema.ActionAddText:
		return e.addText(ctx, a, mc)
	case schema.ActionExtrudeLastProfile:
		return e.extrude(ctx, a, mc)
	case schema.ActionCreateHole:
		return e.createHole(ctx, a)
	default:
		return "", fmt.Errorf("no handler for action %q", a.Name)
	}
}

func (e *Executor) createSketch(ctx context.Context, a schema.Action, b *batch, mc *domain.ModelContext) (string, error) {
	plane, _ := a.Text("plane")
	ref, err := e.host.CreateSketch(ctx, host.Plane(plane))
	if err != nil {
		return "", fmt.Errorf("create sketch: %w", err)
	}
	key := fmt.Sprintf("sk_%d", len(b.sketches))
	b.sketches[key] = ref
	b.lastSketch = &ref
	mc.LastSketch = domainRef(ref)
	return fmt.Sprintf("created sketch %s (%s) on %s", key, ref.ID, plane), nil
}

func (e *Executor) addRectangle(ctx context.Context, a schema.Action, b *batch, mc *domain.ModelContext) (string, error) {
	sketch, note, err := e.resolveSketch(ctx, a, b, mc)
	if err != nil {
		return "", err
	}
	x1, _ := a.Number("x1")
	y1, _ := a.Number("y1")
	x2, _ := a.Number("x2")
	y2, _ := a.Number("y2")
	profile, err := e.host.AddRectangle(ctx, sketch, x1, y1, x2, y2)
	if err != nil {
		return "", fmt.Errorf("add rectangle: %w", err)
	}
	mc.LastProfile = domainRef(profile)
	return fmt.Sprintf("added rectangle, profile %s%s", profile.ID, note), nil
}

func (e *Executor) addCircle(ctx context.Context, a schema.Action, b *batch, mc *domain.ModelContext) (string, error) {
	sketch, note, err := e.resolveSketch(ctx, a, b, mc)
	if err != nil {
		return "", err
	}
	cx, _ := a.Number("cx")
	cy, _ := a.Number("cy")
	r, _ := a.Number("r")
	profile, err := e.host.AddCircle(ctx, sketch, cx, cy, r)
	if err != nil {
		return "", fmt.Errorf("add circle: %w", err)
	}
	mc.LastProfile = domainRef(profile)
	return fmt.Sprintf("added circle, profile %s%s", profile.ID, note), nil
}

func (e *Executor) addText(ctx context.Context, a schema.Action, mc *domain.ModelContext) (string, error) {
	plane, _ := a.Text("plane")
	text, _ := a.Text("text")
	height, _ := a.Number("height")
	x, _ := a.Number("x")
	y, _ := a.Number("y")
	ref, err := e.host.AddText(ctx, host.Plane(plane), text, height, x, y)
	if err != nil {
		return "", fmt.Errorf("add text: %w", err)
	}
	mc.LastSketch = domainRef(ref)
	return fmt.Sprintf("added text sketch %s on %s", ref.ID, plane), nil
}

func (e *Executor) extrude(ctx context.Context, a schema.Action, mc *domain.ModelContext) (string, error) {
	distance, _ := a.Number("distance")
	operation, _ := a.Text("operation")
	ref, err := e.host.ExtrudeLastProfile(ctx, distance, host.ExtrudeOperation(operation))
	if err != nil {
		return "", fmt.Errorf("extrude: %w", err)
	}
	mc.LastBody = domainRef(ref)
	return fmt.Sprintf("extruded last profile %vcm (%s), body %s", distance, operation, ref.ID), nil
}

func (e *Executor) createHole(ctx context.Context, a schema.Action) (string, error) {
	diameter, _ := a.Number("diameter")
	depth, _ := a.Number("depth")
	x, _ := a.Number("x")
	y, _ := a.Number("y")
	z, _ := a.Number("z")
	holeType, _ := a.Text("hole_type")

	bodies, err := e.host.Bodies(ctx)
	if err != nil {
		return "", fmt.Errorf("list bodies: %w", err)
	}
	if len(bodies) == 0 {
		return "", errors.New("no solid body present to place the hole on")
	}
	body := bodies[0]

	faces, err := e.host.Faces(ctx, body)
	if err != nil {
		return "", fmt.Errorf("list faces of %s: %w", body.ID, err)
	}
	if len(faces) == 0 {
		return "", fmt.Errorf("body %s has no faces", body.ID)
	}

	face, fellBack := selectFace(faces, z)

	spec := host.HoleSpec{
		Face:     face.Ref,
		Diameter: diameter,
		Depth:    depth,
		X:        x,
		Y:        y,
		Z:        z,
		Type:     host.HoleType(holeType),
	}
	var notes []string
	applyDerivedDimensions(&spec, a, &notes)
	if fellBack {
		notes = append(notes, fmt.Sprintf("no planar face matched z=%v within %v; fell back to face %s", z, faceLevelTolerance, face.Ref.ID))
	}

	ref, err := e.host.CreateHole(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("create %s hole: %w", holeType, err)
	}

	detail := fmt.Sprintf("created %s hole %s on face %s of body %s", holeType, ref.ID, face.Ref.ID, body.ID)
	if len(notes) > 0 {
		detail += " (" + strings.Join(notes, "; ") + ")"
	}
	return detail, nil
}

// selectFace returns the first planar face whose level matches the
// requested z within tolerance. When none matches it falls back to an
// arbitrary face rather than failing — a deliberate leniency trade-off:
// producing some geometry beats blocking the turn, and the fallback is
// reported so the user can see it.
func selectFace(faces []host.Face, z float64) (host.Face, bool) {
	for _, f := range faces {
		if f.Planar && math.Abs(f.Origin[2]-z) <= faceLevelTolerance {
			return f, false
		}
	}
	return faces[0], true
}

// applyDerivedDimensions fills secondary hole dimensions not supplied by
// the caller from the primary diameter using the fixed ratios.
func applyDerivedDimensions(spec *host.HoleSpec, a schema.Action, notes *[]string) {
	pick := func(key string, derived float64) float64 {
		if v, err := a.Number(key); err == nil {
			return v
		}
		*notes = append(*notes, fmt.Sprintf("%s defaulted to %v", key, derived))
		return derived
	}

	switch spec.Type {
	case host.HoleCounterbore:
		spec.CounterboreDiameter = pick("counterbore_diameter", spec.Diameter*counterboreDiameterRatio)
		spec.CounterboreDepth = pick("counterbore_depth", spec.Diameter*counterboreDepthRatio)
	case host.HoleCountersink:
		spec.CountersinkDiameter = pick("countersink_diameter", spec.Diameter*countersinkDiameterRatio)
		spec.CountersinkAngle = pick("countersink_angle", countersinkAngleDegrees)
	case host.HoleSimple:
	}
}

// resolveSketch finds the sketch an action addresses: the batch-local id
// first, then the most recent sketch of the batch, then the session's
// last sketch, and finally a fresh XY sketch so the turn still produces
// geometry. Any fallback is surfaced in the returned note.
func (e *Executor) resolveSketch(ctx context.Context, a schema.Action, b *batch, mc *domain.ModelContext) (host.EntityRef, string, error) {
	sketchID, _ := a.Text("sketch_id")
	if ref, ok := b.sketches[sketchID]; ok {
		return ref, "", nil
	}
	if b.lastSketch != nil {
		return *b.lastSketch, fmt.Sprintf(" (sketch %q not found in batch; used most recent sketch)", sketchID), nil
	}
	if mc.LastSketch != nil {
		return hostRef(*mc.LastSketch), fmt.Sprintf(" (sketch %q not found; used session's last sketch)", sketchID), nil
	}
	ref, err := e.host.CreateSketch(ctx, host.PlaneXY)
	if err != nil {
		return host.EntityRef{}, "", fmt.Errorf("sketch %q not found and fallback sketch failed: %w", sketchID, err)
	}
	b.lastSketch = &ref
	mc.LastSketch = domainRef(ref)
	return ref, fmt.Sprintf(" (sketch %q not found; created fallback sketch on XY)", sketchID), nil
}

func domainRef(ref host.EntityRef) *domain.EntityRef {
	return &domain.EntityRef{ID: ref.ID, Kind: ref.Kind}
}

func hostRef(ref domain.EntityRef) host.EntityRef {
	return host.EntityRef{ID: ref.ID, Kind: ref.Kind}
}
