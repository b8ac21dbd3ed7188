package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pascalcad/pascal-agent/internal/domain"
	"github.com/pascalcad/pascal-agent/internal/host"
	"github.com/pascalcad/pascal-agent/internal/schema"
)

// fakeHost records calls and returns sequential refs.
type fakeHost struct {
	calls     []string
	nextID    int
	bodies    []host.EntityRef
	faces     []host.Face
	holeSpecs []host.HoleSpec
	failOn    string
}

func (f *fakeHost) ref(kind string) host.EntityRef {
	f.nextID++
	return host.EntityRef{ID: fmt.Sprintf("%s-%d", kind, f.nextID), Kind: kind}
}

func (f *fakeHost) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return fmt.Errorf("host refused %s", name)
	}
	return nil
}

func (f *fakeHost) CreateSketch(_ context.Context, _ host.Plane) (host.EntityRef, error) {
	if err := f.record("create_sketch"); err != nil {
		return host.EntityRef{}, err
	}
	return f.ref("sketch"), nil
}

func (f *fakeHost) AddRectangle(_ context.Context, _ host.EntityRef, _, _, _, _ float64) (host.EntityRef, error) {
	if err := f.record("add_rectangle"); err != nil {
		return host.EntityRef{}, err
	}
	return f.ref("profile"), nil
}

func (f *fakeHost) AddCircle(_ context.Context, _ host.EntityRef, _, _, _ float64) (host.EntityRef, error) {
	if err := f.record("add_circle"); err != nil {
		return host.EntityRef{}, err
	}
	return f.ref("profile"), nil
}

func (f *fakeHost) AddText(_ context.Context, _ host.Plane, _ string, _, _, _ float64) (host.EntityRef, error) {
	if err := f.record("add_text"); err != nil {
		return host.EntityRef{}, err
	}
	return f.ref("sketch"), nil
}

func (f *fakeHost) ExtrudeLastProfile(_ context.Context, _ float64, _ host.ExtrudeOperation) (host.EntityRef, error) {
	if err := f.record("extrude_last_profile"); err != nil {
		return host.EntityRef{}, err
	}
	return f.ref("body"), nil
}

func (f *fakeHost) Bodies(_ context.Context) ([]host.EntityRef, error) {
	if err := f.record("bodies"); err != nil {
		return nil, err
	}
	return f.bodies, nil
}

func (f *fakeHost) Faces(_ context.Context, _ host.EntityRef) ([]host.Face, error) {
	if err := f.record("faces"); err != nil {
		return nil, err
	}
	return f.faces, nil
}

func (f *fakeHost) CreateHole(_ context.Context, spec host.HoleSpec) (host.EntityRef, error) {
	if err := f.record("create_hole"); err != nil {
		return host.EntityRef{}, err
	}
	f.holeSpecs = append(f.holeSpecs, spec)
	return f.ref("hole"), nil
}

func squareBatch() []schema.Action {
	return []schema.Action{
		{Name: schema.ActionCreateSketch, Params: map[string]any{"plane": "XY"}},
		{Name: schema.ActionAddRectangle, Params: map[string]any{"sketch_id": "sk_0", "x1": -1.0, "y1": -1.0, "x2": 1.0, "y2": 1.0}},
		{Name: schema.ActionExtrudeLastProfile, Params: map[string]any{"distance": 3.0, "operation": "new_body"}},
	}
}

func TestExecuteHappyPathUpdatesContext(t *testing.T) {
	t.Parallel()

	h := &fakeHost{}
	mc := &domain.ModelContext{}
	results := New(h).Execute(context.Background(), squareBatch(), mc)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Succeeded {
			t.Errorf("action %d failed: %s", r.ActionIndex, r.Detail)
		}
	}
	if mc.LastSketch == nil || mc.LastProfile == nil || mc.LastBody == nil {
		t.Errorf("context not fully populated: %+v", mc)
	}
}

func TestExecuteContinuesPastFailedAction(t *testing.T) {
	t.Parallel()

	actions := []schema.Action{
		{Name: schema.ActionCreateSketch, Params: map[string]any{"plane": "XY"}},
		{Name: schema.ActionAddCircle, Params: map[string]any{"sketch_id": "sk_0", "cx": 0.0, "cy": 0.0, "r": -2.0}}, // invalid
		{Name: schema.ActionAddText, Params: map[string]any{"plane": "XY", "text": "ok", "height": 1.0, "x": 0.0, "y": 0.0}},
	}
	h := &fakeHost{}
	mc := &domain.ModelContext{}
	results := New(h).Execute(context.Background(), actions, mc)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Succeeded || results[1].Succeeded || !results[2].Succeeded {
		t.Errorf("unexpected outcomes: %+v", results)
	}
	// The invalid circle must never reach the host.
	for _, call := range h.calls {
		if call == "add_circle" {
			t.Error("invalid action reached the host")
		}
	}
	// Context reflects only the successful creations.
	if mc.LastSketch == nil {
		t.Error("sketch from action 1 missing from context")
	}
	if mc.LastProfile != nil {
		t.Error("failed circle must not populate LastProfile")
	}
}

func TestCreateHoleDerivesCounterboreDimensions(t *testing.T) {
	t.Parallel()

	h := &fakeHost{
		bodies: []host.EntityRef{{ID: "body-1", Kind: "body"}},
		faces:  []host.Face{{Ref: host.EntityRef{ID: "face-top", Kind: "face"}, Planar: true, Origin: [3]float64{0, 0, 1}}},
	}
	action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
		"diameter": 0.5, "depth": 0.8, "x": 0.0, "y": 0.0, "z": 1.0, "hole_type": "counterbore",
	}}

	results := New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
	if !results[0].Succeeded {
		t.Fatalf("hole creation failed: %s", results[0].Detail)
	}
	if len(h.holeSpecs) != 1 {
		t.Fatalf("expected 1 hole spec, got %d", len(h.holeSpecs))
	}
	spec := h.holeSpecs[0]
	if spec.CounterboreDiameter != 1.0 {
		t.Errorf("counterbore diameter: want 1.0 (2.0 x 0.5), got %v", spec.CounterboreDiameter)
	}
	if spec.CounterboreDepth != 0.25 {
		t.Errorf("counterbore depth: want 0.25 (0.5 x 0.5), got %v", spec.CounterboreDepth)
	}
	if !strings.Contains(results[0].Detail, "counterbore_diameter defaulted") {
		t.Errorf("detail should report derived dimensions: %s", results[0].Detail)
	}
}

func TestCreateHoleCountersinkDefaults(t *testing.T) {
	t.Parallel()

	h := &fakeHost{
		bodies: []host.EntityRef{{ID: "body-1", Kind: "body"}},
		faces:  []host.Face{{Ref: host.EntityRef{ID: "face-top", Kind: "face"}, Planar: true, Origin: [3]float64{0, 0, 1}}},
	}
	action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
		"diameter": 0.4, "depth": 0.8, "x": 0.0, "y": 0.0, "z": 1.0, "hole_type": "countersink",
	}}

	results := New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
	if !results[0].Succeeded {
		t.Fatalf("hole creation failed: %s", results[0].Detail)
	}
	spec := h.holeSpecs[0]
	if spec.CountersinkDiameter != 0.8 {
		t.Errorf("countersink diameter: want 0.8, got %v", spec.CountersinkDiameter)
	}
	if spec.CountersinkAngle != 82.0 {
		t.Errorf("countersink angle: want 82, got %v", spec.CountersinkAngle)
	}
}

func TestCreateHoleExplicitSecondaryDimensionsWin(t *testing.T) {
	t.Parallel()

	h := &fakeHost{
		bodies: []host.EntityRef{{ID: "body-1", Kind: "body"}},
		faces:  []host.Face{{Ref: host.EntityRef{ID: "face-top", Kind: "face"}, Planar: true, Origin: [3]float64{0, 0, 1}}},
	}
	action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
		"diameter": 0.3, "depth": 0.8, "x": 1.0, "y": 1.0, "z": 1.0,
		"hole_type": "counterbore", "counterbore_diameter": 0.6, "counterbore_depth": 0.2,
	}}

	New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
	spec := h.holeSpecs[0]
	if spec.CounterboreDiameter != 0.6 || spec.CounterboreDepth != 0.2 {
		t.Errorf("explicit dimensions overridden: %+v", spec)
	}
}

func TestCreateHoleFaceSelection(t *testing.T) {
	t.Parallel()

	topFace := host.Face{Ref: host.EntityRef{ID: "face-top", Kind: "face"}, Planar: true, Origin: [3]float64{0, 0, 1}}
	sideFace := host.Face{Ref: host.EntityRef{ID: "face-side", Kind: "face"}, Planar: true, Origin: [3]float64{2, 0, 0.5}}
	curved := host.Face{Ref: host.EntityRef{ID: "face-curved", Kind: "face"}, Planar: false, Origin: [3]float64{0, 0, 1}}

	t.Run("matching level wins", func(t *testing.T) {
		t.Parallel()
		h := &fakeHost{bodies: []host.EntityRef{{ID: "body-1", Kind: "body"}}, faces: []host.Face{curved, sideFace, topFace}}
		action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
			"diameter": 0.5, "depth": 0.8, "x": 0.0, "y": 0.0, "z": 1.0, "hole_type": "simple",
		}}
		results := New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
		if h.holeSpecs[0].Face.ID != "face-top" {
			t.Errorf("expected face-top, got %s", h.holeSpecs[0].Face.ID)
		}
		if strings.Contains(results[0].Detail, "fell back") {
			t.Errorf("matching face must not be reported as fallback: %s", results[0].Detail)
		}
	})

	t.Run("fallback is used and reported", func(t *testing.T) {
		t.Parallel()
		h := &fakeHost{bodies: []host.EntityRef{{ID: "body-1", Kind: "body"}}, faces: []host.Face{curved, sideFace}}
		action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
			"diameter": 0.5, "depth": 0.8, "x": 0.0, "y": 0.0, "z": 9.0, "hole_type": "simple",
		}}
		results := New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
		if !results[0].Succeeded {
			t.Fatalf("fallback should still produce geometry: %s", results[0].Detail)
		}
		if h.holeSpecs[0].Face.ID != "face-curved" {
			t.Errorf("expected arbitrary first face, got %s", h.holeSpecs[0].Face.ID)
		}
		if !strings.Contains(results[0].Detail, "fell back") {
			t.Errorf("fallback must be reported in detail: %s", results[0].Detail)
		}
	})

	t.Run("no bodies fails without host mutation", func(t *testing.T) {
		t.Parallel()
		h := &fakeHost{}
		action := schema.Action{Name: schema.ActionCreateHole, Params: map[string]any{
			"diameter": 0.5, "depth": 0.8, "x": 0.0, "y": 0.0, "z": 1.0, "hole_type": "simple",
		}}
		results := New(h).Execute(context.Background(), []schema.Action{action}, &domain.ModelContext{})
		if results[0].Succeeded {
			t.Fatal("expected failure with no bodies present")
		}
		if len(h.holeSpecs) != 0 {
			t.Error("no hole must be created when no body exists")
		}
	})
}

func TestResolveSketchFallsBackToFreshSketch(t *testing.T) {
	t.Parallel()

	h := &fakeHost{}
	mc := &domain.ModelContext{}
	actions := []schema.Action{
		{Name: schema.ActionAddRectangle, Params: map[string]any{"sketch_id": "sk_7", "x1": 0.0, "y1": 0.0, "x2": 1.0, "y2": 1.0}},
	}
	results := New(h).Execute(context.Background(), actions, mc)
	if !results[0].Succeeded {
		t.Fatalf("expected fallback sketch to rescue the action: %s", results[0].Detail)
	}
	if !strings.Contains(results[0].Detail, "fallback sketch") {
		t.Errorf("fallback must be reported: %s", results[0].Detail)
	}
	if h.calls[0] != "create_sketch" {
		t.Errorf("expected fallback create_sketch first, calls: %v", h.calls)
	}
}
