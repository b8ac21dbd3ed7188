// Package host defines the geometry capability interface the executor
// drives but does not own, plus the websocket bridge that forwards
// capability calls to the add-in running inside the CAD application.
package host

import "context"

// Plane is a construction plane name.
type Plane string

const (
	PlaneXY Plane = "XY"
	PlaneYZ Plane = "YZ"
	PlaneXZ Plane = "XZ"
)

// ExtrudeOperation selects how an extrusion combines with existing bodies.
type ExtrudeOperation string

const (
	OpNewBody ExtrudeOperation = "new_body"
	OpCut     ExtrudeOperation = "cut"
	OpJoin    ExtrudeOperation = "join"
)

// HoleType selects the hole geometry.
type HoleType string

const (
	HoleSimple      HoleType = "simple"
	HoleCounterbore HoleType = "counterbore"
	HoleCountersink HoleType = "countersink"
)

// EntityRef is an opaque reference to an entity in the host document.
type EntityRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Face describes one face of a body with enough geometry for the
// executor's selection heuristic to stay host-independent.
type Face struct {
	Ref    EntityRef  `json:"ref"`
	Planar bool       `json:"planar"`
	Origin [3]float64 `json:"origin"`
}

// HoleSpec carries the fully resolved parameters for one hole feature.
// Secondary dimensions are already derived by the caller.
type HoleSpec struct {
	Face                EntityRef `json:"face"`
	Diameter            float64   `json:"diameter"`
	Depth               float64   `json:"depth"`
	X                   float64   `json:"x"`
	Y                   float64   `json:"y"`
	Z                   float64   `json:"z"`
	Type                HoleType  `json:"hole_type"`
	CounterboreDiameter float64   `json:"counterbore_diameter,omitempty"`
	CounterboreDepth    float64   `json:"counterbore_depth,omitempty"`
	CountersinkDiameter float64   `json:"countersink_diameter,omitempty"`
	CountersinkAngle    float64   `json:"countersink_angle,omitempty"`
}

// Capability exposes exactly the primitive operations the executor needs.
// Every call returns an opaque entity reference or a host-defined error.
type Capability interface {
	CreateSketch(ctx context.Context, plane Plane) (EntityRef, error)
	AddRectangle(ctx context.Context, sketch EntityRef, x1, y1, x2, y2 float64) (EntityRef, error)
	AddCircle(ctx context.Context, sketch EntityRef, cx, cy, r float64) (EntityRef, error)
	AddText(ctx context.Context, plane Plane, text string, height, x, y float64) (EntityRef, error)
	ExtrudeLastProfile(ctx context.Context, distance float64, op ExtrudeOperation) (EntityRef, error)
	Bodies(ctx context.Context) ([]EntityRef, error)
	Faces(ctx context.Context, body EntityRef) ([]Face, error)
	CreateHole(ctx context.Context, spec HoleSpec) (EntityRef, error)
}
