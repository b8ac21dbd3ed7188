package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when no add-in is attached to the bridge.
var ErrNotConnected = errors.New("no CAD host connected")

// request is one capability call forwarded to the add-in.
type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// response is the add-in's answer, correlated by id.
type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Bridge implements Capability over a websocket connection from the
// in-CAD add-in. The add-in dials in (it lives behind the application's
// embedded runtime and cannot listen); the server forwards primitive
// calls as correlated JSON frames. At most one host is attached; a new
// connection replaces the previous one.
type Bridge struct {
	callTimeout time.Duration
	development bool

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan response
}

// NewBridge creates a bridge with the given per-call timeout.
func NewBridge(callTimeout time.Duration, development bool) *Bridge {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Bridge{
		callTimeout: callTimeout,
		development: development,
		pending:     make(map[string]chan response),
	}
}

// Connected reports whether an add-in is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ServeHTTP upgrades the add-in connection and pumps responses until the
// peer goes away.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if b.development {
		opts.OriginPatterns = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("host bridge accept failed", "error", err)
		return
	}

	b.attach(conn)
	slog.Info("CAD host connected", "remote", r.RemoteAddr)

	b.readLoop(r.Context(), conn)

	b.detach(conn)
	slog.Info("CAD host disconnected", "remote", r.RemoteAddr)
}

func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	prev := b.conn
	b.conn = conn
	b.mu.Unlock()
	if prev != nil {
		_ = prev.Close(websocket.StatusPolicyViolation, "replaced by a newer host connection")
	}
}

// detach clears the connection and fails all in-flight calls so callers
// don't hang until their timeout.
func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	orphaned := b.pending
	b.pending = make(map[string]chan response)
	b.mu.Unlock()

	for id, ch := range orphaned {
		ch <- response{ID: id, OK: false, Error: "host disconnected"}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var resp response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			return
		}
		b.dispatch(resp)
	}
}

func (b *Bridge) dispatch(resp response) {
	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()
	if !ok {
		slog.Warn("host bridge received unmatched response", "id", resp.ID)
		return
	}
	ch <- resp
}

// call forwards one capability invocation and waits for the correlated
// response within the bridge's call timeout.
func (b *Bridge) call(ctx context.Context, method string, params, result any) error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan response, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, request{ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case resp := <-ch:
		if !resp.OK {
			return fmt.Errorf("%s: host error: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

type refResult struct {
	Ref EntityRef `json:"ref"`
}

// CreateSketch creates a sketch on the named construction plane.
func (b *Bridge) CreateSketch(ctx context.Context, plane Plane) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "create_sketch", map[string]any{"plane": plane}, &res)
	return res.Ref, err
}

// AddRectangle adds a two-point rectangle to a sketch.
func (b *Bridge) AddRectangle(ctx context.Context, sketch EntityRef, x1, y1, x2, y2 float64) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "add_rectangle", map[string]any{
		"sketch": sketch, "x1": x1, "y1": y1, "x2": x2, "y2": y2,
	}, &res)
	return res.Ref, err
}

// AddCircle adds a center-radius circle to a sketch.
func (b *Bridge) AddCircle(ctx context.Context, sketch EntityRef, cx, cy, r float64) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "add_circle", map[string]any{
		"sketch": sketch, "cx": cx, "cy": cy, "r": r,
	}, &res)
	return res.Ref, err
}

// AddText adds sketch text on the named plane.
func (b *Bridge) AddText(ctx context.Context, plane Plane, text string, height, x, y float64) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "add_text", map[string]any{
		"plane": plane, "text": text, "height": height, "x": x, "y": y,
	}, &res)
	return res.Ref, err
}

// ExtrudeLastProfile extrudes the most recent closed profile.
func (b *Bridge) ExtrudeLastProfile(ctx context.Context, distance float64, op ExtrudeOperation) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "extrude_last_profile", map[string]any{
		"distance": distance, "operation": op,
	}, &res)
	return res.Ref, err
}

// Bodies lists solid bodies in the active document.
func (b *Bridge) Bodies(ctx context.Context) ([]EntityRef, error) {
	var res struct {
		Bodies []EntityRef `json:"bodies"`
	}
	err := b.call(ctx, "bodies", nil, &res)
	return res.Bodies, err
}

// Faces lists the faces of a body.
func (b *Bridge) Faces(ctx context.Context, body EntityRef) ([]Face, error) {
	var res struct {
		Faces []Face `json:"faces"`
	}
	err := b.call(ctx, "faces", map[string]any{"body": body}, &res)
	return res.Faces, err
}

// CreateHole creates a hole feature from a fully resolved spec.
func (b *Bridge) CreateHole(ctx context.Context, spec HoleSpec) (EntityRef, error) {
	var res refResult
	err := b.call(ctx, "create_hole", spec, &res)
	return res.Ref, err
}

var _ Capability = (*Bridge)(nil)
