package challenge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"

	"github.com/google/uuid"
)

// Surface is the interactive escalation handle of one session. It keeps a
// cursor for pointer-less devices and turns directional input into cursor
// moves and confirm into a tap at the cursor.
type Surface struct {
	mu       sync.Mutex
	renderer interfaces.Renderer
	cancel   context.CancelFunc
	cursor   types.Point
	width    float64
	height   float64
	step     float64
}

// cursorSteps is how many moves it takes to cross the shorter viewport side.
const cursorSteps = 20

func newSurface(r interfaces.Renderer, cancel context.CancelFunc) *Surface {
	w, h := r.Viewport()
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}
	step := min(w, h) / cursorSteps

	return &Surface{
		renderer: r,
		cancel:   cancel,
		cursor:   types.Point{X: w / 2, Y: h / 2},
		width:    w,
		height:   h,
		step:     step,
	}
}

// Cursor returns the current cursor position.
func (s *Surface) Cursor() types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Input applies one directional-pad key. Back cancels the whole solve.
func (s *Surface) Input(ctx context.Context, key types.InputKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case types.KeyUp:
		s.cursor.Y = clamp(s.cursor.Y-s.step, 0, s.height)
	case types.KeyDown:
		s.cursor.Y = clamp(s.cursor.Y+s.step, 0, s.height)
	case types.KeyLeft:
		s.cursor.X = clamp(s.cursor.X-s.step, 0, s.width)
	case types.KeyRight:
		s.cursor.X = clamp(s.cursor.X+s.step, 0, s.width)
	case types.KeyConfirm:
		return s.renderer.Tap(ctx, s.cursor)
	case types.KeyBack:
		s.cancel()
	default:
		return fmt.Errorf("unknown input key %q", key)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// session is one live solve call.
type session struct {
	id       string
	url      string
	deadline time.Time
	renderer interfaces.Renderer
	cancel   context.CancelFunc

	mu        sync.Mutex
	polls     int
	escalated bool
	surface   *Surface
}

func (s *session) setPolls(n int) {
	s.mu.Lock()
	s.polls = n
	s.mu.Unlock()
}

func (s *session) isEscalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// escalate marks the session escalated and, when the renderer accepts
// input, creates its single surface.
func (s *session) escalate() *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.escalated = true
	if s.surface == nil && s.renderer.Interactive() {
		s.surface = newSurface(s.renderer, s.cancel)
	}
	return s.surface
}

func (s *session) info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := types.SessionInfo{
		ID:          s.id,
		URL:         s.url,
		Polls:       s.polls,
		Deadline:    s.deadline,
		Escalated:   s.escalated,
		Interactive: s.surface != nil,
	}
	if s.surface != nil {
		c := s.surface.Cursor()
		info.Cursor = &c
	}
	return info
}

// Sessions tracks live solve calls so an external caller can watch and
// drive escalated ones.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*session)}
}

func (s *Sessions) open(url string, deadline time.Time, r interfaces.Renderer, cancel context.CancelFunc) *session {
	sess := &session{
		id:       uuid.New().String(),
		url:      url,
		deadline: deadline,
		renderer: r,
		cancel:   cancel,
	}

	s.mu.Lock()
	s.m[sess.id] = sess
	s.mu.Unlock()

	return sess
}

func (s *Sessions) close(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *Sessions) get(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	return sess, nil
}

// List returns every live session ordered by deadline.
func (s *Sessions) List() []types.SessionInfo {
	s.mu.RLock()
	out := make([]types.SessionInfo, 0, len(s.m))
	for _, sess := range s.m {
		out = append(out, sess.info())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

// Info returns one session's state.
func (s *Sessions) Info(id string) (types.SessionInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return types.SessionInfo{}, err
	}
	return sess.info(), nil
}

// Input routes a key to an escalated session's surface.
func (s *Sessions) Input(ctx context.Context, id string, key types.InputKey) error {
	if !key.Valid() {
		return fmt.Errorf("unknown input key %q", key)
	}

	sess, err := s.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	surface := sess.surface
	escalated := sess.escalated
	sess.mu.Unlock()

	if surface == nil {
		if escalated {
			return types.ErrInteractionUnsupported
		}
		return fmt.Errorf("session %s is not escalated", id)
	}
	return surface.Input(ctx, key)
}

// Screenshot captures the session's current page.
func (s *Sessions) Screenshot(ctx context.Context, id string) ([]byte, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !sess.renderer.Interactive() {
		return nil, types.ErrInteractionUnsupported
	}
	return sess.renderer.Screenshot(ctx)
}

// Cancel aborts a live solve. The solve call returns ErrChallengeCancelled
// after tearing its renderer down.
func (s *Sessions) Cancel(id string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.cancel()
	return nil
}
