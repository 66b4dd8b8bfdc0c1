package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/carehub/internal/platform/auth"
	"github.com/ehr/carehub/internal/platform/metrics"
)

// Error codes sent in auth_error frames that do not come from token checks.
const (
	CodeAuthRequired = "auth_required"
	CodeAuthTimeout  = "auth_timeout"
)

// SubjectVerifier validates a bearer credential and returns its subject.
type SubjectVerifier interface {
	Subject(token string) (string, error)
}

// UnauthenticatedPolicy decides what happens to non-auth frames received
// before a connection has authenticated. Ping is always answered.
type UnauthenticatedPolicy string

const (
	PolicyIgnore UnauthenticatedPolicy = "ignore"
	PolicyReject UnauthenticatedPolicy = "reject"
)

// GateConfig configures the per-connection auth gate.
type GateConfig struct {
	UnauthenticatedPolicy UnauthenticatedPolicy
	// CloseSuperseded closes a user's previous handle when they authenticate
	// on a new connection.
	CloseSuperseded bool
	// AuthTimeout closes connections that have not authenticated in time.
	// Zero disables the timeout.
	AuthTimeout time.Duration
}

// State is the auth state of one connection.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unauthenticated"
	}
}

var tokenErrorMessages = map[string]string{
	auth.CodeTokenMissing:   "authentication token is required",
	auth.CodeTokenMalformed: "authentication token is malformed",
	auth.CodeTokenExpired:   "authentication token has expired",
	auth.CodeTokenInvalid:   "authentication token is invalid",
}

// Gate authenticates connections and binds them to users in the registry.
type Gate struct {
	registry *Registry
	verifier SubjectVerifier
	cfg      GateConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewGate creates an auth gate. An empty policy defaults to PolicyIgnore.
func NewGate(registry *Registry, verifier SubjectVerifier, cfg GateConfig, logger zerolog.Logger, m *metrics.Metrics) *Gate {
	if cfg.UnauthenticatedPolicy == "" {
		cfg.UnauthenticatedPolicy = PolicyIgnore
	}
	return &Gate{registry: registry, verifier: verifier, cfg: cfg, logger: logger, metrics: m}
}

// Session is the state machine for one connection:
// UNAUTHENTICATED -> AUTHENTICATED or UNAUTHENTICATED -> REJECTED.
type Session struct {
	gate   *Gate
	handle *Handle
	state  atomic.Int32
	userID string
}

// NewSession starts a session for h in the unauthenticated state.
func (g *Gate) NewSession(h *Handle) *Session {
	return &Session{gate: g, handle: h}
}

// State returns the session's current auth state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// UserID returns the authenticated subject, or "" before authentication.
func (s *Session) UserID() string {
	return s.userID
}

// HandleFrame processes one inbound frame. It returns false when the
// connection must be closed.
func (s *Session) HandleFrame(data []byte) bool {
	log := s.gate.logger.With().Str("conn_id", s.handle.ID).Logger()

	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		log.Debug().Err(err).Msg("websocket: ignoring malformed frame")
		return true
	}

	switch f.Type {
	case FramePing:
		if err := s.handle.WriteJSON(pongFrame{Type: FramePong}); err != nil {
			log.Debug().Err(err).Msg("websocket: pong failed")
			return false
		}
		return true

	case FrameAuth:
		if s.State() != StateUnauthenticated {
			log.Debug().Str("state", s.State().String()).Msg("websocket: ignoring repeated auth frame")
			return true
		}
		return s.authenticate(f.Token)

	default:
		if s.State() == StateAuthenticated {
			log.Debug().Str("frame_type", f.Type).Msg("websocket: ignoring unsupported frame")
			return true
		}
		if s.gate.cfg.UnauthenticatedPolicy == PolicyReject {
			s.reject(CodeAuthRequired, "authenticate before sending "+f.Type)
			return false
		}
		log.Debug().Str("frame_type", f.Type).Msg("websocket: ignoring frame before auth")
		return true
	}
}

func (s *Session) authenticate(token string) bool {
	userID, err := s.gate.verifier.Subject(token)
	if err != nil {
		code := auth.ErrorCode(err)
		s.gate.logger.Info().Str("conn_id", s.handle.ID).Str("code", code).Msg("websocket: authentication rejected")
		s.reject(code, tokenErrorMessages[code])
		return false
	}

	// Lost a race with the auth timeout.
	if !s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated)) {
		return false
	}
	s.userID = userID

	if previous := s.gate.registry.Register(userID, s.handle); previous != nil {
		s.gate.logger.Info().Str("user_id", userID).Str("superseded_conn_id", previous.ID).
			Bool("closed", s.gate.cfg.CloseSuperseded).Msg("websocket: connection superseded")
		if s.gate.cfg.CloseSuperseded {
			_ = previous.Close()
		}
	}
	s.gate.metrics.AuthOutcome("ok")
	s.gate.metrics.SetConnections(s.gate.registry.Count())

	if err := s.handle.WriteJSON(authenticatedFrame{Type: FrameAuthenticated, UserID: userID}); err != nil {
		return false
	}
	return true
}

func (s *Session) reject(code, message string) {
	s.state.Store(int32(StateRejected))
	s.gate.metrics.AuthOutcome(code)
	_ = s.handle.WriteJSON(authErrorFrame{Type: FrameAuthError, Message: message, Code: code})
}

// Serve runs the read loop for h until the connection closes, the session is
// rejected, or ctx is cancelled. Frames are handled in arrival order. The
// registry entry for h is always released on return.
func (g *Gate) Serve(ctx context.Context, h *Handle) {
	s := g.NewSession(h)

	defer func() {
		if g.registry.Remove(h) {
			g.metrics.SetConnections(g.registry.Count())
		}
		_ = h.Close()
	}()

	if g.cfg.AuthTimeout > 0 {
		timer := time.AfterFunc(g.cfg.AuthTimeout, func() {
			if s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateRejected)) {
				g.metrics.AuthOutcome(CodeAuthTimeout)
				_ = h.WriteJSON(authErrorFrame{Type: FrameAuthError, Message: "authentication timed out", Code: CodeAuthTimeout})
				_ = h.Close()
			}
		})
		defer timer.Stop()
	}

	stop := context.AfterFunc(ctx, func() { _ = h.Close() })
	defer stop()

	for {
		_, data, err := h.read()
		if err != nil {
			return
		}
		if !s.HandleFrame(data) {
			return
		}
	}
}
