package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luCUBEratur/automatus/internal/bridgeproto"
	"github.com/luCUBEratur/automatus/internal/policy"
)

// dispatch runs the protocol state machine for one inbound frame. Every
// outcome is a correlated response written back to the same socket; no
// error path drops the connection.
func (s *Server) dispatch(ctx context.Context, c *Connection, raw []byte) {
	now := time.Now()
	c.touch(now)

	// Only the envelope is decoded ahead of the rate check, so that a
	// rate-limited response still carries the request id. The payload
	// stays raw until the frame has passed rate and auth checks.
	var env bridgeproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.respondError(c, "", bridgeproto.CodeInvalidFormat, "invalid command format")
		return
	}

	if !c.window.allow(now) {
		s.respondError(c, env.ID, bridgeproto.CodeRateLimitExceeded,
			fmt.Sprintf("message limit of %d per %s exceeded", s.cfg.MessageLimit, s.cfg.MessageWindow))
		return
	}

	if !c.Authenticated() && env.Type != bridgeproto.KindAuthRequest {
		s.respondError(c, env.ID, bridgeproto.CodeAuthenticationRequired, "authentication required")
		return
	}

	// The type label is attacker-influenced; unknown kinds share one
	// bucket so a client cannot grow the label set without bound.
	kindLabel := env.Type
	if !bridgeproto.KnownKind(kindLabel) {
		kindLabel = "unknown"
	}
	metricCommandsTotal.WithLabelValues(kindLabel).Inc()

	switch env.Type {
	case bridgeproto.KindAuthRequest:
		s.handleAuth(ctx, c, &env)
	case bridgeproto.KindPing:
		s.respond(c, bridgeproto.OK(env.ID, map[string]any{"serverTime": now.UnixMilli()}))
	default:
		s.handleCommand(ctx, c, &env)
	}
}

// handleCommand processes an authenticated, non-auth frame: payload parse,
// breaker check, policy check, handler invocation, breaker bookkeeping.
func (s *Server) handleCommand(ctx context.Context, c *Connection, env *bridgeproto.Envelope) {
	cmd, err := env.Command()
	if err != nil {
		// Malformed payloads and unknown envelope kinds never reach a
		// handler, so they do not count toward any breaker.
		s.respondFailure(c, env.ID, err)
		return
	}

	if code, open := s.breakers.OpenCode(env.Type); open {
		s.respondError(c, env.ID, bridgeproto.CodeCircuitBreakerOpen,
			fmt.Sprintf("circuit breaker open for %s after repeated %s failures", env.Type, code))
		return
	}

	name, level, err := commandPolicy(cmd)
	if err != nil {
		s.respondError(c, env.ID, bridgeproto.CodeInvalidFormat, err.Error())
		return
	}
	if err := s.authorize(c, name, level); err != nil {
		// Legitimate authorization denials never count toward a breaker.
		s.errorCount.Add(1)
		metricCommandErrorsTotal.WithLabelValues(bridgeproto.CodeAuthorizationDenied).Inc()
		s.respondError(c, env.ID, bridgeproto.CodeAuthorizationDenied, err.Error())
		return
	}

	result, err := s.invoke(ctx, cmd)
	if err != nil {
		code := bridgeproto.CodeForError(err)
		if s.breakers.RecordFailure(env.Type, code) {
			s.log.Warn("circuit breaker opened", "kind", env.Type, "code", code)
		}
		metricBreakersOpen.Set(float64(s.breakers.OpenCount()))
		metricCommandErrorsTotal.WithLabelValues(code).Inc()
		s.errorCount.Add(1)
		s.respondFailure(c, env.ID, err)
		return
	}

	s.breakers.RecordSuccess(env.Type)
	metricBreakersOpen.Set(float64(s.breakers.OpenCount()))
	s.commandsExecuted.Add(1)
	s.respond(c, bridgeproto.OK(env.ID, result))
}

func (s *Server) handleAuth(ctx context.Context, c *Connection, env *bridgeproto.Envelope) {
	cmd, err := env.Command()
	if err != nil {
		s.respondFailure(c, env.ID, err)
		return
	}
	req := cmd.(bridgeproto.AuthRequest)

	payload, err := s.authority.Validate(ctx, req.Token, c.remoteAddr)
	if err != nil {
		s.errorCount.Add(1)
		metricAuthFailuresTotal.Inc()
		s.log.Warn("authentication failed", "conn_id", c.id, "addr", c.remoteAddr, "err", err)
		s.respondFailure(c, env.ID, err)
		return
	}

	if err := s.registry.Authenticate(c.id, payload); err != nil {
		s.respondFailure(c, env.ID, err)
		return
	}
	s.log.Info("client authenticated",
		"conn_id", c.id, "subject", payload.Subject, "session_id", payload.SessionID, "safety_phase", payload.SafetyPhase)
	s.respond(c, bridgeproto.OK(env.ID, map[string]any{
		"subject":     payload.Subject,
		"sessionId":   payload.SessionID,
		"safetyPhase": payload.SafetyPhase,
		"permissions": payload.Permissions,
	}))
}

// commandPolicy resolves the policy command name and requested safety
// level for a decoded command. An empty name skips the allow-list check
// and leaves the verdict to the handler.
func commandPolicy(cmd bridgeproto.Command) (string, policy.Level, error) {
	switch v := cmd.(type) {
	case bridgeproto.WorkspaceQuery:
		return policy.CommandWorkspaceQuery, policy.LevelReadOnly, nil
	case bridgeproto.ContextRequest:
		return policy.CommandContextGet, policy.LevelReadOnly, nil
	case bridgeproto.FileOperation:
		switch v.Operation {
		case "read":
			return policy.CommandFileRead, policy.LevelReadOnly, nil
		case "list":
			return policy.CommandFileList, policy.LevelReadOnly, nil
		case "create":
			return policy.CommandFileCreate, policy.LevelControlledWrite, nil
		case "modify":
			return policy.CommandFileModify, policy.LevelControlledWrite, nil
		case "delete":
			return policy.CommandFileDelete, policy.LevelExpandedAccess, nil
		default:
			return "", policy.LevelReadOnly, nil
		}
	case bridgeproto.CommandExecution:
		level, err := policy.ParseLevel(v.SafetyLevel)
		if err != nil {
			return "", "", err
		}
		return policy.CommandExecute, level, nil
	default:
		return "", policy.LevelReadOnly, nil
	}
}

// authorize checks the requested level and command against the session's
// permission set and the live safety phase. The phase is re-read here so
// an administrative downgrade takes effect on the very next command.
func (s *Server) authorize(c *Connection, name string, level policy.Level) error {
	phase := s.phase.Current()
	payload := c.Payload()

	if !payload.HasPermission(level.Permission()) {
		return fmt.Errorf("session lacks the %s permission (requires Safety Phase %d)",
			level.Permission(), level.MinPhase())
	}
	if !policy.Allows(level, phase) {
		return fmt.Errorf("%s access requires Safety Phase %d, current phase is %d",
			level, level.MinPhase(), phase)
	}
	if name != "" && !policy.CommandAllowed(name, level, phase) {
		return fmt.Errorf("%s is not permitted at %s (requires Safety Phase %d)",
			name, level, level.MinPhase())
	}
	return nil
}

// invoke routes a decoded command to the capability provider.
func (s *Server) invoke(ctx context.Context, cmd bridgeproto.Command) (any, error) {
	switch v := cmd.(type) {
	case bridgeproto.WorkspaceQuery:
		return s.provider.Query(ctx, v.QueryType, v.Args)
	case bridgeproto.FileOperation:
		return s.provider.FileOp(ctx, v.Operation, v.Path, v.Content)
	case bridgeproto.CommandExecution:
		return s.provider.RunNamedCommand(ctx, v.CommandName, v.Args)
	case bridgeproto.ContextRequest:
		return s.provider.GetContext(ctx, v.ContextType)
	default:
		return nil, fmt.Errorf("no handler for command kind %q", cmd.CommandKind())
	}
}

func (s *Server) respond(c *Connection, resp bridgeproto.Response) {
	if err := c.writeJSON(resp); err != nil {
		// The socket may already be gone; teardown happens in the read loop.
		s.log.Debug("response write failed", "conn_id", c.id, "err", err)
	}
}

func (s *Server) respondError(c *Connection, id, code, message string) {
	s.respond(c, bridgeproto.Fail(id, code, message))
}

func (s *Server) respondFailure(c *Connection, id string, err error) {
	s.respond(c, bridgeproto.FailErr(id, err))
}
