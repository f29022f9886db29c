// Package audit emits append-only security and lifecycle events for the
// authentication core. Events are structured log lines; shipping them to a
// durable sink is the operator's concern.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sisteq/segauth/internal/obs"
)

// Security-relevant event names. EventRevokedTokenReuse is the replay signal:
// a revoked refresh token presented again may have been captured by an attacker.
const (
	EventLoginSucceeded    = "auth.login.succeeded"
	EventLoginFailed       = "auth.login.failed"
	EventTokenRotated      = "auth.token.rotated"
	EventRevokedTokenReuse = "REVOKED_TOKEN_REUSE"
	EventRevokeAll         = "auth.token.revoke_all"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	ev := obs.Logger().Warn().Str("type", "audit").Str("event", event)
	if rid := requestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Send()
	return nil
}
