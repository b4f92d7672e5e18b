package pipeline

import (
	"context"
	"log/slog"

	"meshgate/pkg/domain"
	audit "meshgate/pkg/platform/audit"
	"meshgate/pkg/platform/middleware/metadata"
)

// SecurityEmitter accepts security audit events without blocking.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// SecurityAuditor logs every rejection and records a security audit event
// when the rejected call carried a resolved identity. Anonymous rejections
// are logged at debug level only.
type SecurityAuditor struct {
	emitter SecurityEmitter
	logger  *slog.Logger
}

func NewSecurityAuditor(emitter SecurityEmitter, logger *slog.Logger) *SecurityAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityAuditor{emitter: emitter, logger: logger}
}

func (a *SecurityAuditor) OnRejected(ctx context.Context, identity *domain.Identity, rejection *Rejection, call CallContext) {
	attrs := []any{
		"reason", string(rejection.Reason),
		"route", call.Route,
		"action", call.Action,
		"request_id", call.RequestID,
	}
	if identity == nil {
		a.logger.DebugContext(ctx, "anonymous call rejected", attrs...)
		return
	}

	attrs = append(attrs, "user_id", identity.UserID.String())
	if cause := rejection.Cause(); cause != nil {
		attrs = append(attrs, "cause", cause.Error())
	}
	a.logger.WarnContext(ctx, "call rejected", attrs...)

	if a.emitter == nil {
		return
	}
	a.emitter.Emit(ctx, audit.SecurityEvent{
		UserID:    identity.UserID,
		Subject:   subject(call),
		Action:    audit.ActionAuthRejected,
		Reason:    string(rejection.Reason),
		IP:        call.ClientIP,
		Device:    metadata.DeviceLabel(call.UserAgent),
		RequestID: call.RequestID,
		Severity:  severityFor(rejection.Reason),
	})
}

func subject(call CallContext) string {
	switch {
	case call.Route != "" && call.Action != "":
		return call.Route + "/" + call.Action
	case call.Action != "":
		return call.Action
	default:
		return call.Route
	}
}

func severityFor(reason Reason) audit.Severity {
	switch reason {
	case ReasonForbidden, ReasonInvalidCredential:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}
