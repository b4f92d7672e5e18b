// Package pipeline decides, for every inbound call, whether it may proceed and
// on behalf of which identity.
//
// A call moves through authenticate (credential → identity or anonymous) and
// authorize (identity + merged role requirement → allowed). Verified
// identities are cached by token; a cache miss re-verifies the token and
// re-checks the account's active flag against its store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meshgate/internal/auth/roles"
	"meshgate/internal/platform/metrics"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/circuit"
	"meshgate/pkg/requestcontext"
)

const tracerName = "meshgate/internal/auth/pipeline"

// Config holds the pipeline's tunables.
type Config struct {
	// UpstreamTimeout bounds the activity re-check on a cache miss. The
	// request deadline applies as well.
	UpstreamTimeout time.Duration
	// DistinguishForbidden reports failed role checks as an authorization
	// rejection instead of an invalid credential.
	DistinguishForbidden bool
}

// Pipeline runs authenticate and authorize for inbound calls.
type Pipeline struct {
	verifier Verifier
	sessions SessionCache
	activity ActivityChecker
	breaker  *circuit.Breaker
	auditor  RejectionAuditor
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	clock    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAuditor sets the rejection side channel.
func WithAuditor(a RejectionAuditor) Option {
	return func(p *Pipeline) {
		if a != nil {
			p.auditor = a
		}
	}
}

// WithSessionBreaker replaces the breaker guarding session cache calls.
func WithSessionBreaker(b *circuit.Breaker) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func New(verifier Verifier, sessions SessionCache, activity ActivityChecker, cfg Config, opts ...Option) *Pipeline {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 2 * time.Second
	}
	p := &Pipeline{
		verifier: verifier,
		sessions: sessions,
		activity: activity,
		auditor:  noopAuditor{},
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = circuit.New("session-cache", circuit.WithClock(p.clock))
	}
	return p
}

// Admit authenticates and authorizes call. It returns the identity the call
// runs as, or nil for anonymous calls to public actions.
func (p *Pipeline) Admit(ctx context.Context, call Call) (*domain.Identity, error) {
	ctx, span := p.tracer.Start(ctx, "auth.Admit", trace.WithAttributes(
		attribute.String("route", call.Route.Name),
		attribute.String("action", call.Action.Name),
	))
	defer span.End()

	// A public action needs no identity; a presented credential is still
	// checked so a broken token is never silently ignored.
	if call.Action.Public && strings.TrimSpace(call.Credential) == "" {
		p.metrics.IncAuthDecision("allowed", "public")
		return nil, nil
	}

	identity, err := p.authenticate(ctx, call.Credential, call)
	if err != nil {
		span.SetStatus(codes.Error, "authentication rejected")
		return nil, err
	}
	identity, err = p.authorize(ctx, identity, call)
	if err != nil {
		span.SetStatus(codes.Error, "authorization rejected")
		return nil, err
	}
	p.metrics.IncAuthDecision("allowed", "")
	return identity, nil
}

// Authenticate resolves credentialHeader to an identity. It returns (nil, nil)
// when no credential is presented and the route permits anonymous calls.
func (p *Pipeline) Authenticate(ctx context.Context, credentialHeader string, route RouteDescriptor) (*domain.Identity, error) {
	return p.authenticate(ctx, credentialHeader, Call{Credential: credentialHeader, Route: route})
}

// Authorize checks identity against the merged route and action requirement.
func (p *Pipeline) Authorize(ctx context.Context, identity *domain.Identity, route RouteDescriptor, action ActionDescriptor) (*domain.Identity, error) {
	return p.authorize(ctx, identity, Call{Route: route, Action: action})
}

func (p *Pipeline) authenticate(ctx context.Context, header string, call Call) (*domain.Identity, error) {
	if strings.TrimSpace(header) == "" {
		if call.Route.Anonymous {
			return nil, nil
		}
		return nil, p.reject(ctx, nil, newRejection(ReasonNoCredential, nil), call)
	}

	token, ok := parseCredential(header)
	if !ok {
		return nil, p.reject(ctx, nil, newRejection(ReasonMalformedCredential, nil), call)
	}

	if identity, hit := p.lookup(ctx, token); hit {
		if !identity.Active {
			return nil, p.reject(ctx, identity, newRejection(ReasonInvalidCredential, errors.New("cached identity inactive")), call)
		}
		return identity, nil
	}

	identity, err := p.verifier.Verify(token)
	if err != nil {
		return nil, p.reject(ctx, nil, newRejection(ReasonInvalidCredential, err), call)
	}

	active, err := p.checkActive(ctx, identity.UserID)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, p.reject(ctx, identity, newTimeoutRejection(err), call)
		}
		return nil, p.reject(ctx, identity, newRejection(ReasonUpstreamUnavailable, err), call)
	}
	if !active || !identity.Active {
		return nil, p.reject(ctx, identity, newRejection(ReasonInvalidCredential, errors.New("identity inactive")), call)
	}

	p.store(ctx, token, identity)
	return identity, nil
}

func (p *Pipeline) store(ctx context.Context, token string, identity *domain.Identity) {
	if !p.breaker.Allow() {
		return
	}
	err := p.sessions.Store(ctx, token, identity)
	p.recordSessionCache(ctx, err)
	if err != nil {
		p.logger.DebugContext(ctx, "failed to cache verified session",
			"error", err,
			"user_id", identity.UserID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

// lookup consults the session cache. Backend errors degrade to a miss so the
// verify path stays authoritative, and repeated errors open the breaker so
// the cache is skipped until a probe succeeds. A cached identity past its
// token expiry is treated as a miss as well.
func (p *Pipeline) lookup(ctx context.Context, token string) (*domain.Identity, bool) {
	if !p.breaker.Allow() {
		p.metrics.IncSessionCache("bypass")
		return nil, false
	}
	identity, hit, err := p.sessions.Lookup(ctx, token)
	p.recordSessionCache(ctx, err)
	if err != nil {
		p.metrics.IncSessionCache("error")
		p.logger.DebugContext(ctx, "session cache lookup failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, false
	}
	if !hit || identity == nil {
		p.metrics.IncSessionCache("miss")
		return nil, false
	}
	if !identity.ExpiresAt.IsZero() && !p.clock().Before(identity.ExpiresAt) {
		p.metrics.IncSessionCache("miss")
		return nil, false
	}
	p.metrics.IncSessionCache("hit")
	return identity, true
}

func (p *Pipeline) recordSessionCache(ctx context.Context, err error) {
	if err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.WarnContext(ctx, "session cache unavailable, verifying every token",
				"error", err,
				"breaker", p.breaker.Name(),
			)
		}
		return
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "session cache recovered", "breaker", p.breaker.Name())
	}
}

func (p *Pipeline) checkActive(ctx context.Context, userID domain.UserID) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "auth.CheckActive")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	active, err := p.activity.IsActive(ctx, userID)
	p.metrics.ObserveIdentityRecheck(time.Since(start))
	if err == nil && ctx.Err() != nil {
		// the checker ignored its context; its answer arrived too late
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return active, nil
}

func (p *Pipeline) authorize(ctx context.Context, identity *domain.Identity, call Call) (*domain.Identity, error) {
	if call.Action.Public {
		return identity, nil
	}
	if identity == nil {
		return nil, p.reject(ctx, nil, newRejection(ReasonNoCredential, nil), call)
	}
	required := roles.Merge(call.Route.Roles, call.Action.Roles)
	if !roles.IsSatisfied(required, identity.Roles) {
		reason := ReasonInvalidCredential
		if p.cfg.DistinguishForbidden {
			reason = ReasonForbidden
		}
		return nil, p.reject(ctx, identity, newRejection(reason, errors.New("missing required role")), call)
	}
	return identity, nil
}

func (p *Pipeline) reject(ctx context.Context, identity *domain.Identity, rej *Rejection, call Call) error {
	p.metrics.IncAuthDecision("rejected", string(rej.Reason))
	p.auditor.OnRejected(ctx, identity, rej, CallContext{
		Route:     call.Route.Name,
		Action:    call.Action.Name,
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	})
	return rej
}

// parseCredential accepts "Bearer <token>" and "Token <token>", scheme
// case-insensitive.
func parseCredential(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", false
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// isTimeout reports whether err stems from a deadline, either the upstream
// timeout or the request's own.
func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

type noopAuditor struct{}

func (noopAuditor) OnRejected(context.Context, *domain.Identity, *Rejection, CallContext) {}
