package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshgate/internal/platform/logger"
	"meshgate/pkg/domain"
	audit "meshgate/pkg/platform/audit"
)

type recordingEmitter struct {
	events []audit.SecurityEvent
}

func (r *recordingEmitter) Emit(_ context.Context, ev audit.SecurityEvent) {
	r.events = append(r.events, ev)
}

func TestSecurityAuditor(t *testing.T) {
	call := CallContext{
		Route:     "admin",
		Action:    "user.create",
		RequestID: "req-1",
		ClientIP:  "10.0.0.1",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	}

	t.Run("anonymous rejections are not audited", func(t *testing.T) {
		em := &recordingEmitter{}
		a := NewSecurityAuditor(em, logger.Discard())
		a.OnRejected(context.Background(), nil, newRejection(ReasonNoCredential, nil), call)
		assert.Empty(t, em.events)
	})

	t.Run("rejections of a resolved identity are audited", func(t *testing.T) {
		em := &recordingEmitter{}
		a := NewSecurityAuditor(em, logger.Discard())
		ident := &domain.Identity{UserID: domain.NewUserID(), Roles: domain.NewRoleSet(domain.RoleUser)}

		a.OnRejected(context.Background(), ident, newRejection(ReasonInvalidCredential, errors.New("missing required role")), call)

		require.Len(t, em.events, 1)
		ev := em.events[0]
		assert.Equal(t, ident.UserID, ev.UserID)
		assert.Equal(t, audit.ActionAuthRejected, ev.Action)
		assert.Equal(t, "invalid_credential", ev.Reason)
		assert.Equal(t, "admin/user.create", ev.Subject)
		assert.Equal(t, "10.0.0.1", ev.IP)
		assert.Equal(t, "req-1", ev.RequestID)
		assert.Equal(t, audit.SeverityWarning, ev.Severity)
		assert.Contains(t, ev.Device, "Chrome")
	})
}

func TestRejectionUnwrapsToPublicError(t *testing.T) {
	cause := errors.New("signature mismatch")
	rej := newRejection(ReasonInvalidCredential, cause)

	assert.Contains(t, rej.Error(), "invalid_credential")
	assert.Equal(t, cause, rej.Cause())

	var err error = rej
	got, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidCredential, got.Reason)
	assert.NotErrorIs(t, err, cause, "the cause must not leak through the public chain")
}

func TestParseCredential(t *testing.T) {
	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc":   {"abc", true},
		"Token abc":    {"abc", true},
		"  Bearer abc": {"abc", true},
		"Basic abc":    {"", false},
		"Bearer":       {"", false},
		"abc":          {"", false},
		"Bearer a b":   {"", false},
	}
	for header, tc := range cases {
		t.Run(header, func(t *testing.T) {
			got, ok := parseCredential(header)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, got)
		})
	}
}
