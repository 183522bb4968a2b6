package credo

import (
	"time"

	"github.com/hexavel/credo/internal/audit"
	"github.com/hexavel/credo/internal/limiters"
	"github.com/hexavel/credo/internal/metrics"
	"github.com/hexavel/credo/jwt"
	"github.com/hexavel/credo/password"
)

// Engine is the credential and recovery-token lifecycle manager. It is
// constructed through [Builder.Build], immutable afterwards, and safe for
// concurrent use.
//
// The Engine owns policy only. Persistence belongs to the caller-provided
// [CredentialStore], delivery to the [NotificationSink]; neither is ever
// bypassed.
type Engine struct {
	config Config

	store    CredentialStore
	notifier NotificationSink

	hasher     *password.Hasher
	jwtManager *jwt.Manager

	loginLimiter    *limiters.LoginLimiter
	recoveryLimiter *limiters.RecoveryLimiter

	dispatcher *audit.Dispatcher
	metrics    *metrics.Metrics

	// decoyHash is a real argon2id hash of a random throwaway password,
	// verified against when a username lookup misses so the miss path costs
	// the same as a password mismatch.
	decoyHash string

	now func() time.Time
}

// VerifyAccessToken parses and validates an access token, returning the
// subject and role it asserts. Validity is determined purely by signature and
// expiry; no store lookup happens here.
func (e *Engine) VerifyAccessToken(token string) (string, Role, error) {
	if e == nil || e.jwtManager == nil {
		return "", "", ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return "", "", err
	}

	return claims.Subject, Role(claims.Role), nil
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// Close drains the audit dispatcher. The Engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

func (e *Engine) metricInc(id int) {
	if e == nil || id < 0 {
		return
	}
	e.metrics.Inc(metrics.MetricID(id))
}
