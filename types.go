package credo

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/hexavel/credo/internal/audit"
	internalmetrics "github.com/hexavel/credo/internal/metrics"
)

// Role is the coarse authorization role embedded in access-token claims.
// The engine treats it as opaque; callers define the vocabulary.
type Role string

// Credential is the account record returned by [CredentialStore] lookups.
// It is owned exclusively by the store; the engine mutates it only through
// [CredentialStore.ClearPendingTokenAndSetPassword].
type Credential struct {
	UserID       string
	Username     string
	Email        string
	Role         Role
	PasswordHash string
}

// RecoveryToken is the single pending-reset slot of one user: a 6-digit
// numeric code (kept as a string to preserve leading zeros) with its issuance
// and expiry timestamps. At most one RecoveryToken is live per user; issuing
// a new one supersedes any prior unconsumed token.
type RecoveryToken struct {
	Code      string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Live reports whether the token is still within its expiry window at now.
// Expiry is checked lazily at use time; stores are not required to evict.
func (t RecoveryToken) Live(now time.Time) bool {
	return t.Code != "" && now.Before(t.ExpiresAt)
}

// CredentialStore is the interface callers must implement to integrate credo
// with their user database. It covers credential lookup, the per-user
// pending-token slot, and the atomic consume-and-update step.
//
// Implementations return [ErrCredentialNotFound] when no record matches; any
// other error is treated as [ErrStoreUnavailable] by the engine.
//
// ClearPendingTokenAndSetPassword must be transactionally atomic per user
// record: it replaces the password hash and clears the pending token only if
// the slot still holds code, and returns [ErrCredentialNotFound] otherwise.
// Two racing calls with the same code must produce exactly one winner.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (Credential, error)
	FindByEmail(ctx context.Context, email string) (Credential, error)
	FindByPendingToken(ctx context.Context, code string) (Credential, RecoveryToken, error)
	SetPendingToken(ctx context.Context, userID string, token RecoveryToken) error
	ClearPendingTokenAndSetPassword(ctx context.Context, userID, code, newHash string) error
}

// NotificationSink delivers a recovery code to the user out of band. The
// engine never builds message content; it hands over the recipient email and
// the raw code. Delivery errors are logged and counted but never fail the
// recovery request.
type NotificationSink interface {
	Deliver(ctx context.Context, email, code string) error
}

// LoginResult is returned by [Engine.Login] on successful authentication.
type LoginResult struct {
	UserID      string
	Role        Role
	AccessToken string
	ExpiresAt   time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant used by the credential engine.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure is an exported constant used by the credential engine.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricLoginRateLimited is an exported constant used by the credential engine.
	MetricLoginRateLimited = internalmetrics.MetricLoginRateLimited
	// MetricTokenIssued is an exported constant used by the credential engine.
	MetricTokenIssued = internalmetrics.MetricTokenIssued
	// MetricRecoveryRequest is an exported constant used by the credential engine.
	MetricRecoveryRequest = internalmetrics.MetricRecoveryRequest
	// MetricRecoveryRateLimited is an exported constant used by the credential engine.
	MetricRecoveryRateLimited = internalmetrics.MetricRecoveryRateLimited
	// MetricRecoveryDeliveryFailure is an exported constant used by the credential engine.
	MetricRecoveryDeliveryFailure = internalmetrics.MetricRecoveryDeliveryFailure
	// MetricRecoveryConfirmSuccess is an exported constant used by the credential engine.
	MetricRecoveryConfirmSuccess = internalmetrics.MetricRecoveryConfirmSuccess
	// MetricRecoveryConfirmFailure is an exported constant used by the credential engine.
	MetricRecoveryConfirmFailure = internalmetrics.MetricRecoveryConfirmFailure
	// MetricRecoveryReplay is an exported constant used by the credential engine.
	MetricRecoveryReplay = internalmetrics.MetricRecoveryReplay
	// MetricRateLimitHit is an exported constant used by the credential engine.
	MetricRateLimitHit = internalmetrics.MetricRateLimitHit
)

// Metrics holds atomic counters for engine operations.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{Enabled: cfg.Enabled})
}
