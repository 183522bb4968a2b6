package credo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hexavel/credo/internal/audit"
	"github.com/hexavel/credo/internal/metrics"
)

// Audit event types emitted by the engine. Sink implementations can match on
// these to route or filter records.
const (
	EventLoginSuccess           = "login_success"
	EventLoginFailure           = "login_failure"
	EventLoginRateLimited       = "login_rate_limited"
	EventRecoveryRequest        = "recovery_request"
	EventRecoveryDeliveryFailed = "recovery_delivery_failed"
	EventRecoveryConfirm        = "recovery_confirm"
	EventRecoveryReplay         = "recovery_replay"
	EventRateLimitTriggered     = "rate_limit_triggered"
)

// emitAudit builds and dispatches one audit record. metaFn is evaluated only
// when a dispatcher is wired, keeping the disabled path allocation-free.
// Recovery codes, passwords, and signing keys never appear in metadata.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, tenantID string, cause error, metaFn func() map[string]string) {
	if e == nil || e.dispatcher == nil {
		return
	}

	event := audit.Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		TenantID:  tenantID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if metaFn != nil {
		event.Metadata = metaFn()
	}

	e.dispatcher.Emit(ctx, event)
}

// emitRateLimit records a throttle hit: one shared counter plus an audit
// record naming the limiter that fired.
func (e *Engine) emitRateLimit(ctx context.Context, limiterName, tenantID string, metaFn func() map[string]string) {
	if e == nil {
		return
	}

	e.metrics.Inc(metrics.MetricRateLimitHit)
	e.emitAudit(ctx, EventRateLimitTriggered, false, "", tenantID, nil, func() map[string]string {
		meta := map[string]string{"limiter": limiterName}
		if metaFn != nil {
			for k, v := range metaFn() {
				meta[k] = v
			}
		}
		return meta
	})
}
