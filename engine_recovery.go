package credo

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/hexavel/credo/internal"
	"github.com/hexavel/credo/internal/flows"
	"github.com/hexavel/credo/internal/limiters"
	"github.com/hexavel/credo/internal/metrics"
)

const (
	enumerationDelayBase   = 20 * time.Millisecond
	enumerationDelayJitter = 20 * time.Millisecond
)

// RequestRecovery starts the forgot-password flow for email. It returns the
// same generic message whether or not the email is registered. When the email
// matches a credential, a fresh 6-digit code replaces any pending one and is
// handed to the NotificationSink; delivery problems never fail the request.
func (e *Engine) RequestRecovery(ctx context.Context, email string) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	return flows.RunRequestRecovery(ctx, email, e.recoveryFlowDeps())
}

// ConfirmRecovery consumes a pending recovery code and installs newPassword.
// The code must be exactly 6 decimal digits and newPassword must meet the
// configured minimum length; both are checked before any store access.
// Consumption is atomic: under concurrent confirms with the same code exactly
// one call succeeds and the rest observe [ErrTokenInvalidOrExpired].
func (e *Engine) ConfirmRecovery(ctx context.Context, code, newPassword string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return flows.RunConfirmRecovery(ctx, code, newPassword, e.recoveryFlowDeps())
}

func (e *Engine) recoveryFlowDeps() flows.RecoveryDeps {
	deps := flows.RecoveryDeps{
		CodeLength:        RecoveryCodeLength,
		TokenTTL:          e.config.Recovery.TokenTTL,
		MinPasswordLength: e.config.Recovery.MinPasswordLength,
		DeliveryTimeout:   e.config.Recovery.DeliveryTimeout,
		Message:           RecoveryRequestMessage,

		TenantIDFromContext: tenantIDFromContext,
		ClientIPFromContext: clientIPFromContext,
		Now:                 e.now,

		CheckRequestLimiter: e.recoveryLimiter.CheckRequest,
		CheckConfirmLimiter: e.recoveryLimiter.CheckConfirm,
		MapLimiterError:     mapRecoveryLimiterError,

		GetUserByEmail: func(ctx context.Context, email string) (flows.RecoveryCredential, error) {
			cred, err := e.store.FindByEmail(ctx, email)
			if err != nil {
				return flows.RecoveryCredential{}, err
			}
			return flows.RecoveryCredential{UserID: cred.UserID, Email: cred.Email}, nil
		},
		FindByPendingToken: func(ctx context.Context, code string) (flows.RecoveryCredential, flows.PendingToken, error) {
			cred, token, err := e.store.FindByPendingToken(ctx, code)
			if err != nil {
				return flows.RecoveryCredential{}, flows.PendingToken{}, err
			}
			return flows.RecoveryCredential{UserID: cred.UserID, Email: cred.Email},
				flows.PendingToken{Code: token.Code, ExpiresAt: token.ExpiresAt}, nil
		},
		SetPendingToken: func(ctx context.Context, userID, email, code string, issuedAt, expiresAt time.Time) error {
			return e.store.SetPendingToken(ctx, userID, RecoveryToken{
				Code:      code,
				Email:     email,
				IssuedAt:  issuedAt,
				ExpiresAt: expiresAt,
			})
		},
		ConsumeToken:    e.store.ClearPendingTokenAndSetPassword,
		IsStoreNotFound: isRecoveryNotFound,

		GenerateCode: func() (string, error) {
			return internal.NewRecoveryCode(RecoveryCodeLength)
		},
		IsNumeric:        internal.IsNumericString,
		HashPassword:     e.hasher.Hash,
		HoldLatencyFloor: holdEnumerationFloor,

		MetricInc:     e.metricInc,
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,

		Metrics: flows.RecoveryMetrics{
			Request:         int(metrics.MetricRecoveryRequest),
			RateLimited:     int(metrics.MetricRecoveryRateLimited),
			DeliveryFailure: int(metrics.MetricRecoveryDeliveryFailure),
			ConfirmSuccess:  int(metrics.MetricRecoveryConfirmSuccess),
			ConfirmFailure:  int(metrics.MetricRecoveryConfirmFailure),
			Replay:          int(metrics.MetricRecoveryReplay),
		},
		Events: flows.RecoveryEvents{
			Request:        EventRecoveryRequest,
			DeliveryFailed: EventRecoveryDeliveryFailed,
			Confirm:        EventRecoveryConfirm,
			Replay:         EventRecoveryReplay,
		},
		Errors: flows.RecoveryErrors{
			EngineNotReady:        ErrEngineNotReady,
			RecoveryInvalid:       ErrRecoveryInvalid,
			RecoveryRateLimited:   ErrRecoveryRateLimited,
			RecoveryUnavailable:   ErrRecoveryUnavailable,
			InvalidTokenFormat:    ErrInvalidTokenFormat,
			WeakPassword:          ErrWeakPassword,
			TokenInvalidOrExpired: ErrTokenInvalidOrExpired,
			StoreUnavailable:      ErrStoreUnavailable,
			EntropyUnavailable:    ErrEntropyUnavailable,
		},
	}

	if e.notifier != nil {
		deps.Deliver = e.notifier.Deliver
	}

	return deps
}

func mapRecoveryLimiterError(err error) error {
	if errors.Is(err, limiters.ErrRecoveryRateLimited) {
		return ErrRecoveryRateLimited
	}
	return ErrRecoveryUnavailable
}

// isRecoveryNotFound accepts either sentinel from the store: lookups report
// ErrCredentialNotFound, and the consume CAS may report either that or
// ErrTokenInvalidOrExpired when the pending code no longer matches.
func isRecoveryNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound) || errors.Is(err, ErrTokenInvalidOrExpired)
}

// holdEnumerationFloor blocks until a random 20-40ms has elapsed since
// started. Every recovery request passes through it regardless of whether the
// email matched, so the fast store-hit path and the miss path answer on the
// same latency profile. The jitter comes from crypto/rand, not the code
// generator state.
func holdEnumerationFloor(ctx context.Context, started time.Time) error {
	jitter, err := rand.Int(rand.Reader, big.NewInt(int64(enumerationDelayJitter)))
	if err != nil {
		return err
	}

	remaining := enumerationDelayBase + time.Duration(jitter.Int64()) - time.Since(started)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
