package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RecoveryCredential is the minimal credential view the recovery flows need.
type RecoveryCredential struct {
	UserID string
	Email  string
}

// PendingToken mirrors the single pending-reset slot held by the store.
type PendingToken struct {
	Code      string
	ExpiresAt time.Time
}

type RecoveryMetrics struct {
	Request         int
	RateLimited     int
	DeliveryFailure int
	ConfirmSuccess  int
	ConfirmFailure  int
	Replay          int
}

type RecoveryEvents struct {
	Request        string
	DeliveryFailed string
	Confirm        string
	Replay         string
}

type RecoveryErrors struct {
	EngineNotReady        error
	RecoveryInvalid       error
	RecoveryRateLimited   error
	RecoveryUnavailable   error
	InvalidTokenFormat    error
	WeakPassword          error
	TokenInvalidOrExpired error
	StoreUnavailable      error
	EntropyUnavailable    error
}

type RecoveryDeps struct {
	CodeLength        int
	TokenTTL          time.Duration
	MinPasswordLength int
	DeliveryTimeout   time.Duration
	// Message is the single generic confirmation returned by the request
	// flow for every non-infrastructure outcome.
	Message string

	TenantIDFromContext func(context.Context) string
	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	CheckRequestLimiter func(context.Context, string, string, string) error
	CheckConfirmLimiter func(context.Context, string, string) error
	MapLimiterError     func(error) error

	GetUserByEmail     func(context.Context, string) (RecoveryCredential, error)
	FindByPendingToken func(context.Context, string) (RecoveryCredential, PendingToken, error)
	SetPendingToken    func(ctx context.Context, userID, email, code string, issuedAt, expiresAt time.Time) error
	ConsumeToken       func(context.Context, string, string, string) error
	IsStoreNotFound    func(error) bool

	GenerateCode func() (string, error)
	IsNumeric    func(string) bool
	HashPassword func(string) (string, error)
	Deliver      func(context.Context, string, string) error

	// HoldLatencyFloor blocks until a randomized minimum duration has elapsed
	// since started. Both the known- and unknown-email branches pass through
	// it, so the two share one latency profile.
	HoldLatencyFloor func(ctx context.Context, started time.Time) error

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, string, func() map[string]string)

	Metrics RecoveryMetrics
	Events  RecoveryEvents
	Errors  RecoveryErrors
}

// RunRequestRecovery drives the forgot-password state transition
// NoPendingToken/TokenPending -> TokenPending. The returned message and the
// latency floor are identical whether or not the email is registered; only
// infrastructure failures surface as errors.
func RunRequestRecovery(ctx context.Context, email string, deps RecoveryDeps) (string, error) {
	normalizeRecoveryDeps(&deps)

	if deps.GetUserByEmail == nil || deps.SetPendingToken == nil || deps.GenerateCode == nil {
		return "", deps.Errors.EngineNotReady
	}

	tenantID := deps.TenantIDFromContext(ctx)
	ip := deps.ClientIPFromContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", tenantID, deps.Errors.RecoveryInvalid, func() map[string]string {
			return map[string]string{"reason": "empty_email"}
		})
		return "", deps.Errors.RecoveryInvalid
	}

	if err := deps.CheckRequestLimiter(ctx, tenantID, email, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.EmitAudit(ctx, deps.Events.Request, false, "", tenantID, mapped, func() map[string]string {
			return map[string]string{"email": email}
		})
		if errors.Is(mapped, deps.Errors.RecoveryRateLimited) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitRateLimit(ctx, "recovery_request", tenantID, func() map[string]string {
				return map[string]string{"email": email}
			})
		}
		return "", mapped
	}

	started := time.Now()

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if !deps.IsStoreNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Request, false, "", tenantID, deps.Errors.StoreUnavailable, func() map[string]string {
				return map[string]string{"email": email}
			})
			return "", deps.Errors.StoreUnavailable
		}

		// Unknown email: keep the response and the work profile aligned with
		// the known-email path. Generate and discard a code, then hold until
		// the shared latency floor before answering with the generic message.
		if _, genErr := deps.GenerateCode(); genErr != nil {
			return "", deps.Errors.EntropyUnavailable
		}
		deps.MetricInc(deps.Metrics.Request)
		deps.EmitAudit(ctx, deps.Events.Request, true, "", tenantID, nil, func() map[string]string {
			return map[string]string{
				"email":            email,
				"enumeration_safe": "true",
			}
		})
		if holdErr := deps.HoldLatencyFloor(ctx, started); holdErr != nil {
			return "", holdErr
		}
		return deps.Message, nil
	}

	code, err := deps.GenerateCode()
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, tenantID, deps.Errors.EntropyUnavailable, nil)
		return "", deps.Errors.EntropyUnavailable
	}

	now := deps.Now()
	if err := deps.SetPendingToken(ctx, user.UserID, email, code, now, now.Add(deps.TokenTTL)); err != nil {
		deps.EmitAudit(ctx, deps.Events.Request, false, user.UserID, tenantID, deps.Errors.StoreUnavailable, func() map[string]string {
			return map[string]string{"email": email}
		})
		return "", deps.Errors.StoreUnavailable
	}

	deliverRecoveryCode(ctx, user, email, code, tenantID, deps)

	deps.MetricInc(deps.Metrics.Request)
	deps.EmitAudit(ctx, deps.Events.Request, true, user.UserID, tenantID, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	if holdErr := deps.HoldLatencyFloor(ctx, started); holdErr != nil {
		return "", holdErr
	}
	return deps.Message, nil
}

// deliverRecoveryCode hands the code to the notification sink, bounded by
// DeliveryTimeout. Failure or timeout is recorded but the pending token stays
// valid and the request still succeeds.
func deliverRecoveryCode(ctx context.Context, user RecoveryCredential, email, code, tenantID string, deps RecoveryDeps) {
	if deps.Deliver == nil {
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deps.DeliveryTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- deps.Deliver(deliverCtx, email, code)
	}()

	var deliverErr error
	select {
	case deliverErr = <-done:
	case <-deliverCtx.Done():
		deliverErr = deliverCtx.Err()
	}
	if deliverErr == nil {
		return
	}

	deps.MetricInc(deps.Metrics.DeliveryFailure)
	deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, user.UserID, tenantID, deliverErr, func() map[string]string {
		return map[string]string{"email": email}
	})
}

// RunConfirmRecovery drives the reset-password state transition
// TokenPending -> Consumed. Shape and strength validation happen before any
// store access; consumption is a per-user CAS with exactly one winner.
func RunConfirmRecovery(ctx context.Context, code, newPassword string, deps RecoveryDeps) error {
	normalizeRecoveryDeps(&deps)

	if deps.FindByPendingToken == nil || deps.ConsumeToken == nil || deps.HashPassword == nil {
		return deps.Errors.EngineNotReady
	}

	tenantID := deps.TenantIDFromContext(ctx)
	ip := deps.ClientIPFromContext(ctx)

	if len(code) != deps.CodeLength || !deps.IsNumeric(code) {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, "", tenantID, deps.Errors.InvalidTokenFormat, func() map[string]string {
			return map[string]string{"reason": "bad_format"}
		})
		return deps.Errors.InvalidTokenFormat
	}

	if len(newPassword) < deps.MinPasswordLength {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, "", tenantID, deps.Errors.WeakPassword, func() map[string]string {
			return map[string]string{"reason": "weak_password"}
		})
		return deps.Errors.WeakPassword
	}

	if err := deps.CheckConfirmLimiter(ctx, tenantID, ip); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, "", tenantID, mapped, nil)
		if errors.Is(mapped, deps.Errors.RecoveryRateLimited) {
			deps.EmitRateLimit(ctx, "recovery_confirm", tenantID, nil)
		}
		return mapped
	}

	user, token, err := deps.FindByPendingToken(ctx, code)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if deps.IsStoreNotFound(err) {
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.Confirm, false, "", tenantID, deps.Errors.TokenInvalidOrExpired, func() map[string]string {
				return map[string]string{"reason": "no_match"}
			})
			return deps.Errors.TokenInvalidOrExpired
		}
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, "", tenantID, deps.Errors.StoreUnavailable, nil)
		return deps.Errors.StoreUnavailable
	}

	// Expiry is checked lazily at use time; stores never sweep.
	if !deps.Now().Before(token.ExpiresAt) {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, tenantID, deps.Errors.TokenInvalidOrExpired, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return deps.Errors.TokenInvalidOrExpired
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, tenantID, deps.Errors.EntropyUnavailable, func() map[string]string {
			return map[string]string{"reason": "hash_failed"}
		})
		return deps.Errors.EntropyUnavailable
	}

	if err := deps.ConsumeToken(ctx, user.UserID, code, newHash); err != nil {
		if deps.IsStoreNotFound(err) {
			// Lost the CAS: the token was consumed or superseded between the
			// lookup and the update.
			deps.MetricInc(deps.Metrics.Replay)
			deps.MetricInc(deps.Metrics.ConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.Replay, false, user.UserID, tenantID, deps.Errors.TokenInvalidOrExpired, nil)
			return deps.Errors.TokenInvalidOrExpired
		}
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, false, user.UserID, tenantID, deps.Errors.StoreUnavailable, nil)
		return deps.Errors.StoreUnavailable
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm, true, user.UserID, tenantID, nil, nil)
	return nil
}

func normalizeRecoveryDeps(deps *RecoveryDeps) {
	if deps.CodeLength <= 0 {
		deps.CodeLength = 6
	}
	if deps.MinPasswordLength <= 0 {
		deps.MinPasswordLength = 8
	}
	if deps.DeliveryTimeout <= 0 {
		deps.DeliveryTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TenantIDFromContext == nil {
		deps.TenantIDFromContext = func(context.Context) string { return "" }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckRequestLimiter == nil {
		deps.CheckRequestLimiter = func(context.Context, string, string, string) error { return nil }
	}
	if deps.CheckConfirmLimiter == nil {
		deps.CheckConfirmLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.RecoveryUnavailable }
	}
	if deps.IsStoreNotFound == nil {
		deps.IsStoreNotFound = func(error) bool { return false }
	}
	if deps.IsNumeric == nil {
		deps.IsNumeric = func(v string) bool {
			for i := 0; i < len(v); i++ {
				if v[i] < '0' || v[i] > '9' {
					return false
				}
			}
			return true
		}
	}
	if deps.HoldLatencyFloor == nil {
		deps.HoldLatencyFloor = func(context.Context, time.Time) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, string, func() map[string]string) {}
	}
}
