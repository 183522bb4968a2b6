package flows

import (
	"context"
	"errors"
	"time"
)

// LoginUser is the minimal credential view the login flow needs.
type LoginUser struct {
	UserID       string
	Username     string
	Email        string
	Role         string
	PasswordHash string
}

// LoginResultData carries the outcome of a successful login.
type LoginResultData struct {
	UserID      string
	Role        string
	AccessToken string
	ExpiresAt   time.Time
}

type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	TokenIssued      int
}

type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
	LoginUnavailable   error
	StoreUnavailable   error
	SigningFailure     error
}

type LoginDeps struct {
	TenantIDFromContext func(context.Context) string
	ClientIPFromContext func(context.Context) string

	CheckLimiter     func(context.Context, string, string) error
	IncrementFailure func(context.Context, string, string) error
	ResetLimiter     func(context.Context, string, string) error
	MapLimiterError  func(error) error

	GetUserByUsername func(context.Context, string) (LoginUser, error)
	IsStoreNotFound   func(error) bool

	// VerifyPassword must run in constant time with respect to the stored
	// hash. DecoyHash is verified against when the user does not exist so
	// the miss path costs the same as a mismatch.
	VerifyPassword func(string, string) (bool, error)
	DecoyHash      string

	SignAccess func(LoginUser) (string, time.Time, error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, string, func() map[string]string)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunAuthenticate checks a username/password pair against the store. Unknown
// user and wrong password produce the same failure value and comparable
// timing; only infrastructure failures surface distinct errors.
func RunAuthenticate(ctx context.Context, username, password string, deps LoginDeps) (LoginUser, bool, error) {
	normalizeLoginDeps(&deps)

	if deps.GetUserByUsername == nil || deps.VerifyPassword == nil {
		return LoginUser{}, false, deps.Errors.EngineNotReady
	}

	tenantID := deps.TenantIDFromContext(ctx)

	if err := deps.CheckLimiter(ctx, tenantID, username); err != nil {
		mapped := deps.MapLimiterError(err)
		deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", tenantID, mapped, func() map[string]string {
			return map[string]string{"identifier": username}
		})
		if errors.Is(mapped, deps.Errors.LoginRateLimited) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitRateLimit(ctx, "login", tenantID, func() map[string]string {
				return map[string]string{"identifier": username}
			})
		}
		return LoginUser{}, false, mapped
	}

	if username == "" || password == "" {
		return LoginUser{}, false, loginFailure(ctx, tenantID, username, "", "empty_input", deps)
	}

	user, err := deps.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LoginUser{}, false, err
		}
		if !deps.IsStoreNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", tenantID, deps.Errors.StoreUnavailable, func() map[string]string {
				return map[string]string{"identifier": username}
			})
			return LoginUser{}, false, deps.Errors.StoreUnavailable
		}
		// Burn a verify against the decoy hash so a missing user costs the
		// same as a password mismatch.
		_, _ = deps.VerifyPassword(password, deps.DecoyHash)
		return LoginUser{}, false, loginFailure(ctx, tenantID, username, "", "user_not_found", deps)
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return LoginUser{}, false, loginFailure(ctx, tenantID, username, user.UserID, "password_mismatch", deps)
	}

	_ = deps.ResetLimiter(ctx, tenantID, username)
	return user, true, nil
}

// RunLogin authenticates and mints an access token for the credential.
func RunLogin(ctx context.Context, username, password string, deps LoginDeps) (LoginResultData, error) {
	normalizeLoginDeps(&deps)

	user, ok, err := RunAuthenticate(ctx, username, password, deps)
	if err != nil {
		return LoginResultData{}, err
	}
	if !ok {
		return LoginResultData{}, deps.Errors.InvalidCredentials
	}

	if deps.SignAccess == nil {
		return LoginResultData{}, deps.Errors.EngineNotReady
	}

	tenantID := deps.TenantIDFromContext(ctx)

	token, expiresAt, err := deps.SignAccess(user)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, user.UserID, tenantID, deps.Errors.SigningFailure, func() map[string]string {
			return map[string]string{"reason": "signing_failed"}
		})
		return LoginResultData{}, deps.Errors.SigningFailure
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.TokenIssued)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, tenantID, nil, nil)

	return LoginResultData{
		UserID:      user.UserID,
		Role:        user.Role,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func loginFailure(ctx context.Context, tenantID, username, userID, reason string, deps LoginDeps) error {
	_ = deps.IncrementFailure(ctx, tenantID, username)
	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, tenantID, deps.Errors.InvalidCredentials, func() map[string]string {
		return map[string]string{
			"identifier": username,
			"reason":     reason,
		}
	})
	return deps.Errors.InvalidCredentials
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.TenantIDFromContext == nil {
		deps.TenantIDFromContext = func(context.Context) string { return "" }
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.IncrementFailure == nil {
		deps.IncrementFailure = func(context.Context, string, string) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.LoginUnavailable }
	}
	if deps.IsStoreNotFound == nil {
		deps.IsStoreNotFound = func(error) bool { return false }
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
