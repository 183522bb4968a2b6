package credo

import (
	"context"
	"errors"
	"time"

	"github.com/hexavel/credo/internal/flows"
	"github.com/hexavel/credo/internal/limiters"
	"github.com/hexavel/credo/internal/metrics"
)

// Authenticate checks a username/password pair without issuing a token. An
// unknown username and a wrong password both return ok=false with a nil
// error; the two cases are indistinguishable by value and by timing. Errors
// are reserved for infrastructure failures and throttling.
func (e *Engine) Authenticate(ctx context.Context, username, password string) (Credential, bool, error) {
	if e == nil || e.store == nil {
		return Credential{}, false, ErrEngineNotReady
	}

	user, ok, err := flows.RunAuthenticate(ctx, username, password, e.loginFlowDeps())
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	if !ok {
		return Credential{}, false, nil
	}

	return credentialFromLoginUser(user), true, nil
}

// IssueAccessToken mints a signed access token asserting the credential's
// UserID as subject and its Role as the role claim. Expiry is issuance time
// plus Config.JWT.AccessTTL.
func (e *Engine) IssueAccessToken(cred Credential) (string, time.Time, error) {
	if e == nil || e.jwtManager == nil {
		return "", time.Time{}, ErrEngineNotReady
	}

	token, expiresAt, err := e.jwtManager.CreateAccess(cred.UserID, string(cred.Role))
	if err != nil {
		return "", time.Time{}, ErrSigningFailure
	}
	return token, expiresAt, nil
}

// Login authenticates and mints an access token in one step. Failed
// authentication returns [ErrInvalidCredentials] regardless of cause.
func (e *Engine) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if e == nil || e.store == nil {
		return LoginResult{}, ErrEngineNotReady
	}

	result, err := flows.RunLogin(ctx, username, password, e.loginFlowDeps())
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		UserID:      result.UserID,
		Role:        Role(result.Role),
		AccessToken: result.AccessToken,
		ExpiresAt:   result.ExpiresAt,
	}, nil
}

func (e *Engine) loginFlowDeps() flows.LoginDeps {
	return flows.LoginDeps{
		TenantIDFromContext: tenantIDFromContext,
		ClientIPFromContext: clientIPFromContext,

		CheckLimiter:     e.loginLimiter.Check,
		IncrementFailure: e.loginLimiter.IncrementFailure,
		ResetLimiter:     e.loginLimiter.Reset,
		MapLimiterError:  mapLoginLimiterError,

		GetUserByUsername: func(ctx context.Context, username string) (flows.LoginUser, error) {
			cred, err := e.store.FindByUsername(ctx, username)
			if err != nil {
				return flows.LoginUser{}, err
			}
			return loginUserFromCredential(cred), nil
		},
		IsStoreNotFound: isCredentialNotFound,

		VerifyPassword: e.hasher.Verify,
		DecoyHash:      e.decoyHash,

		SignAccess: func(user flows.LoginUser) (string, time.Time, error) {
			return e.jwtManager.CreateAccess(user.UserID, user.Role)
		},

		MetricInc:     e.metricInc,
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,

		Metrics: flows.LoginMetrics{
			LoginSuccess:     int(metrics.MetricLoginSuccess),
			LoginFailure:     int(metrics.MetricLoginFailure),
			LoginRateLimited: int(metrics.MetricLoginRateLimited),
			TokenIssued:      int(metrics.MetricTokenIssued),
		},
		Events: flows.LoginEvents{
			LoginSuccess:     EventLoginSuccess,
			LoginFailure:     EventLoginFailure,
			LoginRateLimited: EventLoginRateLimited,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			LoginRateLimited:   ErrLoginRateLimited,
			LoginUnavailable:   ErrLoginUnavailable,
			StoreUnavailable:   ErrStoreUnavailable,
			SigningFailure:     ErrSigningFailure,
		},
	}
}

func mapLoginLimiterError(err error) error {
	if errors.Is(err, limiters.ErrLoginRateLimited) {
		return ErrLoginRateLimited
	}
	return ErrLoginUnavailable
}

func isCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

func loginUserFromCredential(cred Credential) flows.LoginUser {
	return flows.LoginUser{
		UserID:       cred.UserID,
		Username:     cred.Username,
		Email:        cred.Email,
		Role:         string(cred.Role),
		PasswordHash: cred.PasswordHash,
	}
}

func credentialFromLoginUser(user flows.LoginUser) Credential {
	return Credential{
		UserID:       user.UserID,
		Username:     user.Username,
		Email:        user.Email,
		Role:         Role(user.Role),
		PasswordHash: user.PasswordHash,
	}
}
