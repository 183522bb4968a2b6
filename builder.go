package credo

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/hexavel/credo/internal/audit"
	"github.com/hexavel/credo/internal/limiters"
	internalmetrics "github.com/hexavel/credo/internal/metrics"
	"github.com/hexavel/credo/jwt"
	"github.com/hexavel/credo/password"
)

// Builder assembles an [Engine]. Zero-valued config fields fall back to
// defaults during Build; the signing key and the credential store have no
// default and must be provided.
type Builder struct {
	config    Config
	configSet bool
	redis     redis.UniversalClient
	store     CredentialStore
	notifier  NotificationSink
	auditSink AuditSink
	now       func() time.Time
}

func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the entire configuration. The config is cloned; later
// mutation of cfg by the caller does not affect the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	b.configSet = true
	return b
}

// WithRedis provides the Redis client backing the login and recovery
// throttles. Required only when a throttle is enabled in config.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore provides the caller's credential persistence. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithNotificationSink provides the recovery-code delivery channel. Defaults
// to [NoOpNotifier], which silently drops codes; production deployments
// should always wire a real sink.
func (b *Builder) WithNotificationSink(sink NotificationSink) *Builder {
	b.notifier = sink
	return b
}

// WithAuditSink provides the destination for audit events. Defaults to
// [NoOpSink] when auditing is enabled without a sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Intended for tests that
// exercise token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, wires all internal components, and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.configSet {
		cfg = defaultConfig()
	}
	applyConfigDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("credential store is required")
	}

	throttled := cfg.Security.EnableLoginThrottle ||
		cfg.Recovery.EnableEmailThrottle ||
		cfg.Recovery.EnableIPThrottle
	if throttled && b.redis == nil {
		return nil, errors.New("redis client is required when throttling is enabled")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
	if err != nil {
		return nil, err
	}

	decoyHash, err := newDecoyHash(hasher)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		store:      b.store,
		notifier:   b.notifier,
		hasher:     hasher,
		jwtManager: jwtManager,
		metrics:    internalmetrics.New(internalmetrics.Config{Enabled: cfg.Metrics.Enabled}),
		decoyHash:  decoyHash,
		now:        b.now,
	}
	if engine.notifier == nil {
		engine.notifier = NoOpNotifier{}
	}
	if engine.now == nil {
		engine.now = time.Now
	}

	if b.redis != nil {
		engine.loginLimiter = limiters.NewLoginLimiter(b.redis, limiters.LoginConfig{
			Enabled:     cfg.Security.EnableLoginThrottle,
			MaxAttempts: cfg.Security.MaxLoginAttempts,
			Cooldown:    cfg.Security.LoginCooldownDuration,
		})
		engine.recoveryLimiter = limiters.NewRecoveryLimiter(b.redis, limiters.RecoveryConfig{
			EnableEmailThrottle: cfg.Recovery.EnableEmailThrottle,
			EnableIPThrottle:    cfg.Recovery.EnableIPThrottle,
			Window:              cfg.Recovery.ThrottleWindow,
			MaxAttempts:         cfg.Recovery.MaxAttempts,
		})
	}

	engine.dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	return engine, nil
}

// applyConfigDefaults fills zero-valued fields so a caller can set only the
// sections they care about.
func applyConfigDefaults(cfg *Config) {
	defaults := defaultConfig()

	if cfg.JWT.AccessTTL == 0 {
		cfg.JWT.AccessTTL = defaults.JWT.AccessTTL
	}
	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = defaults.JWT.SigningMethod
	}
	if cfg.Password == (PasswordConfig{}) {
		cfg.Password = defaults.Password
	}
	if cfg.Recovery.TokenTTL == 0 {
		cfg.Recovery.TokenTTL = defaults.Recovery.TokenTTL
	}
	if cfg.Recovery.MinPasswordLength == 0 {
		cfg.Recovery.MinPasswordLength = defaults.Recovery.MinPasswordLength
	}
	if cfg.Recovery.DeliveryTimeout == 0 {
		cfg.Recovery.DeliveryTimeout = defaults.Recovery.DeliveryTimeout
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = defaults.Recovery.MaxAttempts
	}
	if cfg.Recovery.ThrottleWindow == 0 {
		cfg.Recovery.ThrottleWindow = defaults.Recovery.ThrottleWindow
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = defaults.Audit.BufferSize
	}
}

// newDecoyHash hashes a random throwaway password so failed username lookups
// can burn a full argon2id verification. The plaintext is discarded.
func newDecoyHash(hasher *password.Hasher) (string, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return "", err
	}
	return hasher.Hash(base64.RawStdEncoding.EncodeToString(seed))
}
