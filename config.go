package credo

import (
	"errors"
	"time"
)

// RecoveryCodeLength is the fixed length of a recovery code. Codes are
// decimal strings drawn uniformly from [000000, 999999].
const RecoveryCodeLength = 6

// RecoveryRequestMessage is the single generic confirmation returned by
// [Engine.RequestRecovery] regardless of whether the email is registered.
const RecoveryRequestMessage = "if the email exists, you will receive recovery instructions"

// Config defines the engine configuration. Instances are constructed once at
// process start, validated by [Builder.Build], and treated as immutable
// afterwards. Signing keys are never logged and never appear in responses.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Recovery RecoveryConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token issuance.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id parameters used for hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig controls the forgot/reset password flow.
type RecoveryConfig struct {
	// TokenTTL bounds how long an issued recovery code stays valid.
	TokenTTL time.Duration
	// MinPasswordLength is the floor enforced on replacement passwords.
	MinPasswordLength int
	// DeliveryTimeout bounds how long RequestRecovery waits on the
	// NotificationSink before proceeding without it.
	DeliveryTimeout time.Duration
	// Throttling of request/confirm calls. Requires a Redis client.
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	MaxAttempts         int
	ThrottleWindow      time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login throttling. Requires a Redis client when any
// throttle is enabled.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Recovery: RecoveryConfig{
			TokenTTL:          time.Hour,
			MinPasswordLength: 8,
			DeliveryTimeout:   5 * time.Second,
			MaxAttempts:       5,
			ThrottleWindow:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks cross-field configuration invariants. Build calls it; it is
// exported so callers can validate configuration before wiring dependencies.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("JWT.SigningMethod must be \"ed25519\" or \"hs256\"")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT.PrivateKey is required")
	}
	if c.Recovery.TokenTTL <= 0 {
		return errors.New("Recovery.TokenTTL must be positive")
	}
	if c.Recovery.TokenTTL > 24*time.Hour {
		return errors.New("Recovery.TokenTTL must not exceed 24h")
	}
	if c.Recovery.MinPasswordLength < 8 {
		return errors.New("Recovery.MinPasswordLength must be >= 8")
	}
	if c.Recovery.DeliveryTimeout <= 0 {
		return errors.New("Recovery.DeliveryTimeout must be positive")
	}
	if (c.Recovery.EnableEmailThrottle || c.Recovery.EnableIPThrottle) && c.Recovery.MaxAttempts <= 0 {
		return errors.New("Recovery.MaxAttempts must be positive when throttling is enabled")
	}
	if (c.Recovery.EnableEmailThrottle || c.Recovery.EnableIPThrottle) && c.Recovery.ThrottleWindow <= 0 {
		return errors.New("Recovery.ThrottleWindow must be positive when throttling is enabled")
	}
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security.MaxLoginAttempts must be positive when login throttling is enabled")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security.LoginCooldownDuration must be positive when login throttling is enabled")
		}
	}
	return nil
}
