// Package jwt wraps golang-jwt/v5 behind a small manager that mints and
// verifies credo access tokens. Tokens are stateless: subject, role,
// issued-at, expiry, signature. Downstream verification beyond what the
// manager itself offers is out of scope for the engine.
package jwt
