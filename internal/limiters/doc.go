// Package limiters implements Redis-backed fixed-window throttles for login
// and recovery traffic. All limiters degrade to no-ops when constructed
// without a Redis client so the engine stays usable in minimal deployments.
package limiters
