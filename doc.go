// Package credo provides a credential and recovery-token lifecycle engine:
// password login with signed JWT access tokens, and a self-service
// password-recovery flow built on single-use 6-digit codes.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// credo is the public surface. It exposes [Engine], [Builder], [Config], the
// [CredentialStore] and [NotificationSink] integration interfaces, and value
// types (LoginResult, MetricsSnapshot, AuditEvent). All internal coordination
// (flow orchestration, code generation, rate limiting, audit dispatch) lives
// under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Own credential storage. The pending-token slot and password hashes live
//     behind the caller's [CredentialStore]; the engine only drives the
//     lifecycle against it.
//   - Build notification content. [NotificationSink] receives the recipient
//     and the code; formatting and transport belong to the caller.
//   - Reveal whether an email address is registered. The recovery request
//     path returns one generic message for every outcome short of an
//     infrastructure failure.
package credo
