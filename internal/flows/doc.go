// Package flows contains the pure orchestration logic for the credo engine's
// login and recovery operations. Each flow receives its collaborators through
// a deps struct so the root package can wire real stores, limiters, and
// sinks while tests substitute controlled fakes. Flows never import the root
// package; error values and metric/event identities are injected.
package flows
