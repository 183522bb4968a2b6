// Package audit provides the event model and asynchronous dispatch used for
// credo's security audit trail. Sinks are pluggable; the dispatcher owns a
// single background goroutine and drains on Close.
package audit
