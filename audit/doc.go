// Package audit records security-relevant events and writes them in batches.
//
// Events are appended to a PendingStore and flushed to a Sink either
// periodically, when the pending set reaches a size threshold, or immediately
// for CRITICAL events. Flushing drains the pending set atomically before the
// durable write, so a concurrent Log never loses an event and no event is
// written twice. Sink failures are logged and the affected events are
// emitted to the structured log; Log never returns an error to the caller.
//
// Sinks live in subpackages: audit/postgres writes to the audit_logs table and
// audit/kafka publishes to a topic. LogSink and MultiSink are provided here.
package audit
