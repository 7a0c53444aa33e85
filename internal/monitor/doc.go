// Package monitor is the collaboration-health core of pairwatch.
//
// It tracks one CollaborationStatus per agent pair and exposes the
// operations the rest of the system builds on: Initialize, RecordActivity,
// Correlate, RecordEvent, and ExecuteCommand.
//
// # Concurrency
//
// Every pair is an actor. A dedicated goroutine drains the pair's mailbox
// of closures, so two operations on the same pair are never concurrently
// in flight while different pairs proceed fully in parallel. Public
// methods enqueue a closure and wait for its reply.
//
// # Side effects
//
// Storage writes happen inside the mailbox turn but are best-effort: a
// failed write is logged and the in-memory status stays authoritative.
// Fan-out events publish after the state mutation commits. Anomaly
// evaluation runs synchronously after every activity report and on every
// periodic collection tick; its failures never abort recording.
package monitor
