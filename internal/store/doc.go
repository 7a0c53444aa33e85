// Package store provides SQLite-backed persistence for pairwatch.
//
// It owns the durable record of each monitored pair: the single live
// CollaborationStatus row, the append-only collaboration event ledger,
// anomaly records with their resolution lifecycle, aggregated metrics
// windows, and the operator audit log.
//
// Writers in the monitor core treat this store as best-effort: a failed
// write is logged and the in-memory view stays authoritative.
package store
