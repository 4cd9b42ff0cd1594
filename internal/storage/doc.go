// Package storage persists the task queue document and the operator audit
// trail.
//
// The queue is stored as a single serialized document that is read whole
// and overwritten whole; there are no partial updates. Drivers:
//   - file: <path>/tasks.json + <path>/audit.jsonl
//   - sqlite: <path>/foxq.db (modernc.org/sqlite, no cgo)
//   - redis: one string key plus a list for audit entries
//   - none: persistence disabled
package storage
