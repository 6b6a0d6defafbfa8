// Package audit implements the append-only audit trail: recording,
// scoped querying, streaming export, and the live record feed.
//
// Records are written by the Recorder and never updated. Retention and
// archival of old records is handled by the retention package.
package audit
