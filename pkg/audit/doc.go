// Package audit provides an append-only audit trail for permission
// configuration changes.
//
// Every role or grant mutation produces exactly one Record, written after
// the mutation commits. Records carry before and after snapshots so an
// administrator can reconstruct the configuration at any point in time.
// There is no API to modify or delete a record once written.
//
// The package splits the write side (Recorder, DBRecorder) from the read
// side (QueryService) so services that only need to append never gain the
// ability to query or export the trail, and vice versa. Queries return
// records in chronological order with the database-assigned serial ID
// breaking timestamp ties.
//
// Exports are available as JSON, CSV and newline-delimited JSON for
// offline retention and compliance snapshots.
package audit
