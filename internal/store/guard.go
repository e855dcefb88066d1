// ============================================================================
// internal/store/guard.go
// Write guards for the append-only collections. These are explicit invariant
// checks performed by the storage layer itself, so the guarantee is visible
// and testable independent of the storage engine.
// ============================================================================

package store

import (
	"crms/internal/shared"
)

// GuardResultUpdate validates an update against an existing result document.
// The only admissible mutation is flipping is_latest; anything else violates
// result immutability.
func GuardResultUpdate(fields []string) error {
	if len(fields) == 0 {
		return shared.E(shared.KindValidationFailed, "empty result update")
	}
	for _, f := range fields {
		if f != "is_latest" {
			return shared.E(shared.KindLockedRecord,
				"results are immutable: field %q cannot be modified, use versioning for corrections", f)
		}
	}
	return nil
}

// GuardAuditWrite rejects every update or delete against the audit log,
// unconditionally. The collection is insert-only for the lifetime of the
// system; retention expiry happens through the storage TTL, not here.
func GuardAuditWrite(op string) error {
	return shared.E(shared.KindLockedRecord, "audit logs are immutable: %s rejected", op)
}

// GuardMarkScores validates a score mutation against the mark's stored
// status. Scores are editable only while the mark is in DRAFT.
func GuardMarkScores(status string) error {
	if status != shared.MarkDraft {
		return shared.E(shared.KindLockedRecord, "cannot modify marks after locking (status %s)", status)
	}
	return nil
}

// GuardIngestionUpdate rejects modifications to a committed ingestion job.
func GuardIngestionUpdate(status string) error {
	if status == shared.JobCommitted {
		return shared.E(shared.KindLockedRecord, "cannot modify committed ingestion job")
	}
	return nil
}
