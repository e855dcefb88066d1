// ============================================================================
// internal/audit/audit.go
// Audit trail recorder and query service
// ============================================================================

package audit

import (
	"context"
	"log"
	"time"

	"crms/internal/shared"
	"crms/internal/store"
)

// Log is the storage surface the recorder needs.
type Log interface {
	InsertAuditEntry(ctx context.Context, e *shared.AuditLogEntry) error
	ListAuditEntries(ctx context.Context, f store.AuditFilter) ([]shared.AuditLogEntry, int64, error)
}

// Recorder appends entries to the audit trail. Recording never fails the
// business operation that triggered it: a write failure is logged and the
// operation proceeds.
type Recorder struct {
	log Log
}

// NewRecorder creates a Recorder over the given log storage.
func NewRecorder(log Log) *Recorder {
	return &Recorder{log: log}
}

// Entry is the caller-supplied part of an audit record. ID, timestamp, and
// severity default are filled in by Record.
type Entry struct {
	Action     string
	Actor      *shared.Actor
	TargetKind string
	TargetID   string
	Details    string
	Metadata   map[string]interface{}
	IP         string
	Severity   string
}

// Record appends one entry. Details longer than the bound are truncated, not
// rejected; the trail prefers a clipped record over a missing one.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	entry := &shared.AuditLogEntry{
		ID:         shared.GenerateID("audit"),
		Action:     e.Action,
		TargetKind: e.TargetKind,
		TargetID:   e.TargetID,
		Details:    e.Details,
		Metadata:   e.Metadata,
		IP:         e.IP,
		Severity:   e.Severity,
		CreatedAt:  time.Now(),
	}
	if entry.Severity == "" {
		entry.Severity = shared.SeverityInfo
	}
	if len(entry.Details) > shared.MaxAuditDetails {
		entry.Details = entry.Details[:shared.MaxAuditDetails]
	}
	if e.Actor != nil {
		entry.ActorID = e.Actor.ID
		entry.ActorKind = e.Actor.Kind
		entry.ActorName = e.Actor.Name
		entry.ActorRole = e.Actor.Role
	}

	if err := r.log.InsertAuditEntry(ctx, entry); err != nil {
		log.Printf("Warning: audit write failed for action %s: %v", entry.Action, err)
	}
}

// List returns audit entries in scope, newest-first.
func (r *Recorder) List(ctx context.Context, f store.AuditFilter) ([]shared.AuditLogEntry, int64, error) {
	return r.log.ListAuditEntries(ctx, f)
}
