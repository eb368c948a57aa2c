package store

import (
	"fmt"
	"time"
)

// AuditEntry is one administrative-mutation record, grounded on the
// teacher's audit_log table and Room.AuditLog/RecordBan pattern — an
// ambient operational idiom carried from the teacher, not a mechanism
// present in the original protocol this server implements.
type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// InsertAuditLog records an administrative action.
func (s *Store) InsertAuditLog(actor, action, detail string) error {
	_, err := s.db.Exec(`INSERT INTO audit_log (actor, action, detail, created_at) VALUES (?, ?, ?, ?)`,
		actor, action, detail, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// GetAuditLog returns the most recent limit entries, newest first.
func (s *Store) GetAuditLog(limit int) ([]AuditEntry, error) {
	rows, err := s.db.Query(`SELECT id, actor, action, detail, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
