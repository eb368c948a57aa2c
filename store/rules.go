package store

import (
	"fmt"
	"time"
)

// Rule is a persisted ban or trust entry (spec.md §3.1).
type Rule struct {
	CIDR      string
	ExpiresAt *int64
	Nickname  string
	Reason    string
}

func (s *Store) insertRule(table string, r Rule) error {
	_, err := s.db.Exec(
		`INSERT INTO `+table+` (cidr, expires_at, nickname, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(cidr) DO UPDATE SET expires_at = excluded.expires_at, nickname = excluded.nickname, reason = excluded.reason`,
		r.CIDR, r.ExpiresAt, r.Nickname, r.Reason, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert %s %q: %w", table, r.CIDR, err)
	}
	return nil
}

func (s *Store) deleteRule(table, cidr string) error {
	_, err := s.db.Exec(`DELETE FROM `+table+` WHERE cidr = ?`, cidr)
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", table, cidr, err)
	}
	return nil
}

func (s *Store) listRules(table string) ([]Rule, error) {
	rows, err := s.db.Query(`SELECT cidr, expires_at, nickname, reason FROM ` + table + ` ORDER BY cidr`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.CIDR, &r.ExpiresAt, &r.Nickname, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertBan upserts a ban rule.
func (s *Store) InsertBan(r Rule) error { return s.insertRule("ban_rules", r) }

// DeleteBan removes a ban rule by exact CIDR.
func (s *Store) DeleteBan(cidr string) error { return s.deleteRule("ban_rules", cidr) }

// ListBans returns every persisted ban rule.
func (s *Store) ListBans() ([]Rule, error) { return s.listRules("ban_rules") }

// InsertTrust upserts a trust rule.
func (s *Store) InsertTrust(r Rule) error { return s.insertRule("trust_rules", r) }

// DeleteTrust removes a trust rule by exact CIDR.
func (s *Store) DeleteTrust(cidr string) error { return s.deleteRule("trust_rules", cidr) }

// ListTrusts returns every persisted trust rule.
func (s *Store) ListTrusts() ([]Rule, error) { return s.listRules("trust_rules") }
