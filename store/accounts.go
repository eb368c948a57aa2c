package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GuestUsername is the reserved, undeletable guest account name (spec.md §3.1).
const GuestUsername = "guest"

// Account is a persistence-layer record (spec.md §3.1), opaque to the core
// beyond these fields.
type Account struct {
	ID               int64
	Username         string
	PasswordVerifier string
	Admin            bool
	Shared           bool
	Enabled          bool
	Permissions      []string
	CreatedAt        time.Time
}

func encodePermissions(perms []string) string {
	return strings.Join(perms, ",")
}

func decodePermissions(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var admin, shared, enabled int
	var perms string
	var createdAt int64
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordVerifier, &admin, &shared, &enabled, &perms, &createdAt); err != nil {
		return nil, err
	}
	a.Admin = admin != 0
	a.Shared = shared != 0
	a.Enabled = enabled != 0
	a.Permissions = decodePermissions(perms)
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

const accountColumns = `id, username, password_verifier, admin, shared, enabled, permissions, created_at`

// GetAccountByUsername looks up an account by its canonical username.
func (s *Store) GetAccountByUsername(username string) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", username, err)
	}
	return a, nil
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(a Account) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO accounts (username, password_verifier, admin, shared, enabled, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Username, a.PasswordVerifier, boolToInt(a.Admin), boolToInt(a.Shared), boolToInt(a.Enabled),
		encodePermissions(a.Permissions), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create account %q: %w", a.Username, err)
	}
	return res.LastInsertId()
}

// UpdateAccount persists changes to username, permissions, and the
// admin/shared/enabled flags; the password verifier is left unchanged
// (SetPasswordVerifier updates it).
func (s *Store) UpdateAccount(a Account) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET username = ?, admin = ?, shared = ?, enabled = ?, permissions = ?
		WHERE id = ?`,
		a.Username, boolToInt(a.Admin), boolToInt(a.Shared), boolToInt(a.Enabled),
		encodePermissions(a.Permissions), a.ID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	return nil
}

// SetPasswordVerifier updates only the password verifier.
func (s *Store) SetPasswordVerifier(id int64, verifier string) error {
	_, err := s.db.Exec(`UPDATE accounts SET password_verifier = ? WHERE id = ?`, verifier, id)
	return err
}

// DeleteAccount removes an account by id. Callers must enforce the
// self-deletion, guest, non-admin-deletes-admin, and last-admin invariants
// before calling (spec.md §4.8 UserDelete); CountAdmins supports the last one.
func (s *Store) DeleteAccount(id int64) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	return nil
}

// CountAdmins returns the number of enabled admin accounts, used to enforce
// "last-remaining admin is undeletable" atomically (spec.md §4.8).
func (s *Store) CountAdmins() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE admin = 1 AND enabled = 1`).Scan(&n)
	return n, err
}

// ListAccounts returns every account, for admin listing.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY username COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
