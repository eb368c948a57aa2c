package store

import (
	"fmt"
	"time"
)

// NewsItem is a news posting (spec.md §3.1): "no invariants beyond 'body or
// image is present'" — enforced by the handler layer, not here.
type NewsItem struct {
	ID        int64
	Body      string
	Image     string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListNews returns news items newest-first.
func (s *Store) ListNews() ([]NewsItem, error) {
	rows, err := s.db.Query(`SELECT id, body, image, author, created_at, updated_at FROM news_items ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()
	var out []NewsItem
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetNews returns a single news item by id.
func (s *Store) GetNews(id int64) (*NewsItem, error) {
	row := s.db.QueryRow(`SELECT id, body, image, author, created_at, updated_at FROM news_items WHERE id = ?`, id)
	n, err := scanNews(row)
	if err != nil {
		return nil, fmt.Errorf("get news %d: %w", id, err)
	}
	return n, nil
}

func scanNews(row interface{ Scan(...any) error }) (*NewsItem, error) {
	var n NewsItem
	var created, updated int64
	if err := row.Scan(&n.ID, &n.Body, &n.Image, &n.Author, &created, &updated); err != nil {
		return nil, err
	}
	n.CreatedAt = time.Unix(created, 0)
	n.UpdatedAt = time.Unix(updated, 0)
	return &n, nil
}

// CreateNews inserts a news item and returns its id.
func (s *Store) CreateNews(body, image, author string) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.Exec(`INSERT INTO news_items (body, image, author, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		body, image, author, now, now)
	if err != nil {
		return 0, fmt.Errorf("create news: %w", err)
	}
	return res.LastInsertId()
}

// UpdateNews replaces a news item's body/image.
func (s *Store) UpdateNews(id int64, body, image string) error {
	_, err := s.db.Exec(`UPDATE news_items SET body = ?, image = ?, updated_at = ? WHERE id = ?`,
		body, image, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update news %d: %w", id, err)
	}
	return nil
}

// DeleteNews removes a news item.
func (s *Store) DeleteNews(id int64) error {
	_, err := s.db.Exec(`DELETE FROM news_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete news %d: %w", id, err)
	}
	return nil
}
