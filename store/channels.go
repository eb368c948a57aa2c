package store

import (
	"fmt"
	"strings"
	"time"
)

// ChannelConfig is a persisted persistent-channel row (spec.md §3.2
// invariant 7: "persistent channels are those whose lowercased names appear
// in the current server configuration").
type ChannelConfig struct {
	Name        string // lowercased key
	DisplayName string // original casing
	Topic       string
	TopicSetter string
	Secret      bool
}

// GetChannels returns every configured persistent channel.
func (s *Store) GetChannels() ([]ChannelConfig, error) {
	rows, err := s.db.Query(`SELECT name, display_name, topic, topic_setter, secret FROM channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelConfig
	for rows.Next() {
		var c ChannelConfig
		var secret int
		if err := rows.Scan(&c.Name, &c.DisplayName, &c.Topic, &c.TopicSetter, &secret); err != nil {
			return nil, err
		}
		c.Secret = secret != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateChannel persists a new persistent channel.
func (s *Store) CreateChannel(displayName string) error {
	_, err := s.db.Exec(`INSERT INTO channels (name, display_name, created_at) VALUES (?, ?, ?)`,
		lowerKey(displayName), displayName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create channel %q: %w", displayName, err)
	}
	return nil
}

// RenameChannel updates a persistent channel's display name in place.
func (s *Store) RenameChannel(oldName, newDisplayName string) error {
	_, err := s.db.Exec(`UPDATE channels SET name = ?, display_name = ? WHERE name = ?`,
		lowerKey(newDisplayName), newDisplayName, lowerKey(oldName))
	if err != nil {
		return fmt.Errorf("rename channel %q: %w", oldName, err)
	}
	return nil
}

// DeleteChannel removes a channel from the persistent configuration.
func (s *Store) DeleteChannel(name string) error {
	_, err := s.db.Exec(`DELETE FROM channels WHERE name = ?`, lowerKey(name))
	if err != nil {
		return fmt.Errorf("delete channel %q: %w", name, err)
	}
	return nil
}

// SaveChannelTopic implements internal/channel.Persister.
func (s *Store) SaveChannelTopic(name, topic, setter string) error {
	_, err := s.db.Exec(`UPDATE channels SET topic = ?, topic_setter = ? WHERE name = ?`,
		topic, setter, lowerKey(name))
	if err != nil {
		return fmt.Errorf("save topic for %q: %w", name, err)
	}
	return nil
}

// SaveChannelSecret implements internal/channel.Persister.
func (s *Store) SaveChannelSecret(name string, secret bool) error {
	_, err := s.db.Exec(`UPDATE channels SET secret = ? WHERE name = ?`, boolToInt(secret), lowerKey(name))
	if err != nil {
		return fmt.Errorf("save secret flag for %q: %w", name, err)
	}
	return nil
}

func lowerKey(name string) string {
	return strings.ToLower(name)
}
