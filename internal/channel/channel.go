// Package channel implements the channel manager (spec.md §4.4, C4): the
// multi-channel membership state machine with case-insensitive names,
// secret/persistent flags, and topic tracking.
//
// Grounded on rustyguts-bken/server/room.go's CreateChannel/RenameChannel/
// DeleteChannel/SetChannels/MoveChannelUsersToLobby for the CRUD-plus-
// broadcast shape, and internal/core/channel_state.go's
// channels map[string][]protocol.Channel for the per-scope channel list
// idea. Nexus channels allow a session to belong to many channels at once
// (the teacher's rooms are mutually exclusive, tracked as a single
// channelID on the Client), so membership lives on the Channel value itself
// as a session-id set rather than on the session.
package channel

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Channel is a single chat channel (spec.md §3.1).
type Channel struct {
	Name        string // original casing
	Topic       string
	TopicSetter string
	Secret      bool
	Persistent  bool
	Members     map[uint32]bool
}

func lower(name string) string { return strings.ToLower(name) }

// JoinResult is returned from Join (spec.md §4.4).
type JoinResult struct {
	Members       []uint32
	Topic         string
	Secret        bool
	AlreadyMember bool
}

// ErrTooManyChannels is returned by Join when the session already belongs to
// MaxChannelsPerUser distinct channels.
type ErrTooManyChannels struct{ Limit int }

func (e *ErrTooManyChannels) Error() string {
	return fmt.Sprintf("too many channels: limit is %d", e.Limit)
}

// Persister is consulted for persistent-channel topic/secret changes. Calls
// happen after the channel map's write lock is released (spec.md §4.4: "lock
// is released before awaiting the persistence call").
type Persister interface {
	SaveChannelTopic(name, topic, setter string) error
	SaveChannelSecret(name string, secret bool) error
}

// Manager is the channel state machine (C4).
type Manager struct {
	mu               sync.RWMutex
	channels         map[string]*Channel // keyed by lowercased name
	persistentNames  map[string]bool     // lowercased
	sessionChannels  map[uint32]map[string]bool

	MaxChannelsPerUser int
	Persister          Persister
}

// New returns an empty manager.
func New(maxChannelsPerUser int, persister Persister) *Manager {
	return &Manager{
		channels:           make(map[string]*Channel),
		persistentNames:    make(map[string]bool),
		sessionChannels:    make(map[uint32]map[string]bool),
		MaxChannelsPerUser: maxChannelsPerUser,
		Persister:          persister,
	}
}

// Join adds sessionID to the named channel, creating it (as ephemeral,
// unless the lowercased name is in the persistent set) if it does not
// already exist (spec.md §4.4).
func (m *Manager) Join(name string, sessionID uint32) (JoinResult, error) {
	key := lower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, exists := m.channels[key]
	if exists && ch.Members[sessionID] {
		return JoinResult{
			Members:       membersOf(ch),
			Topic:         ch.Topic,
			Secret:        ch.Secret,
			AlreadyMember: true,
		}, nil
	}

	memberOfCount := len(m.sessionChannels[sessionID])
	if m.MaxChannelsPerUser > 0 && memberOfCount >= m.MaxChannelsPerUser {
		return JoinResult{}, &ErrTooManyChannels{Limit: m.MaxChannelsPerUser}
	}

	if !exists {
		ch = &Channel{
			Name:       name,
			Persistent: m.persistentNames[key],
			Members:    make(map[uint32]bool),
		}
		m.channels[key] = ch
	}
	ch.Members[sessionID] = true
	m.trackMembership(sessionID, key, true)

	return JoinResult{
		Members:       membersOf(ch),
		Topic:         ch.Topic,
		Secret:        ch.Secret,
		AlreadyMember: false,
	}, nil
}

// Leave removes sessionID from the named channel. Returns the remaining
// member set, or ok=false if the session was not a member. Ephemeral
// channels are deleted once empty; persistent channels are retained.
func (m *Manager) Leave(name string, sessionID uint32) (remaining []uint32, ok bool) {
	key := lower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, exists := m.channels[key]
	if !exists || !ch.Members[sessionID] {
		return nil, false
	}
	delete(ch.Members, sessionID)
	m.trackMembership(sessionID, key, false)
	if len(ch.Members) == 0 && !ch.Persistent {
		delete(m.channels, key)
		return nil, true
	}
	return membersOf(ch), true
}

// RemoveFromAll removes sessionID from every channel it belongs to,
// returning the original-cased names it was removed from, and deletes any
// ephemeral channel left empty (spec.md §3.2 invariant 2).
func (m *Manager) RemoveFromAll(sessionID uint32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.sessionChannels[sessionID]
	names := make([]string, 0, len(keys))
	for key := range keys {
		ch, exists := m.channels[key]
		if !exists {
			continue
		}
		delete(ch.Members, sessionID)
		names = append(names, ch.Name)
		if len(ch.Members) == 0 && !ch.Persistent {
			delete(m.channels, key)
		}
	}
	delete(m.sessionChannels, sessionID)
	return names
}

func (m *Manager) trackMembership(sessionID uint32, key string, add bool) {
	set, ok := m.sessionChannels[sessionID]
	if add {
		if !ok {
			set = make(map[string]bool)
			m.sessionChannels[sessionID] = set
		}
		set[key] = true
		return
	}
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(m.sessionChannels, sessionID)
	}
}

// SetTopic updates the topic, persisting it (after releasing the channel
// map's write lock) when the channel is persistent (spec.md §4.4).
func (m *Manager) SetTopic(name, topic, setter string) error {
	key := lower(name)

	m.mu.Lock()
	ch, exists := m.channels[key]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("channel %q not found", name)
	}
	ch.Topic = topic
	ch.TopicSetter = setter
	persistent := ch.Persistent
	chName := ch.Name
	m.mu.Unlock()

	if persistent && m.Persister != nil {
		return m.Persister.SaveChannelTopic(chName, topic, setter)
	}
	return nil
}

// SetSecret flips the secret flag, persisting it the same lock-released way
// as SetTopic.
func (m *Manager) SetSecret(name string, secret bool) error {
	key := lower(name)

	m.mu.Lock()
	ch, exists := m.channels[key]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("channel %q not found", name)
	}
	ch.Secret = secret
	persistent := ch.Persistent
	chName := ch.Name
	m.mu.Unlock()

	if persistent && m.Persister != nil {
		return m.Persister.SaveChannelSecret(chName, secret)
	}
	return nil
}

// List returns the channels visible to sessionID: all non-secret channels,
// plus secret channels the session is currently a member of, plus every
// channel for admins (spec.md §4.4).
func (m *Manager) List(sessionID uint32, isAdmin bool) []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Secret && !isAdmin && !ch.Members[sessionID] {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// ChannelsForSession is List sorted case-insensitively by name.
func (m *Manager) ChannelsForSession(sessionID uint32, isAdmin bool) []*Channel {
	out := m.List(sessionID, isAdmin)
	sort.Slice(out, func(i, j int) bool {
		return lower(out[i].Name) < lower(out[j].Name)
	})
	return out
}

// Get returns the channel by name (for handlers needing a single lookup,
// e.g. ChatSetSecret's permission/ownership check), or ok=false.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[lower(name)]
	if !ok {
		return Channel{}, false
	}
	return cloneChannel(ch), true
}

func cloneChannel(ch *Channel) Channel {
	members := make(map[uint32]bool, len(ch.Members))
	for id := range ch.Members {
		members[id] = true
	}
	return Channel{
		Name: ch.Name, Topic: ch.Topic, TopicSetter: ch.TopicSetter,
		Secret: ch.Secret, Persistent: ch.Persistent, Members: members,
	}
}

func membersOf(ch *Channel) []uint32 {
	out := make([]uint32, 0, len(ch.Members))
	for id := range ch.Members {
		out = append(out, id)
	}
	return out
}

// InitializePersistentChannels installs the given channel names (original
// casing) as persistent, creating empty channel entries for any that do not
// yet exist (spec.md §4.4).
func (m *Manager) InitializePersistentChannels(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		key := lower(name)
		m.persistentNames[key] = true
		if _, exists := m.channels[key]; !exists {
			m.channels[key] = &Channel{Name: name, Persistent: true, Members: make(map[uint32]bool)}
		} else {
			m.channels[key].Persistent = true
		}
	}
}

// ReinitializePersistentChannels recomputes the persistent set atomically
// with respect to membership: channels no longer persistent and currently
// empty are deleted; channels that remain persistent keep membership and
// settings; newly persistent names are installed without disturbing
// existing ephemerals of the same name (spec.md §4.4, §9).
func (m *Manager) ReinitializePersistentChannels(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newSet := make(map[string]bool, len(names))
	originalCase := make(map[string]string, len(names))
	for _, name := range names {
		key := lower(name)
		newSet[key] = true
		originalCase[key] = name
	}

	for key := range m.persistentNames {
		if newSet[key] {
			continue
		}
		if ch, exists := m.channels[key]; exists {
			ch.Persistent = false
			if len(ch.Members) == 0 {
				delete(m.channels, key)
			}
		}
	}

	for key, name := range originalCase {
		if ch, exists := m.channels[key]; exists {
			ch.Persistent = true
		} else {
			m.channels[key] = &Channel{Name: name, Persistent: true, Members: make(map[uint32]bool)}
		}
	}

	m.persistentNames = newSet
}
