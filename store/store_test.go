package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate())
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetSetting("server_name")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetSetting("server_name", "Nexus BBS"))
	v, ok, err := s.GetSetting("server_name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Nexus BBS", v)

	require.NoError(t, s.SetSetting("server_name", "Renamed"))
	v, _, _ = s.GetSetting("server_name")
	require.Equal(t, "Renamed", v)
}

func TestAccountCRUD(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateAccount(Account{
		Username: "alice", PasswordVerifier: "hash", Enabled: true, Permissions: []string{"ChatJoin", "ChatCreate"},
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	a, err := s.GetAccountByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, []string{"ChatJoin", "ChatCreate"}, a.Permissions)

	a.Admin = true
	require.NoError(t, s.UpdateAccount(*a))

	n, err := s.CountAdmins()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.DeleteAccount(a.ID))
	gone, err := s.GetAccountByUsername("alice")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestChannelPersistence(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateChannel("#Lobby"))

	chans, err := s.GetChannels()
	require.NoError(t, err)
	require.Len(t, chans, 1)
	require.Equal(t, "#Lobby", chans[0].DisplayName)

	require.NoError(t, s.SaveChannelTopic("#Lobby", "welcome", "alice"))
	require.NoError(t, s.SaveChannelSecret("#Lobby", true))

	chans, _ = s.GetChannels()
	require.Equal(t, "welcome", chans[0].Topic)
	require.True(t, chans[0].Secret)

	require.NoError(t, s.DeleteChannel("#Lobby"))
	chans, _ = s.GetChannels()
	require.Empty(t, chans)
}

func TestBanTrustRules(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertBan(Rule{CIDR: "203.0.113.0/24", Reason: "abuse"}))
	bans, err := s.ListBans()
	require.NoError(t, err)
	require.Len(t, bans, 1)

	require.NoError(t, s.DeleteBan("203.0.113.0/24"))
	bans, _ = s.ListBans()
	require.Empty(t, bans)

	require.NoError(t, s.InsertTrust(Rule{CIDR: "10.0.0.0/8"}))
	trusts, err := s.ListTrusts()
	require.NoError(t, err)
	require.Len(t, trusts, 1)
}

func TestNewsCRUD(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateNews("hello world", "", "alice")
	require.NoError(t, err)

	n, err := s.GetNews(id)
	require.NoError(t, err)
	require.Equal(t, "hello world", n.Body)

	require.NoError(t, s.UpdateNews(id, "updated", ""))
	n, _ = s.GetNews(id)
	require.Equal(t, "updated", n.Body)

	list, err := s.ListNews()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteNews(id))
	list, _ = s.ListNews()
	require.Empty(t, list)
}

func TestAuditLog(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertAuditLog("admin", "ban_add", "203.0.113.0/24"))
	entries, err := s.GetAuditLog(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ban_add", entries[0].Action)
}
