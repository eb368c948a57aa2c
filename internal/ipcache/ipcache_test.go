package ipcache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWhitelistMode(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddBan("0.0.0.0/0", nil, "", "wide ban"))
	require.NoError(t, c.AddTrust("10.0.0.0/8", nil, "", "internal network"))

	require.True(t, c.ShouldAllow(netip.MustParseAddr("10.1.2.3")))
	require.False(t, c.ShouldAllow(netip.MustParseAddr("192.168.1.1")))
	require.True(t, c.ShouldAllow(netip.MustParseAddr("::ffff:10.1.2.3")))
}

func TestAddRemoveBanRoundTrip(t *testing.T) {
	c := New(nil)
	ip := netip.MustParseAddr("203.0.113.7")
	require.True(t, c.ShouldAllow(ip))

	require.NoError(t, c.AddBan("203.0.113.7/32", nil, "", ""))
	require.False(t, c.ShouldAllow(ip))

	require.True(t, c.RemoveBan("203.0.113.7/32"))
	require.True(t, c.ShouldAllow(ip))
}

func TestLazyExpiry(t *testing.T) {
	fixed := time.Unix(999, 0)
	clock := fixed
	c := New(func() time.Time { return clock })

	exp := int64(1000)
	require.NoError(t, c.AddBan("198.51.100.0/24", &exp, "", "temp"))
	require.False(t, c.ShouldAllow(netip.MustParseAddr("198.51.100.5")))

	clock = time.Unix(1001, 0)
	require.True(t, c.NeedsRebuild())
	c.RebuildIfNeeded()
	require.True(t, c.ShouldAllow(netip.MustParseAddr("198.51.100.5")))
}

func TestRemoveBansContainedBy(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddBan("203.0.113.0/28", nil, "", ""))
	require.NoError(t, c.AddBan("203.0.113.32/28", nil, "", ""))
	require.NoError(t, c.AddBan("198.51.100.0/24", nil, "", ""))

	removed, err := c.RemoveBansContainedBy("203.0.113.0/24")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"203.0.113.0/28", "203.0.113.32/28"}, removed)
	require.True(t, c.ShouldAllow(netip.MustParseAddr("203.0.113.5")))
	require.False(t, c.ShouldAllow(netip.MustParseAddr("198.51.100.5")))
}

func TestMonotoneBanThenCoveringTrust(t *testing.T) {
	c := New(nil)
	ip := netip.MustParseAddr("8.8.8.8")
	require.NoError(t, c.AddBan("8.8.8.0/24", nil, "", ""))
	require.False(t, c.ShouldAllow(ip))
	require.NoError(t, c.AddTrust("8.0.0.0/8", nil, "", ""))
	require.True(t, c.ShouldAllow(ip))
}
