package handlers

import (
	"testing"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/fileindex"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/internal/voice"
	"github.com/nexusbbs/nexus/store"
	"github.com/stretchr/testify/require"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewDeps(
		session.New(),
		channel.New(0, st),
		voice.New(),
		transfer.New(),
		ipcache.New(nil),
		conntrack.New(0, 0),
		st,
		fileindex.New(t.TempDir()+"/index.csv", t.TempDir(), nil),
		pathresolve.New(t.TempDir(), nil),
		Config{ServerName: "Nexus BBS", ServerVersion: "test", DedupWindow: 0},
		nil,
	)
}

func addSession(d *Deps, p session.AddParams) *session.Session {
	return d.Sessions.AddSession(p)
}
