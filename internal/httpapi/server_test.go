package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/fileindex"
	"github.com/nexusbbs/nexus/internal/handlers"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/internal/voice"
	"github.com/nexusbbs/nexus/store"
)

func newTestDeps(t *testing.T) *handlers.Deps {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return handlers.NewDeps(
		session.New(),
		channel.New(0, st),
		voice.New(),
		transfer.New(),
		ipcache.New(nil),
		conntrack.New(0, 0),
		st,
		fileindex.New(t.TempDir()+"/index.csv", t.TempDir(), nil),
		pathresolve.New(t.TempDir(), nil),
		handlers.Config{ServerName: "Nexus BBS", ServerVersion: "test"},
		nil,
	)
}

func TestHealthReportsSessionCount(t *testing.T) {
	deps := newTestDeps(t)
	deps.Sessions.AddSession(session.AddParams{Username: "alice", Nickname: "alice"})

	api := New(deps, "")
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Clients)
}

func TestConnectionsRequiresAdminToken(t *testing.T) {
	deps := newTestDeps(t)
	api := New(deps, "secret")
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/connections", nil)
	require.NoError(t, err)
	req.Header.Set(adminTokenHeader, "secret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestConnectionsListsLiveSessions(t *testing.T) {
	deps := newTestDeps(t)
	deps.Sessions.AddSession(session.AddParams{Username: "alice", Nickname: "alice"})

	api := New(deps, "")
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out connectionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Sessions, 1)
	require.Equal(t, "alice", out.Sessions[0].Username)
}

func TestFileDownloadRejectsPathEscape(t *testing.T) {
	deps := newTestDeps(t)
	api := New(deps, "")
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/files?path=../../etc/passwd")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
