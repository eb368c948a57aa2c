package handlers

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/fileindex"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/internal/voice"
	"github.com/nexusbbs/nexus/store"
)

// Config carries the tunables the handler layer needs (spec.md §9's open
// question on the dedup window is resolved here as a configuration knob).
type Config struct {
	MaxChannelsPerUser int
	DedupWindow        time.Duration
	ServerName         string
	ServerFingerprint  string
	ServerVersion      string
	MOTD               string
}

// Deps bundles every registry a handler may need to consult or mutate. A
// single Deps is shared read-only across all connections; each registry
// manages its own internal locking (spec.md §5: "no two registries are
// locked in a nested manner by any handler").
type Deps struct {
	Sessions     *session.Registry
	Channels     *channel.Manager
	Voice        *voice.Registry
	Transfers    *transfer.Registry
	IPCache      *ipcache.Cache
	ConnTrack    *conntrack.Tracker
	Store        *store.Store
	FileIndex    *fileindex.Index
	PathResolver *pathresolve.Resolver

	Config Config
	Log    *slog.Logger

	// recentChat is the near-duplicate chat dedup scan window (spec.md §9
	// open question): keyed by channel+nickname+body, pruned lazily.
	recentChat map[string]time.Time
}

// NewDeps wires a Deps from its constituent registries.
func NewDeps(
	sessions *session.Registry,
	channels *channel.Manager,
	voiceReg *voice.Registry,
	transfers *transfer.Registry,
	ipCache *ipcache.Cache,
	connTrack *conntrack.Tracker,
	st *store.Store,
	fileIdx *fileindex.Index,
	pathResolver *pathresolve.Resolver,
	cfg Config,
	log *slog.Logger,
) *Deps {
	if log == nil {
		log = slog.Default()
	}
	return &Deps{
		Sessions: sessions, Channels: channels, Voice: voiceReg, Transfers: transfers,
		IPCache: ipCache, ConnTrack: connTrack, Store: st, FileIndex: fileIdx,
		PathResolver: pathResolver, Config: cfg, Log: log,
		recentChat: make(map[string]time.Time),
	}
}

// requireSession implements §4.8 steps 1 and 3: re-fetches the session from
// C3 so the handler reads freshly-cached permissions, treating a missing
// session as a race and classifying it as AuthenticationRequired.
func (d *Deps) requireSession(sessionID uint32) (*session.Session, error) {
	s, ok := d.Sessions.GetByID(sessionID)
	if !ok {
		return nil, nexuserr.AuthenticationRequired("session not found")
	}
	return s, nil
}

// broadcastChannel sends msg to every current member of name, via C3's
// send_to_session (spec.md §4.8 step 6).
func (d *Deps) broadcastChannel(name string, msg any) {
	ch, ok := d.Channels.Get(name)
	if !ok {
		return
	}
	for id := range ch.Members {
		d.Sessions.SendToSession(id, msg)
	}
}

// broadcastChannelExcept is broadcastChannel but skips one session id (the
// acting session, for requests that echo their own result separately).
func (d *Deps) broadcastChannelExcept(name string, exclude uint32, msg any) {
	ch, ok := d.Channels.Get(name)
	if !ok {
		return
	}
	for id := range ch.Members {
		if id == exclude {
			continue
		}
		d.Sessions.SendToSession(id, msg)
	}
}

// broadcastAll sends msg to every live session.
func (d *Deps) broadcastAll(msg any) {
	for _, s := range d.Sessions.All() {
		d.Sessions.SendToSession(s.ID, msg)
	}
}

// audit records an administrative mutation, an ambient operational idiom
// carried from the teacher rather than a mechanism in the original protocol.
// A write failure is logged and swallowed rather than surfaced to the
// caller — the mutation itself already committed, and an audit-trail outage
// shouldn't roll it back or disconnect the admin.
func (d *Deps) audit(actor, action, detail string) {
	if err := d.Store.InsertAuditLog(actor, action, detail); err != nil {
		d.Log.Warn("audit log write failed", "actor", actor, "action", action, "err", err)
	}
}

func parseIP(addr string) (netip.Addr, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err == nil {
		return ap.Addr(), nil
	}
	return netip.ParseAddr(addr)
}
