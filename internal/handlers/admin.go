package handlers

import (
	"net/netip"
	"strings"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/store"
)

// HandleServerInfoUpdate requires ServerInfoUpdate, persists, and broadcasts
// the change to every live session (spec.md §6 ServerInfoUpdated).
func (d *Deps) HandleServerInfoUpdate(callerID uint32, req protocol.ServerInfoUpdateRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermServerInfo) {
		return nexuserr.PermissionDenied("missing ServerInfoUpdate permission")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nexuserr.Validation("invalid_name", "server name is empty")
	}
	if err := d.Store.SetSetting("server_name", name); err != nil {
		return nexuserr.Database(err)
	}
	if err := d.Store.SetSetting("motd", req.MOTD); err != nil {
		return nexuserr.Database(err)
	}
	d.Config.ServerName = name
	d.Config.MOTD = req.MOTD

	d.broadcastAll(struct {
		Type string `json:"type"`
		Name string `json:"name"`
		MOTD string `json:"motd,omitempty"`
	}{protocol.TypeServerInfoUpdated, name, req.MOTD})
	return nil
}

func toRuleSummary(r store.Rule) protocol.RuleSummary {
	return protocol.RuleSummary{CIDR: r.CIDR, ExpiresAt: r.ExpiresAt, Nickname: r.Nickname, Reason: r.Reason}
}

// HandleBanAdd implements spec.md §4.8's ban-add state machine: persist,
// install into C1, then disconnect matching in-flight transfers and live
// sessions whose IP now fails should_allow.
func (d *Deps) HandleBanAdd(callerID uint32, req protocol.BanAddRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermBanAdd) {
		return nexuserr.PermissionDenied("missing BanAdd permission")
	}
	prefix, err := netip.ParsePrefix(req.CIDR)
	if err != nil {
		if addr, aerr := netip.ParseAddr(req.CIDR); aerr == nil {
			bits := 32
			if addr.Is6() {
				bits = 128
			}
			prefix = netip.PrefixFrom(addr, bits)
		} else {
			return nexuserr.Validation("invalid_cidr", "%v", err)
		}
	}

	if err := d.Store.InsertBan(store.Rule{CIDR: req.CIDR, ExpiresAt: req.ExpiresAt, Nickname: req.Nickname, Reason: req.Reason}); err != nil {
		return nexuserr.Database(err)
	}
	if err := d.IPCache.AddBan(req.CIDR, req.ExpiresAt, req.Nickname, req.Reason); err != nil {
		return nexuserr.Internal(err)
	}
	d.audit(caller.Username, "ban_add", req.CIDR+": "+req.Reason)

	matches := func(ip netip.Addr) bool { return prefix.Contains(ip) }
	d.Transfers.DisconnectMatching(matches)

	for _, s := range d.Sessions.All() {
		ip, err := parseIP(s.PeerAddr)
		if err != nil {
			continue
		}
		if !d.IPCache.ShouldAllow(ip) {
			d.Sessions.SendToSession(s.ID, protocol.ErrorFrame{
				Type: protocol.TypeError, Kind: "banned", Message: "you have been banned",
			})
			d.Sessions.RemoveSession(s.ID)
		}
	}
	return nil
}

// HandleBanRemove requires BanRemove.
func (d *Deps) HandleBanRemove(callerID uint32, req protocol.BanRemoveRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermBanRemove) {
		return nexuserr.PermissionDenied("missing BanRemove permission")
	}
	if err := d.Store.DeleteBan(req.CIDR); err != nil {
		return nexuserr.Database(err)
	}
	d.IPCache.RemoveBan(req.CIDR)
	d.audit(caller.Username, "ban_remove", req.CIDR)
	return nil
}

// HandleBanList returns every persisted ban rule.
func (d *Deps) HandleBanList(callerID uint32) (*protocol.BanListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermBanAdd) {
		return nil, nexuserr.PermissionDenied("missing BanAdd permission")
	}
	rules, err := d.Store.ListBans()
	if err != nil {
		return nil, nexuserr.Database(err)
	}
	out := make([]protocol.RuleSummary, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleSummary(r))
	}
	return &protocol.BanListResponse{Response: protocol.Response{Type: protocol.TypeBanList, Success: true}, Rules: out}, nil
}

// HandleTrustAdd requires TrustAdd.
func (d *Deps) HandleTrustAdd(callerID uint32, req protocol.TrustAddRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermTrustAdd) {
		return nexuserr.PermissionDenied("missing TrustAdd permission")
	}
	if err := d.Store.InsertTrust(store.Rule{CIDR: req.CIDR, ExpiresAt: req.ExpiresAt, Nickname: req.Nickname, Reason: req.Reason}); err != nil {
		return nexuserr.Database(err)
	}
	if err := d.IPCache.AddTrust(req.CIDR, req.ExpiresAt, req.Nickname, req.Reason); err != nil {
		return nexuserr.Internal(err)
	}
	d.audit(caller.Username, "trust_add", req.CIDR+": "+req.Reason)
	return nil
}

// HandleTrustRemove requires TrustRemove.
func (d *Deps) HandleTrustRemove(callerID uint32, req protocol.TrustRemoveRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermTrustRemove) {
		return nexuserr.PermissionDenied("missing TrustRemove permission")
	}
	if err := d.Store.DeleteTrust(req.CIDR); err != nil {
		return nexuserr.Database(err)
	}
	d.IPCache.RemoveTrust(req.CIDR)
	d.audit(caller.Username, "trust_remove", req.CIDR)
	return nil
}

// HandleTrustList returns every persisted trust rule.
func (d *Deps) HandleTrustList(callerID uint32) (*protocol.TrustListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermTrustAdd) {
		return nil, nexuserr.PermissionDenied("missing TrustAdd permission")
	}
	rules, err := d.Store.ListTrusts()
	if err != nil {
		return nil, nexuserr.Database(err)
	}
	out := make([]protocol.RuleSummary, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRuleSummary(r))
	}
	return &protocol.TrustListResponse{Response: protocol.Response{Type: protocol.TypeTrustList, Success: true}, Rules: out}, nil
}

// HandleConnectionMonitor requires ConnectionMonitor and reports every live
// session plus every in-flight transfer (spec.md §4.6 snapshot()).
func (d *Deps) HandleConnectionMonitor(callerID uint32) (*protocol.ConnectionMonitorResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermConnMonitor) {
		return nil, nexuserr.PermissionDenied("missing ConnectionMonitor permission")
	}
	sessions := d.Sessions.All()
	users := make([]protocol.UserSummary, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, toUserSummary(&userSnapshot{s.ID, s.Username, s.Nickname, s.Admin, s.Away(), s.Locale}))
	}
	transfers := d.Transfers.Snapshot()
	out := make([]protocol.TransferSummary, 0, len(transfers))
	for _, t := range transfers {
		direction := "download"
		if t.Direction == transfer.Upload {
			direction = "upload"
		}
		out = append(out, protocol.TransferSummary{
			ID: t.ID, PeerAddr: t.PeerAddr, Nickname: t.Nickname, Direction: direction,
			Path: t.Path, TotalSize: t.TotalSize(), BytesTransferred: t.BytesTransferred(),
		})
	}
	return &protocol.ConnectionMonitorResponse{
		Response: protocol.Response{Type: protocol.TypeConnectionMonitor, Success: true},
		Sessions: users, Transfers: out,
	}, nil
}
