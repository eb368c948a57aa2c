package handlers

import (
	"strings"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/store"
)

func toUserSummary(s *userSnapshot) protocol.UserSummary {
	return protocol.UserSummary{
		SessionID: s.ID, Username: s.Username, Nickname: s.Nickname,
		IsAdmin: s.Admin, Away: s.Away, Locale: s.Locale, Online: true,
	}
}

// userSnapshot is the subset of a session.Session a handler needs after its
// lock has been released, avoiding a pointer escape into response encoding.
type userSnapshot struct {
	ID       uint32
	Username string
	Nickname string
	Admin    bool
	Away     bool
	Locale   string
}

// HandleUserList returns every live session, or with All set every stored
// account (online or not). All requires UserList plus at least one of
// UserEdit/UserDelete, since it exposes accounts with no live session to
// inform exactly those mutating commands.
func (d *Deps) HandleUserList(callerID uint32, req protocol.UserListRequest) (*protocol.UserListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !req.All {
		sessions := d.Sessions.All()
		out := make([]protocol.UserSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, toUserSummary(&userSnapshot{s.ID, s.Username, s.Nickname, s.Admin, s.Away(), s.Locale}))
		}
		return &protocol.UserListResponse{Response: protocol.Response{Type: protocol.TypeUserList, Success: true}, Users: out}, nil
	}

	if !hasPermission(caller.Admin, caller.Permissions, PermUserList) {
		return nil, nexuserr.PermissionDenied("missing UserList permission")
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserEdit) &&
		!hasPermission(caller.Admin, caller.Permissions, PermUserDelete) {
		return nil, nexuserr.PermissionDenied("listing all accounts requires UserEdit or UserDelete")
	}

	accounts, err := d.Store.ListAccounts()
	if err != nil {
		return nil, nexuserr.Database(err)
	}
	out := make([]protocol.UserSummary, 0, len(accounts))
	for _, a := range accounts {
		live := d.Sessions.SessionsByUsername(a.Username)
		if len(live) == 0 {
			out = append(out, protocol.UserSummary{Username: a.Username, Nickname: a.Username, IsAdmin: a.Admin})
			continue
		}
		for _, s := range live {
			out = append(out, toUserSummary(&userSnapshot{s.ID, s.Username, s.Nickname, s.Admin, s.Away(), s.Locale}))
		}
	}
	return &protocol.UserListResponse{Response: protocol.Response{Type: protocol.TypeUserList, Success: true}, Users: out}, nil
}

// HandleUserInfo resolves a single live nickname.
func (d *Deps) HandleUserInfo(callerID uint32, req protocol.UserInfoRequest) (*protocol.UserInfoResponse, error) {
	if _, err := d.requireSession(callerID); err != nil {
		return nil, err
	}
	matches := d.Sessions.SessionsByNickname(req.Nickname)
	if len(matches) == 0 {
		return nil, nexuserr.NotFound("nickname %q is not connected", req.Nickname)
	}
	s := matches[0]
	return &protocol.UserInfoResponse{
		Response: protocol.Response{Type: protocol.TypeUserInfo, Success: true},
		User:     toUserSummary(&userSnapshot{s.ID, s.Username, s.Nickname, s.Admin, s.Away(), s.Locale}),
	}, nil
}

// HandleUserBroadcast requires UserBroadcast and fans out to every live session.
func (d *Deps) HandleUserBroadcast(callerID uint32, req protocol.UserBroadcastRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserBroadcast) {
		return nexuserr.PermissionDenied("missing UserBroadcast permission")
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nexuserr.Validation("empty_message", "broadcast body is empty")
	}
	d.broadcastAll(struct {
		Type     string `json:"type"`
		Nickname string `json:"nickname"`
		Body     string `json:"body"`
	}{protocol.TypeServerBroadcast, caller.Nickname, body})
	return nil
}

// HandleUserCreate requires UserCreate and the delegation rule: a non-admin
// granter may only hand out permissions it already holds (spec.md §4.8 step 4).
func (d *Deps) HandleUserCreate(callerID uint32, req protocol.UserCreateRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserCreate) {
		return nexuserr.PermissionDenied("missing UserCreate permission")
	}
	if !canDelegate(caller.Admin, caller.Permissions, req.Permissions) {
		return nexuserr.PermissionDenied("cannot grant permissions you do not hold")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || strings.EqualFold(username, store.GuestUsername) {
		return nexuserr.Validation("invalid_username", "username is empty or reserved")
	}
	if existing, _ := d.Store.GetAccountByUsername(username); existing != nil {
		return nexuserr.AlreadyExists("account %q already exists", username)
	}
	verifier, err := hashPassword(req.Password)
	if err != nil {
		return nexuserr.Internal(err)
	}
	_, err = d.Store.CreateAccount(store.Account{
		Username: username, PasswordVerifier: verifier, Admin: req.Admin,
		Shared: req.Shared, Enabled: true, Permissions: req.Permissions,
	})
	if err != nil {
		return nexuserr.Database(err)
	}
	d.audit(caller.Username, "user_create", username)
	return nil
}

// HandleUserEdit updates an account's permission set and/or enabled flag,
// applying the same delegation ceiling as UserCreate, then notifies any live
// sessions of the account (spec.md §4.8 step 4, §6 PermissionsUpdated).
func (d *Deps) HandleUserEdit(callerID uint32, req protocol.UserEditRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserEdit) {
		return nexuserr.PermissionDenied("missing UserEdit permission")
	}
	if !canDelegate(caller.Admin, caller.Permissions, req.Permissions) {
		return nexuserr.PermissionDenied("cannot grant permissions you do not hold")
	}
	account, err := d.Store.GetAccountByUsername(req.Username)
	if err != nil {
		return nexuserr.Database(err)
	}
	if account == nil {
		return nexuserr.NotFound("account %q not found", req.Username)
	}
	if req.Permissions != nil {
		account.Permissions = req.Permissions
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}
	if err := d.Store.UpdateAccount(*account); err != nil {
		return nexuserr.Database(err)
	}
	d.audit(caller.Username, "user_edit", account.Username)
	for _, s := range d.Sessions.SessionsByUsername(account.Username) {
		d.Sessions.SendToSession(s.ID, protocol.PermissionsUpdated{
			Type: protocol.TypePermissionsUpdated, Username: account.Username, Permissions: account.Permissions,
		})
	}
	return nil
}

// HandleUserUpdate renames an account and propagates the rename across C3
// and C5 for any live sessions (spec.md §4.8 UserUpdate state machine).
func (d *Deps) HandleUserUpdate(callerID uint32, req protocol.UserUpdateRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserUpdate) {
		return nexuserr.PermissionDenied("missing UserUpdate permission")
	}
	newUsername := strings.TrimSpace(req.NewUsername)
	if newUsername == "" {
		return nexuserr.Validation("invalid_username", "new username is empty")
	}
	account, err := d.Store.GetAccountByUsername(req.Username)
	if err != nil {
		return nexuserr.Database(err)
	}
	if account == nil {
		return nexuserr.NotFound("account %q not found", req.Username)
	}
	if existing, _ := d.Store.GetAccountByUsername(newUsername); existing != nil {
		return nexuserr.Conflict("username %q already taken", newUsername)
	}

	oldUsername := account.Username
	account.Username = newUsername
	if err := d.Store.UpdateAccount(*account); err != nil {
		return nexuserr.Database(err)
	}
	d.audit(caller.Username, "user_update", oldUsername+" -> "+newUsername)

	live := d.Sessions.SessionsByUsername(oldUsername)
	touchedChannels := make(map[string]bool)
	for _, s := range live {
		d.Sessions.RenameSessionUsername(s.ID, newUsername)
		if !s.Shared {
			d.Voice.UpdateNickname(s.ID, newUsername)
		}
		for _, ch := range d.Channels.ChannelsForSession(s.ID, true) {
			touchedChannels[ch.Name] = true
		}
	}
	for name := range touchedChannels {
		d.broadcastChannel(name, struct {
			Type     string `json:"type"`
			Username string `json:"username"`
		}{protocol.TypeUserUpdated, newUsername})
	}
	return nil
}

// HandleUserDelete implements the UserDelete state machine verbatim from
// spec.md §4.8: self-deletion and guest deletion rejected, non-admin cannot
// delete admin, last-remaining admin undeletable, then on success every live
// session is torn down from voice, channels (with fan-outs), and finally C3.
func (d *Deps) HandleUserDelete(callerID uint32, req protocol.UserDeleteRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserDelete) {
		return nexuserr.PermissionDenied("missing UserDelete permission")
	}
	if strings.EqualFold(req.Username, caller.Username) {
		return nexuserr.Validation("self_delete", "cannot delete your own account")
	}
	if strings.EqualFold(req.Username, store.GuestUsername) {
		return nexuserr.Validation("guest_undeletable", "the guest account cannot be deleted")
	}
	account, err := d.Store.GetAccountByUsername(req.Username)
	if err != nil {
		return nexuserr.Database(err)
	}
	if account == nil {
		return nexuserr.NotFound("account %q not found", req.Username)
	}
	if account.Admin && !caller.Admin {
		return nexuserr.PermissionDenied("non-admins cannot delete an admin account")
	}
	if account.Admin {
		n, err := d.Store.CountAdmins()
		if err != nil {
			return nexuserr.Database(err)
		}
		if n <= 1 {
			return nexuserr.Conflict("the last remaining admin cannot be deleted")
		}
	}
	if err := d.Store.DeleteAccount(account.ID); err != nil {
		return nexuserr.Database(err)
	}
	d.audit(caller.Username, "user_delete", account.Username)

	for _, s := range d.Sessions.SessionsByUsername(account.Username) {
		d.Sessions.SendToSession(s.ID, protocol.ErrorFrame{
			Type: protocol.TypeError, Kind: "account_deleted", Message: "your account has been deleted",
		})
		if info, ok := d.Voice.RemoveBySessionID(s.ID); ok && info.ShouldBroadcast {
			for _, id := range d.Voice.GetSessionsForTarget(info.TargetKey) {
				d.Sessions.SendToSession(id, protocol.VoiceUserLeft{
					Type: protocol.TypeVoiceUserLeft, TargetKey: info.TargetKey, Nickname: s.Nickname,
				})
			}
		}
		for _, name := range d.Channels.RemoveFromAll(s.ID) {
			if remaining, ok := d.Channels.Get(name); ok {
				if !d.Sessions.SessionsContainNickname(membersIDs(remaining.Members), s.Nickname, 0) {
					d.broadcastChannel(name, protocol.ChatUserLeft{
						Type: protocol.TypeChatUserLeft, Channel: name, Nickname: s.Nickname,
					})
				}
			}
		}
		d.Sessions.RemoveSession(s.ID)
	}
	return nil
}

func membersIDs(members map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// HandleUserKick requires UserKick; each targeted session is sent an
// informational error and then removed from C3, so its writer task delivers
// that error and exits, and the connection's next frame fails authentication
// and is disconnected.
func (d *Deps) HandleUserKick(callerID uint32, req protocol.UserKickRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermUserKick) {
		return nexuserr.PermissionDenied("missing UserKick permission")
	}
	targets := d.Sessions.SessionsByNickname(req.Nickname)
	if len(targets) == 0 {
		return nexuserr.NotFound("nickname %q is not connected", req.Nickname)
	}
	for _, s := range targets {
		d.Sessions.SendToSession(s.ID, protocol.ErrorFrame{
			Type: protocol.TypeError, Kind: "kicked", Message: req.Reason,
		})
		d.Sessions.RemoveSession(s.ID)
	}
	return nil
}

// HandleUserMessage relays a private message between two live nicknames.
func (d *Deps) HandleUserMessage(callerID uint32, req protocol.UserMessageRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nexuserr.Validation("empty_message", "message body is empty")
	}
	targets := d.Sessions.SessionsByNickname(req.Nickname)
	if len(targets) == 0 {
		return nexuserr.NotFound("nickname %q is not connected", req.Nickname)
	}
	for _, s := range targets {
		d.Sessions.SendToSession(s.ID, protocol.ChatMessage{
			Type: protocol.TypeUserMessage, Channel: "", Nickname: caller.Nickname, Body: body,
		})
	}
	return nil
}

// HandleUserAway toggles the caller's away flag.
func (d *Deps) HandleUserAway(callerID uint32, req protocol.UserAwayRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	caller.SetAway(req.Away)
	return nil
}
