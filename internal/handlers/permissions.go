// Package handlers implements the per-message handler dispatch (spec.md
// §4.8, C9): authentication gate, input validation, session lookup,
// permission check, state mutation, notification fan-out, in that order,
// for every request type in §6.
//
// Grounded on rustyguts-bken/server/client.go's processControl giant switch
// (validate, owner-only gate, mutate, broadcast — one case per message
// type) and internal/ws/handler.go's hello/snapshot/broadcast handshake
// shape for Login, generalized from the teacher's single "room owner" gate
// into the spec's per-permission admin/non-admin delegation model.
package handlers

// Permission names, matched against an account's stored permission set
// (spec.md §4.8 step 4: "every mutating command has a matching permission").
const (
	PermChatJoin        = "ChatJoin"
	PermChatCreate      = "ChatCreate"
	PermChatTopicUpdate = "ChatTopicUpdate"
	PermChatSetSecret   = "ChatSetSecret"
	PermUserCreate      = "UserCreate"
	PermUserEdit        = "UserEdit"
	PermUserUpdate      = "UserUpdate"
	PermUserDelete      = "UserDelete"
	PermUserList        = "UserList"
	PermUserKick        = "UserKick"
	PermUserBroadcast   = "UserBroadcast"
	PermVoiceJoin       = "VoiceJoin"
	PermFileCreateDir   = "FileCreateDir"
	PermFileDelete      = "FileDelete"
	PermFileRename      = "FileRename"
	PermFileRoot        = "FileRoot"
	PermBanAdd          = "BanAdd"
	PermBanRemove       = "BanRemove"
	PermTrustAdd        = "TrustAdd"
	PermTrustRemove     = "TrustRemove"
	PermServerInfo      = "ServerInfoUpdate"
	PermNewsCreate      = "NewsCreate"
	PermNewsEdit        = "NewsEdit"
	PermNewsDelete      = "NewsDelete"
	PermConnMonitor     = "ConnectionMonitor"
)

// hasPermission centralizes the admin-bypass rule (spec.md §4.8 step 4:
// "Admins pass all checks implicitly").
func hasPermission(admin bool, perms map[string]bool, perm string) bool {
	if admin {
		return true
	}
	return perms[perm]
}

// canDelegate reports whether a non-admin granting perms to another account
// is only granting permissions they themselves hold (spec.md §4.8 step 4).
func canDelegate(admin bool, granterPerms map[string]bool, requested []string) bool {
	if admin {
		return true
	}
	for _, p := range requested {
		if !granterPerms[p] {
			return false
		}
	}
	return true
}
