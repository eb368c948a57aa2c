package handlers

import (
	"encoding/json"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
)

// Result is what the connection pipeline (C10) does with one dispatched
// frame: a response to write back (nil for a successful fire-and-forget
// notification handler), whether the session must be torn down, and, for a
// successful Login, the newly installed session the pipeline must remember
// for every subsequent frame on this connection.
type Result struct {
	Response   any
	Disconnect bool
	NewSession *session.Session
}

// Dispatch decodes one newline-delimited JSON frame and routes it to its
// handler, enforcing the invariant order from spec.md §4.8: the
// authentication gate happens here (step 1/3), before any handler-specific
// validation or permission check runs.
//
// sessionID/authenticated describe the connection's current state as tracked
// by the pipeline; peerAddr is the remote address used for Login and
// VoiceJoin's IP bookkeeping.
func (d *Deps) Dispatch(sessionID uint32, authenticated bool, peerAddr string, raw []byte) Result {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errorResult(nexuserr.Validation("malformed_frame", "could not parse frame"))
	}

	if !authenticated && env.Type != protocol.TypeHandshake && env.Type != protocol.TypeLogin {
		return errorResult(nexuserr.AuthenticationRequired("login required"))
	}

	switch env.Type {
	case protocol.TypeHandshake:
		var req protocol.HandshakeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResult(nexuserr.Validation("malformed_frame", "bad handshake"))
		}
		return Result{Response: d.HandleHandshake(req)}

	case protocol.TypeLogin:
		var req protocol.LoginRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResult(nexuserr.Validation("malformed_frame", "bad login"))
		}
		sess, resp, err := d.HandleLogin(req, peerAddr)
		if err != nil {
			return errorResult(err)
		}
		return Result{Response: resp, NewSession: sess}

	case protocol.TypeChatSend:
		var req protocol.ChatSendRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleChatSend(sessionID, req) })
	case protocol.TypeChatJoin:
		var req protocol.ChatJoinRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleChatJoin(sessionID, req) })
	case protocol.TypeChatLeave:
		var req protocol.ChatLeaveRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleChatLeave(sessionID, req) })
	case protocol.TypeChatTopicUpdate:
		var req protocol.ChatTopicUpdateRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleChatTopicUpdate(sessionID, req) })
	case protocol.TypeChatUserList:
		var req protocol.ChatUserListRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleChatUserList(sessionID, req) })
	case protocol.TypeChatChannelList:
		return wrap(nil, func() (any, error) { return d.HandleChatChannelList(sessionID) })
	case protocol.TypeChatSetSecret:
		var req protocol.ChatSetSecretRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleChatSetSecret(sessionID, req) })

	case protocol.TypeUserList:
		var req protocol.UserListRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleUserList(sessionID, req) })
	case protocol.TypeUserInfo:
		var req protocol.UserInfoRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleUserInfo(sessionID, req) })
	case protocol.TypeUserBroadcast:
		var req protocol.UserBroadcastRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserBroadcast(sessionID, req) })
	case protocol.TypeUserCreate:
		var req protocol.UserCreateRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserCreate(sessionID, req) })
	case protocol.TypeUserEdit:
		var req protocol.UserEditRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserEdit(sessionID, req) })
	case protocol.TypeUserUpdate:
		var req protocol.UserUpdateRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserUpdate(sessionID, req) })
	case protocol.TypeUserDelete:
		var req protocol.UserDeleteRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserDelete(sessionID, req) })
	case protocol.TypeUserKick:
		var req protocol.UserKickRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserKick(sessionID, req) })
	case protocol.TypeUserMessage:
		var req protocol.UserMessageRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserMessage(sessionID, req) })
	case protocol.TypeUserAway:
		var req protocol.UserAwayRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleUserAway(sessionID, req) })

	case protocol.TypeVoiceJoin:
		var req protocol.VoiceJoinRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleVoiceJoin(sessionID, req, peerAddr) })
	case protocol.TypeVoiceLeave:
		return wrap(nil, func() (any, error) { return nil, d.HandleVoiceLeave(sessionID) })
	case protocol.TypeVoiceMute:
		var req protocol.VoiceMuteRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleVoiceMute(sessionID, req) })
	case protocol.TypeVoiceDeafen:
		var req protocol.VoiceDeafenRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleVoiceDeafen(sessionID, req) })

	case protocol.TypeFileList:
		var req protocol.FileListRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleFileList(sessionID, req) })
	case protocol.TypeFileCreateDir:
		var req protocol.FileCreateDirRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleFileCreateDir(sessionID, req) })
	case protocol.TypeFileDelete:
		var req protocol.FileDeleteRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleFileDelete(sessionID, req) })
	case protocol.TypeFileRename:
		var req protocol.FileRenameRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleFileRename(sessionID, req) })
	case protocol.TypeFileInfo:
		var req protocol.FileInfoRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleFileInfo(sessionID, req) })
	case protocol.TypeFileSearch:
		var req protocol.FileSearchRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleFileSearch(sessionID, req) })
	case protocol.TypeFileTransferOpen:
		var req protocol.FileTransferOpenRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleFileTransferOpen(sessionID, req, peerAddr) })
	case protocol.TypeFileTransferClose:
		var req protocol.FileTransferCloseRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleFileTransferClose(sessionID, req) })

	case protocol.TypeServerInfoUpdate:
		var req protocol.ServerInfoUpdateRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleServerInfoUpdate(sessionID, req) })
	case protocol.TypeBanAdd:
		var req protocol.BanAddRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleBanAdd(sessionID, req) })
	case protocol.TypeBanRemove:
		var req protocol.BanRemoveRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleBanRemove(sessionID, req) })
	case protocol.TypeBanList:
		return wrap(nil, func() (any, error) { return d.HandleBanList(sessionID) })
	case protocol.TypeTrustAdd:
		var req protocol.TrustAddRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleTrustAdd(sessionID, req) })
	case protocol.TypeTrustRemove:
		var req protocol.TrustRemoveRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleTrustRemove(sessionID, req) })
	case protocol.TypeTrustList:
		return wrap(nil, func() (any, error) { return d.HandleTrustList(sessionID) })
	case protocol.TypeConnectionMonitor:
		return wrap(nil, func() (any, error) { return d.HandleConnectionMonitor(sessionID) })

	case protocol.TypeNewsList:
		return wrap(nil, func() (any, error) { return d.HandleNewsList(sessionID) })
	case protocol.TypeNewsShow:
		var req protocol.NewsShowRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return d.HandleNewsShow(sessionID, req) })
	case protocol.TypeNewsCreate:
		var req protocol.NewsCreateRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleNewsCreate(sessionID, req) })
	case protocol.TypeNewsEdit, protocol.TypeNewsUpdate:
		// NewsUpdate is an alias of NewsEdit (spec.md §6 lists both names for
		// the single edit-in-place operation).
		var req protocol.NewsEditRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleNewsEdit(sessionID, req) })
	case protocol.TypeNewsDelete:
		var req protocol.NewsDeleteRequest
		return wrap(json.Unmarshal(raw, &req), func() (any, error) { return nil, d.HandleNewsDelete(sessionID, req) })

	default:
		return errorResult(nexuserr.Validation("unknown_type", "unrecognized frame type %q", env.Type))
	}
}

// wrap folds the common "decode error, then call handler" shape into one
// line per dispatch case. unmarshalErr is the result of decoding the
// request-specific struct (nil for request types with no payload fields).
func wrap(unmarshalErr error, call func() (any, error)) Result {
	if unmarshalErr != nil {
		return errorResult(nexuserr.Validation("malformed_frame", "could not parse request"))
	}
	resp, err := call()
	if err != nil {
		return errorResult(err)
	}
	return Result{Response: resp}
}

func errorResult(err error) Result {
	var classified *nexuserr.Error
	if !nexuserr.As(err, &classified) {
		classified = nexuserr.Internal(err)
	}
	return Result{
		Response: protocol.ErrorFrame{
			Type: protocol.TypeError, Kind: classified.Kind.String(), Message: classified.Error(), Code: classified.Code,
		},
		Disconnect: classified.Kind.Disconnects(),
	}
}
