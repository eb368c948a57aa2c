package handlers

import (
	"strings"
	"unicode/utf8"

	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/session"
	"golang.org/x/crypto/bcrypt"
)

const maxNicknameLength = 32

// HandleHandshake answers the unauthenticated first frame with the
// server's version and fingerprint (spec.md §4.9).
func (d *Deps) HandleHandshake(req protocol.HandshakeRequest) protocol.HandshakeResponse {
	return protocol.HandshakeResponse{
		Response:      protocol.Response{Type: protocol.TypeHandshake, Success: true},
		ServerVersion: d.Config.ServerVersion,
		Fingerprint:   d.Config.ServerFingerprint,
	}
}

// HandleLogin authenticates a connection and, for shared accounts, claims a
// nickname (spec.md §4.8 Login state machine).
//
// Preconditions: handshake complete (enforced by the caller/pipeline, since
// Login and Handshake are the two unauthenticated request types). Password
// verifier check via the persistence collaborator. If the account is
// shared, the request must include a nickname, subject to charset and
// uniqueness-among-live-sessions. If regular, any supplied nickname is
// discarded; nickname is set equal to username.
func (d *Deps) HandleLogin(req protocol.LoginRequest, peerAddr string) (*session.Session, *protocol.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, nil, nexuserr.Validation("invalid_username", "username is required")
	}

	account, err := d.Store.GetAccountByUsername(username)
	if err != nil {
		return nil, nil, nexuserr.Database(err)
	}
	if account == nil || !account.Enabled {
		return nil, nil, nexuserr.AuthenticationRequired("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordVerifier), []byte(req.Password)) != nil {
		return nil, nil, nexuserr.AuthenticationRequired("invalid credentials")
	}

	nickname := username
	if account.Shared {
		nickname = strings.TrimSpace(req.Nickname)
		if nickname == "" {
			return nil, nil, nexuserr.Validation("nickname_required", "shared accounts must supply a nickname")
		}
		if err := validateNickname(nickname); err != nil {
			return nil, nil, err
		}
		if len(d.Sessions.SessionsByNickname(nickname)) > 0 {
			return nil, nil, nexuserr.Conflict("nickname %q is already in use", nickname)
		}
	}

	perms := make(map[string]bool, len(account.Permissions))
	for _, p := range account.Permissions {
		perms[p] = true
	}

	sess := d.Sessions.AddSession(session.AddParams{
		AccountID:   account.ID,
		Username:    account.Username,
		Nickname:    nickname,
		Admin:       account.Admin,
		Shared:      account.Shared,
		Permissions: perms,
		PeerAddr:    peerAddr,
		Locale:      req.Locale,
		Avatar:      req.Avatar,
	})

	resp := &protocol.LoginResponse{
		Response:    protocol.Response{Type: protocol.TypeLogin, Success: true},
		SessionID:   sess.ID,
		Nickname:    nickname,
		IsAdmin:     account.Admin,
		Permissions: account.Permissions,
		ServerInfo: protocol.ServerInfo{
			Name:        d.Config.ServerName,
			Fingerprint: d.Config.ServerFingerprint,
			MOTD:        d.Config.MOTD,
		},
		ChatInfo: protocol.ChatInfo{Channels: d.visibleChannelSummaries(sess.ID, account.Admin)},
		Locale:   req.Locale,
	}
	return sess, resp, nil
}

func (d *Deps) visibleChannelSummaries(sessionID uint32, isAdmin bool) []protocol.ChannelSummary {
	chans := d.Channels.ChannelsForSession(sessionID, isAdmin)
	out := make([]protocol.ChannelSummary, 0, len(chans))
	for _, ch := range chans {
		members := make([]uint32, 0, len(ch.Members))
		for id := range ch.Members {
			members = append(members, id)
		}
		out = append(out, protocol.ChannelSummary{
			Name:        ch.Name,
			Topic:       ch.Topic,
			Secret:      ch.Secret,
			Persistent:  ch.Persistent,
			MemberCount: len(d.Sessions.UniqueNicknamesForSessions(members)),
		})
	}
	return out
}

// hashPassword produces a bcrypt verifier for a new or changed account
// password (spec.md §4.8 UserCreate).
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateNickname(nick string) error {
	if !utf8.ValidString(nick) {
		return nexuserr.Validation("invalid_nickname", "nickname is not valid UTF-8")
	}
	if len(nick) == 0 || utf8.RuneCountInString(nick) > maxNicknameLength {
		return nexuserr.Validation("invalid_nickname", "nickname length out of bounds")
	}
	for _, r := range nick {
		if r < 0x20 || r == '#' {
			return nexuserr.Validation("invalid_nickname", "nickname contains a disallowed character")
		}
	}
	return nil
}
