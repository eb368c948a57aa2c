package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
)

func validateChannelName(name string) error {
	if !strings.HasPrefix(name, "#") || len(name) < 2 {
		return nexuserr.Validation("invalid_channel", "channel names must begin with #")
	}
	if len(name) > 64 {
		return nexuserr.Validation("invalid_channel", "channel name too long")
	}
	return nil
}

// HandleChatJoin implements §4.4 join plus the nickname-aware broadcast
// contract: ChatUserJoined is sent to existing members only when the
// joining session's nickname was not already represented in the channel.
func (d *Deps) HandleChatJoin(callerID uint32, req protocol.ChatJoinRequest) (*protocol.ChatJoinResponse, error) {
	if err := validateChannelName(req.Channel); err != nil {
		return nil, err
	}
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermChatJoin) {
		return nil, nexuserr.PermissionDenied("missing ChatJoin permission")
	}

	result, err := d.Channels.Join(req.Channel, callerID)
	if err != nil {
		if _, ok := err.(*channel.ErrTooManyChannels); ok {
			return nil, nexuserr.LimitExceeded("%v", err)
		}
		return nil, nexuserr.Internal(err)
	}

	if !result.AlreadyMember {
		alreadyRepresented := d.Sessions.SessionsContainNickname(result.Members, caller.Nickname, callerID)
		if !alreadyRepresented {
			d.broadcastChannelExcept(req.Channel, callerID, protocol.ChatUserJoined{
				Type: protocol.TypeChatUserJoined, Channel: req.Channel, Nickname: caller.Nickname,
			})
		}
	}

	return &protocol.ChatJoinResponse{
		Response:      protocol.Response{Type: protocol.TypeChatJoin, Success: true},
		Channel:       req.Channel,
		Topic:         result.Topic,
		Secret:        result.Secret,
		Members:       d.Sessions.UniqueNicknamesForSessions(result.Members),
		AlreadyMember: result.AlreadyMember,
	}, nil
}

// HandleChatLeave implements §4.4 leave plus the nickname-aware leave
// broadcast: ChatUserLeft fires only when no remaining session carries the
// leaver's nickname.
func (d *Deps) HandleChatLeave(callerID uint32, req protocol.ChatLeaveRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}

	remaining, ok := d.Channels.Leave(req.Channel, callerID)
	if !ok {
		return nexuserr.NotFound("not a member of %q", req.Channel)
	}

	if !d.Sessions.SessionsContainNickname(remaining, caller.Nickname, 0) {
		for _, id := range remaining {
			d.Sessions.SendToSession(id, protocol.ChatUserLeft{
				Type: protocol.TypeChatUserLeft, Channel: req.Channel, Nickname: caller.Nickname,
			})
		}
	}
	return nil
}

// HandleChatSend validates and relays a chat line, applying the near-duplicate
// dedup scan (spec.md §9 open question, resolved as Config.DedupWindow).
func (d *Deps) HandleChatSend(callerID uint32, req protocol.ChatSendRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nexuserr.Validation("empty_message", "message body is empty")
	}
	if len(body) > 4096 {
		return nexuserr.Validation("message_too_long", "message exceeds length limit")
	}
	ch, ok := d.Channels.Get(req.Channel)
	if !ok || !ch.Members[callerID] {
		return nexuserr.NotFound("not a member of %q", req.Channel)
	}

	dedupKey := fmt.Sprintf("%s\x00%s\x00%s", req.Channel, caller.Nickname, body)
	if d.Config.DedupWindow > 0 {
		for key, at := range d.recentChat {
			if time.Since(at) >= d.Config.DedupWindow {
				delete(d.recentChat, key)
			}
		}
		if last, seen := d.recentChat[dedupKey]; seen && time.Since(last) < d.Config.DedupWindow {
			return nil
		}
		d.recentChat[dedupKey] = time.Now()
	}

	d.broadcastChannel(req.Channel, protocol.ChatMessage{
		Type: protocol.TypeChatMessage, Channel: req.Channel, Nickname: caller.Nickname,
		Body: body, Timestamp: time.Now().Unix(),
	})
	return nil
}

// HandleChatTopicUpdate requires ChatTopicUpdate permission and persists
// through the channel manager, which itself releases its lock before any
// persistence I/O (spec.md §4.4).
func (d *Deps) HandleChatTopicUpdate(callerID uint32, req protocol.ChatTopicUpdateRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermChatTopicUpdate) {
		return nexuserr.PermissionDenied("missing ChatTopicUpdate permission")
	}
	if err := d.Channels.SetTopic(req.Channel, req.Topic, caller.Nickname); err != nil {
		return nexuserr.NotFound("%v", err)
	}
	d.audit(caller.Username, "chat_topic_update", req.Channel+": "+req.Topic)
	d.broadcastChannel(req.Channel, protocol.ChatTopicUpdated{
		Type: protocol.TypeChatTopicUpdated, Channel: req.Channel, Topic: req.Topic, Setter: caller.Nickname,
	})
	return nil
}

// HandleChatSetSecret requires ChatSetSecret permission.
func (d *Deps) HandleChatSetSecret(callerID uint32, req protocol.ChatSetSecretRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermChatSetSecret) {
		return nexuserr.PermissionDenied("missing ChatSetSecret permission")
	}
	if err := d.Channels.SetSecret(req.Channel, req.Secret); err != nil {
		return nexuserr.NotFound("%v", err)
	}
	d.audit(caller.Username, "chat_set_secret", fmt.Sprintf("%s: %t", req.Channel, req.Secret))
	return nil
}

// HandleChatUserList returns the unique nicknames currently in a channel.
func (d *Deps) HandleChatUserList(callerID uint32, req protocol.ChatUserListRequest) (*protocol.ChatUserListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	ch, ok := d.Channels.Get(req.Channel)
	if !ok || (ch.Secret && !caller.Admin && !ch.Members[callerID]) {
		return nil, nexuserr.NotFound("channel %q not found", req.Channel)
	}
	members := make([]uint32, 0, len(ch.Members))
	for id := range ch.Members {
		members = append(members, id)
	}
	return &protocol.ChatUserListResponse{
		Response: protocol.Response{Type: protocol.TypeChatUserList, Success: true},
		Channel:  req.Channel,
		Users:    d.Sessions.UniqueNicknamesForSessions(members),
	}, nil
}

// HandleChatChannelList returns the channels visible to the caller (spec.md §4.4 list()).
func (d *Deps) HandleChatChannelList(callerID uint32) (*protocol.ChatChannelListResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	return &protocol.ChatChannelListResponse{
		Response: protocol.Response{Type: protocol.TypeChatChannelList, Success: true},
		Channels: d.visibleChannelSummaries(callerID, caller.Admin),
	}, nil
}
