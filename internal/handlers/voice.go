package handlers

import (
	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/protocol"
)

// HandleVoiceJoin requires VoiceJoin and opens (or replaces) the caller's
// voice session for a channel or a two-nickname target (spec.md §3.2
// invariant 4: at most one voice session per session id).
func (d *Deps) HandleVoiceJoin(callerID uint32, req protocol.VoiceJoinRequest, peerAddr string) (*protocol.VoiceJoinResponse, error) {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return nil, err
	}
	if !hasPermission(caller.Admin, caller.Permissions, PermVoiceJoin) {
		return nil, nexuserr.PermissionDenied("missing VoiceJoin permission")
	}
	if len(req.Target) == 0 || len(req.Target) > 2 {
		return nil, nexuserr.Validation("invalid_target", "voice target must be one channel or two nicknames")
	}

	ip, err := parseIP(peerAddr)
	if err != nil {
		return nil, nexuserr.Internal(err)
	}

	vs := d.Voice.Add(callerID, caller.Nickname, req.Target, ip)

	existing := d.Voice.GetParticipants(vs.TargetKey)
	if !d.Sessions.SessionsContainNickname(d.Voice.GetSessionsForTarget(vs.TargetKey), caller.Nickname, callerID) {
		for _, id := range d.Voice.GetSessionsForTarget(vs.TargetKey) {
			if id == callerID {
				continue
			}
			d.Sessions.SendToSession(id, protocol.VoiceUserJoined{
				Type: protocol.TypeVoiceUserJoined, TargetKey: vs.TargetKey, Nickname: caller.Nickname,
			})
		}
	}

	return &protocol.VoiceJoinResponse{
		Response:     protocol.Response{Type: protocol.TypeVoiceJoin, Success: true},
		Token:        vs.Token,
		TargetKey:    vs.TargetKey,
		Participants: existing,
	}, nil
}

// HandleVoiceLeave tears down the caller's voice session, broadcasting a
// leave notification only when no other live session still carries the
// leaver's nickname under that target (spec.md §4.5).
func (d *Deps) HandleVoiceLeave(callerID uint32) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	info, ok := d.Voice.RemoveBySessionID(callerID)
	if !ok {
		return nexuserr.NotFound("no active voice session")
	}
	if info.ShouldBroadcast {
		for _, id := range d.Voice.GetSessionsForTarget(info.TargetKey) {
			d.Sessions.SendToSession(id, protocol.VoiceUserLeft{
				Type: protocol.TypeVoiceUserLeft, TargetKey: info.TargetKey, Nickname: caller.Nickname,
			})
		}
	}
	return nil
}

// HandleVoiceMute relays the caller's mute state to the rest of its voice target.
func (d *Deps) HandleVoiceMute(callerID uint32, req protocol.VoiceMuteRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	vs, ok := d.Voice.SessionByID(callerID)
	if !ok {
		return nexuserr.NotFound("no active voice session")
	}
	for _, id := range d.Voice.GetSessionsForTarget(vs.TargetKey) {
		if id == callerID {
			continue
		}
		d.Sessions.SendToSession(id, struct {
			Type     string `json:"type"`
			Nickname string `json:"nickname"`
			Muted    bool   `json:"muted"`
		}{protocol.TypeVoiceMuteChanged, caller.Nickname, req.Muted})
	}
	return nil
}

// HandleVoiceDeafen relays the caller's deafen state the same way HandleVoiceMute does.
func (d *Deps) HandleVoiceDeafen(callerID uint32, req protocol.VoiceDeafenRequest) error {
	caller, err := d.requireSession(callerID)
	if err != nil {
		return err
	}
	vs, ok := d.Voice.SessionByID(callerID)
	if !ok {
		return nexuserr.NotFound("no active voice session")
	}
	for _, id := range d.Voice.GetSessionsForTarget(vs.TargetKey) {
		if id == callerID {
			continue
		}
		d.Sessions.SendToSession(id, struct {
			Type     string `json:"type"`
			Nickname string `json:"nickname"`
			Deafened bool   `json:"deafened"`
		}{protocol.TypeVoiceMuteChanged, caller.Nickname, req.Deafened})
	}
	return nil
}
