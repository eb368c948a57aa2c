package pipeline

import (
	"time"

	"github.com/nexusbbs/nexus/internal/protocol"
)

// defaultStaleVoiceTimeout bounds how long a voice session can sit without a
// first UDP/WebTransport packet before the reaper drops it (spec.md §4.5,
// §5: a session that joined but never completed the datagram handshake).
const defaultStaleVoiceTimeout = 30 * time.Second

const (
	defaultIPCacheRebuildEvery   = time.Minute
	defaultFileIndexRebuildEvery = 5 * time.Minute
	defaultStaleVoiceSweepEvery  = 15 * time.Second
)

// runBackgroundTasks drives the periodic maintenance spec.md §5 names: the
// IP rule cache's proactive rebuild, the stale-voice-session reaper, and the
// file index's periodic rebuild. Grounded on rustyguts-bken's server.go
// cleanup ticker and btnmasher-dircd's main.go conc.WaitGroup lifetime
// pattern (each task is its own goroutine under the same group, all torn
// down when done closes).
func (s *Server) runBackgroundTasks(done <-chan struct{}) {
	s.wg.Go(func() { s.runIPCacheRebuildTicker(done) })
	s.wg.Go(func() { s.runStaleVoiceReaper(done) })
	s.wg.Go(func() { s.runFileIndexer(done) })
}

func (s *Server) runIPCacheRebuildTicker(done <-chan struct{}) {
	interval := s.cfg.IPCacheRebuildEvery
	if interval <= 0 {
		interval = defaultIPCacheRebuildEvery
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.ipCache.RebuildIfNeeded()
		}
	}
}

func (s *Server) runFileIndexer(done <-chan struct{}) {
	interval := s.cfg.FileIndexRebuildEvery
	if interval <= 0 {
		interval = defaultFileIndexRebuildEvery
	}
	s.deps.FileIndex.RunPeriodic(done, interval)
}

// runStaleVoiceReaper drops voice sessions that joined but never produced a
// UDP/WebTransport packet, broadcasting a leave the same way
// HandleVoiceLeave does (spec.md §4.5: the leave-notification dedup rule
// applies uniformly, whether the leave is explicit or reaped).
func (s *Server) runStaleVoiceReaper(done <-chan struct{}) {
	timeout := s.cfg.StaleVoiceTimeout
	if timeout <= 0 {
		timeout = defaultStaleVoiceTimeout
	}
	t := time.NewTicker(defaultStaleVoiceSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.reapStaleVoiceSessions(timeout)
		}
	}
}

func (s *Server) reapStaleVoiceSessions(timeout time.Duration) {
	for _, token := range s.deps.Voice.FindStaleSessions(timeout) {
		vs, ok := s.deps.Voice.SessionByToken(token)
		if !ok {
			continue
		}
		nickname := vs.Nickname
		info, ok := s.deps.Voice.RemoveByToken(token)
		if !ok {
			continue
		}
		s.voice.remove(token)
		if info.ShouldBroadcast {
			for _, id := range s.deps.Voice.GetSessionsForTarget(info.TargetKey) {
				s.deps.Sessions.SendToSession(id, protocol.VoiceUserLeft{
					Type: protocol.TypeVoiceUserLeft, TargetKey: info.TargetKey, Nickname: nickname,
				})
			}
		}
	}
}
