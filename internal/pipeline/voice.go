package pipeline

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/nexusbbs/nexus/internal/protocol"
)

// maxVoiceDatagram bounds one relayed voice frame; larger datagrams are
// dropped rather than fragmented (spec.md §1: frame routing only, codecs and
// playback are out of scope — the relay never interprets the payload).
const maxVoiceDatagram = 1500

// voiceRelay maps a voice-session token (minted by HandleVoiceJoin on the
// main control connection) to the WebTransport session carrying its
// datagrams, so incoming frames can be fanned out to every other
// participant under the same target (spec.md §4.5's TargetKey).
//
// quic-go/webtransport-go's datagram channel stands in for the spec's
// DTLS/UDP voice plane — same "TCP signals, UDP carries" shape, same
// multiplexed-over-QUIC transport already used by the retrieved server for
// its control streams.
type voiceRelay struct {
	mu      sync.RWMutex
	byToken map[string]*webtransport.Session
}

func newVoiceRelay() *voiceRelay {
	return &voiceRelay{byToken: make(map[string]*webtransport.Session)}
}

func (v *voiceRelay) put(token string, sess *webtransport.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byToken[token] = sess
}

func (v *voiceRelay) remove(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.byToken, token)
}

func (v *voiceRelay) get(token string) (*webtransport.Session, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.byToken[token]
	return s, ok
}

// runVoiceServer runs the WebTransport voice listener on the main port's
// UDP side (spec.md §6: "UDP + DTLS on the main port for voice" — QUIC
// already multiplexes over one UDP socket, so the WebTransport listener
// binds the identical address as the TCP main port).
func (s *Server) runVoiceServer(done <-chan struct{}) {
	wt := &webtransport.Server{
		H3: http3.Server{
			Addr:      net.JoinHostPort(s.cfg.BindAddr, strconv.Itoa(s.cfg.MainPort)),
			TLSConfig: s.tlsConfig,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/voice", func(w http.ResponseWriter, r *http.Request) {
		sess, err := wt.Upgrade(w, r)
		if err != nil {
			return
		}
		s.wg.Go(func() { s.handleVoiceSession(sess) })
	})
	wt.H3.Handler = mux

	go func() {
		<-done
		wt.Close()
	}()

	if err := wt.ListenAndServe(); err != nil {
		s.log.Debug("voice listener closed", "err", err)
	}
}

// handleVoiceSession reads the session's claiming token off its first
// stream, then relays datagrams to every other participant under the same
// TargetKey until the session ends (spec.md §4.5 VoiceJoin/fan-out).
func (s *Server) handleVoiceSession(sess *webtransport.Session) {
	ctx := context.Background()
	defer sess.CloseWithError(0, "")

	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		return
	}
	var hello protocol.TransferHello // {"token": "..."} — reused shape, a bare token claim
	dec := json.NewDecoder(stream)
	if err := dec.Decode(&hello); err != nil {
		return
	}
	token := hello.Token

	if _, ok := s.deps.Voice.SessionByToken(token); !ok {
		return
	}
	s.deps.Voice.SetUDPAddr(token, sess.RemoteAddr().String())
	s.voice.put(token, sess)
	defer s.voice.remove(token)

	for {
		data, err := sess.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if len(data) == 0 || len(data) > maxVoiceDatagram {
			continue
		}
		s.relayVoiceDatagram(token, data)
	}
}

// relayVoiceDatagram fans a voice frame out to every other live participant
// under the sender's target, matching rustyguts-bken's Room.Broadcast
// snapshot-then-send-outside-the-lock shape: look up targets under the
// registry's lock, then send without holding it.
func (s *Server) relayVoiceDatagram(senderToken string, data []byte) {
	sess, ok := s.deps.Voice.SessionByToken(senderToken)
	if !ok {
		return
	}
	for _, sid := range s.deps.Voice.GetSessionsForTarget(sess.TargetKey) {
		other, ok := s.deps.Voice.SessionByID(sid)
		if !ok || other.Token == senderToken {
			continue
		}
		if conn, ok := s.voice.get(other.Token); ok {
			_ = conn.SendDatagram(data)
		}
	}
}
