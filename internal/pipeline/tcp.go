package pipeline

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/netip"

	"github.com/nexusbbs/nexus/internal/session"
)

// acceptLoop implements spec.md §6's accept sequence for the main control
// port: connection-tracker guard, then the IP rule cache, then TLS, then the
// newline-delimited JSON session loop. Each step that fails drops the socket
// silently, matching "if refused/not allowed, drop the socket silently."
func (s *Server) acceptLoop(ln net.Listener, done <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				s.log.Warn("accept failed", "err", err)
				continue
			}
		}
		s.wg.Go(func() { s.handleMainConn(conn) })
	}
}

func (s *Server) handleMainConn(conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}

	guard, ok := s.connTrack.TryAcquireMain(host)
	if !ok {
		return
	}
	defer guard.Release()

	s.ipCache.RebuildIfNeeded()
	ip, err := netip.ParseAddr(host)
	if err != nil || !s.ipCache.ShouldAllow(ip) {
		return
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		s.log.Debug("tls handshake failed", "peer", host, "err", err)
		return
	}

	s.serveFrames(tlsConn, conn.RemoteAddr().String())
}

// serveFrames runs the newline-delimited JSON read loop for one connection
// (grounded on rustyguts-bken's client.go handleClient: bufio-framed reads
// dispatched into one handler switch, a writer task draining the session's
// outbound queue, torn down via a single defer chain once the reader exits
// or the session is removed).
func (s *Server) serveFrames(conn net.Conn, peerAddr string) {
	reader := bufio.NewReaderSize(conn, s.cfg.MaxLineLength)
	writerCtx, cancelWriter := context.WithCancel(context.Background())
	defer cancelWriter()

	var sessionID uint32
	authenticated := false

	defer func() {
		if authenticated {
			s.deps.Sessions.RemoveSession(sessionID)
		}
	}()

	for {
		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			s.log.Debug("frame exceeds max line length", "peer", peerAddr)
			return
		}
		line = append([]byte(nil), line...)
		if len(line) > 0 {
			result := s.deps.Dispatch(sessionID, authenticated, peerAddr, line)
			if result.NewSession != nil {
				sessionID = result.NewSession.ID
				authenticated = true
				sess := result.NewSession
				s.wg.Go(func() { s.runWriter(writerCtx, conn, sess) })
			}
			if result.Response != nil {
				if encErr := writeFrame(conn, result.Response); encErr != nil {
					return
				}
			}
			if result.Disconnect {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "peer", peerAddr, "err", err)
			}
			return
		}
	}
}

// runWriter drains a session's outbound queue onto its connection until the
// queue closes (the session was removed) or the reader side cancels ctx.
func (s *Server) runWriter(ctx context.Context, conn net.Conn, sess *session.Session) {
	for {
		sess.WaitForOutbound(ctx)
		msgs, live := sess.DrainOutbound()
		for _, m := range msgs {
			if err := writeFrame(conn, m); err != nil {
				return
			}
		}
		if !live {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func writeFrame(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = conn.Write(b)
	return err
}
