package pipeline

import (
	"context"
	"net"
	"net/http"
	"net/netip"

	"github.com/gorilla/websocket"
	"github.com/nexusbbs/nexus/internal/session"
)

// wsUpgrader matches rustyguts-bken's internal/ws/handler.go: permissive
// origin check (Nexus clients are not served from a browser origin this
// listener needs to police), same library.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebSocket runs an HTTP server whose only route upgrades to a
// WebSocket carrying the same newline-delimited-JSON frames as the main TCP
// port, one JSON object per TEXT frame (spec.md §6: "optional TLS +
// WebSocket on two further ports").
func (s *Server) serveWebSocket(ln net.Listener, done <-chan struct{}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.serveWSConn(w, r, false)
	})
	srv := &http.Server{Handler: mux}
	go func() {
		<-done
		srv.Close()
	}()
	if err := srv.Serve(ln); err != nil {
		s.log.Debug("websocket listener closed", "err", err)
	}
}

// serveTransferWebSocket is the WebSocket analogue of the raw transfer port:
// a binary-message stream framed exactly like the TCP transfer connection.
func (s *Server) serveTransferWebSocket(ln net.Listener, done <-chan struct{}) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.serveWSConn(w, r, true)
	})
	srv := &http.Server{Handler: mux}
	go func() {
		<-done
		srv.Close()
	}()
	if err := srv.Serve(ln); err != nil {
		s.log.Debug("transfer websocket listener closed", "err", err)
	}
}

func (s *Server) serveWSConn(w http.ResponseWriter, r *http.Request, isTransfer bool) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !s.ipCache.ShouldAllow(ip) {
		return
	}

	if isTransfer {
		s.serveTransferWSConn(conn, conn.RemoteAddr().String())
		return
	}

	guard, ok := s.connTrack.TryAcquireMain(host)
	if !ok {
		return
	}
	defer guard.Release()

	s.serveWSFrames(conn, conn.RemoteAddr().String())
}

// serveWSFrames mirrors serveFrames but reads/writes whole WebSocket TEXT
// messages instead of newline-delimited lines from a byte stream.
func (s *Server) serveWSFrames(conn *websocket.Conn, peerAddr string) {
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
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		result := s.deps.Dispatch(sessionID, authenticated, peerAddr, msg)
		if result.NewSession != nil {
			sessionID = result.NewSession.ID
			authenticated = true
			sess := result.NewSession
			s.wg.Go(func() { s.runWSWriter(writerCtx, conn, sess) })
		}
		if result.Response != nil {
			if err := conn.WriteJSON(result.Response); err != nil {
				return
			}
		}
		if result.Disconnect {
			return
		}
	}
}

func (s *Server) runWSWriter(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		sess.WaitForOutbound(ctx)
		msgs, live := sess.DrainOutbound()
		for _, m := range msgs {
			if err := conn.WriteJSON(m); err != nil {
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
