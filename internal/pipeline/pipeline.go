// Package pipeline implements the connection pipeline (spec.md §6, C10):
// accepting TCP/TLS and WebSocket control connections, a dedicated
// transfer-port listener for file data, and a datagram voice relay, all
// driving the same Deps.Dispatch entry point.
//
// Grounded on rustyguts-bken/server/server.go (TLS + websocket accept loop)
// and client.go's handleClient (accept -> handshake -> reader/writer split
// -> teardown via shared cancellation); the background-task lifetime group
// follows btnmasher-dircd's cmd/dircd/main.go conc.NewWaitGroup() idiom.
package pipeline

import (
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/handlers"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/sourcegraph/conc"
)

// Config carries the listener addresses and tunables spec.md §6's CLI
// section names (--bind, --port, --transfer-port, --websocket*).
type Config struct {
	BindAddr            string
	MainPort            int
	TransferPort        int
	WebSocketEnabled    bool
	WebSocketPort       int
	TransferWSPort      int
	MaxLineLength       int
	IdleTimeout         time.Duration
	StaleVoiceTimeout   time.Duration
	IPCacheRebuildEvery time.Duration
	FileIndexRebuildEvery time.Duration
}

// DefaultMaxLineLength bounds one newline-delimited JSON frame (spec.md §6:
// "bounded line length").
const DefaultMaxLineLength = 64 * 1024

// Server owns every listener and the background task group.
type Server struct {
	cfg       Config
	deps      *handlers.Deps
	tlsConfig *tls.Config
	ipCache   *ipcache.Cache
	connTrack *conntrack.Tracker
	log       *slog.Logger

	listeners []net.Listener
	wg        *conc.WaitGroup
	voice     *voiceRelay
}

// New wires a Server. tlsConfig must already carry the server's certificate
// and, for mutual authentication, ClientAuth (spec.md §1, §6); the config
// from tls.go requires any client certificate and sets no ClientCAs.
func New(cfg Config, deps *handlers.Deps, tlsConfig *tls.Config, log *slog.Logger) *Server {
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = DefaultMaxLineLength
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg, deps: deps, tlsConfig: tlsConfig,
		ipCache: deps.IPCache, connTrack: deps.ConnTrack,
		log: log, wg: conc.NewWaitGroup(), voice: newVoiceRelay(),
	}
}

// Run starts every configured listener and the background task group, then
// blocks until done closes. All listeners are closed on return.
func (s *Server) Run(done <-chan struct{}) error {
	mainLn, err := s.listenTLS(s.cfg.MainPort)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, mainLn)
	s.wg.Go(func() { s.acceptLoop(mainLn, done) })

	transferLn, err := s.listenTLS(s.cfg.TransferPort)
	if err != nil {
		s.closeAll()
		return err
	}
	s.listeners = append(s.listeners, transferLn)
	s.wg.Go(func() { s.acceptTransferLoop(transferLn, done) })

	if s.cfg.WebSocketEnabled {
		wsLn, err := s.listenTLS(s.cfg.WebSocketPort)
		if err != nil {
			s.closeAll()
			return err
		}
		s.listeners = append(s.listeners, wsLn)
		s.wg.Go(func() { s.serveWebSocket(wsLn, done) })

		wsTransferLn, err := s.listenTLS(s.cfg.TransferWSPort)
		if err != nil {
			s.closeAll()
			return err
		}
		s.listeners = append(s.listeners, wsTransferLn)
		s.wg.Go(func() { s.serveTransferWebSocket(wsTransferLn, done) })
	}

	s.wg.Go(func() { s.runVoiceServer(done) })
	s.wg.Go(func() { s.runBackgroundTasks(done) })

	<-done
	s.closeAll()
	s.wg.Wait()
	return nil
}

func (s *Server) listenTLS(port int) (net.Listener, error) {
	addr := net.JoinHostPort(s.cfg.BindAddr, strconv.Itoa(port))
	return tls.Listen("tcp", addr, s.tlsConfig)
}

func (s *Server) closeAll() {
	for _, ln := range s.listeners {
		ln.Close()
	}
}
