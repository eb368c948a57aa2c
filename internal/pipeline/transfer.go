package pipeline

import (
	"encoding/json"
	"io"
	"net"
	"net/netip"
	"os"

	"github.com/gorilla/websocket"
	"github.com/nexusbbs/nexus/internal/protocol"
	"github.com/nexusbbs/nexus/internal/transfer"
)

// transferChunkSize matches the registry's bytes-transferred accounting
// granularity (spec.md §4.6: progress is an atomic counter updated as I/O
// proceeds, not just at completion).
const transferChunkSize = 32 * 1024

// acceptTransferLoop runs the dedicated transfer port: the same
// guard-then-cache-then-TLS admission sequence as the main port, but the
// first frame read is a TransferHello claiming a token minted by
// HandleFileTransferOpen on the main connection (spec.md §6: "file-transfer
// open/close (on transfer port)").
func (s *Server) acceptTransferLoop(ln net.Listener, done <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				continue
			}
		}
		s.wg.Go(func() { s.handleTransferConn(conn) })
	}
}

func (s *Server) handleTransferConn(conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}

	guard, ok := s.connTrack.TryAcquireTransfer(host)
	if !ok {
		return
	}
	defer guard.Release()

	s.ipCache.RebuildIfNeeded()
	ip, err := netip.ParseAddr(host)
	if err != nil || !s.ipCache.ShouldAllow(ip) {
		return
	}

	tlsConn, ok := conn.(interface{ Handshake() error })
	if ok {
		if err := tlsConn.Handshake(); err != nil {
			return
		}
	}

	dec := json.NewDecoder(conn)
	var hello protocol.TransferHello
	if err := dec.Decode(&hello); err != nil {
		return
	}

	s.runTransfer(hello.Token, io.MultiReader(dec.Buffered(), conn), conn)
}

func (s *Server) serveTransferWSConn(conn *websocket.Conn, peerAddr string) {
	var hello protocol.TransferHello
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	stream := &wsStream{conn: conn}
	s.runTransfer(hello.Token, stream, stream)
}

// runTransfer streams one registered transfer's file payload, selecting
// between the I/O step and the one-shot cancel channel at each chunk
// boundary (spec.md §4.6, §5: "select between the I/O step and the cancel
// receiver at each chunk boundary").
func (s *Server) runTransfer(token string, r io.Reader, w io.Writer) {
	t, cancelCh, ok := s.deps.Transfers.GetByToken(token)
	if !ok {
		return
	}
	defer s.deps.Transfers.Unregister(t.ID)

	var err error
	switch t.Direction {
	case transfer.Download:
		err = s.streamOut(t, w, cancelCh)
	case transfer.Upload:
		err = s.streamIn(t, r, cancelCh)
	}
	if err != nil {
		s.log.Debug("transfer ended", "transfer_id", t.ID, "err", err)
	}
}

func (s *Server) streamOut(t *transfer.ActiveTransfer, w io.Writer, cancel <-chan struct{}) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, transferChunkSize)
	for {
		select {
		case <-cancel:
			return nil
		default:
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			t.AddBytesTransferred(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func (s *Server) streamIn(t *transfer.ActiveTransfer, r io.Reader, cancel <-chan struct{}) error {
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	defer s.deps.FileIndex.MarkDirty()

	buf := make([]byte, transferChunkSize)
	for {
		select {
		case <-cancel:
			return nil
		default:
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			t.AddBytesTransferred(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

// wsStream adapts a *websocket.Conn's per-message BINARY frames to
// io.Reader/io.Writer, buffering the remainder of a message across Read
// calls smaller than transferChunkSize.
type wsStream struct {
	conn *websocket.Conn
	rest []byte
}

func (w *wsStream) Read(p []byte) (int, error) {
	if len(w.rest) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.rest = data
	}
	n := copy(p, w.rest)
	w.rest = w.rest[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
