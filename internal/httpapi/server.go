// Package httpapi implements the REST admin/monitor surface: health, a
// connection/transfer snapshot, the audit log, and a sandboxed file
// download route for operators who'd rather curl a file than drive the
// BBS protocol for it.
//
// Grounded on rustyguts-bken/server/internal/httpapi/server.go: the same
// echo.New + middleware.Recover + slog request-logger shape, the same
// Run(ctx, addr) lifecycle, and handleBlobDownload's traversal-safe
// Content-Disposition download pattern (generalized here onto C8's sandbox
// resolver instead of a flat blob store).
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nexusbbs/nexus/internal/handlers"
	"github.com/nexusbbs/nexus/internal/nexuserr"
	"github.com/nexusbbs/nexus/internal/transfer"
)

// adminTokenHeader carries the shared operator secret; unlike the BBS
// protocol's per-account permissions, this surface is meant for the
// process operating the server, not its users.
const adminTokenHeader = "X-Nexus-Admin-Token"

// Server is the Echo application exposing Nexus's operator-facing REST API.
type Server struct {
	echo       *echo.Echo
	deps       *handlers.Deps
	adminToken string
}

// New constructs an Echo app with the routes registered. adminToken gates
// every route but /health; an empty adminToken disables the gate entirely
// (local/dev use, matching the teacher's own unauthenticated monitor API).
func New(deps *handlers.Deps, adminToken string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, deps: deps, adminToken: adminToken}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			if req.URL.Path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", req.URL.Path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP())
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	admin := s.echo.Group("/api", s.requireAdminToken)
	admin.GET("/connections", s.handleConnections)
	admin.GET("/audit", s.handleAuditLog)
	admin.GET("/files", s.handleFileDownload)
}

// requireAdminToken implements the REST surface's own auth gate: a
// constant-time comparison against the configured shared secret, since this
// plane never goes through C3/C9's session-and-permission pipeline.
func (s *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminToken == "" {
			return next(c)
		}
		got := c.Request().Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid admin token")
		}
		return next(c)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure
// (mirrors the teacher's Run exactly: a buffered error channel racing
// ctx.Done, a bounded shutdown timeout).
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http api stopped")
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.deps.Sessions.Count(),
	})
}

type connectionSummary struct {
	ID       uint32 `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Admin    bool   `json:"admin"`
	Away     bool   `json:"away"`
}

type transferSummary struct {
	ID               uint64 `json:"id"`
	PeerAddr         string `json:"peer_addr"`
	Nickname         string `json:"nickname"`
	Direction        string `json:"direction"`
	Path             string `json:"path"`
	TotalSize        int64  `json:"total_size"`
	BytesTransferred int64  `json:"bytes_transferred"`
}

type connectionsResponse struct {
	Sessions  []connectionSummary `json:"sessions"`
	Transfers []transferSummary   `json:"transfers"`
}

// handleConnections is the REST analogue of HandleConnectionMonitor: the
// same C3/C6 snapshot, without requiring a BBS session id (spec.md §4.6).
func (s *Server) handleConnections(c echo.Context) error {
	sessions := s.deps.Sessions.All()
	out := connectionsResponse{Sessions: make([]connectionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, connectionSummary{
			ID: sess.ID, Username: sess.Username, Nickname: sess.Nickname,
			Admin: sess.Admin, Away: sess.Away(),
		})
	}
	for _, t := range s.deps.Transfers.Snapshot() {
		direction := "download"
		if t.Direction == transfer.Upload {
			direction = "upload"
		}
		out.Transfers = append(out.Transfers, transferSummary{
			ID: t.ID, PeerAddr: t.PeerAddr, Nickname: t.Nickname, Direction: direction,
			Path: t.Path, TotalSize: t.TotalSize(), BytesTransferred: t.BytesTransferred(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAuditLog(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.deps.Store.GetAuditLog(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("read audit log: %v", err))
	}
	return c.JSON(http.StatusOK, entries)
}

// handleFileDownload streams a shared-area file by sandbox-relative path,
// the operator escape hatch for retrieving a file without a BBS client
// (spec.md §4.7, C8 — Resolve with no username routes into the shared root).
func (s *Server) handleFileDownload(c echo.Context) error {
	clientPath := c.QueryParam("path")
	if strings.TrimSpace(clientPath) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	resolved, err := s.deps.PathResolver.Resolve(clientPath, "", false, false)
	if err != nil {
		return translatePathError(err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("open file: %v", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusBadRequest, "path is a directory")
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/octet-stream")
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size(), 10))
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, safeFilename(info.Name())))
	c.Response().WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(c.Response().Writer, f)
	return copyErr
}

func translatePathError(err error) error {
	var nerr *nexuserr.Error
	if errors.As(err, &nerr) {
		return echo.NewHTTPError(http.StatusBadRequest, nerr.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	name = strings.ReplaceAll(name, `"`, "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}
