package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/fileindex"
	"github.com/nexusbbs/nexus/internal/handlers"
	"github.com/nexusbbs/nexus/internal/httpapi"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/pipeline"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/internal/voice"
	"github.com/nexusbbs/nexus/store"
)

// Version is the build version reported by the "version" CLI subcommand and
// the server's own Handshake response.
const Version = "0.1.0"

// bootLogger is a logrus instance with the teacher's nested-field
// formatter, used for main's own startup, shutdown and fatal-error messages —
// per-connection and per-handler logging goes through log/slog instead,
// since C9/C10 are already built against *slog.Logger.
func bootLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component"},
	})
	return l
}

func main() {
	// Subcommands are checked before flag parsing, same as the CLI dispatch
	// shape this was grounded on.
	if len(os.Args) > 1 {
		cliDB := "nexus.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	bindAddr := flag.String("bind", "0.0.0.0", "listen address for every port")
	mainPort := flag.Int("port", 6667, "main control port (TLS)")
	transferPort := flag.Int("transfer-port", 6668, "file-transfer port (TLS)")
	wsEnabled := flag.Bool("websocket", true, "also serve the main and transfer ports over WebSocket")
	wsPort := flag.Int("ws-port", 6669, "main control port over WebSocket (TLS)")
	transferWSPort := flag.Int("transfer-ws-port", 6670, "file-transfer port over WebSocket (TLS)")
	dbPath := flag.String("db", "nexus.db", "SQLite database path")
	fileRoot := flag.String("file-root", "files", "file area root directory")
	hostname := flag.String("hostname", "", "TLS certificate hostname (Common Name + SAN)")
	certValidity := flag.Duration("cert-validity", 365*24*time.Hour, "self-signed TLS certificate validity")
	serverName := flag.String("server-name", "Nexus BBS", "server name announced to clients")
	motd := flag.String("motd", "", "message of the day shown at login")
	maxChannelsPerUser := flag.Int("max-channels-per-user", 10, "maximum channels one session may join at once")
	maxConnPerIP := flag.Int("max-main-per-ip", 4, "maximum concurrent main connections per IP")
	maxTransferPerIP := flag.Int("max-transfers-per-ip", 4, "maximum concurrent transfer connections per IP")
	dedupWindow := flag.Duration("chat-dedup-window", time.Second, "near-duplicate chat suppression window")
	staleVoiceTimeout := flag.Duration("stale-voice-timeout", 30*time.Second, "time before an un-signaled voice session is reaped")
	ipCacheRebuild := flag.Duration("ip-cache-rebuild-interval", time.Minute, "IP rule cache proactive rebuild interval")
	fileIndexRebuild := flag.Duration("file-index-rebuild-interval", 5*time.Minute, "file index rebuild interval (0 disables)")
	apiAddr := flag.String("api-addr", ":8080", "REST admin/monitor API listen address (empty to disable)")
	apiAdminToken := flag.String("api-admin-token", "", "shared secret required on REST admin routes (empty disables auth)")
	flag.Parse()

	boot := bootLogger().WithField("component", "boot")

	st, err := store.New(*dbPath)
	if err != nil {
		boot.Fatalf("open database: %v", err)
	}
	defer st.Close()
	seedDefaults(st, boot)

	absFileRoot, err := filepath.Abs(*fileRoot)
	if err != nil {
		boot.Fatalf("resolve file root: %v", err)
	}
	if err := os.MkdirAll(absFileRoot, 0o755); err != nil {
		boot.Fatalf("create file root: %v", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(absFileRoot)
	if err != nil {
		boot.Fatalf("canonicalize file root: %v", err)
	}

	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, *hostname)
	if err != nil {
		boot.Fatalf("generate TLS config: %v", err)
	}
	boot.Infof("TLS certificate fingerprint: %s", fingerprint)

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	sessions := session.New()
	channels := channel.New(*maxChannelsPerUser, st)
	if persisted, err := st.GetChannels(); err != nil {
		boot.Errorf("load persistent channels: %v", err)
	} else {
		names := make([]string, 0, len(persisted))
		for _, c := range persisted {
			names = append(names, c.DisplayName)
		}
		channels.InitializePersistentChannels(names)
	}

	voiceReg := voice.New()
	transfers := transfer.New()
	ipCache := ipcache.New(nil)
	if err := loadRules(st, ipCache); err != nil {
		boot.Errorf("load ip rules: %v", err)
	}
	connTrack := conntrack.New(*maxConnPerIP, *maxTransferPerIP)
	fileIdx := fileindex.New(filepath.Join(filepath.Dir(*dbPath), "file-index.csv"), canonicalRoot, log)
	pathResolver := pathresolve.New(canonicalRoot, filepath.EvalSymlinks)

	deps := handlers.NewDeps(
		sessions, channels, voiceReg, transfers, ipCache, connTrack, st, fileIdx, pathResolver,
		handlers.Config{
			MaxChannelsPerUser: *maxChannelsPerUser,
			DedupWindow:        *dedupWindow,
			ServerName:         *serverName,
			ServerFingerprint:  fingerprint,
			ServerVersion:      Version,
			MOTD:               *motd,
		},
		log,
	)

	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	done := ctx.Done()

	srv := pipeline.New(pipeline.Config{
		BindAddr:              *bindAddr,
		MainPort:              *mainPort,
		TransferPort:          *transferPort,
		WebSocketEnabled:      *wsEnabled,
		WebSocketPort:         *wsPort,
		TransferWSPort:        *transferWSPort,
		MaxLineLength:         pipeline.DefaultMaxLineLength,
		StaleVoiceTimeout:     *staleVoiceTimeout,
		IPCacheRebuildEvery:   *ipCacheRebuild,
		FileIndexRebuildEvery: *fileIndexRebuild,
	}, deps, tlsConfig, log)

	killSignals := make(chan os.Signal, 1)
	signal.Notify(killSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-killSignals
		boot.Infof("received %s, shutting down", sig)
		shutdown()
		sig = <-killSignals
		boot.Fatalf("forcefully shutting down, received %s again", sig)
	}()

	go RunMetrics(ctx, deps, time.Minute)

	if *apiAddr != "" {
		api := httpapi.New(deps, *apiAdminToken)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				boot.Errorf("http api: %v", err)
			}
		}()
		boot.Infof("REST admin/monitor API listening on %s", *apiAddr)
	}

	boot.Infof("%s listening: main=%d transfer=%d websocket=%v(%d/%d)",
		*serverName, *mainPort, *transferPort, *wsEnabled, *wsPort, *transferWSPort)

	if err := srv.Run(done); err != nil {
		boot.Fatalf("pipeline: %v", err)
	}
}

// seedDefaults writes factory-default settings and a default administrator
// account when they have not been created yet (first-run initialization).
func seedDefaults(st *store.Store, boot *logrus.Entry) {
	if _, ok, err := st.GetSetting("server_name"); err == nil && !ok {
		if err := st.SetSetting("server_name", "Nexus BBS"); err != nil {
			boot.Warnf("seed server_name: %v", err)
		}
	}

	n, err := st.CountAdmins()
	if err != nil {
		boot.Errorf("count admins: %v", err)
		return
	}
	if n > 0 {
		return
	}

	password, err := randomPassword()
	if err != nil {
		boot.Fatalf("generate bootstrap password: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		boot.Fatalf("hash bootstrap password: %v", err)
	}
	if _, err := st.CreateAccount(store.Account{
		Username:         "admin",
		PasswordVerifier: string(hash),
		Admin:            true,
		Enabled:          true,
	}); err != nil {
		boot.Fatalf("create bootstrap admin account: %v", err)
	}
	boot.Warnf("created bootstrap admin account: username=admin password=%s (change this immediately)", password)
}

// loadRules installs every persisted ban/trust rule into the IP rule cache
// at startup, before the first connection is accepted.
func loadRules(st *store.Store, cache *ipcache.Cache) error {
	bans, err := st.ListBans()
	if err != nil {
		return fmt.Errorf("list bans: %w", err)
	}
	for _, r := range bans {
		if err := cache.AddBan(r.CIDR, r.ExpiresAt, r.Nickname, r.Reason); err != nil {
			return fmt.Errorf("install ban %q: %w", r.CIDR, err)
		}
	}
	trusts, err := st.ListTrusts()
	if err != nil {
		return fmt.Errorf("list trusts: %w", err)
	}
	for _, r := range trusts {
		if err := cache.AddTrust(r.CIDR, r.ExpiresAt, r.Nickname, r.Reason); err != nil {
			return fmt.Errorf("install trust %q: %w", r.CIDR, err)
		}
	}
	return nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
