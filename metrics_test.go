package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nexusbbs/nexus/internal/channel"
	"github.com/nexusbbs/nexus/internal/conntrack"
	"github.com/nexusbbs/nexus/internal/fileindex"
	"github.com/nexusbbs/nexus/internal/handlers"
	"github.com/nexusbbs/nexus/internal/ipcache"
	"github.com/nexusbbs/nexus/internal/pathresolve"
	"github.com/nexusbbs/nexus/internal/session"
	"github.com/nexusbbs/nexus/internal/transfer"
	"github.com/nexusbbs/nexus/internal/voice"
	"github.com/nexusbbs/nexus/store"
)

func metricsTestDeps(t *testing.T) *handlers.Deps {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return handlers.NewDeps(
		session.New(),
		channel.New(0, st),
		voice.New(),
		transfer.New(),
		ipcache.New(nil),
		conntrack.New(0, 0),
		st,
		fileindex.New(t.TempDir()+"/index.csv", t.TempDir(), nil),
		pathresolve.New(t.TempDir(), nil),
		handlers.Config{ServerName: "Nexus BBS", ServerVersion: "test"},
		nil,
	)
}

func TestRunMetricsLogsWhenActive(t *testing.T) {
	deps := metricsTestDeps(t)
	deps.Sessions.AddSession(session.AddParams{Username: "alice", Nickname: "alice"})

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, deps, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	output := buf.String()
	if !strings.Contains(output, "[metrics]") {
		t.Errorf("expected metrics log output, got: %q", output)
	}
	if !strings.Contains(output, "sessions=1") {
		t.Errorf("expected sessions=1 in output, got: %q", output)
	}
}

func TestRunMetricsSilentWhenEmpty(t *testing.T) {
	deps := metricsTestDeps(t)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, deps, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(buf.String(), "[metrics]") {
		t.Errorf("expected no output for an idle server, got: %q", buf.String())
	}
}

func TestRunMetricsStopsOnCancel(t *testing.T) {
	deps := metricsTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunMetrics(ctx, deps, 50*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMetrics did not exit after cancel")
	}
}
