package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"firestige.xyz/netdash/internal/api"
	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
	"firestige.xyz/netdash/internal/source/sourcetest"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "netdash.pid")
	configPath := writeConfig(t, tmpDir, `
netdash:
  capture:
    interface: eth0
  engine:
    autostart: true
    publish_interval: 20ms
  api:
    enabled: true
    listen: 127.0.0.1:0
  metrics:
    enabled: true
    listen: 127.0.0.1:0
  log:
    level: debug
    format: text
  control:
    pid_file: `+pidFile+`
`)

	d, err := New(configPath, WithOpener(sourcetest.NewOpener()))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}
	if pid, err := ReadPIDFile(pidFile); err != nil || pid != os.Getpid() {
		t.Errorf("PID file holds %d (%v), want %d", pid, err, os.Getpid())
	}

	client := api.NewClient(d.APIAddr(), time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for {
		h, err := client.Health(context.Background())
		if err != nil {
			t.Fatalf("health request failed: %v", err)
		}
		if h.State == engine.StateCapturing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine never reached capturing, state %s", h.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if state := d.Engine().Health().State; state != engine.StateIdle {
		t.Errorf("engine state after shutdown = %s, want idle", state)
	}

	// repeated Stop is a no-op
	d.Stop()
}

func TestDaemon_StopEndsSnapshotStreams(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
netdash:
  capture:
    interface: eth0
  engine:
    autostart: true
    publish_interval: 20ms
  api:
    enabled: true
    listen: 127.0.0.1:0
  metrics:
    enabled: false
  control:
    pid_file: ""
`)

	d, err := New(configPath, WithOpener(sourcetest.NewOpener()))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	client := api.NewClient(d.APIAddr(), time.Second)
	received := make(chan uint64, 256)
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- client.Stream(context.Background(), func(s *publisher.Snapshot) error {
			received <- s.Seq
			return nil
		})
	}()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		d.Stop()
		t.Fatal("stream never delivered a snapshot")
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop was held up by an open snapshot stream")
	}

	select {
	case err := <-streamDone:
		if err != nil {
			t.Errorf("stream ended with error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed by shutdown")
	}

	var last uint64
	for len(received) > 0 {
		last = <-received
	}
	if final := d.Engine().Latest(); final == nil || last != final.Seq {
		t.Errorf("stream ended at seq %d, want the final snapshot", last)
	}
}

func TestDaemon_AutostartFailureIsNotFatal(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
netdash:
  capture:
    interface: missing0
  engine:
    autostart: true
  api:
    enabled: false
  metrics:
    enabled: false
  control:
    pid_file: ""
`)

	opener := sourcetest.NewOpener(sourcetest.Result{Err: core.ErrInterfaceNotFound})
	d, err := New(configPath, WithOpener(opener))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("autostart failure should not fail Start: %v", err)
	}
	defer d.Stop()

	if state := d.Engine().Health().State; state != engine.StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestDaemon_ReplayDrainsAndExits(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
netdash:
  capture:
    file: /tmp/trace.pcap
  engine:
    autostart: true
  api:
    enabled: false
  metrics:
    enabled: false
  control:
    pid_file: ""
`)

	h := sourcetest.NewHandle(4)
	h.Fail(io.EOF)
	opener := sourcetest.NewOpener(sourcetest.Result{Handle: h})
	d, err := New(configPath, WithOpener(opener))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		d.Stop()
		t.Fatal("daemon did not exit after replay drained")
	}

	if cfgs := opener.Configs(); len(cfgs) != 1 || cfgs[0].Backend != source.BackendFile {
		t.Errorf("expected one file open, got %+v", cfgs)
	}
	if d.Engine().Latest() == nil {
		t.Error("expected a final snapshot after replay")
	}
}

func TestDaemon_ReplayReadErrorExits(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
netdash:
  capture:
    file: /tmp/truncated.pcap
  engine:
    autostart: true
  api:
    enabled: false
  metrics:
    enabled: false
  control:
    pid_file: ""
`)

	h := sourcetest.NewHandle(4)
	h.Fail(core.ErrCaptureInterrupted)
	opener := sourcetest.NewOpener(sourcetest.Result{Handle: h})
	d, err := New(configPath, WithOpener(opener))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	select {
	case err := <-runDone:
		if err == nil {
			t.Error("expected Run to report the read error")
		}
	case <-time.After(5 * time.Second):
		d.Stop()
		t.Fatal("daemon did not exit after a replay read error")
	}
	if calls := opener.Calls(); calls != 1 {
		t.Errorf("file was opened %d times, want 1", calls)
	}
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	base := `
netdash:
  api:
    enabled: false
  metrics:
    enabled: false
  control:
    pid_file: ""
  log:
    format: text
    level: `
	configPath := writeConfig(t, tmpDir, base+"info\n")

	d, err := New(configPath, WithOpener(sourcetest.NewOpener()))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	writeConfig(t, tmpDir, base+"debug\n")
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.config.Log.Level != "debug" {
		t.Errorf("expected level debug after reload, got %s", d.config.Log.Level)
	}

	writeConfig(t, tmpDir, base+"verbose\n")
	if err := d.Reload(); err == nil {
		t.Error("expected reload error for invalid level")
	}
	if d.config.Log.Level != "debug" {
		t.Errorf("failed reload must keep the previous level, got %s", d.config.Log.Level)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Capture.Interface = "eth0"

	ec := EngineConfig(cfg)
	if ec.Capture.Backend != source.BackendPcap {
		t.Errorf("backend = %s, want pcap", ec.Capture.Backend)
	}
	if ec.Aggregation.FlowCap != 4096 || ec.Aggregation.HistoryDepth != 12 {
		t.Errorf("unexpected aggregation bounds: %+v", ec.Aggregation)
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("default engine config should validate: %v", err)
	}

	cfg.Capture.File = "/tmp/trace.pcap"
	if got := EngineConfig(cfg).Capture.Backend; got != source.BackendFile {
		t.Errorf("backend with file = %s, want file", got)
	}
}

func TestReadPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netdash.pid")
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("expected error for missing PID file")
	}

	os.WriteFile(path, []byte("garbage\n"), 0644)
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("expected error for invalid PID file")
	}

	os.WriteFile(path, []byte("4242\n"), 0644)
	if pid, err := ReadPIDFile(path); err != nil || pid != 4242 {
		t.Errorf("ReadPIDFile = %d, %v", pid, err)
	}
}

func TestShutdownWithoutDaemon(t *testing.T) {
	if err := Shutdown(filepath.Join(t.TempDir(), "none.pid"), time.Second); err == nil {
		t.Error("expected error when no daemon is running")
	}
}

func TestWritePIDFileRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netdash.pid")

	// parent process is alive for the whole test
	os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())+"\n"), 0644)
	if err := writePIDFile(path); err == nil {
		t.Error("expected error while the recorded process is alive")
	}

	if err := removePIDFile(path); err != nil {
		t.Fatalf("removePIDFile: %v", err)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	if pid, _ := ReadPIDFile(path); pid != os.Getpid() {
		t.Errorf("PID file holds %d, want %d", pid, os.Getpid())
	}
}
