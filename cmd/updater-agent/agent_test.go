package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muurk/remoteupdate/internal/config"
	"github.com/muurk/remoteupdate/internal/discovery"
	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/ota"
)

func TestNewAgent(t *testing.T) {
	pass := "otapass"
	cfg := config.NewAgentConfig()
	cfg.Firmware.Dir = t.TempDir()
	cfg.Portal.BasePath = "/update"
	cfg.OTA = config.OTAConfig{Enabled: true, Password: &pass, Port: 4000}

	a, err := newAgent(cfg)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	defer func() {
		if err := a.close(); err != nil {
			t.Errorf("close() error = %v", err)
		}
	}()

	if a.listener == nil {
		t.Fatal("listener should be created when OTA is enabled")
	}

	got := map[string]string{}
	for _, f := range a.info() {
		got[f.Key] = f.Value
	}
	if !strings.Contains(got["Web updater"], "/update") {
		t.Errorf("Web updater = %q, want base path /update", got["Web updater"])
	}
	if got["Listener"] != "port 4000, password" {
		t.Errorf("Listener = %q, want %q", got["Listener"], "port 4000, password")
	}
	if got["Firmware"] != cfg.Firmware.Dir {
		t.Errorf("Firmware = %q, want %q", got["Firmware"], cfg.Firmware.Dir)
	}
}

func TestNewAgent_NothingEnabled(t *testing.T) {
	cfg := config.NewAgentConfig()
	cfg.Firmware.Dir = t.TempDir()
	cfg.Portal.Enabled = false

	a, err := newAgent(cfg)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	defer func() { _ = a.close() }()

	if a.listener != nil {
		t.Error("listener should be nil when OTA is disabled")
	}
	if fields := a.info(); len(fields) != 1 || fields[0].Key != "Firmware" {
		t.Errorf("info() = %+v, want only Firmware", fields)
	}
}

func TestNewAgent_ListenerOnly(t *testing.T) {
	cfg := config.NewAgentConfig()
	cfg.Firmware.Dir = t.TempDir()
	cfg.Portal.Enabled = false
	cfg.OTA = config.OTAConfig{Enabled: true, Port: 4000}

	a, err := newAgent(cfg)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	defer func() { _ = a.close() }()

	if a.listener == nil {
		t.Fatal("listener should be created when OTA is enabled")
	}
	if a.listener.Announcer != a.advertiser {
		t.Error("listener should announce itself through the agent's advertiser")
	}
	if got := "_" + ota.ServiceProtocol + "._" + ota.ServiceTransport; got != discovery.UpdateServiceType {
		t.Errorf("listener service = %s, scanner browses %s", got, discovery.UpdateServiceType)
	}
	for _, f := range a.info() {
		if f.Key == "Listener" && f.Value != "port 4000, no password" {
			t.Errorf("Listener = %q, want %q", f.Value, "port 4000, no password")
		}
	}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("apply command was not run")
		return ""
	}
}

func TestAgent_ApplyKeepsImageUntilDone(t *testing.T) {
	cfg := config.NewAgentConfig()
	cfg.Firmware.Dir = t.TempDir()
	cfg.Portal.Enabled = false
	cfg.Firmware.ApplyCommand = "apply-firmware"

	a, err := newAgent(cfg)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	defer func() { _ = a.close() }()

	started := make(chan string, 2)
	proceed := make(chan struct{})
	var mu sync.Mutex
	var applied []string
	a.run = func(ctx context.Context, command, path string) ([]byte, error) {
		started <- path
		<-proceed
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		applied = append(applied, string(data))
		mu.Unlock()
		return nil, nil
	}

	first, err := a.store.Stage("portal", "a.bin", strings.NewReader("first"), "")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	a.staged(first)
	if got := waitFor(t, started); got != first.Path {
		t.Fatalf("apply started on %s, want %s", got, first.Path)
	}

	second, err := a.store.Stage("ota", "b.bin", strings.NewReader("second"), "")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	a.staged(second)
	if _, err := os.Stat(first.Path); err != nil {
		t.Fatalf("image under apply was removed by a newer upload: %v", err)
	}

	proceed <- struct{}{}
	if got := waitFor(t, started); got != second.Path {
		t.Fatalf("follow-up apply started on %s, want %s", got, second.Path)
	}
	proceed <- struct{}{}
	a.applies.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 2 || applied[0] != "first" || applied[1] != "second" {
		t.Errorf("applied = %q, want [first second]", applied)
	}
	if _, err := a.store.Pending(); !errors.Is(err, firmware.ErrNoPendingImage) {
		t.Errorf("Pending() error = %v, want ErrNoPendingImage after apply", err)
	}
	for _, path := range []string{first.Path, second.Path} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should be removed after apply, stat err = %v", path, err)
		}
	}
}

func TestAgent_FailedApplyKeepsImage(t *testing.T) {
	cfg := config.NewAgentConfig()
	cfg.Firmware.Dir = t.TempDir()
	cfg.Portal.Enabled = false
	cfg.Firmware.ApplyCommand = "apply-firmware"

	a, err := newAgent(cfg)
	if err != nil {
		t.Fatalf("newAgent() error = %v", err)
	}
	defer func() { _ = a.close() }()
	a.run = func(context.Context, string, string) ([]byte, error) {
		return []byte("flash failed"), errors.New("exit status 1")
	}

	img, err := a.store.Stage("portal", "a.bin", strings.NewReader("data"), "")
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	a.staged(img)
	a.applies.Wait()

	if pending, err := a.store.Pending(); err != nil || pending.ID != img.ID {
		t.Errorf("Pending() = %+v, %v, want %s kept for retry", pending, err, img.ID)
	}
}
