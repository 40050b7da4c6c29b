package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/config"
	"github.com/muurk/remoteupdate/internal/discovery"
	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/link"
	"github.com/muurk/remoteupdate/internal/logging"
	"github.com/muurk/remoteupdate/internal/ota"
	"github.com/muurk/remoteupdate/internal/portal"
	"github.com/muurk/remoteupdate/internal/ui"
	"github.com/muurk/remoteupdate/internal/updater"
)

const (
	// applyTimeout bounds the firmware apply command.
	applyTimeout = 5 * time.Minute

	// multipartSlack is the room left for form framing around an upload.
	multipartSlack = 1 << 20
)

// agent owns the controller and the adapters it was built from.
type agent struct {
	ctrl       *updater.Controller
	store      *firmware.Store
	advertiser *discovery.Advertiser
	listener   *ota.Listener

	applyCmd string
	run      func(ctx context.Context, command, path string) ([]byte, error)

	// Applies run one at a time; images staged meanwhile coalesce into one
	// follow-up apply of the newest.
	applyMu     sync.Mutex
	applyQueued atomic.Bool
	applies     sync.WaitGroup
}

func runCommand(ctx context.Context, command, path string) ([]byte, error) {
	return exec.CommandContext(ctx, command, path).CombinedOutput()
}

func newAgent(cfg *config.AgentConfig) (*agent, error) {
	store, err := firmware.NewStore(cfg.Firmware.Dir)
	if err != nil {
		return nil, err
	}
	store.SetMaxSize(cfg.MaxImageSize())

	a := &agent{
		store:      store,
		advertiser: discovery.NewAdvertiser(cfg.Link.Interface),
		applyCmd:   cfg.Firmware.ApplyCommand,
		run:        runCommand,
	}
	deps := updater.Deps{
		Link:       link.NewMonitor(cfg.Link.Interface),
		Advertiser: a.advertiser,
	}

	if cfg.Portal.Enabled {
		uploads := portal.NewUploadHandler(store, cfg.Debug)
		uploads.OnStaged = a.staged
		deps.WebServer = portal.NewServer(portal.ServerConfig{
			SpoolDir:    store.Dir(),
			MaxBodySize: cfg.MaxImageSize() + multipartSlack,
		})
		deps.Uploader = uploads
	}
	if cfg.OTA.Enabled {
		a.listener = ota.NewListener(store)
		a.listener.OnStaged = a.staged
		a.listener.Announcer = a.advertiser
		deps.Listener = a.listener
	}

	ctrl, err := cfg.ApplyTo(updater.NewBuilder()).Build(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build update controller: %w", err)
	}
	a.ctrl = ctrl
	return a, nil
}

// staged runs on the poll goroutine after an upload or push was stored.
func (a *agent) staged(img *firmware.Image) {
	logging.Info("Firmware ready to apply",
		zap.String("id", img.ID),
		zap.String("source", img.Source),
		zap.String("path", img.Path),
	)
	if a.applyCmd == "" {
		return
	}
	if a.applyQueued.CompareAndSwap(false, true) {
		a.applies.Add(1)
		go func() {
			defer a.applies.Done()
			a.apply()
		}()
	}
}

// apply runs the apply command on the newest pending image and clears it
// from the store on success.
func (a *agent) apply() {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	a.applyQueued.Store(false)

	img, release, err := a.store.Acquire()
	if errors.Is(err, firmware.ErrNoPendingImage) {
		return
	}
	if err != nil {
		logging.Error("Failed to read pending firmware", zap.Error(err))
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	out, err := a.run(ctx, a.applyCmd, img.Path)
	if err != nil {
		logging.Error("Firmware apply command failed",
			zap.String("command", a.applyCmd),
			zap.String("id", img.ID),
			zap.ByteString("output", out),
			zap.Error(err),
		)
		return
	}
	logging.Info("Firmware apply command finished",
		zap.String("command", a.applyCmd),
		zap.String("id", img.ID),
	)
	if err := a.store.ClearIfPending(img.ID); err != nil {
		logging.Warn("Failed to clear applied firmware", zap.String("id", img.ID), zap.Error(err))
	}
}

// close releases everything the controller does not own and waits for a
// running apply command.
func (a *agent) close() error {
	defer a.applies.Wait()

	err := a.ctrl.Close()
	err = multierr.Append(err, a.advertiser.Stop())
	if a.listener != nil {
		err = multierr.Append(err, a.listener.Close())
	}
	return err
}

// info lists the static settings shown in the status view.
func (a *agent) info() []ui.Field {
	cfg := a.ctrl.Config()

	var fields []ui.Field
	if cfg.Portal != nil {
		fields = append(fields, ui.Field{Key: "Web updater", Value: fmt.Sprintf("port %d, path %s", updater.PortalPort, cfg.Portal.BasePath)})
	}
	if cfg.OTA.Enabled {
		port := cfg.OTA.Port
		if port == 0 {
			port = ota.DefaultPort
		}
		auth := "no password"
		if cfg.OTA.Password != nil && *cfg.OTA.Password != "" {
			auth = "password"
		}
		fields = append(fields, ui.Field{Key: "Listener", Value: "port " + strconv.Itoa(int(port)) + ", " + auth})
	}
	fields = append(fields, ui.Field{Key: "Firmware", Value: a.store.Dir()})
	return fields
}
