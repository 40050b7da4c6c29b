package updater

import (
	"errors"
	"testing"
)

func TestBuilder_EnableWebPortalFirstCallWins(t *testing.T) {
	b := NewBuilder().
		SetDebugging(true).
		EnableWebPortal("admin", "secret", "/update").
		EnableWebPortal("root", "hunter2", "/other")

	portal := b.Config().Portal
	if portal == nil {
		t.Fatal("Config().Portal should not be nil")
	}
	if portal.Username != "admin" || portal.Password != "secret" || portal.BasePath != "/update" {
		t.Errorf("Portal = %+v, want first call's arguments", *portal)
	}
	if portal.Port != PortalPort {
		t.Errorf("Portal.Port = %d, want %d", portal.Port, PortalPort)
	}
}

func TestBuilder_IgnoresChangesAfterBuild(t *testing.T) {
	h := newHarness(false)
	b := NewBuilder().SetHostIdentity("device1")

	ctrl, err := b.Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !b.Frozen() {
		t.Error("Frozen() = false after Build")
	}

	b.SetHostIdentity("late").
		SetDebugging(true).
		EnableWebPortal("a", "b", "/").
		EnableBackgroundListener(nil, 3232)

	cfg := b.Config()
	if cfg.HostIdentity == nil || *cfg.HostIdentity != "device1" {
		t.Errorf("builder HostIdentity changed after Build: %v", cfg.HostIdentity)
	}
	if cfg.Debug || cfg.Portal != nil || cfg.OTA.Enabled {
		t.Errorf("builder accepted changes after Build: %+v", cfg)
	}

	ctrlCfg := ctrl.Config()
	if *ctrlCfg.HostIdentity != "device1" || ctrlCfg.Portal != nil {
		t.Errorf("controller config = %+v, want original", ctrlCfg)
	}
}

func TestBuilder_ConfigIsACopy(t *testing.T) {
	password := "pw"
	b := NewBuilder().
		SetHostIdentity("device1").
		EnableWebPortal("admin", "secret", "/").
		EnableBackgroundListener(&password, 0)

	cfg := b.Config()
	*cfg.HostIdentity = "mutated"
	cfg.Portal.Username = "mutated"
	*cfg.OTA.Password = "mutated"
	password = "mutated too"

	again := b.Config()
	if *again.HostIdentity != "device1" {
		t.Errorf("HostIdentity = %q, want device1", *again.HostIdentity)
	}
	if again.Portal.Username != "admin" {
		t.Errorf("Portal.Username = %q, want admin", again.Portal.Username)
	}
	if *again.OTA.Password != "pw" {
		t.Errorf("OTA.Password = %q, want pw", *again.OTA.Password)
	}
}

func TestBuilder_BuildMissingCollaborators(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Builder)
		mutate  func(*Deps)
		wantErr bool
	}{
		{
			name:    "complete",
			setup:   func(b *Builder) { b.EnableWebPortal("", "", "/").EnableBackgroundListener(nil, 0) },
			mutate:  func(d *Deps) {},
			wantErr: false,
		},
		{
			name:    "no link",
			setup:   func(b *Builder) {},
			mutate:  func(d *Deps) { d.Link = nil },
			wantErr: true,
		},
		{
			name:    "no advertiser",
			setup:   func(b *Builder) {},
			mutate:  func(d *Deps) { d.Advertiser = nil },
			wantErr: true,
		},
		{
			name:    "portal without server",
			setup:   func(b *Builder) { b.EnableWebPortal("", "", "/") },
			mutate:  func(d *Deps) { d.WebServer = nil },
			wantErr: true,
		},
		{
			name:    "portal without uploader",
			setup:   func(b *Builder) { b.EnableWebPortal("", "", "/") },
			mutate:  func(d *Deps) { d.Uploader = nil },
			wantErr: true,
		},
		{
			name:  "portal disabled, no server needed",
			setup: func(b *Builder) {},
			mutate: func(d *Deps) {
				d.WebServer = nil
				d.Uploader = nil
				d.Listener = nil
			},
			wantErr: false,
		},
		{
			name:    "listener without engine",
			setup:   func(b *Builder) { b.EnableBackgroundListener(nil, 0) },
			mutate:  func(d *Deps) { d.Listener = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(false)
			deps := h.deps()
			tt.mutate(&deps)

			b := NewBuilder()
			tt.setup(b)
			_, err := b.Build(deps)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMissingCollaborator) {
					t.Errorf("Build() error = %v, want ErrMissingCollaborator", err)
				}
				if b.Frozen() {
					t.Error("failed Build() should leave the builder open")
				}
			}
		})
	}
}
