package updater

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func TestController_PortalScenario(t *testing.T) {
	h := newHarness(false, true)
	ctrl, err := NewBuilder().
		EnableWebPortal("admin", "secret", "/update").
		SetHostIdentity("device1").
		Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctrl.Handle()
	if len(h.log.calls) != 0 {
		t.Fatalf("idle poll made calls: %v", h.log.calls)
	}

	ctrl.Handle()
	want := []string{
		"mdns.Start(device1)",
		"upload.Attach(/update,admin,secret)",
		"http.Listen(80)",
		"mdns.RegisterService(http,tcp,80)",
	}
	if !reflect.DeepEqual(h.log.calls, want) {
		t.Errorf("calls = %v, want %v", h.log.calls, want)
	}
	if got := ctrl.Snapshot().Transition; got != TransitionEstablished {
		t.Errorf("Transition = %v, want %v", got, TransitionEstablished)
	}
}

func TestController_EdgeReentry(t *testing.T) {
	h := newHarness(false, true, false, true)
	ctrl, err := NewBuilder().
		EnableWebPortal("admin", "secret", "/update").
		Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	wantTransitions := []Transition{
		TransitionIdle,
		TransitionEstablished,
		TransitionLost,
		TransitionEstablished,
	}
	for i, want := range wantTransitions {
		ctrl.Handle()
		if got := ctrl.Snapshot().Transition; got != want {
			t.Errorf("poll %d: Transition = %v, want %v", i, got, want)
		}
	}

	if got := h.log.count("http.Listen(80)"); got != 2 {
		t.Errorf("Listen calls = %d, want 2", got)
	}
	if got := h.log.count("mdns.RegisterService(http,tcp,80)"); got != 2 {
		t.Errorf("RegisterService calls = %d, want 2", got)
	}
	if got := h.log.count("mdns.Stop"); got != 1 {
		t.Errorf("Stop calls = %d, want 1", got)
	}
	if got := ctrl.Snapshot().Stats; got.Established != 2 || got.Lost != 1 || got.Polls != 4 {
		t.Errorf("Stats = %+v, want 2 established, 1 lost, 4 polls", got)
	}
}

func TestController_EstablishedOncePerRun(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		states := make([]bool, 1+rng.Intn(40))
		for i := range states {
			states[i] = rng.Intn(3) != 0
		}

		h := newHarness(states...)
		ctrl, err := NewBuilder().EnableBackgroundListener(nil, 0).Build(h.deps())
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}

		wantRuns := 0
		prev := false
		for i, s := range states {
			ctrl.Handle()
			established := ctrl.Snapshot().Transition == TransitionEstablished
			if s && !prev {
				wantRuns++
				if !established {
					t.Fatalf("states %v: poll %d should be an established edge", states, i)
				}
			} else if established {
				t.Fatalf("states %v: poll %d unexpectedly established", states, i)
			}
			prev = s
		}

		if got := h.log.count("ota.Start"); got != wantRuns {
			t.Fatalf("states %v: listener started %d times, want %d", states, got, wantRuns)
		}
		if got := int(ctrl.Snapshot().Stats.Established); got != wantRuns {
			t.Fatalf("states %v: Stats.Established = %d, want %d", states, got, wantRuns)
		}
	}
}

func TestController_HostIdentityStable(t *testing.T) {
	h := newHarness(true, false, true, false, true)
	ctrl, err := NewBuilder().EnableBackgroundListener(nil, 0).Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, ok := ctrl.HostIdentity(); ok {
		t.Fatal("HostIdentity() should be unresolved before the first link-up")
	}

	for i := 0; i < 5; i++ {
		ctrl.Handle()
		h.link.name = "renamed-by-dhcp"
	}

	if h.link.nameCalls != 1 {
		t.Errorf("AssignedName() calls = %d, want 1", h.link.nameCalls)
	}
	if got := h.log.count("mdns.Start(esp-abc123)"); got != 3 {
		t.Errorf("advertisement started %d times with derived name, want 3", got)
	}
	if got := h.log.count("ota.SetHostIdentity(esp-abc123)"); got != 3 {
		t.Errorf("listener identity set %d times, want 3", got)
	}
	if name, ok := ctrl.HostIdentity(); !ok || name != "esp-abc123" {
		t.Errorf("HostIdentity() = %q, %v, want esp-abc123, true", name, ok)
	}
}

func TestController_ExplicitEmptyIdentity(t *testing.T) {
	h := newHarness(true)
	ctrl, err := NewBuilder().SetHostIdentity("").Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctrl.Handle()

	if h.link.nameCalls != 0 {
		t.Errorf("AssignedName() called %d times, want 0", h.link.nameCalls)
	}
	want := []string{"mdns.Start()"}
	if !reflect.DeepEqual(h.log.calls, want) {
		t.Errorf("calls = %v, want %v", h.log.calls, want)
	}
}

func TestController_StableWithNothingEnabled(t *testing.T) {
	h := newHarness(true, true, true, true)
	ctrl, err := NewBuilder().SetHostIdentity("device1").Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctrl.Handle()
	h.log.reset()

	for i := 0; i < 3; i++ {
		ctrl.Handle()
	}
	if len(h.log.calls) != 0 {
		t.Errorf("stable polls made calls: %v", h.log.calls)
	}
}

func TestController_Stable(t *testing.T) {
	tests := []struct {
		name      string
		refresh   bool
		portal    bool
		listener  bool
		wantCalls []string
	}{
		{
			name:      "portal without refresh",
			portal:    true,
			wantCalls: []string{"http.ServeOnePending"},
		},
		{
			name:      "portal with refreshing advertiser",
			portal:    true,
			refresh:   true,
			wantCalls: []string{"http.ServeOnePending", "mdns.Refresh"},
		},
		{
			name:      "refresh skipped without portal",
			refresh:   true,
			listener:  true,
			wantCalls: []string{"ota.ServeOnePending"},
		},
		{
			name:      "portal and listener",
			portal:    true,
			listener:  true,
			wantCalls: []string{"http.ServeOnePending", "ota.ServeOnePending"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(true, true)
			deps := h.deps()
			if tt.refresh {
				deps.Advertiser = &refreshingAdvertiser{fakeAdvertiser{log: h.log}}
			}

			b := NewBuilder().SetHostIdentity("device1")
			if tt.portal {
				b.EnableWebPortal("", "", "/")
			}
			if tt.listener {
				b.EnableBackgroundListener(nil, 0)
			}
			ctrl, err := b.Build(deps)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			ctrl.Handle()
			h.log.reset()
			ctrl.Handle()

			if !reflect.DeepEqual(h.log.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", h.log.calls, tt.wantCalls)
			}
		})
	}
}

func TestController_LinkLostOnlyStopsAdvertisement(t *testing.T) {
	h := newHarness(true, false, false)
	ctrl, err := NewBuilder().
		SetHostIdentity("device1").
		EnableWebPortal("admin", "secret", "/").
		EnableBackgroundListener(nil, 0).
		Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctrl.Handle()
	h.log.reset()

	ctrl.Handle()
	ctrl.Handle()

	want := []string{"mdns.Stop"}
	if !reflect.DeepEqual(h.log.calls, want) {
		t.Errorf("calls = %v, want %v", h.log.calls, want)
	}
	if h.server.closed {
		t.Error("web server should stay open while the link is down")
	}
}

func TestController_ListenerOverrides(t *testing.T) {
	password := "ota-pass"

	tests := []struct {
		name     string
		password *string
		port     uint16
		want     []string
	}{
		{
			name: "defaults",
			want: []string{"mdns.Start(device1)", "ota.SetHostIdentity(device1)", "ota.Start"},
		},
		{
			name:     "password and port",
			password: &password,
			port:     8266,
			want: []string{
				"mdns.Start(device1)",
				"ota.SetHostIdentity(device1)",
				"ota.SetPassword(ota-pass)",
				"ota.SetPort(8266)",
				"ota.Start",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(true)
			ctrl, err := NewBuilder().
				SetHostIdentity("device1").
				EnableBackgroundListener(tt.password, tt.port).
				Build(h.deps())
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			ctrl.Handle()

			if !reflect.DeepEqual(h.log.calls, tt.want) {
				t.Errorf("calls = %v, want %v", h.log.calls, tt.want)
			}
		})
	}
}

func TestController_CollaboratorFailureKeepsState(t *testing.T) {
	h := newHarness(true, true)
	h.advertiser.startErr = errors.New("mdns: no multicast interface")
	h.server.listenErr = errors.New("bind: address already in use")

	ctrl, err := NewBuilder().
		SetHostIdentity("device1").
		EnableWebPortal("admin", "secret", "/").
		Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ctrl.Handle()
	if !ctrl.Snapshot().Connected {
		t.Fatal("Connected should follow the link even when collaborators fail")
	}
	if got := h.log.count("mdns.RegisterService(http,tcp,80)"); got != 1 {
		t.Errorf("RegisterService calls = %d, want 1 despite earlier failures", got)
	}

	h.log.reset()
	ctrl.Handle()
	if got := ctrl.Snapshot().Transition; got != TransitionStable {
		t.Errorf("Transition = %v, want %v", got, TransitionStable)
	}
	if h.log.count("http.Listen(80)") != 0 {
		t.Error("controller must not retry a failed Listen on a stable link")
	}
}

func TestController_Close(t *testing.T) {
	h := newHarness(true, true)
	ctrl, err := NewBuilder().EnableWebPortal("a", "b", "/").Build(h.deps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !h.server.closed {
		t.Error("Close() should close the owned web server")
	}

	h.log.reset()
	ctrl.Handle()
	if len(h.log.calls) != 0 {
		t.Errorf("Handle() after Close made calls: %v", h.log.calls)
	}
	if err := ctrl.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestTransition_String(t *testing.T) {
	tests := []struct {
		tr   Transition
		want string
	}{
		{TransitionIdle, "idle"},
		{TransitionEstablished, "link established"},
		{TransitionLost, "link lost"},
		{TransitionStable, "link stable"},
		{Transition(9), "Transition(9)"},
	}
	for _, tt := range tests {
		if got := tt.tr.String(); got != tt.want {
			t.Errorf("Transition(%d).String() = %q, want %q", int(tt.tr), got, tt.want)
		}
	}
}
