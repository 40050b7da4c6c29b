package discovery

import (
	"errors"
	"net"
	"sort"
	"testing"
)

type fakeRegistration struct {
	service  string
	port     int
	host     string
	text     []string
	shutdown bool
}

func (f *fakeRegistration) Shutdown() { f.shutdown = true }

type fakeRegistry struct {
	regs []*fakeRegistration
	err  error
}

func (f *fakeRegistry) register(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (registration, error) {
	if f.err != nil {
		return nil, f.err
	}
	reg := &fakeRegistration{service: service, port: port, host: host, text: text}
	f.regs = append(f.regs, reg)
	return reg, nil
}

func newTestAdvertiser(reg *fakeRegistry) *Advertiser {
	a := NewAdvertiser("")
	a.register = reg.register
	a.addrs = func(string) ([]string, []net.Interface, error) {
		return []string{"192.168.4.16"}, nil, nil
	}
	return a
}

func TestAdvertiser_StartRegisterStop(t *testing.T) {
	reg := &fakeRegistry{}
	a := newTestAdvertiser(reg)

	if err := a.RegisterService("http", "tcp", 80); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("RegisterService() before Start error = %v, want ErrNotStarted", err)
	}

	if err := a.Start("device1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.RegisterService("http", "tcp", 80); err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}

	services := a.Services()
	sort.Strings(services)
	want := []string{"_device-info._tcp", "_http._tcp"}
	if len(services) != 2 || services[0] != want[0] || services[1] != want[1] {
		t.Errorf("Services() = %v, want %v", services, want)
	}

	http := reg.regs[1]
	if http.port != 80 || http.host != "device1" {
		t.Errorf("http registration = %+v", http)
	}
	if http.text[0] != "updater=remoteupdate" {
		t.Errorf("TXT = %v, want updater marker first", http.text)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, r := range reg.regs {
		if !r.shutdown {
			t.Errorf("%s not shut down after Stop", r.service)
		}
	}
	if len(a.Services()) != 0 {
		t.Errorf("Services() after Stop = %v", a.Services())
	}
}

func TestAdvertiser_RestartReplacesRecords(t *testing.T) {
	reg := &fakeRegistry{}
	a := newTestAdvertiser(reg)

	if err := a.Start("device1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.RegisterService("http", "tcp", 80); err != nil {
		t.Fatalf("RegisterService() error = %v", err)
	}
	if err := a.RegisterService("http", "tcp", 80); err != nil {
		t.Fatalf("second RegisterService() error = %v", err)
	}
	if !reg.regs[1].shutdown {
		t.Error("re-registering a service should shut down the previous record")
	}

	if err := a.Start("device1"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if got := len(a.Services()); got != 1 {
		t.Errorf("Services() after restart has %d entries, want 1", got)
	}
}

func TestAdvertiser_RegisterFailure(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("no multicast")}
	a := newTestAdvertiser(reg)

	if err := a.Start("device1"); err == nil {
		t.Error("Start() should report registration failure")
	}
}

func TestAdvertiser_NoAddresses(t *testing.T) {
	a := newTestAdvertiser(&fakeRegistry{})
	a.addrs = func(string) ([]string, []net.Interface, error) { return nil, nil, nil }

	if err := a.Start("device1"); err == nil {
		t.Error("Start() without addresses should fail")
	}
}
