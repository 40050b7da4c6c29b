package updater

import (
	"fmt"

	"go.uber.org/zap"
)

// callLog records collaborator calls in order.
type callLog struct {
	calls []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) reset() {
	l.calls = nil
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

type fakeLink struct {
	log       *callLog
	states    []bool
	idx       int
	name      string
	nameCalls int
}

func (f *fakeLink) IsConnected() bool {
	if f.idx >= len(f.states) {
		return f.states[len(f.states)-1]
	}
	s := f.states[f.idx]
	f.idx++
	return s
}

func (f *fakeLink) AssignedName() string {
	f.nameCalls++
	f.log.add("link.AssignedName")
	return f.name
}

type fakeAdvertiser struct {
	log      *callLog
	startErr error
}

func (f *fakeAdvertiser) Start(name string) error {
	f.log.add("mdns.Start(%s)", name)
	return f.startErr
}

func (f *fakeAdvertiser) Stop() error {
	f.log.add("mdns.Stop")
	return nil
}

func (f *fakeAdvertiser) RegisterService(protocol, transport string, port int) error {
	f.log.add("mdns.RegisterService(%s,%s,%d)", protocol, transport, port)
	return nil
}

// refreshingAdvertiser also implements Refresher.
type refreshingAdvertiser struct {
	fakeAdvertiser
}

func (f *refreshingAdvertiser) Refresh() error {
	f.log.add("mdns.Refresh")
	return nil
}

type fakeServer struct {
	log       *callLog
	listenErr error
	closed    bool
}

func (f *fakeServer) Listen(port int) error {
	f.log.add("http.Listen(%d)", port)
	return f.listenErr
}

func (f *fakeServer) ServeOnePending() {
	f.log.add("http.ServeOnePending")
}

func (f *fakeServer) Close() error {
	f.closed = true
	f.log.add("http.Close")
	return nil
}

type fakeUploader struct {
	log *callLog
}

func (f *fakeUploader) Attach(srv WebServer, basePath, username, password string) error {
	f.log.add("upload.Attach(%s,%s,%s)", basePath, username, password)
	return nil
}

type fakeListener struct {
	log *callLog
}

func (f *fakeListener) SetPassword(password string) { f.log.add("ota.SetPassword(%s)", password) }
func (f *fakeListener) SetPort(port uint16)         { f.log.add("ota.SetPort(%d)", port) }
func (f *fakeListener) SetHostIdentity(name string) { f.log.add("ota.SetHostIdentity(%s)", name) }
func (f *fakeListener) ServeOnePending()            { f.log.add("ota.ServeOnePending") }

func (f *fakeListener) Start() error {
	f.log.add("ota.Start")
	return nil
}

// harness wires fakes sharing one call log.
type harness struct {
	log        *callLog
	link       *fakeLink
	advertiser *fakeAdvertiser
	server     *fakeServer
	uploader   *fakeUploader
	listener   *fakeListener
}

func newHarness(states ...bool) *harness {
	log := &callLog{}
	return &harness{
		log:        log,
		link:       &fakeLink{log: log, states: states, name: "esp-abc123"},
		advertiser: &fakeAdvertiser{log: log},
		server:     &fakeServer{log: log},
		uploader:   &fakeUploader{log: log},
		listener:   &fakeListener{log: log},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Link:       h.link,
		Advertiser: h.advertiser,
		WebServer:  h.server,
		Uploader:   h.uploader,
		Listener:   h.listener,
		Logger:     zap.NewNop(),
	}
}
