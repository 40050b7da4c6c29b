package ota

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/remoteupdate/internal/firmware"
	"github.com/muurk/remoteupdate/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed between messages from the peer
	readWait = 30 * time.Second

	// DefaultMaxSessions bounds concurrent transfers, and with them the
	// memory held by images not yet committed.
	DefaultMaxSessions = 2
)

// ErrClosed is returned once the listener has been closed.
var ErrClosed = errors.New("ota listener closed")

// ServiceRegistrar publishes a service record. *discovery.Advertiser
// satisfies it.
type ServiceRegistrar interface {
	RegisterService(protocol, transport string, port int) error
}

// Stager persists received images. *firmware.Store satisfies it.
type Stager interface {
	Stage(source, name string, r io.Reader, expectedMD5 string) (*firmware.Image, error)
	MaxSize() int64
}

type result struct {
	img *firmware.Image
	err error
}

// upload is a fully received image waiting to be committed on the poll loop.
type upload struct {
	name string
	md5  string
	data []byte
	done chan result
}

// Listener accepts pushed firmware images over WebSocket. Sessions run on
// their own goroutines up to the point where the image is complete; the
// image is committed to the store only from ServeOnePending.
type Listener struct {
	// Host restricts the bind address (empty = all interfaces).
	Host string

	// OnStaged, if set, is called from ServeOnePending after an image was staged.
	OnStaged func(img *firmware.Image)

	// Announcer, if set, publishes the listener's port on every Start.
	Announcer ServiceRegistrar

	store    Stager
	upgrader websocket.Upgrader

	mu           sync.Mutex
	password     string
	port         uint16
	hostIdentity string
	srv          *http.Server
	ln           net.Listener

	sessions  chan struct{}
	pending   chan *upload
	closed    chan struct{}
	closeOnce sync.Once
}

// NewListener creates a listener staging into store.
func NewListener(store Stager) *Listener {
	return &Listener{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(chan struct{}, DefaultMaxSessions),
		pending:  make(chan *upload, 1),
		closed:   make(chan struct{}),
	}
}

// SetPassword sets the shared secret; empty disables authentication.
func (l *Listener) SetPassword(password string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.password = password
}

// SetPort sets the TCP port used by the next Start. 0 selects DefaultPort.
func (l *Listener) SetPort(port uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.port = port
}

// SetHostIdentity sets the name announced in the hello message.
func (l *Listener) SetHostIdentity(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostIdentity = name
}

// Port returns the port Start binds to.
func (l *Listener) Port() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == 0 {
		return DefaultPort
	}
	return l.port
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Handler returns the HTTP handler serving the OTA endpoint.
func (l *Listener) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(Path, l.serveSession)
	return r
}

// Start begins accepting sessions and announces the listener. While already
// running it only announces again, since the advertiser is restarted on every
// link cycle.
func (l *Listener) Start() error {
	port := l.Port()

	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if l.srv != nil {
		return l.announceLocked()
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(l.Host, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	srv := &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.srv, l.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("OTA listener stopped", zap.Error(err))
		}
	}()

	logging.Info("OTA listener started",
		zap.String("addr", ln.Addr().String()),
		zap.String("host", l.hostIdentity),
		zap.Bool("auth", l.password != ""),
	)
	return l.announceLocked()
}

func (l *Listener) announceLocked() error {
	if l.Announcer == nil {
		return nil
	}
	port := l.ln.Addr().(*net.TCPAddr).Port
	if err := l.Announcer.RegisterService(ServiceProtocol, ServiceTransport, port); err != nil {
		return fmt.Errorf("failed to advertise OTA listener: %w", err)
	}
	logging.Debug("OTA listener advertised",
		zap.String("service", "_"+ServiceProtocol+"._"+ServiceTransport),
		zap.Int("port", port),
	)
	return nil
}

// ServeOnePending commits at most one received image to the store.
func (l *Listener) ServeOnePending() {
	select {
	case u := <-l.pending:
		l.commit(u)
	default:
	}
}

// Close stops the listener and fails any image still waiting to be committed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)

		l.mu.Lock()
		srv := l.srv
		l.mu.Unlock()
		if srv != nil {
			err = srv.Close()
		}

		for {
			select {
			case u := <-l.pending:
				u.done <- result{err: ErrClosed}
			default:
				return
			}
		}
	})
	return err
}

func (l *Listener) commit(u *upload) {
	img, err := l.store.Stage(SourceOTA, u.name, bytes.NewReader(u.data), u.md5)
	u.done <- result{img: img, err: err}
	if err != nil {
		return
	}
	logging.LogFirmwareStaged(SourceOTA, img.Name, img.SizeBytes, img.SHA256)
	if l.OnStaged != nil {
		l.OnStaged(img)
	}
}

func (l *Listener) credentials() (host, password string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hostIdentity, l.password
}

func (l *Listener) serveSession(w http.ResponseWriter, r *http.Request) {
	select {
	case l.sessions <- struct{}{}:
		defer func() { <-l.sessions }()
	default:
		logging.Debug("OTA session refused, listener busy", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "update in progress, try again", http.StatusServiceUnavailable)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("OTA upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(MaxChunkSize)

	logging.Debug("OTA session opened",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()))

	img, err := l.session(conn)
	if err != nil {
		logging.Warn("OTA update failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		_ = send(conn, errorMessage(err))
		return
	}
	_ = send(conn, Message{Type: TypeOK, ID: img.ID, SHA256: img.SHA256})
}

func (l *Listener) session(conn *websocket.Conn) (*firmware.Image, error) {
	host, password := l.credentials()
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	hello := Message{Type: TypeHello, Host: host, Nonce: nonce, AuthRequired: password != ""}
	if err := send(conn, hello); err != nil {
		return nil, err
	}

	var begin Message
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	if err := conn.ReadJSON(&begin); err != nil {
		return nil, fmt.Errorf("failed to read begin: %w", err)
	}
	if begin.Type != TypeBegin {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrProtocol, TypeBegin, begin.Type)
	}
	if password != "" && !VerifyResponse(password, nonce, begin.CNonce, begin.Response) {
		return nil, ErrAuthFailed
	}
	if begin.Size <= 0 {
		return nil, firmware.ErrEmptyImage
	}
	if limit := l.store.MaxSize(); begin.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", firmware.ErrImageTooLarge, begin.Size, limit)
	}
	if err := send(conn, Message{Type: TypeReady}); err != nil {
		return nil, err
	}

	data, err := receive(conn, begin.Size)
	if err != nil {
		return nil, err
	}

	u := &upload{name: begin.Name, md5: begin.MD5, data: data, done: make(chan result, 1)}
	select {
	case l.pending <- u:
	case <-l.closed:
		return nil, ErrClosed
	}
	select {
	case res := <-u.done:
		return res.img, res.err
	case <-l.closed:
		return nil, ErrClosed
	}
}

// receive reads binary chunks until the end message and checks the total
// against the announced size. The buffer grows with the data actually sent.
func receive(conn *websocket.Conn, size int64) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			if int64(buf.Len()+len(payload)) > size {
				return nil, fmt.Errorf("%w: image longer than announced %d bytes", ErrProtocol, size)
			}
			buf.Write(payload)

		case websocket.TextMessage:
			var m Message
			if err := json.Unmarshal(payload, &m); err != nil || m.Type != TypeEnd {
				return nil, fmt.Errorf("%w: unexpected message during transfer", ErrProtocol)
			}
			if int64(buf.Len()) != size {
				return nil, fmt.Errorf("%w: received %d of %d bytes", ErrProtocol, buf.Len(), size)
			}
			return buf.Bytes(), nil
		}
	}
}

func send(conn *websocket.Conn, m Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
